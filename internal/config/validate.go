package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tgifai/butler/internal/consts"
)

const (
	defaultBind             = "127.0.0.1:18790"
	defaultRequestTimeout   = 60
	defaultShutdownTimeout  = 10
	defaultCheckIntervalSec = 15
	defaultJobTimeoutSec    = 300
	defaultHeartbeatEvery   = 30
	defaultAckMaxChars      = 300
	defaultHeartbeatTimeout = 120

	DefaultHeartbeatPrompt = "Read HEARTBEAT.md in your workspace and follow it strictly. " +
		"Do not repeat tasks from earlier runs. If nothing needs attention, reply HEARTBEAT_OK."
)

// Validate fills defaults and rejects unusable values.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config cannot be nil")
	}

	if err := c.Gateway.validate(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	c.Logging.validate()
	if err := c.Cronjob.validate(); err != nil {
		return fmt.Errorf("cronjob: %w", err)
	}
	if err := c.Heartbeat.validate(); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}

	c.Chat.Type = strings.ToLower(strings.TrimSpace(c.Chat.Type))
	if c.Chat.Enabled && c.Chat.Type != "telegram" {
		return fmt.Errorf("chat: unsupported type %q", c.Chat.Type)
	}

	c.Provider.Type = strings.ToLower(strings.TrimSpace(c.Provider.Type))
	switch c.Provider.Type {
	case "", "openai":
	default:
		return fmt.Errorf("provider: unsupported type %q", c.Provider.Type)
	}

	if c.Cronjob.DefaultDelivery == "telegram" && !c.Chat.Enabled {
		return errors.New("cronjob.default_delivery=telegram requires chat.enabled")
	}
	return nil
}

func (g *GatewayConfig) validate() error {
	g.Bind = strings.TrimSpace(g.Bind)
	if g.Bind == "" {
		g.Bind = defaultBind
	}
	if g.RequestTimeout <= 0 {
		g.RequestTimeout = defaultRequestTimeout
	}
	if g.ShutdownTimeout <= 0 {
		g.ShutdownTimeout = defaultShutdownTimeout
	}
	g.APIKey = strings.TrimSpace(g.APIKey)
	return nil
}

func (l *LoggingConfig) validate() {
	l.Level = strings.ToLower(strings.TrimSpace(l.Level))
	if l.Level == "" {
		l.Level = "info"
	}
	l.Output = strings.ToLower(strings.TrimSpace(l.Output))
	if l.Output == "" {
		l.Output = "stdout"
	}
	if l.Output != "stdout" && strings.TrimSpace(l.File) == "" {
		l.File = consts.DefaultLogFile()
	}
}

func (c *CronjobConfig) validate() error {
	if c.Enabled == nil {
		enabled := true
		c.Enabled = &enabled
	}
	c.Store = strings.TrimSpace(c.Store)
	if c.Store == "" {
		c.Store = consts.DefaultJobStorePath()
	}
	if c.CheckIntervalSec <= 0 {
		c.CheckIntervalSec = defaultCheckIntervalSec
	}
	if c.JobTimeoutSec <= 0 {
		c.JobTimeoutSec = defaultJobTimeoutSec
	}

	c.DefaultDelivery = strings.ToLower(strings.TrimSpace(c.DefaultDelivery))
	switch c.DefaultDelivery {
	case "":
		c.DefaultDelivery = "terminal"
	case "terminal":
	case "telegram":
		if strings.TrimSpace(c.DefaultChatID) == "" {
			return errors.New("default_chat_id is required when default_delivery=telegram")
		}
	default:
		return fmt.Errorf("unsupported default_delivery %q", c.DefaultDelivery)
	}
	return nil
}

func (h *HeartbeatConfig) validate() error {
	if h.EveryMin < 0 || h.StartDelayMin < 0 || h.AckMaxChars < 0 {
		return errors.New("every_min, start_delay_min and ack_max_chars must not be negative")
	}
	if h.EveryMin == 0 {
		h.EveryMin = defaultHeartbeatEvery
	}
	if h.AckMaxChars == 0 {
		h.AckMaxChars = defaultAckMaxChars
	}
	if h.TimeoutSec <= 0 {
		h.TimeoutSec = defaultHeartbeatTimeout
	}
	h.Prompt = strings.TrimSpace(h.Prompt)
	if h.Prompt == "" {
		h.Prompt = DefaultHeartbeatPrompt
	}
	h.Workspace = strings.TrimSpace(h.Workspace)
	if h.Workspace == "" {
		h.Workspace = consts.DefaultWorkspaceDir()
	}
	return nil
}
