package config

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

type (
	Config struct {
		Gateway   GatewayConfig   `yaml:"gateway"`
		Logging   LoggingConfig   `yaml:"logging"`
		Cronjob   CronjobConfig   `yaml:"cronjob"`
		Heartbeat HeartbeatConfig `yaml:"heartbeat"`
		Chat      ChatConfig      `yaml:"chat"`
		Provider  ProviderConfig  `yaml:"provider"`
	}

	GatewayConfig struct {
		Bind            string `yaml:"bind"`
		APIKey          string `yaml:"api_key,omitempty"`
		RequestTimeout  int    `yaml:"request_timeout"`  // seconds
		ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds
	}

	LoggingConfig struct {
		Level      string `yaml:"level"`  // debug, info, warn, error
		Format     string `yaml:"format"` // json, text
		Output     string `yaml:"output"` // stdout, file, both
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"max_size"` // MB
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"` // days
		Compress   bool   `yaml:"compress"`
	}

	CronjobConfig struct {
		Enabled          *bool  `yaml:"enabled"`
		Store            string `yaml:"store"`
		CheckIntervalSec int    `yaml:"check_interval_sec"`
		JobTimeoutSec    int    `yaml:"job_timeout_sec"`
		// DefaultDelivery routes jobs without an explicit delivery: terminal or telegram.
		DefaultDelivery string `yaml:"default_delivery"`
		DefaultChatID   string `yaml:"default_chat_id,omitempty"`
	}

	HeartbeatConfig struct {
		Enabled       bool   `yaml:"enabled"`
		EveryMin      int    `yaml:"every_min"`
		StartDelayMin int    `yaml:"start_delay_min"`
		Prompt        string `yaml:"prompt"`
		AckMaxChars   int    `yaml:"ack_max_chars"`
		TimeoutSec    int    `yaml:"timeout_sec"`
		Workspace     string `yaml:"workspace"`
		// ChatID receives heartbeat output that needs attention; empty means terminal.
		ChatID string `yaml:"chat_id,omitempty"`
	}

	ChatConfig struct {
		Type    string         `yaml:"type"` // telegram
		Enabled bool           `yaml:"enabled"`
		Config  map[string]any `yaml:"config"`
	}

	ProviderConfig struct {
		Type   string         `yaml:"type"` // openai
		Config map[string]any `yaml:"config"`
	}
)

func (c CronjobConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c CronjobConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSec) * time.Second
}

func (c CronjobConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSec) * time.Second
}

func (c HeartbeatConfig) Every() time.Duration {
	return time.Duration(c.EveryMin) * time.Minute
}

func (c HeartbeatConfig) StartDelay() time.Duration {
	return time.Duration(c.StartDelayMin) * time.Minute
}

func (c HeartbeatConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c GatewayConfig) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

func (c GatewayConfig) ShutdownWait() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}

// Clone .
func (c *Config) Clone() (*Config, error) {
	if c == nil {
		return nil, fmt.Errorf("config is nil")
	}

	raw, err := sonic.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var cloned Config
	if err := sonic.Unmarshal(raw, &cloned); err != nil {
		return nil, fmt.Errorf("unmarshal config clone: %w", err)
	}

	return &cloned, nil
}
