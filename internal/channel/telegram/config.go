package telegram

import (
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/gg/gconv"
)

const defaultPollTimeout = 30 * time.Second

type Config struct {
	Token       string
	PollTimeout time.Duration
	// AllowedUsers restricts who may issue commands; empty allows everyone.
	AllowedUsers []int64
	// ServerURL overrides the Bot API endpoint.
	ServerURL string
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.New("telegram bot token cannot be empty")
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = defaultPollTimeout
	}
	return nil
}

// ParseConfig reads the chat.config map of the butler config file.
func ParseConfig(configMap map[string]any) (*Config, error) {
	cfg := &Config{
		Token:     gconv.To[string](configMap["token"]),
		ServerURL: gconv.To[string](configMap["server_url"]),
	}
	if sec := gconv.To[int](configMap["poll_timeout"]); sec > 0 {
		cfg.PollTimeout = time.Duration(sec) * time.Second
	}

	if raw, ok := configMap["allowed_users"].([]any); ok {
		cfg.AllowedUsers = make([]int64, 0, len(raw))
		for _, u := range raw {
			id := gconv.To[int64](u)
			if id == 0 {
				return nil, fmt.Errorf("invalid user ID: %v", u)
			}
			cfg.AllowedUsers = append(cfg.AllowedUsers, id)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telegram config: %w", err)
	}
	return cfg, nil
}
