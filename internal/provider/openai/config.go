package openai

import (
	"errors"
	"strings"
	"time"

	"github.com/bytedance/gg/gconv"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature *float32
}

func (c *Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("openai api_key cannot be empty")
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return nil
}

// ParseConfig reads the provider.config map of the butler config file.
func ParseConfig(configMap map[string]any) (Config, error) {
	cfg := Config{
		BaseURL: gconv.To[string](configMap["base_url"]),
		APIKey:  gconv.To[string](configMap["api_key"]),
		Model:   gconv.To[string](configMap["model"]),
		Timeout: time.Duration(gconv.To[int](configMap["timeout"])) * time.Second,
	}
	if raw, ok := configMap["temperature"]; ok {
		temp := gconv.To[float32](raw)
		cfg.Temperature = &temp
	}
	return cfg, cfg.Validate()
}
