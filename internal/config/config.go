package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models cleansweep.yml.
type Config struct {
	Host struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"host"`
	Defaults struct {
		Timezone     string `yaml:"timezone"`
		CheckoutTime string `yaml:"checkout_time"`
		CleaningTime string `yaml:"cleaning_time"`
	} `yaml:"defaults"`
	Sync struct {
		WindowDays         int    `yaml:"window_days"`
		FeedTimeoutSeconds int    `yaml:"feed_timeout_seconds"`
		AllowEmptyFeed     bool   `yaml:"allow_empty_feed"`
		Cron               string `yaml:"cron"`
	} `yaml:"sync"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		ShareTokenTTLDays      int    `yaml:"share_token_ttl_days"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cs host init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Host.ID == "" {
		return fmt.Errorf("config.host.id is required")
	}
	if c.Defaults.Timezone != "" {
		if _, err := time.LoadLocation(c.Defaults.Timezone); err != nil {
			return fmt.Errorf("config.defaults.timezone: %w", err)
		}
	}
	if c.Defaults.CheckoutTime != "" {
		if _, err := time.Parse("15:04", c.Defaults.CheckoutTime); err != nil {
			return fmt.Errorf("config.defaults.checkout_time must be HH:MM: %w", err)
		}
	}
	if c.Defaults.CleaningTime != "" {
		if _, err := time.Parse("15:04", c.Defaults.CleaningTime); err != nil {
			return fmt.Errorf("config.defaults.cleaning_time must be HH:MM: %w", err)
		}
	}
	if c.Sync.WindowDays < 0 {
		return fmt.Errorf("config.sync.window_days must be positive")
	}
	if c.Sync.FeedTimeoutSeconds < 0 {
		return fmt.Errorf("config.sync.feed_timeout_seconds must be positive")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Timezone resolves the configured default timezone, falling back to UTC.
func (c *Config) Timezone() *time.Location {
	if c == nil || c.Defaults.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Defaults.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WindowDays returns the sync expansion window, defaulting to 90 days.
func (c *Config) WindowDays() int {
	if c == nil || c.Sync.WindowDays == 0 {
		return 90
	}
	return c.Sync.WindowDays
}

// FeedTimeout returns the per-sync feed fetch deadline.
func (c *Config) FeedTimeout() time.Duration {
	if c == nil || c.Sync.FeedTimeoutSeconds == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Sync.FeedTimeoutSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "cleansweep.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(hostID string) string {
	return fmt.Sprintf(defaultTemplate, hostID)
}

// Default returns the default Config struct for a host.
func Default(hostID string) *Config {
	var cfg Config
	cfg.Host.ID = hostID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, hostID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `host:
  id: %s
  name: ""

defaults:
  timezone: UTC
  checkout_time: "11:00"
  cleaning_time: "11:00"

sync:
  window_days: 90
  feed_timeout_seconds: 30
  allow_empty_feed: false
  cron: "@every 6h"

auth:
  jwt_secret: ""
  share_token_ttl_days: 90
  allow_legacy_actor_header: false
`
