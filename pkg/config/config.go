// Package config holds the switches of the invocation pipeline. Values come from
// built-in defaults, then an optional YAML file, then INVOKE_* environment variables.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// FilterVisibility removes invisible objects from action results.
	FilterVisibility bool `yaml:"filter_visibility" env:"INVOKE_FILTER_VISIBILITY"`
	// CacheSafeActions reuses results of safe actions within a request.
	CacheSafeActions bool `yaml:"cache_safe_actions" env:"INVOKE_CACHE_SAFE_ACTIONS"`
	CacheSize        int  `yaml:"cache_size" env:"INVOKE_CACHE_SIZE"`
	// MessageLimit caps escalated recoverable messages, in runes.
	MessageLimit int `yaml:"message_limit" env:"INVOKE_MESSAGE_LIMIT"`
	// PostDefaultEvents posts events for actions bound to the root event type.
	PostDefaultEvents bool `yaml:"post_default_events" env:"INVOKE_POST_DEFAULT_EVENTS"`
}

func Default() Config {
	return Config{
		FilterVisibility:  true,
		CacheSafeActions:  true,
		CacheSize:         1024,
		MessageLimit:      300,
		PostDefaultEvents: true,
	}
}

// ParseEnv overrides cfg with any INVOKE_* variables that are set.
func ParseEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads path over the defaults and applies the environment. An empty path
// skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) Validate() error {
	if cfg.CacheSize < 0 {
		return fmt.Errorf("cache_size must not be negative, got %d", cfg.CacheSize)
	}
	if cfg.MessageLimit <= 0 {
		return fmt.Errorf("message_limit must be positive, got %d", cfg.MessageLimit)
	}
	return nil
}
