package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.ridechat/config.toml plus environment
// overrides. Durations are whole seconds; the marketplace backend and the
// push provider are both reachable only over the network, so their
// endpoints have no useful zero value and must be configured.
type Config struct {
	DefaultSession string `toml:"default_session"`

	// APIBaseURL is the carpooling marketplace REST endpoint,
	// e.g. https://covoit.example.com/api.
	APIBaseURL string `toml:"api_base_url"`

	// PushURL is the websocket endpoint of the push-messaging provider,
	// e.g. wss://push.example.com/app/ridechat.
	PushURL string `toml:"push_url"`

	// ContactRefreshSeconds is the background directory refresh interval.
	ContactRefreshSeconds int `toml:"contact_refresh_seconds"`

	// ReconnectMaxSeconds bounds the push reconnect backoff.
	ReconnectMaxSeconds int `toml:"reconnect_max_seconds"`

	// CacheCapacity bounds the conversation cache (conversations, LRU).
	CacheCapacity int `toml:"cache_capacity"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultSession:        "main",
		ContactRefreshSeconds: 30,
		ReconnectMaxSeconds:   60,
		CacheCapacity:         64,
	}
}

// ContactRefresh returns the directory refresh interval as a duration.
func (c *Config) ContactRefresh() time.Duration {
	return time.Duration(c.ContactRefreshSeconds) * time.Second
}

// ReconnectMax returns the push reconnect backoff ceiling as a duration.
func (c *Config) ReconnectMax() time.Duration {
	return time.Duration(c.ReconnectMaxSeconds) * time.Second
}

// Load reads config from the given path and applies environment overrides.
// A missing file is not an error: defaults plus environment are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// applyEnv overlays RIDECHAT_* environment variables, highest precedence.
func (c *Config) applyEnv() {
	if v := os.Getenv("RIDECHAT_SESSION"); v != "" {
		c.DefaultSession = v
	}
	if v := os.Getenv("RIDECHAT_API_URL"); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv("RIDECHAT_PUSH_URL"); v != "" {
		c.PushURL = v
	}
	if v := os.Getenv("RIDECHAT_CONTACT_REFRESH_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ContactRefreshSeconds = n
		}
	}
	if v := os.Getenv("RIDECHAT_RECONNECT_MAX_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ReconnectMaxSeconds = n
		}
	}
	if v := os.Getenv("RIDECHAT_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.CacheCapacity = n
		}
	}
}
