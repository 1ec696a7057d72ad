package store

import "time"

// Config holds configuration for the Store.
type Config struct {
	// CacheEnabled serves reads from an in-memory snapshot that a background
	// task reloads from the backend. Enable it for backends whose listing is
	// slow or expensive (object stores).
	// Default: false
	CacheEnabled bool `mapstructure:"cache_enabled"`

	// RefreshInterval is the time between two scheduled snapshot reloads.
	// It bounds how long a write made by another process stays invisible.
	// Default: 15s
	// Min: 100ms
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`

	// MaxSkipAge bounds how long reloads may be skipped because the
	// backend's change marker did not move. Once the last full listing is
	// older than this, the next reload lists again regardless of the marker.
	// Default: 1m
	// Min: 100ms
	MaxSkipAge time.Duration `mapstructure:"max_skip_age"`

	// RefreshTimeout bounds a single reload.
	// Default: 2m
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
}

// DefaultConfig returns defaults suitable for a consistent backend.
func DefaultConfig() Config {
	return Config{
		CacheEnabled:    false,
		RefreshInterval: 15 * time.Second,
		MaxSkipAge:      time.Minute,
		RefreshTimeout:  2 * time.Minute,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 15 * time.Second
	}
	if c.RefreshInterval < 100*time.Millisecond {
		c.RefreshInterval = 100 * time.Millisecond
	}
	if c.MaxSkipAge <= 0 {
		c.MaxSkipAge = time.Minute
	}
	if c.MaxSkipAge < 100*time.Millisecond {
		c.MaxSkipAge = 100 * time.Millisecond
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = 2 * time.Minute
	}
}
