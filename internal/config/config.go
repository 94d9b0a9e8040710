// Package config loads the daemon's on-disk configuration: long-poll
// and bead-tracker timeouts, log level, and the optional metrics
// listener. Defaults-then-overlay loading plus a Validate pass, backed
// by YAML (gopkg.in/yaml.v3).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's tunable configuration.
type Config struct {
	// PollTimeoutMs is the default poll_task long-poll duration when a
	// caller does not supply its own timeout.
	PollTimeoutMs int64 `yaml:"poll_timeout_ms"`

	// BTCallTimeoutMs bounds a single bd subprocess invocation.
	BTCallTimeoutMs int64 `yaml:"bt_call_timeout_ms"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// MetricsEnabled starts a promhttp listener when true.
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// MetricsAddr is the listen address for the metrics endpoint.
	MetricsAddr string `yaml:"metrics_addr"`

	// SocketPath overrides the derived bus socket path when non-empty.
	SocketPath string `yaml:"socket_path"`
}

// Default returns the daemon's built-in configuration.
func Default() *Config {
	return &Config{
		PollTimeoutMs:   30_000,
		BTCallTimeoutMs: 10_000,
		LogLevel:        "info",
		MetricsEnabled:  false,
		MetricsAddr:     "127.0.0.1:9477",
	}
}

// Load reads configPath (typically <projectRoot>/.busd/config.yaml) and
// overlays it onto the defaults. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
	}
	return cfg, nil
}

// Save writes c to configPath, creating its parent directory if needed.
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", configPath, err)
	}
	return nil
}

// Validate rejects configuration values that would make the daemon
// unable to run correctly.
func (c *Config) Validate() error {
	if c.PollTimeoutMs < 1 {
		return fmt.Errorf("poll_timeout_ms must be at least 1")
	}
	if c.BTCallTimeoutMs < 1 {
		return fmt.Errorf("bt_call_timeout_ms must be at least 1")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	if c.MetricsEnabled && c.MetricsAddr == "" {
		return fmt.Errorf("metrics_addr must be set when metrics_enabled is true")
	}
	return nil
}

// PollTimeout is PollTimeoutMs as a time.Duration.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMs) * time.Millisecond
}

// BTCallTimeout is BTCallTimeoutMs as a time.Duration.
func (c *Config) BTCallTimeout() time.Duration {
	return time.Duration(c.BTCallTimeoutMs) * time.Millisecond
}
