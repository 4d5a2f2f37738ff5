// Package config loads mdpeek configuration with layered precedence:
// built-in defaults, then the user config file, then a project-local file,
// then environment overrides.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values exported for documentation and validation
const (
	DefaultBind                  = "127.0.0.1:7419"
	DefaultChannelTimeoutMs      = 30_000
	DefaultReadyTimeoutMs        = 15_000
	DefaultLockDurationMs        = 100
	DefaultUserScrollDebounceMs  = 50
	DefaultUserScrollThresholdPx = 10.0
	DefaultResizeDriftLines      = 0.5
	DefaultWatchDebounceMs       = 150
	DefaultCodeStyle             = "github"
)

// Config is the complete mdpeek configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Channel ChannelConfig `yaml:"channel"`
	Sync    SyncConfig    `yaml:"sync"`
	Render  RenderConfig  `yaml:"render"`
	Watch   WatchConfig   `yaml:"watch"`
}

// ServerConfig configures the preview server.
type ServerConfig struct {
	// Bind is the host:port the HTTP server listens on.
	Bind string `yaml:"bind"`
}

// ChannelConfig configures the message channel layer.
type ChannelConfig struct {
	TimeoutMs      int `yaml:"timeout_ms"`
	ReadyTimeoutMs int `yaml:"ready_timeout_ms"`
}

// SyncConfig configures the scroll-sync controller.
type SyncConfig struct {
	LockDurationMs        int     `yaml:"lock_duration_ms"`
	UserScrollDebounceMs  int     `yaml:"user_scroll_debounce_ms"`
	UserScrollThresholdPx float64 `yaml:"user_scroll_threshold_px"`
	ResizeDriftLines      float64 `yaml:"resize_drift_lines"`
}

// RenderConfig configures renderers.
type RenderConfig struct {
	Theme     string `yaml:"theme"`
	CodeStyle string `yaml:"code_style"`
	Dark      bool   `yaml:"dark"`
}

// WatchConfig configures document watching.
type WatchConfig struct {
	DebounceMs int `yaml:"debounce_ms"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Bind: DefaultBind,
		},
		Channel: ChannelConfig{
			TimeoutMs:      DefaultChannelTimeoutMs,
			ReadyTimeoutMs: DefaultReadyTimeoutMs,
		},
		Sync: SyncConfig{
			LockDurationMs:        DefaultLockDurationMs,
			UserScrollDebounceMs:  DefaultUserScrollDebounceMs,
			UserScrollThresholdPx: DefaultUserScrollThresholdPx,
			ResizeDriftLines:      DefaultResizeDriftLines,
		},
		Render: RenderConfig{
			CodeStyle: DefaultCodeStyle,
		},
		Watch: WatchConfig{
			DebounceMs: DefaultWatchDebounceMs,
		},
	}
}

// Load loads configuration from default locations with proper precedence.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userPath := filepath.Join(home, ".mdpeek", "config.yaml")
		if err := loadAndMerge(cfg, userPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	projectPath := filepath.Join(".", ".mdpeek", "config.yaml")
	if err := loadAndMerge(cfg, projectPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MDPEEK_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("MDPEEK_CODE_STYLE"); v != "" {
		cfg.Render.CodeStyle = v
	}
	if v := os.Getenv("MDPEEK_THEME"); v != "" {
		cfg.Render.Theme = v
	}
	if v, ok := envInt("MDPEEK_CHANNEL_TIMEOUT_MS"); ok {
		cfg.Channel.TimeoutMs = v
	}
	if v, ok := envInt("MDPEEK_LOCK_DURATION_MS"); ok {
		cfg.Sync.LockDurationMs = v
	}
	if v, ok := envBool("MDPEEK_DARK"); ok {
		cfg.Render.Dark = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Bind); err != nil {
		return fmt.Errorf("server.bind %q: %w", c.Server.Bind, err)
	}
	if c.Channel.TimeoutMs <= 0 {
		return fmt.Errorf("channel.timeout_ms must be positive, got %d", c.Channel.TimeoutMs)
	}
	if c.Sync.LockDurationMs < 0 {
		return fmt.Errorf("sync.lock_duration_ms must not be negative, got %d", c.Sync.LockDurationMs)
	}
	if c.Sync.UserScrollThresholdPx < 0 {
		return fmt.Errorf("sync.user_scroll_threshold_px must not be negative, got %g", c.Sync.UserScrollThresholdPx)
	}
	if c.Watch.DebounceMs < 0 {
		return fmt.Errorf("watch.debounce_ms must not be negative, got %d", c.Watch.DebounceMs)
	}
	return nil
}

// ChannelTimeout returns the channel request timeout as a duration.
func (c *Config) ChannelTimeout() time.Duration {
	return time.Duration(c.Channel.TimeoutMs) * time.Millisecond
}

// ReadyTimeout returns the render-frame readiness timeout as a duration.
func (c *Config) ReadyTimeout() time.Duration {
	return time.Duration(c.Channel.ReadyTimeoutMs) * time.Millisecond
}

// LockDuration returns the scroll-sync lock window as a duration.
func (c *Config) LockDuration() time.Duration {
	return time.Duration(c.Sync.LockDurationMs) * time.Millisecond
}

// UserScrollDebounce returns the user-scroll debounce as a duration.
func (c *Config) UserScrollDebounce() time.Duration {
	return time.Duration(c.Sync.UserScrollDebounceMs) * time.Millisecond
}

// WatchDebounce returns the document-watch debounce as a duration.
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.Watch.DebounceMs) * time.Millisecond
}
