package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Auth      AuthConfig      `yaml:"auth"`
	State     StateConfig     `yaml:"state"`
	Platform  PlatformConfig  `yaml:"platform"`
	LLM       LLMConfig       `yaml:"llm"`
	Sync      SyncConfig      `yaml:"sync"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	History   HistoryConfig   `yaml:"history"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// StateConfig locates the local SQLite database.
type StateConfig struct {
	Dir string `yaml:"dir"`
}

// PlatformConfig points at the remote workout platform.
type PlatformConfig struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	PageSize int           `yaml:"page_size"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LLMConfig selects the classification backend.
type LLMConfig struct {
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	LowConfidence float64       `yaml:"low_confidence"`
	QueueSize     int           `yaml:"queue_size"`
}

type SyncConfig struct {
	Debounce         time.Duration `yaml:"debounce"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	ProbeInterval    time.Duration `yaml:"probe_interval"`
	MaxAttempts      int           `yaml:"max_attempts"`
}

type CatalogConfig struct {
	MaxAge time.Duration `yaml:"max_age"`
}

type HistoryConfig struct {
	Window      time.Duration `yaml:"window"`
	PerExercise int           `yaml:"per_exercise"`
	// Timezone is used to read Alpha Progression export times.
	Timezone string `yaml:"timezone"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Location returns the history timezone, falling back to local time.
func (h HistoryConfig) Location() *time.Location {
	if h.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(h.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. Env vars use the prefix LIFTLOG_ and
// underscore-separated paths:
//
//	LIFTLOG_SERVER_HOST, LIFTLOG_SERVER_PORT, LIFTLOG_AUTH_API_KEY,
//	LIFTLOG_STATE_DIR, LIFTLOG_PLATFORM_BASE_URL, LIFTLOG_PLATFORM_API_KEY,
//	LIFTLOG_LLM_PROVIDER, LIFTLOG_LLM_MODEL, LIFTLOG_LLM_API_KEY,
//	LIFTLOG_LLM_BASE_URL, LIFTLOG_SYNC_DEBOUNCE, LIFTLOG_LOG_LEVEL,
//	LIFTLOG_TAILSCALE_ENABLED, LIFTLOG_TAILSCALE_HOSTNAME
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("LIFTLOG_SERVER_HOST", &cfg.Server.Host)
	if v := os.Getenv("LIFTLOG_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	str("LIFTLOG_AUTH_API_KEY", &cfg.Auth.APIKey)
	str("LIFTLOG_STATE_DIR", &cfg.State.Dir)
	str("LIFTLOG_PLATFORM_BASE_URL", &cfg.Platform.BaseURL)
	str("LIFTLOG_PLATFORM_API_KEY", &cfg.Platform.APIKey)
	str("LIFTLOG_LLM_PROVIDER", &cfg.LLM.Provider)
	str("LIFTLOG_LLM_MODEL", &cfg.LLM.Model)
	str("LIFTLOG_LLM_API_KEY", &cfg.LLM.APIKey)
	str("LIFTLOG_LLM_BASE_URL", &cfg.LLM.BaseURL)
	if v := os.Getenv("LIFTLOG_SYNC_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.Debounce = d
		}
	}
	str("LIFTLOG_LOG_LEVEL", &cfg.Log.Level)
	if v := os.Getenv("LIFTLOG_TAILSCALE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tailscale.Enabled = b
		}
	}
	str("LIFTLOG_TAILSCALE_HOSTNAME", &cfg.Tailscale.Hostname)
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Tailscale.Hostname == "" {
		c.Tailscale.Hostname = "liftlog"
	}
	if c.State.Dir == "" {
		c.State.Dir = "data"
	}
	if c.Platform.PageSize == 0 {
		c.Platform.PageSize = 10
	}
	if c.Platform.Timeout == 0 {
		c.Platform.Timeout = 15 * time.Second
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 20 * time.Second
	}
	if c.LLM.LowConfidence == 0 {
		c.LLM.LowConfidence = 0.6
	}
	if c.LLM.QueueSize == 0 {
		c.LLM.QueueSize = 16
	}
	if c.Sync.Debounce == 0 {
		c.Sync.Debounce = 2 * time.Second
	}
	if c.Sync.SnapshotInterval == 0 {
		c.Sync.SnapshotInterval = 30 * time.Second
	}
	if c.Sync.ProbeInterval == 0 {
		c.Sync.ProbeInterval = 15 * time.Second
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = 5
	}
	if c.Catalog.MaxAge == 0 {
		c.Catalog.MaxAge = 7 * 24 * time.Hour
	}
	if c.History.Window == 0 {
		c.History.Window = 90 * 24 * time.Hour
	}
	if c.History.PerExercise == 0 {
		c.History.PerExercise = 5
	}
}

func (c *Config) validate() error {
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required")
	}
	if c.Platform.BaseURL == "" {
		return fmt.Errorf("platform.base_url is required")
	}
	if c.Platform.APIKey == "" {
		return fmt.Errorf("platform.api_key is required")
	}
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("llm.provider must be openai or gemini, got %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if c.LLM.LowConfidence < 0 || c.LLM.LowConfidence > 1 {
		return fmt.Errorf("llm.low_confidence must be within [0, 1]")
	}
	if c.Sync.Debounce < 0 || c.Sync.SnapshotInterval < 0 || c.Sync.ProbeInterval < 0 {
		return fmt.Errorf("sync intervals must not be negative")
	}
	if c.History.Timezone != "" {
		if _, err := time.LoadLocation(c.History.Timezone); err != nil {
			return fmt.Errorf("history.timezone: %w", err)
		}
	}
	return nil
}
