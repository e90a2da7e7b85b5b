package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every knob of the assistant layer. Values come from the
// config file when one exists, overridden by environment variables.
type Config struct {
	ProjectDir string `json:"project_dir"`
	DataDir    string `json:"data_dir"`
	ResultsDir string `json:"results_dir"`
	DBPath     string `json:"db_path"`

	// Platform endpoints.
	APIBaseURL  string `json:"api_base_url"`
	RealtimeURL string `json:"realtime_url"`
	AuthToken   string `json:"auth_token"`

	// Realtime transport.
	RealtimeEnabled      bool `json:"realtime_enabled"`
	MaxReconnectAttempts int  `json:"max_reconnect_attempts"`
	ReconnectBaseMs      int  `json:"reconnect_base_ms"`
	HeartbeatIntervalMs  int  `json:"heartbeat_interval_ms"`

	// HTTP fallback path.
	HTTPTimeoutSec int `json:"http_timeout_sec"`
	MaxRetries     int `json:"max_retries"`
	RetryDelayMs   int `json:"retry_delay_ms"`

	// Backtest monitor.
	PollIntervalSec   int `json:"poll_interval_sec"`
	MonitorTimeoutMin int `json:"monitor_timeout_min"`

	// Usage refresh window in days.
	UsageWindowDays int `json:"usage_window_days"`

	Debug bool `json:"debug"`
}

// DefaultConfig builds a config rooted at the working directory, then applies
// .env and environment overrides.
func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()
	cfg := DefaultConfigWithRoot(currentDir)

	// Load environment variables from .env file
	_ = godotenv.Load()

	cfg.loadFromEnv()
	return cfg
}

// DefaultConfigWithRoot builds the default config without touching the
// environment. Used by the Manager when seeding a fresh config file.
func DefaultConfigWithRoot(root string) *Config {
	return &Config{
		ProjectDir: root,
		DataDir:    filepath.Join(root, "data"),
		ResultsDir: filepath.Join(root, "results"),
		DBPath:     filepath.Join(root, "data", "stratpilot.db"),

		APIBaseURL:  "https://api.stratpilot.dev",
		RealtimeURL: "wss://api.stratpilot.dev/ws/assistant",

		RealtimeEnabled:      true,
		MaxReconnectAttempts: 5,
		ReconnectBaseMs:      1000,
		HeartbeatIntervalMs:  30000,

		HTTPTimeoutSec: 45,
		MaxRetries:     2,
		RetryDelayMs:   1500,

		PollIntervalSec:   3,
		MonitorTimeoutMin: 30,

		UsageWindowDays: 30,

		Debug: false,
	}
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("PROJECT_DIR"); val != "" {
		c.ProjectDir = val
	}
	if val := os.Getenv("DATA_DIR"); val != "" {
		c.DataDir = val
	}
	if val := os.Getenv("RESULTS_DIR"); val != "" {
		c.ResultsDir = val
	}
	if val := os.Getenv("STRATPILOT_DB_PATH"); val != "" {
		c.DBPath = val
	}

	if val := os.Getenv("STRATPILOT_API_URL"); val != "" {
		c.APIBaseURL = val
	}
	if val := os.Getenv("STRATPILOT_REALTIME_URL"); val != "" {
		c.RealtimeURL = val
	}
	if val := os.Getenv("STRATPILOT_AUTH_TOKEN"); val != "" {
		c.AuthToken = val
	}

	if val := os.Getenv("STRATPILOT_REALTIME_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.RealtimeEnabled = enabled
		}
	}
	if val := os.Getenv("STRATPILOT_MAX_RECONNECT_ATTEMPTS"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.MaxReconnectAttempts = v
		}
	}
	if val := os.Getenv("STRATPILOT_RECONNECT_BASE_MS"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.ReconnectBaseMs = v
		}
	}
	if val := os.Getenv("STRATPILOT_HEARTBEAT_INTERVAL_MS"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.HeartbeatIntervalMs = v
		}
	}

	if val := os.Getenv("STRATPILOT_HTTP_TIMEOUT_SEC"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.HTTPTimeoutSec = v
		}
	}
	if val := os.Getenv("STRATPILOT_MAX_RETRIES"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.MaxRetries = v
		}
	}
	if val := os.Getenv("STRATPILOT_RETRY_DELAY_MS"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.RetryDelayMs = v
		}
	}

	if val := os.Getenv("STRATPILOT_POLL_INTERVAL_SEC"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.PollIntervalSec = v
		}
	}
	if val := os.Getenv("STRATPILOT_MONITOR_TIMEOUT_MIN"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.MonitorTimeoutMin = v
		}
	}
	if val := os.Getenv("STRATPILOT_USAGE_WINDOW_DAYS"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.UsageWindowDays = v
		}
	}

	if val := os.Getenv("STRATPILOT_DEBUG"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Debug = enabled
		}
	}
}

// Validate rejects configs that cannot drive the transport layer.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return errors.New("api_base_url is required")
	}
	if c.RealtimeEnabled && strings.TrimSpace(c.RealtimeURL) == "" {
		return errors.New("realtime_url is required when realtime is enabled")
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.New("max_reconnect_attempts must not be negative")
	}
	if c.ReconnectBaseMs <= 0 {
		return errors.New("reconnect_base_ms must be positive")
	}
	if c.HeartbeatIntervalMs <= 0 {
		return errors.New("heartbeat_interval_ms must be positive")
	}
	if c.HTTPTimeoutSec <= 0 {
		return errors.New("http_timeout_sec must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	if c.PollIntervalSec <= 0 {
		return errors.New("poll_interval_sec must be positive")
	}
	if c.MonitorTimeoutMin <= 0 {
		return errors.New("monitor_timeout_min must be positive")
	}
	return nil
}

// EnsureDirectories creates the data and results directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.ProjectDir, c.DataDir, c.ResultsDir}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}

// Derived durations, so callers never re-convert the integer knobs.

func (c *Config) ReconnectBase() time.Duration {
	return time.Duration(c.ReconnectBaseMs) * time.Millisecond
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSec) * time.Second
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

func (c *Config) MonitorTimeout() time.Duration {
	return time.Duration(c.MonitorTimeoutMin) * time.Minute
}

func loadConfigFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
