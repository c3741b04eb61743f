package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/codefionn/scee/internal/consts"
)

// Environment variables that override file values
const (
	EnvListenAddr    = "SCEE_LISTEN_ADDR"
	EnvWebSocketAddr = "SCEE_WEBSOCKET_ADDR"
	EnvAdminAddr     = "SCEE_ADMIN_ADDR"
	EnvDatabasePath  = "SCEE_DATABASE_PATH"
	EnvLogLevel      = "SCEE_LOG_LEVEL"
	EnvLogPath       = "SCEE_LOG_PATH"
)

// RateLimitConfig bounds how many frames one connection may send
type RateLimitConfig struct {
	MessagesPerSecond float64 `json:"messages_per_second"`
	Burst             int     `json:"burst"`
}

// AuthConfig configures the auth worker and the bridge in front of it
type AuthConfig struct {
	QueueSize             int  `json:"queue_size"`
	RequestTimeoutSeconds int  `json:"request_timeout_seconds"`
	ShutdownGraceSeconds  int  `json:"shutdown_grace_seconds"`
	Sandbox               bool `json:"sandbox"`
}

// RequestTimeout returns the per-request deadline for credential checks
func (a AuthConfig) RequestTimeout() time.Duration {
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// ShutdownGrace returns how long the worker gets to exit on its own
func (a AuthConfig) ShutdownGrace() time.Duration {
	return time.Duration(a.ShutdownGraceSeconds) * time.Second
}

// Config represents the server configuration
type Config struct {
	ListenAddr     string          `json:"listen_addr"`
	WebSocketAddr  string          `json:"websocket_addr,omitempty"`  // empty disables the WebSocket transport
	AdminAddr      string          `json:"admin_addr,omitempty"`      // empty disables the admin HTTP server
	AdminProfiling bool            `json:"admin_profiling,omitempty"` // serve /debug/pprof on the admin server
	DatabasePath   string          `json:"database_path"`
	HistoryLimit   int             `json:"history_limit"`
	MaxConnections int             `json:"max_connections"`
	RateLimit      RateLimitConfig `json:"rate_limit"`
	Auth           AuthConfig      `json:"auth"`
	LogLevel       string          `json:"log_level"` // debug, info, warn, error, none
	LogPath        string          `json:"log_path"`  // "-" logs to stderr
	PIDFile        string          `json:"pid_file,omitempty"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "linux":
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "scee")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "scee")
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "scee")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "scee")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "scee")
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:     "127.0.0.1:8888",
		DatabasePath:   "scee.db",
		HistoryLimit:   consts.DefaultHistoryLimit,
		MaxConnections: consts.DefaultMaxConnections,
		RateLimit: RateLimitConfig{
			MessagesPerSecond: consts.DefaultMessagesPerSecond,
			Burst:             consts.DefaultRateBurst,
		},
		Auth: AuthConfig{
			QueueSize:             consts.DefaultAuthQueueSize,
			RequestTimeoutSeconds: int(consts.Timeout10Seconds / time.Second),
			ShutdownGraceSeconds:  int(consts.Timeout2Seconds / time.Second),
			Sandbox:               true,
		},
		LogLevel: "info",
		LogPath:  "-",
	}
}

// Load loads configuration from file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	// Unmarshal into default config (overrides only provided fields)
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	config.fillDefaults()
	return config, nil
}

// fillDefaults restores defaults for fields a file explicitly blanked
func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.DatabasePath == "" {
		c.DatabasePath = def.DatabasePath
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = def.MaxConnections
	}
	if c.RateLimit.MessagesPerSecond == 0 {
		c.RateLimit.MessagesPerSecond = def.RateLimit.MessagesPerSecond
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.Auth.QueueSize == 0 {
		c.Auth.QueueSize = def.Auth.QueueSize
	}
	if c.Auth.RequestTimeoutSeconds == 0 {
		c.Auth.RequestTimeoutSeconds = def.Auth.RequestTimeoutSeconds
	}
	if c.Auth.ShutdownGraceSeconds == 0 {
		c.Auth.ShutdownGraceSeconds = def.Auth.ShutdownGraceSeconds
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogPath == "" {
		c.LogPath = def.LogPath
	}
}

// ApplyEnv overrides file values with SCEE_* environment variables
func (c *Config) ApplyEnv() {
	overrides := map[string]*string{
		EnvListenAddr:    &c.ListenAddr,
		EnvWebSocketAddr: &c.WebSocketAddr,
		EnvAdminAddr:     &c.AdminAddr,
		EnvDatabasePath:  &c.DatabasePath,
		EnvLogLevel:      &c.LogLevel,
		EnvLogPath:       &c.LogPath,
	}
	for name, field := range overrides {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*field = v
		}
	}
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.ListenAddr) == "":
		return fmt.Errorf("listen_addr must not be empty")
	case strings.TrimSpace(c.DatabasePath) == "":
		return fmt.Errorf("database_path must not be empty")
	case c.HistoryLimit <= 0:
		return fmt.Errorf("history_limit must be positive, got %d", c.HistoryLimit)
	case c.MaxConnections <= 0:
		return fmt.Errorf("max_connections must be positive, got %d", c.MaxConnections)
	case c.RateLimit.MessagesPerSecond <= 0:
		return fmt.Errorf("rate_limit.messages_per_second must be positive, got %v", c.RateLimit.MessagesPerSecond)
	case c.RateLimit.Burst <= 0:
		return fmt.Errorf("rate_limit.burst must be positive, got %d", c.RateLimit.Burst)
	case c.Auth.QueueSize <= 0:
		return fmt.Errorf("auth.queue_size must be positive, got %d", c.Auth.QueueSize)
	case c.Auth.RequestTimeoutSeconds <= 0:
		return fmt.Errorf("auth.request_timeout_seconds must be positive, got %d", c.Auth.RequestTimeoutSeconds)
	case c.Auth.ShutdownGraceSeconds <= 0:
		return fmt.Errorf("auth.shutdown_grace_seconds must be positive, got %d", c.Auth.ShutdownGraceSeconds)
	}
	return nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
