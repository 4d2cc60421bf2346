// Package config provides configuration management for the Coday server.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the Coday server.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	AgentOS AgentOSConfig `mapstructure:"agentos"`
	Threads ThreadsConfig `mapstructure:"threads"`
	Storage StorageConfig `mapstructure:"storage"`
	Web     WebConfig     `mapstructure:"web"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// AgentOSConfig selects and locates the remote execution backend.
// When Enabled is false every thread runs on the in-process local backend.
type AgentOSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// ThreadsConfig holds the timeout policies applied to live thread instances.
type ThreadsConfig struct {
	DisconnectTimeout  time.Duration `mapstructure:"disconnectTimeout"`
	InteractiveTimeout time.Duration `mapstructure:"interactiveTimeout"`
	OneshotTimeout     time.Duration `mapstructure:"oneshotTimeout"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeatInterval"`
}

// StorageConfig holds on-disk persistence locations.
type StorageConfig struct {
	ThreadsDir string `mapstructure:"threadsDir"`
}

// WebConfig holds static client and dev proxy configuration.
type WebConfig struct {
	ClientPath  string `mapstructure:"clientPath"`  // static client directory in production
	BuildEnv    string `mapstructure:"buildEnv"`    // "development" enables the dev proxy
	DevProxyURL string `mapstructure:"devProxyUrl"` // frontend dev server to proxy to
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory notification bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// AuthConfig holds authentication configuration.
// When Disabled is true the local OS user is used as the caller identity.
type AuthConfig struct {
	Disabled bool `mapstructure:"disabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("CODAY_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.readTimeout", 30)
	// SSE connections stay open indefinitely; zero disables the write deadline.
	v.SetDefault("server.writeTimeout", 0)

	// AgentOS defaults - local backend unless explicitly enabled
	v.SetDefault("agentos.enabled", false)
	v.SetDefault("agentos.url", "http://localhost:8000")

	// Thread timeout defaults
	v.SetDefault("threads.disconnectTimeout", 5*time.Minute)
	v.SetDefault("threads.interactiveTimeout", 8*time.Hour)
	v.SetDefault("threads.oneshotTimeout", 30*time.Minute)
	v.SetDefault("threads.heartbeatInterval", 30*time.Second)

	// Storage defaults
	v.SetDefault("storage.threadsDir", defaultThreadsDir())

	// Web defaults
	v.SetDefault("web.clientPath", "")
	v.SetDefault("web.buildEnv", "")
	v.SetDefault("web.devProxyUrl", "http://localhost:4200")

	// NATS defaults - empty URL means use the in-memory notification bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "coday-server")
	v.SetDefault("nats.maxReconnects", 10)

	// Auth defaults
	v.SetDefault("auth.disabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

func defaultThreadsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".coday/threads"
	}
	return home + "/.coday/threads"
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix CODAY_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/coday/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("CODAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the flat, historical environment variables the
	// product documents. AutomaticEnv does not handle camelCase keys or
	// unprefixed names, so these are bound by hand.
	_ = v.BindEnv("agentos.enabled", "USE_AGENTOS", "CODAY_AGENTOS_ENABLED")
	_ = v.BindEnv("agentos.url", "AGENTOS_URL", "CODAY_AGENTOS_URL")
	_ = v.BindEnv("server.port", "PORT", "CODAY_SERVER_PORT")
	_ = v.BindEnv("web.buildEnv", "BUILD_ENV", "CODAY_WEB_BUILD_ENV")
	_ = v.BindEnv("web.clientPath", "CODAY_CLIENT_PATH", "CODAY_WEB_CLIENT_PATH")
	_ = v.BindEnv("auth.disabled", "CODAY_AUTH_DISABLED")
	_ = v.BindEnv("storage.threadsDir", "CODAY_STORAGE_THREADS_DIR")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/coday/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.AgentOS.Enabled && cfg.AgentOS.URL == "" {
		errs = append(errs, "agentos.url is required when agentos.enabled is true")
	}

	if cfg.Threads.DisconnectTimeout <= 0 {
		errs = append(errs, "threads.disconnectTimeout must be positive")
	}
	if cfg.Threads.InteractiveTimeout <= 0 {
		errs = append(errs, "threads.interactiveTimeout must be positive")
	}
	if cfg.Threads.OneshotTimeout <= 0 {
		errs = append(errs, "threads.oneshotTimeout must be positive")
	}
	if cfg.Threads.HeartbeatInterval <= 0 {
		errs = append(errs, "threads.heartbeatInterval must be positive")
	}

	if cfg.Storage.ThreadsDir == "" {
		errs = append(errs, "storage.threadsDir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
