// Package config provides configuration management for relkit.
// It loads settings from environment variables with the RELKIT_ prefix
// and provides sensible defaults for all configuration options. An optional
// YAML file can be layered on top with LoadConfigFile.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the relkit application.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Kernel   KernelConfig   `yaml:"kernel"`
	Backup   BackupConfig   `yaml:"backup"`
	Security SecurityConfig `yaml:"security"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // Server port (default: 7272)
	Host string `yaml:"host"` // Server host (default: 127.0.0.1)

	// RateLimitPerSec is the sustained request rate per second (default: 10).
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`

	// RateLimitBurst is the maximum request burst size (default: 20).
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	// Engine selects the storage backend: memory, sqlite, postgres
	// (default: sqlite).
	Engine string `yaml:"engine"`

	// DataPath is the data directory for the sqlite backend (default: ./data).
	DataPath string `yaml:"data_path"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`

	// BreakerEnabled wraps the store in a circuit breaker (default: true).
	BreakerEnabled bool `yaml:"breaker_enabled"`
}

// KernelConfig contains rupture kernel tuning.
type KernelConfig struct {
	// RuptureThreshold is the risk level that closes the gate (default: 0.6).
	RuptureThreshold float64 `yaml:"rupture_threshold"`

	// SignalHistoryLimit caps the in-memory signal history (default: 256).
	SignalHistoryLimit int `yaml:"signal_history_limit"`
}

// BackupConfig contains sqlite snapshot settings. Backups only apply to the
// sqlite storage engine.
type BackupConfig struct {
	// Enabled turns on periodic snapshots (default: false).
	Enabled bool `yaml:"enabled"`

	// Dir is the snapshot directory (default: ./data/backups).
	Dir string `yaml:"dir"`

	// IntervalMinutes between snapshots (default: 60).
	IntervalMinutes int `yaml:"interval_minutes"`

	// Keep is how many snapshots to retain (default: 24).
	Keep int `yaml:"keep"`
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	// Mode is "development" or "production" (default: development).
	// Production mode enforces bearer-token authentication.
	Mode string `yaml:"mode"`

	// APIToken is the bearer token required in production mode.
	APIToken string `yaml:"api_token"`
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the RELKIT_ prefix.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads configuration from environment variables, then
// overlays values from the YAML file at path. File values take precedence
// over environment variables.
func LoadConfigFile(path string) (*Config, error) {
	cfg := buildBaseConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}

	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: postgres engine requires RELKIT_POSTGRES_DSN")
	}

	if c.Kernel.RuptureThreshold < 0.0 || c.Kernel.RuptureThreshold > 1.0 {
		return fmt.Errorf("config: rupture threshold must be in [0, 1], got %v", c.Kernel.RuptureThreshold)
	}

	if c.Backup.Enabled && c.Storage.Engine != "sqlite" {
		return fmt.Errorf("config: backups require the sqlite storage engine, got %q", c.Storage.Engine)
	}

	if c.Security.Mode != "development" && c.Security.Mode != "production" {
		return fmt.Errorf("config: security mode must be development or production, got %q", c.Security.Mode)
	}

	if c.Security.Mode == "production" && c.Security.APIToken == "" {
		return fmt.Errorf("config: production mode requires RELKIT_API_TOKEN")
	}

	return nil
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnvInt("RELKIT_PORT", 7272),
			Host:            getEnv("RELKIT_HOST", "127.0.0.1"),
			RateLimitPerSec: getEnvFloat("RELKIT_RATE_LIMIT_PER_SEC", 10.0),
			RateLimitBurst:  getEnvInt("RELKIT_RATE_LIMIT_BURST", 20),
		},
		Storage: StorageConfig{
			Engine:         getEnv("RELKIT_STORAGE_ENGINE", "sqlite"),
			DataPath:       getEnv("RELKIT_DATA_PATH", "./data"),
			PostgresDSN:    getEnv("RELKIT_POSTGRES_DSN", ""),
			BreakerEnabled: getEnvBool("RELKIT_STORAGE_BREAKER", true),
		},
		Kernel: KernelConfig{
			RuptureThreshold:   getEnvFloat("RELKIT_RUPTURE_THRESHOLD", 0.6),
			SignalHistoryLimit: getEnvInt("RELKIT_SIGNAL_HISTORY_LIMIT", 256),
		},
		Backup: BackupConfig{
			Enabled:         getEnvBool("RELKIT_BACKUP_ENABLED", false),
			Dir:             getEnv("RELKIT_BACKUP_DIR", "./data/backups"),
			IntervalMinutes: getEnvInt("RELKIT_BACKUP_INTERVAL_MINUTES", 60),
			Keep:            getEnvInt("RELKIT_BACKUP_KEEP", 24),
		},
		Security: SecurityConfig{
			Mode:     getEnv("RELKIT_SECURITY_MODE", "development"),
			APIToken: getEnv("RELKIT_API_TOKEN", ""),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
