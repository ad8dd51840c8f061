package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	BackendPebble   = "pebble"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig represents the HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// StorageConfig selects and configures the chain backend
type StorageConfig struct {
	Backend  string         `yaml:"backend"` // pebble, postgres or memory
	Pebble   PebbleConfig   `yaml:"pebble"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// PebbleConfig represents the Pebble database configuration
type PebbleConfig struct {
	Path        string `yaml:"path"`
	CacheSizeMB int64  `yaml:"cache_size_mb"`
}

// PostgresConfig represents the PostgreSQL connection configuration
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	ConnectRetries int    `yaml:"connect_retries"`
}

// LedgerConfig controls block creation
type LedgerConfig struct {
	// AllowEmptyBlocks permits heartbeat blocks with no transactions
	AllowEmptyBlocks bool `yaml:"allow_empty_blocks"`
	// MaxAttempts bounds how often a commit is rebuilt after a sequence
	// conflict or an unavailable store
	MaxAttempts    int `yaml:"max_attempts"`
	RetryBackoffMs int `yaml:"retry_backoff_ms"`
	// SealBatchSize caps how many pending transactions go into one sealed block
	SealBatchSize    int  `yaml:"seal_batch_size"`
	ReconcileOnStart bool `yaml:"reconcile_on_start"`
	// Background jobs, 0 disables
	SealIntervalSec   int `yaml:"seal_interval_sec"`
	VerifyIntervalSec int `yaml:"verify_interval_sec"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Debug      bool   `yaml:"debug"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Storage: StorageConfig{
			Backend: BackendPebble,
			Pebble: PebbleConfig{
				Path:        "./data/pebble",
				CacheSizeMB: 64,
			},
			Postgres: PostgresConfig{
				ConnectRetries: 5,
			},
		},
		Ledger: LedgerConfig{
			MaxAttempts:      5,
			RetryBackoffMs:   100,
			SealBatchSize:    100,
			ReconcileOnStart: true,
		},
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxAgeDays: 14,
		},
	}
}

// Load loads configuration from a YAML file and environment variables
func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from YAML file if it exists
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Storage.Backend {
	case BackendPebble:
		if c.Storage.Pebble.Path == "" {
			return fmt.Errorf("storage.pebble.path is required")
		}
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}
	if c.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("ledger.max_attempts must be at least 1")
	}
	if c.Ledger.RetryBackoffMs < 0 {
		return fmt.Errorf("ledger.retry_backoff_ms must not be negative")
	}
	if c.Ledger.SealBatchSize < 1 {
		return fmt.Errorf("ledger.seal_batch_size must be at least 1")
	}
	if c.Ledger.SealIntervalSec < 0 || c.Ledger.VerifyIntervalSec < 0 {
		return fmt.Errorf("ledger intervals must not be negative")
	}
	return nil
}

func (c *Config) loadEnv() {
	// Server config
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}

	// Storage config
	if backend := os.Getenv("STORAGE_BACKEND"); backend != "" {
		c.Storage.Backend = backend
	}
	if path := os.Getenv("PEBBLE_PATH"); path != "" {
		c.Storage.Pebble.Path = path
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		c.Storage.Postgres.DSN = dsn
	}

	// Ledger config
	if allow := os.Getenv("LEDGER_ALLOW_EMPTY_BLOCKS"); allow != "" {
		c.Ledger.AllowEmptyBlocks = parseBool(allow)
	}
	if attempts := os.Getenv("LEDGER_MAX_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil {
			c.Ledger.MaxAttempts = n
		}
	}
	if reconcile := os.Getenv("LEDGER_RECONCILE_ON_START"); reconcile != "" {
		c.Ledger.ReconcileOnStart = parseBool(reconcile)
	}
	if interval := os.Getenv("LEDGER_SEAL_INTERVAL_SEC"); interval != "" {
		if n, err := strconv.Atoi(interval); err == nil {
			c.Ledger.SealIntervalSec = n
		}
	}
	if interval := os.Getenv("LEDGER_VERIFY_INTERVAL_SEC"); interval != "" {
		if n, err := strconv.Atoi(interval); err == nil {
			c.Ledger.VerifyIntervalSec = n
		}
	}

	// Log config
	if file := os.Getenv("LOGFILE"); file != "" {
		c.Log.File = file
	}
	if debug := os.Getenv("LOG_DEBUG"); debug != "" {
		c.Log.Debug = parseBool(debug)
	}
}

func parseBool(s string) bool {
	return s == "true" || s == "1"
}
