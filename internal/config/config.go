// Package config provides centralized configuration management for the engine.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds all engine configuration.
// All settings can be configured via environment variables.
type Config struct {
	Store   StoreConfig
	Ingest  IngestConfig
	Retry   RetryConfig
	Report  ReportConfig
	Logging LoggingConfig
}

// StoreConfig holds ledger/record store settings.
type StoreConfig struct {
	// Driver selects the storage backend: "postgres" or "sqlite" (default: sqlite)
	Driver string `env:"STORE_DRIVER" default:"sqlite"`

	// URL is the PostgreSQL connection string (required when Driver is postgres)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// SQLitePath is the database file path for the sqlite driver (default: data/reconcile.db)
	SQLitePath string `env:"SQLITE_PATH" default:"data/reconcile.db"`

	// MaxConns is the maximum number of pooled connections (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
}

// IngestConfig holds batch processing settings.
type IngestConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"INGEST_MAX_FILE_SIZE" default:"104857600"`

	// Workers is the number of parallel row validation workers (default: 4)
	Workers int `env:"INGEST_WORKERS" default:"4"`

	// BatchTimeout is the maximum duration for one full pipeline run (default: 10m)
	BatchTimeout time.Duration `env:"INGEST_BATCH_TIMEOUT" default:"10m"`

	// Delimiter is the field separator in input files (default: ",")
	Delimiter string `env:"INGEST_DELIMITER" default:","`
}

// RetryConfig holds loader retry settings for transient storage failures.
type RetryConfig struct {
	// MaxAttempts is the total number of load attempts, including the first (default: 4)
	MaxAttempts int `env:"RETRY_MAX_ATTEMPTS" default:"4"`

	// InitialBackoff is the delay before the first retry (default: 500ms)
	InitialBackoff time.Duration `env:"RETRY_INITIAL_BACKOFF" default:"500ms"`

	// MaxBackoff caps the exponential backoff delay (default: 30s)
	MaxBackoff time.Duration `env:"RETRY_MAX_BACKOFF" default:"30s"`
}

// ReportConfig holds outcome reporting settings.
type ReportConfig struct {
	// Dir is the directory for rendered reports (default: reports)
	Dir string `env:"REPORT_DIR" default:"reports"`

	// MetricsDir is the directory for per-run JSON metrics (default: metrics)
	MetricsDir string `env:"METRICS_DIR" default:"metrics"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log output format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.URL == "" {
			errs = append(errs, "DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "SQLITE_PATH must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORE_DRIVER (%q) must be postgres or sqlite", c.Store.Driver))
	}
	if c.Store.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Store.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if c.Store.MaxConns < c.Store.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Store.MaxConns, c.Store.MinConns))
	}

	if c.Ingest.MaxFileSize <= 0 {
		errs = append(errs, "INGEST_MAX_FILE_SIZE must be positive")
	}
	if c.Ingest.Workers <= 0 {
		errs = append(errs, "INGEST_WORKERS must be positive")
	}
	if c.Ingest.BatchTimeout <= 0 {
		errs = append(errs, "INGEST_BATCH_TIMEOUT must be positive")
	}
	if len([]rune(c.Ingest.Delimiter)) != 1 {
		errs = append(errs, fmt.Sprintf("INGEST_DELIMITER (%q) must be a single character", c.Ingest.Delimiter))
	}

	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, "RETRY_MAX_ATTEMPTS must be positive")
	}
	if c.Retry.InitialBackoff <= 0 {
		errs = append(errs, "RETRY_INITIAL_BACKOFF must be positive")
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		errs = append(errs, "RETRY_MAX_BACKOFF must be >= RETRY_INITIAL_BACKOFF")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
