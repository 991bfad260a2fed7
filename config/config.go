// Package config loads the lifecycle service configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level lifecycle manager configuration.
type Config struct {
	// Store configures where lifecycle records are persisted.
	Store StoreConfig `yaml:"store" json:"store"`

	// Blob configures where backup artifacts are written.
	Blob BlobConfig `yaml:"blob" json:"blob"`

	// Backup controls backup retention and sweeping.
	Backup BackupConfig `yaml:"backup" json:"backup"`

	// Migration controls script execution behavior.
	Migration MigrationConfig `yaml:"migration" json:"migration"`

	// Metrics configures the Prometheus registry.
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// StoreConfig selects and configures the persistence driver.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" json:"driver"`

	// DSN is the SQLite database path (":memory:" for in-memory).
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`

	// Postgres holds connection settings when Driver is "postgres".
	Postgres PostgresConfig `yaml:"postgres,omitempty" json:"postgres,omitempty"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	URL      string `yaml:"url" json:"url"`
	MaxConns int32  `yaml:"max_conns,omitempty" json:"max_conns,omitempty"`
	MinConns int32  `yaml:"min_conns,omitempty" json:"min_conns,omitempty"`
}

// BlobConfig selects and configures the backup artifact store.
type BlobConfig struct {
	// Backend is "local" or "s3".
	Backend string `yaml:"backend" json:"backend"`

	// Dir is the root directory for the local backend.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`

	// Bucket is the S3 bucket name for the s3 backend.
	Bucket string `yaml:"bucket,omitempty" json:"bucket,omitempty"`

	// Region is the AWS region for the s3 backend.
	Region string `yaml:"region,omitempty" json:"region,omitempty"`

	// Prefix is an optional key prefix inside the bucket.
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// BackupConfig controls backup retention.
type BackupConfig struct {
	// Retention is how long backups are kept before SweepExpired
	// removes them (e.g., "720h").
	Retention time.Duration `yaml:"retention" json:"retention"`
}

// MigrationConfig controls script execution behavior.
type MigrationConfig struct {
	// StepTimeout bounds the execution of a single migration script.
	// Zero means no per-step timeout.
	StepTimeout time.Duration `yaml:"step_timeout,omitempty" json:"step_timeout,omitempty"`

	// UseAdvisoryLocks enables PostgreSQL advisory locks as an extra
	// guard around upgrade and rollback runs. Only meaningful with the
	// postgres store driver.
	UseAdvisoryLocks bool `yaml:"use_advisory_locks,omitempty" json:"use_advisory_locks,omitempty"`
}

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	// Namespace prefixes all exported metric names.
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
}

// Default returns the configuration used when no file is provided:
// an in-memory SQLite store with local blob storage.
func Default() *Config {
	return &Config{
		Store:  StoreConfig{Driver: "sqlite", DSN: "modlifecycle.db"},
		Blob:   BlobConfig{Backend: "local", Dir: "backups"},
		Backup: BackupConfig{Retention: 30 * 24 * time.Hour},
		Metrics: MetricsConfig{
			Namespace: "modlifecycle",
		},
	}
}

// Load reads and validates a YAML configuration file. Fields not present
// in the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks driver and backend selections.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.Postgres.URL == "" {
			return fmt.Errorf("store.postgres.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Blob.Backend {
	case "local":
		if c.Blob.Dir == "" {
			return fmt.Errorf("blob.dir is required for the local backend")
		}
	case "s3":
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown blob backend %q", c.Blob.Backend)
	}

	if c.Backup.Retention <= 0 {
		return fmt.Errorf("backup.retention must be positive")
	}
	return nil
}
