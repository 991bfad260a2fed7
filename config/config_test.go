package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: postgres
  postgres:
    url: postgres://localhost/lifecycle
    max_conns: 8
blob:
  backend: s3
  bucket: lifecycle-backups
  region: eu-west-1
  prefix: prod
backup:
  retention: 168h
migration:
  step_timeout: 5m
  use_advisory_locks: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.Postgres.URL != "postgres://localhost/lifecycle" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Store.Postgres.MaxConns != 8 {
		t.Errorf("max_conns = %d, want 8", cfg.Store.Postgres.MaxConns)
	}
	if cfg.Blob.Backend != "s3" || cfg.Blob.Bucket != "lifecycle-backups" || cfg.Blob.Prefix != "prod" {
		t.Errorf("blob = %+v", cfg.Blob)
	}
	if cfg.Backup.Retention != 168*time.Hour {
		t.Errorf("retention = %v, want 168h", cfg.Backup.Retention)
	}
	if cfg.Migration.StepTimeout != 5*time.Minute || !cfg.Migration.UseAdvisoryLocks {
		t.Errorf("migration = %+v", cfg.Migration)
	}
	// Untouched fields keep their defaults.
	if cfg.Metrics.Namespace != "modlifecycle" {
		t.Errorf("namespace = %q, want default", cfg.Metrics.Namespace)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "store:\n  dsn: /var/lib/lifecycle.db\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.DSN != "/var/lib/lifecycle.db" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Blob.Backend != "local" || cfg.Blob.Dir != "backups" {
		t.Errorf("blob = %+v", cfg.Blob)
	}
	if cfg.Backup.Retention != 30*24*time.Hour {
		t.Errorf("retention = %v", cfg.Backup.Retention)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "oracle" }, "unknown store driver"},
		{"sqlite without dsn", func(c *Config) { c.Store.DSN = "" }, "store.dsn"},
		{"postgres without url", func(c *Config) { c.Store.Driver = "postgres" }, "store.postgres.url"},
		{"unknown backend", func(c *Config) { c.Blob.Backend = "ftp" }, "unknown blob backend"},
		{"local without dir", func(c *Config) { c.Blob.Dir = "" }, "blob.dir"},
		{"s3 without bucket", func(c *Config) { c.Blob.Backend = "s3" }, "blob.bucket"},
		{"zero retention", func(c *Config) { c.Backup.Retention = 0 }, "backup.retention"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
