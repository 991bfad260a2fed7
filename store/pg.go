package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGConfig holds PostgreSQL connection configuration.
type PGConfig struct {
	URL      string `yaml:"url" json:"url"`
	MaxConns int32  `yaml:"max_conns" json:"max_conns"`
	MinConns int32  `yaml:"min_conns" json:"min_conns"`
}

// PGStore wraps a pgxpool.Pool and provides access to all lifecycle stores.
type PGStore struct {
	pool *pgxpool.Pool

	versions      *PGVersionStore
	migrations    *PGMigrationStore
	installations *PGInstallationStore
	runs          *PGRunStore
	backups       *PGBackupStore
}

// NewPGStore connects to PostgreSQL, applies pending schema migrations, and
// returns a PGStore with all sub-stores.
func NewPGStore(ctx context.Context, cfg PGConfig) (*PGStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}

	if err := NewMigrator(pool).Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	s := &PGStore{pool: pool}
	s.versions = &PGVersionStore{pool: pool}
	s.migrations = &PGMigrationStore{pool: pool}
	s.installations = &PGInstallationStore{pool: pool}
	s.runs = &PGRunStore{pool: pool}
	s.backups = &PGBackupStore{pool: pool}
	return s, nil
}

// Pool exposes the underlying connection pool, e.g. for advisory locks.
func (s *PGStore) Pool() *pgxpool.Pool { return s.pool }

// Close releases the connection pool.
func (s *PGStore) Close() { s.pool.Close() }

// Versions returns the VersionStore.
func (s *PGStore) Versions() VersionStore { return s.versions }

// Migrations returns the MigrationStore.
func (s *PGStore) Migrations() MigrationStore { return s.migrations }

// Installations returns the InstallationStore.
func (s *PGStore) Installations() InstallationStore { return s.installations }

// Runs returns the RunStore.
func (s *PGStore) Runs() RunStore { return s.runs }

// Backups returns the BackupStore.
func (s *PGStore) Backups() BackupStore { return s.backups }

// isDuplicateError reports whether err is a PostgreSQL unique violation.
func isDuplicateError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
