package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGMigrationStore implements MigrationStore backed by PostgreSQL.
type PGMigrationStore struct {
	pool *pgxpool.Pool
}

const migrationColumns = `id, module_id, from_version, to_version, sequence,
	up_script, down_script, is_reversible, requires_maintenance_window,
	estimated_duration_seconds, created_at`

func (s *PGMigrationStore) Create(ctx context.Context, m *Migration) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO migrations (id, module_id, from_version, to_version, sequence,
			up_script, down_script, is_reversible, requires_maintenance_window,
			estimated_duration_seconds, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
		RETURNING created_at`,
		m.ID, m.ModuleID, m.FromVersion, m.ToVersion, m.Sequence,
		m.UpScript, m.DownScript, m.IsReversible, m.RequiresMaintenanceWindow,
		m.EstimatedDurationSeconds)
	if err := row.Scan(&m.CreatedAt); err != nil {
		if isDuplicateError(err) {
			return fmt.Errorf("%w: sequence %d of %s", ErrDuplicate, m.Sequence, m.ModuleID)
		}
		return fmt.Errorf("insert migration: %w", err)
	}
	return nil
}

func (s *PGMigrationStore) Get(ctx context.Context, id uuid.UUID) (*Migration, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+migrationColumns+` FROM migrations WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("query migration: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query migration: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanMigration(rows)
}

func (s *PGMigrationStore) ListByModule(ctx context.Context, moduleID string) ([]*Migration, error) {
	return s.list(ctx,
		`SELECT `+migrationColumns+` FROM migrations WHERE module_id = $1 ORDER BY sequence`,
		moduleID)
}

func (s *PGMigrationStore) Range(ctx context.Context, moduleID string, fromSeq, toSeq int64) ([]*Migration, error) {
	return s.list(ctx,
		`SELECT `+migrationColumns+` FROM migrations
		 WHERE module_id = $1 AND sequence > $2 AND sequence <= $3 ORDER BY sequence`,
		moduleID, fromSeq, toSeq)
}

func (s *PGMigrationStore) list(ctx context.Context, sql string, args ...any) ([]*Migration, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query migrations: %w", err)
	}
	defer rows.Close()

	var result []*Migration
	for rows.Next() {
		m, err := scanMigration(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func scanMigration(rows pgx.Rows) (*Migration, error) {
	var m Migration
	err := rows.Scan(&m.ID, &m.ModuleID, &m.FromVersion, &m.ToVersion, &m.Sequence,
		&m.UpScript, &m.DownScript, &m.IsReversible, &m.RequiresMaintenanceWindow,
		&m.EstimatedDurationSeconds, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan migration: %w", err)
	}
	return &m, nil
}
