package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRunStore implements RunStore backed by PostgreSQL.
type PGRunStore struct {
	pool *pgxpool.Pool
}

func (s *PGRunStore) Create(ctx context.Context, run *MigrationRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO migration_runs (id, migration_id, tenant_id, module_id,
			direction, status, backup_id, actor_id, error_detail, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		run.ID, run.MigrationID, run.TenantID, run.ModuleID,
		run.Direction, run.Status, run.BackupID, run.ActorID, run.ErrorDetail,
		run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert migration run: %w", err)
	}
	return nil
}

func (s *PGRunStore) Update(ctx context.Context, run *MigrationRun) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE migration_runs SET status=$2, error_detail=$3, finished_at=$4
		WHERE id=$1`,
		run.ID, run.Status, run.ErrorDetail, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("update migration run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGRunStore) History(ctx context.Context, tenantID, moduleID string) ([]*MigrationRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, migration_id, tenant_id, module_id, direction, status,
			backup_id, actor_id, error_detail, started_at, finished_at
		FROM migration_runs
		WHERE tenant_id = $1 AND module_id = $2
		ORDER BY started_at DESC`,
		tenantID, moduleID)
	if err != nil {
		return nil, fmt.Errorf("query migration runs: %w", err)
	}
	defer rows.Close()

	var result []*MigrationRun
	for rows.Next() {
		var run MigrationRun
		err := rows.Scan(&run.ID, &run.MigrationID, &run.TenantID, &run.ModuleID,
			&run.Direction, &run.Status, &run.BackupID, &run.ActorID,
			&run.ErrorDetail, &run.StartedAt, &run.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("scan migration run: %w", err)
		}
		result = append(result, &run)
	}
	return result, rows.Err()
}
