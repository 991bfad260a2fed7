package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGInstallationStore implements InstallationStore backed by PostgreSQL. The
// one-live-installation invariant is enforced by a partial unique index, and
// TransitionStatus is a conditional update so the compare-and-set happens in
// the database, not in application code.
type PGInstallationStore struct {
	pool *pgxpool.Pool
}

const installationColumns = `id, tenant_id, module_id, version_id, version,
	status, activated_at, created_at, updated_at`

func (s *PGInstallationStore) Create(ctx context.Context, inst *Installation) error {
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO installations (id, tenant_id, module_id, version_id, version,
			status, activated_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW())
		RETURNING created_at, updated_at`,
		inst.ID, inst.TenantID, inst.ModuleID, inst.VersionID, inst.Version,
		inst.Status, inst.ActivatedAt)
	if err := row.Scan(&inst.CreatedAt, &inst.UpdatedAt); err != nil {
		if isDuplicateError(err) {
			return fmt.Errorf("%w: live installation exists for %s/%s", ErrConflict, inst.TenantID, inst.ModuleID)
		}
		return fmt.Errorf("insert installation: %w", err)
	}
	return nil
}

func (s *PGInstallationStore) Get(ctx context.Context, id uuid.UUID) (*Installation, error) {
	return s.scanOne(ctx, `SELECT `+installationColumns+` FROM installations WHERE id = $1`, id)
}

func (s *PGInstallationStore) GetActive(ctx context.Context, tenantID, moduleID string) (*Installation, error) {
	return s.scanOne(ctx,
		`SELECT `+installationColumns+` FROM installations
		 WHERE tenant_id = $1 AND module_id = $2 AND status = 'active'`,
		tenantID, moduleID)
}

func (s *PGInstallationStore) Update(ctx context.Context, inst *Installation) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE installations SET version_id=$2, version=$3, status=$4,
			activated_at=$5, updated_at=NOW()
		WHERE id=$1`,
		inst.ID, inst.VersionID, inst.Version, inst.Status, inst.ActivatedAt)
	if err != nil {
		return fmt.Errorf("update installation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGInstallationStore) TransitionStatus(ctx context.Context, id uuid.UUID, from []InstallStatus, to InstallStatus) error {
	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE installations SET status=$2, updated_at=NOW()
		WHERE id=$1 AND status = ANY($3)`,
		id, to, fromStrs)
	if err != nil {
		return fmt.Errorf("transition installation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a lost race.
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM installations WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check installation: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (s *PGInstallationStore) History(ctx context.Context, tenantID, moduleID string) ([]*Installation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+installationColumns+` FROM installations
		 WHERE tenant_id = $1 AND module_id = $2 ORDER BY created_at DESC`,
		tenantID, moduleID)
	if err != nil {
		return nil, fmt.Errorf("query installations: %w", err)
	}
	defer rows.Close()

	var result []*Installation
	for rows.Next() {
		inst, err := scanInstallation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

func (s *PGInstallationStore) scanOne(ctx context.Context, sql string, args ...any) (*Installation, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query installation: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query installation: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanInstallation(rows)
}

func scanInstallation(rows pgx.Rows) (*Installation, error) {
	var inst Installation
	err := rows.Scan(&inst.ID, &inst.TenantID, &inst.ModuleID, &inst.VersionID,
		&inst.Version, &inst.Status, &inst.ActivatedAt, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan installation: %w", err)
	}
	return &inst, nil
}
