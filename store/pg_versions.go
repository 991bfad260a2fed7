package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGVersionStore implements VersionStore backed by PostgreSQL.
type PGVersionStore struct {
	pool *pgxpool.Pool
}

const versionColumns = `id, module_id, version, major, minor, patch, prerelease,
	bundle_ref, content_hash, dependencies, breaking_changes, status,
	status_reason, created_at, published_at`

func (s *PGVersionStore) Create(ctx context.Context, v *ModuleVersion) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	deps, err := json.Marshal(depsOrEmpty(v.Dependencies))
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO module_versions (id, module_id, version, major, minor, patch,
			prerelease, bundle_ref, content_hash, dependencies, breaking_changes,
			status, status_reason, created_at, published_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW(),$14)
		RETURNING created_at`,
		v.ID, v.ModuleID, v.Version, v.Major, v.Minor, v.Patch,
		v.Prerelease, v.BundleRef, v.ContentHash, deps, v.BreakingChanges,
		v.Status, v.StatusReason, v.PublishedAt)
	if err := row.Scan(&v.CreatedAt); err != nil {
		if isDuplicateError(err) {
			return fmt.Errorf("%w: version %s of %s", ErrDuplicate, v.Version, v.ModuleID)
		}
		return fmt.Errorf("insert module version: %w", err)
	}
	return nil
}

func (s *PGVersionStore) Get(ctx context.Context, id uuid.UUID) (*ModuleVersion, error) {
	return s.scanOne(ctx, `SELECT `+versionColumns+` FROM module_versions WHERE id = $1`, id)
}

func (s *PGVersionStore) GetByVersion(ctx context.Context, moduleID, version string) (*ModuleVersion, error) {
	return s.scanOne(ctx, `SELECT `+versionColumns+` FROM module_versions WHERE module_id = $1 AND version = $2`, moduleID, version)
}

func (s *PGVersionStore) Update(ctx context.Context, v *ModuleVersion) error {
	deps, err := json.Marshal(depsOrEmpty(v.Dependencies))
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE module_versions SET bundle_ref=$2, content_hash=$3, dependencies=$4,
			breaking_changes=$5, status=$6, status_reason=$7, published_at=$8
		WHERE id=$1`,
		v.ID, v.BundleRef, v.ContentHash, deps,
		v.BreakingChanges, v.Status, v.StatusReason, v.PublishedAt)
	if err != nil {
		return fmt.Errorf("update module version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGVersionStore) ListByModule(ctx context.Context, moduleID string) ([]*ModuleVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+versionColumns+` FROM module_versions WHERE module_id = $1 ORDER BY created_at`,
		moduleID)
	if err != nil {
		return nil, fmt.Errorf("query module versions: %w", err)
	}
	defer rows.Close()

	var result []*ModuleVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (s *PGVersionStore) scanOne(ctx context.Context, sql string, args ...any) (*ModuleVersion, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query module version: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query module version: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanVersion(rows)
}

func scanVersion(rows pgx.Rows) (*ModuleVersion, error) {
	var v ModuleVersion
	var deps []byte
	err := rows.Scan(&v.ID, &v.ModuleID, &v.Version, &v.Major, &v.Minor, &v.Patch,
		&v.Prerelease, &v.BundleRef, &v.ContentHash, &deps, &v.BreakingChanges,
		&v.Status, &v.StatusReason, &v.CreatedAt, &v.PublishedAt)
	if err != nil {
		return nil, fmt.Errorf("scan module version: %w", err)
	}
	if len(deps) > 0 {
		if err := json.Unmarshal(deps, &v.Dependencies); err != nil {
			return nil, fmt.Errorf("unmarshal dependencies: %w", err)
		}
	}
	if len(v.Dependencies) == 0 {
		v.Dependencies = nil
	}
	return &v, nil
}

func depsOrEmpty(deps map[string]string) map[string]string {
	if deps == nil {
		return map[string]string{}
	}
	return deps
}
