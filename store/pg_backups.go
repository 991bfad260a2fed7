package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGBackupStore implements BackupStore backed by PostgreSQL. Row counts
// are stored as JSONB so restore can verify table-by-table.
type PGBackupStore struct {
	pool *pgxpool.Pool
}

func (s *PGBackupStore) Create(ctx context.Context, b *DataBackup) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}

	counts, err := json.Marshal(countsOrEmpty(b.RowCounts))
	if err != nil {
		return fmt.Errorf("marshal row counts: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO data_backups (id, tenant_id, module_id, storage_locator,
			size_bytes, row_counts, reason, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		b.ID, b.TenantID, b.ModuleID, b.StorageLocator,
		b.SizeBytes, counts, b.Reason, b.CreatedAt, b.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert backup: %w", err)
	}
	return nil
}

func (s *PGBackupStore) Get(ctx context.Context, id uuid.UUID) (*DataBackup, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, module_id, storage_locator, size_bytes,
			row_counts, reason, created_at, expires_at
		FROM data_backups WHERE id = $1`, id)
	return scanBackup(row)
}

func (s *PGBackupStore) ListExpired(ctx context.Context, now time.Time) ([]*DataBackup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, module_id, storage_locator, size_bytes,
			row_counts, reason, created_at, expires_at
		FROM data_backups
		WHERE expires_at <= $1
		ORDER BY expires_at`, now)
	if err != nil {
		return nil, fmt.Errorf("query expired backups: %w", err)
	}
	defer rows.Close()

	var result []*DataBackup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (s *PGBackupStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM data_backups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete backup: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanBackup(row pgx.Row) (*DataBackup, error) {
	var b DataBackup
	var counts []byte
	err := row.Scan(&b.ID, &b.TenantID, &b.ModuleID, &b.StorageLocator,
		&b.SizeBytes, &counts, &b.Reason, &b.CreatedAt, &b.ExpiresAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan backup: %w", err)
	}
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &b.RowCounts); err != nil {
			return nil, fmt.Errorf("unmarshal row counts: %w", err)
		}
	}
	return &b, nil
}

func countsOrEmpty(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}
