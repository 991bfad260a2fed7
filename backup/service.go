package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/modlifecycle/store"
)

var (
	// ErrBackupNotFound is returned by Restore for an unknown backup ID.
	ErrBackupNotFound = errors.New("backup not found")
	// ErrRestoreMismatch signals that post-restore row counts differ from
	// the counts recorded at backup time. The restore itself completed; the
	// mismatch is an integrity signal, not a correctness proof.
	ErrRestoreMismatch = errors.New("restore row-count mismatch")
)

// snapshot is the serialized backup artifact.
type snapshot struct {
	TenantID  string                      `json:"tenant_id"`
	ModuleID  string                      `json:"module_id"`
	CreatedAt time.Time                   `json:"created_at"`
	Tables    map[string][]map[string]any `json:"tables"`
}

// Service exports and restores point-in-time snapshots of a tenant's
// module-owned data.
type Service struct {
	records   store.BackupStore
	blobs     BlobStore
	data      TenantData
	retention time.Duration
	logger    *slog.Logger
}

// NewService creates a backup Service. retention controls how long a backup
// is kept before SweepExpired may garbage-collect it.
func NewService(records store.BackupStore, blobs BlobStore, data TenantData, retention time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		records:   records,
		blobs:     blobs,
		data:      data,
		retention: retention,
		logger:    logger,
	}
}

// Backup exports every table the module owns, scoped to the tenant, into a
// single artifact in blob storage and records it with per-table row counts.
// Failure at any point leaves no DataBackup record.
func (s *Service) Backup(ctx context.Context, tenantID, moduleID string, reason store.BackupReason) (*store.DataBackup, error) {
	snap := snapshot{
		TenantID:  tenantID,
		ModuleID:  moduleID,
		CreatedAt: time.Now(),
		Tables:    make(map[string][]map[string]any),
	}
	counts := make(map[string]int64)

	for _, table := range s.data.Tables(moduleID) {
		rows, err := s.data.Export(ctx, tenantID, table)
		if err != nil {
			return nil, fmt.Errorf("export table %s: %w", table, err)
		}
		if rows == nil {
			rows = []map[string]any{}
		}
		snap.Tables[table] = rows
		counts[table] = int64(len(rows))
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("serialize snapshot: %w", err)
	}

	id := uuid.New()
	key := fmt.Sprintf("backups/%s/%s/%s.json", tenantID, moduleID, id)
	locator, err := s.blobs.Put(ctx, key, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("upload snapshot: %w", err)
	}

	now := time.Now()
	rec := &store.DataBackup{
		ID:             id,
		TenantID:       tenantID,
		ModuleID:       moduleID,
		StorageLocator: locator,
		SizeBytes:      int64(len(payload)),
		RowCounts:      counts,
		Reason:         reason,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.retention),
	}
	if err := s.records.Create(ctx, rec); err != nil {
		_ = s.blobs.Delete(ctx, locator)
		return nil, fmt.Errorf("record backup: %w", err)
	}

	s.logger.Info("backup created",
		"tenant", tenantID,
		"module", moduleID,
		"backup", rec.ID,
		"bytes", rec.SizeBytes,
		"reason", reason)
	return rec, nil
}

// Restore overwrites the tenant's module-owned tables with the snapshot: for
// every table in the backup, all current tenant rows are deleted, then the
// snapshot rows inserted. Completion is verified by re-counting rows per
// table against the recorded counts; a difference is reported as
// ErrRestoreMismatch after the restore has finished. The check is advisory
// and not transactional across tables.
func (s *Service) Restore(ctx context.Context, backupID uuid.UUID, tenantID string) error {
	rec, err := s.records.Get(ctx, backupID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrBackupNotFound, backupID)
		}
		return fmt.Errorf("get backup %s: %w", backupID, err)
	}
	if rec.TenantID != tenantID {
		return fmt.Errorf("%w: %s does not belong to tenant %s", ErrBackupNotFound, backupID, tenantID)
	}

	rc, err := s.blobs.Get(ctx, rec.StorageLocator)
	if err != nil {
		return fmt.Errorf("download snapshot: %w", err)
	}
	defer rc.Close()

	var snap snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	tables := make([]string, 0, len(snap.Tables))
	for t := range snap.Tables {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	for _, table := range tables {
		if err := s.data.DeleteAll(ctx, tenantID, table); err != nil {
			return fmt.Errorf("clear table %s: %w", table, err)
		}
		if err := s.data.Insert(ctx, tenantID, table, snap.Tables[table]); err != nil {
			return fmt.Errorf("restore table %s: %w", table, err)
		}
	}

	var mismatched []string
	for _, table := range tables {
		n, err := s.data.Count(ctx, tenantID, table)
		if err != nil {
			return fmt.Errorf("recount table %s: %w", table, err)
		}
		if n != rec.RowCounts[table] {
			mismatched = append(mismatched, fmt.Sprintf("%s (got %d, want %d)", table, n, rec.RowCounts[table]))
		}
	}
	if len(mismatched) > 0 {
		s.logger.Warn("restore row counts differ from backup",
			"tenant", tenantID,
			"backup", backupID,
			"tables", mismatched)
		return fmt.Errorf("%w: %v", ErrRestoreMismatch, mismatched)
	}

	s.logger.Info("restore complete", "tenant", tenantID, "backup", backupID)
	return nil
}

// SweepExpired garbage-collects backups whose expiry has passed, removing the
// blob then the record. Returns the number of backups removed.
func (s *Service) SweepExpired(ctx context.Context, asOf time.Time) (int, error) {
	expired, err := s.records.ListExpired(ctx, asOf)
	if err != nil {
		return 0, fmt.Errorf("list expired backups: %w", err)
	}

	removed := 0
	for _, rec := range expired {
		if err := s.blobs.Delete(ctx, rec.StorageLocator); err != nil {
			s.logger.Error("failed to delete backup blob",
				"backup", rec.ID,
				"locator", rec.StorageLocator,
				"error", err)
			continue
		}
		if err := s.records.Delete(ctx, rec.ID); err != nil {
			return removed, fmt.Errorf("delete backup record %s: %w", rec.ID, err)
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("expired backups swept", "removed", removed)
	}
	return removed, nil
}
