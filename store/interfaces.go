package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// VersionStore defines persistence operations for module versions.
type VersionStore interface {
	Create(ctx context.Context, v *ModuleVersion) error
	Get(ctx context.Context, id uuid.UUID) (*ModuleVersion, error)
	GetByVersion(ctx context.Context, moduleID, version string) (*ModuleVersion, error)
	Update(ctx context.Context, v *ModuleVersion) error
	// ListByModule returns all versions of a module in creation order.
	ListByModule(ctx context.Context, moduleID string) ([]*ModuleVersion, error)
}

// MigrationStore defines persistence operations for the migration catalog.
type MigrationStore interface {
	Create(ctx context.Context, m *Migration) error
	Get(ctx context.Context, id uuid.UUID) (*Migration, error)
	// ListByModule returns all migrations for a module ordered by sequence ascending.
	ListByModule(ctx context.Context, moduleID string) ([]*Migration, error)
	// Range returns migrations with sequence in (fromSeq, toSeq], ascending.
	Range(ctx context.Context, moduleID string, fromSeq, toSeq int64) ([]*Migration, error)
}

// InstallationStore defines persistence operations for tenant installations.
// Exactly one installation per (tenant, module) may be active or busy at a
// time; Create must return ErrConflict when that would be violated.
type InstallationStore interface {
	Create(ctx context.Context, inst *Installation) error
	Get(ctx context.Context, id uuid.UUID) (*Installation, error)
	// GetActive returns the active installation for the pair, or ErrNotFound.
	GetActive(ctx context.Context, tenantID, moduleID string) (*Installation, error)
	Update(ctx context.Context, inst *Installation) error
	// TransitionStatus atomically moves the installation from one of the
	// given statuses to the target status. It returns ErrConflict if the
	// current status is not in from. This is the compare-and-set that
	// provides mutual exclusion for upgrade and rollback operations.
	TransitionStatus(ctx context.Context, id uuid.UUID, from []InstallStatus, to InstallStatus) error
	// History returns all installations for the pair, newest first.
	History(ctx context.Context, tenantID, moduleID string) ([]*Installation, error)
}

// RunStore defines persistence operations for migration run records.
// Runs are append-only: Update only touches status, error, and finish time.
type RunStore interface {
	Create(ctx context.Context, run *MigrationRun) error
	Update(ctx context.Context, run *MigrationRun) error
	// History returns all runs for the pair, newest first.
	History(ctx context.Context, tenantID, moduleID string) ([]*MigrationRun, error)
}

// BackupStore defines persistence operations for data backup records.
type BackupStore interface {
	Create(ctx context.Context, b *DataBackup) error
	Get(ctx context.Context, id uuid.UUID) (*DataBackup, error)
	// ListExpired returns backups whose expiry is at or before asOf.
	ListExpired(ctx context.Context, asOf time.Time) ([]*DataBackup, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
