package store

import (
	"time"

	"github.com/google/uuid"
)

// VersionStatus represents the publication lifecycle state of a module version.
type VersionStatus string

const (
	VersionStatusDraft      VersionStatus = "draft"
	VersionStatusPublished  VersionStatus = "published"
	VersionStatusDeprecated VersionStatus = "deprecated"
	VersionStatusYanked     VersionStatus = "yanked"
)

// ValidVersionStatuses is the set of valid version status values.
var ValidVersionStatuses = map[VersionStatus]bool{
	VersionStatusDraft:      true,
	VersionStatusPublished:  true,
	VersionStatusDeprecated: true,
	VersionStatusYanked:     true,
}

// ModuleVersion represents one draft or published release of a module.
type ModuleVersion struct {
	ID              uuid.UUID         `json:"id"`
	ModuleID        string            `json:"module_id"`
	Version         string            `json:"version"`
	Major           int               `json:"major"`
	Minor           int               `json:"minor"`
	Patch           int               `json:"patch"`
	Prerelease      string            `json:"prerelease,omitempty"`
	BundleRef       string            `json:"bundle_ref"`
	ContentHash     string            `json:"content_hash,omitempty"`
	Dependencies    map[string]string `json:"dependencies,omitempty"` // moduleID -> constraint
	BreakingChanges bool              `json:"breaking_changes"`
	Status          VersionStatus     `json:"status"`
	StatusReason    string            `json:"status_reason,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	PublishedAt     *time.Time        `json:"published_at,omitempty"`
}

// Migration represents one step in a module's schema/data evolution chain.
// FromVersion nil means the step applies from an empty (genesis) state.
type Migration struct {
	ID                        uuid.UUID `json:"id"`
	ModuleID                  string    `json:"module_id"`
	FromVersion               *string   `json:"from_version,omitempty"`
	ToVersion                 string    `json:"to_version"`
	Sequence                  int64     `json:"sequence"`
	UpScript                  string    `json:"up_script"`
	DownScript                string    `json:"down_script,omitempty"`
	IsReversible              bool      `json:"is_reversible"`
	RequiresMaintenanceWindow bool      `json:"requires_maintenance_window"`
	EstimatedDurationSeconds  int64     `json:"estimated_duration_seconds"`
	CreatedAt                 time.Time `json:"created_at"`
}

// InstallStatus represents the lifecycle state of a tenant installation.
type InstallStatus string

const (
	InstallStatusInstalling      InstallStatus = "installing"
	InstallStatusActive          InstallStatus = "active"
	InstallStatusPendingRollback InstallStatus = "pending_rollback"
	InstallStatusRolledBack      InstallStatus = "rolled_back"
	InstallStatusFailed          InstallStatus = "failed"
)

// ValidInstallStatuses is the set of valid installation status values.
var ValidInstallStatuses = map[InstallStatus]bool{
	InstallStatusInstalling:      true,
	InstallStatusActive:          true,
	InstallStatusPendingRollback: true,
	InstallStatusRolledBack:      true,
	InstallStatusFailed:          true,
}

// Busy reports whether the status marks an operation in progress. At most one
// installation per (tenant, module) may be busy or active at a time.
func (s InstallStatus) Busy() bool {
	return s == InstallStatusInstalling || s == InstallStatusPendingRollback
}

// Installation records which version of a module a tenant has, and in what
// lifecycle state. Rows are never deleted; historical rows form the audit trail.
type Installation struct {
	ID          uuid.UUID     `json:"id"`
	TenantID    string        `json:"tenant_id"`
	ModuleID    string        `json:"module_id"`
	VersionID   uuid.UUID     `json:"version_id"`
	Version     string        `json:"version"`
	Status      InstallStatus `json:"status"`
	ActivatedAt *time.Time    `json:"activated_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// RunDirection indicates whether a migration run applied the up or down script.
type RunDirection string

const (
	RunDirectionUp   RunDirection = "up"
	RunDirectionDown RunDirection = "down"
)

// RunStatus represents the outcome of a single migration run.
type RunStatus string

const (
	RunStatusRunning    RunStatus = "running"
	RunStatusSuccess    RunStatus = "success"
	RunStatusFailed     RunStatus = "failed"
	RunStatusRolledBack RunStatus = "rolled_back"
)

// MigrationRun is the immutable record of one migration script execution.
type MigrationRun struct {
	ID          uuid.UUID    `json:"id"`
	MigrationID uuid.UUID    `json:"migration_id"`
	TenantID    string       `json:"tenant_id"`
	ModuleID    string       `json:"module_id"`
	Direction   RunDirection `json:"direction"`
	Status      RunStatus    `json:"status"`
	BackupID    *uuid.UUID   `json:"backup_id,omitempty"`
	ActorID     string       `json:"actor_id,omitempty"`
	ErrorDetail string       `json:"error_detail,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
}

// BackupReason records why a data backup was taken.
type BackupReason string

const (
	BackupReasonAuto       BackupReason = "auto"
	BackupReasonManual     BackupReason = "manual"
	BackupReasonPreUpgrade BackupReason = "pre_upgrade"
)

// DataBackup is the record of a point-in-time export of a tenant's
// module-owned data. The artifact itself lives in blob storage at
// StorageLocator; RowCounts is the integrity reference used on restore.
type DataBackup struct {
	ID             uuid.UUID        `json:"id"`
	TenantID       string           `json:"tenant_id"`
	ModuleID       string           `json:"module_id"`
	StorageLocator string           `json:"storage_locator"`
	SizeBytes      int64            `json:"size_bytes"`
	RowCounts      map[string]int64 `json:"row_counts"`
	Reason         BackupReason     `json:"reason"`
	CreatedAt      time.Time        `json:"created_at"`
	ExpiresAt      time.Time        `json:"expires_at"`
}
