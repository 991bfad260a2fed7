// Package rollback evaluates and executes downgrades of a tenant
// installation to an earlier version. Rollback is deliberately asymmetric to
// upgrade: a failed rollback step is never auto-compensated.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/modlifecycle/migration"
	"github.com/GoCodeAlone/modlifecycle/registry"
	"github.com/GoCodeAlone/modlifecycle/store"
)

var (
	// ErrBlocked is returned when the plan has blockers and force was not
	// set, or when a step has no down script at all.
	ErrBlocked = errors.New("rollback blocked")
	// ErrNotEarlier is returned when the target version is not strictly
	// earlier than the current one.
	ErrNotEarlier = errors.New("target version is not earlier than current version")
	// ErrNoActiveInstallation is returned when the tenant has no active
	// installation of the module.
	ErrNoActiveInstallation = errors.New("no active installation")
)

// destructiveMarkers are scanned, lowercased, in down scripts to produce
// advisory warnings about destructive operations.
var destructiveMarkers = []string{"drop table", "drop column", "truncate", "delete from"}

// Plan describes the feasibility and shape of a rollback.
type Plan struct {
	TenantID                  string             `json:"tenant_id"`
	ModuleID                  string             `json:"module_id"`
	CurrentVersion            string             `json:"current_version"`
	TargetVersion             string             `json:"target_version"`
	Steps                     []*store.Migration `json:"steps"` // descending sequence
	Blockers                  []string           `json:"blockers,omitempty"`
	Warnings                  []string           `json:"warnings,omitempty"`
	EstimatedDurationSeconds  int64              `json:"estimated_duration_seconds"`
	RequiresMaintenanceWindow bool               `json:"requires_maintenance_window"`
	CanRollback               bool               `json:"can_rollback"`
}

// ExecuteOptions control rollback execution.
type ExecuteOptions struct {
	// Force bypasses advisory blockers. It cannot bypass an entirely
	// missing down script, since there is nothing to execute.
	Force bool
	// StepTimeout bounds each down-script execution.
	StepTimeout time.Duration
}

// BackupService is the snapshot capability taken before destructive work.
type BackupService interface {
	Backup(ctx context.Context, tenantID, moduleID string, reason store.BackupReason) (*store.DataBackup, error)
}

// Coordinator plans and executes rollbacks, delegating reverse execution to
// the migration orchestrator and snapshots to the backup service.
type Coordinator struct {
	versions store.VersionStore
	installs store.InstallationStore
	catalog  *migration.Catalog
	orch     *migration.Orchestrator
	backups  BackupService
	logger   *slog.Logger
}

// NewCoordinator creates a Coordinator. backups may be nil to skip the
// pre-rollback snapshot.
func NewCoordinator(versions store.VersionStore, installs store.InstallationStore, catalog *migration.Catalog, orch *migration.Orchestrator, backups BackupService, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		versions: versions,
		installs: installs,
		catalog:  catalog,
		orch:     orch,
		backups:  backups,
		logger:   logger,
	}
}

// PlanRollback evaluates rolling the tenant back to the target version:
// which migrations must be undone (descending), what blocks the rollback,
// and advisory warnings. It does not mutate anything.
func (c *Coordinator) PlanRollback(ctx context.Context, tenantID, moduleID string, targetVersionID uuid.UUID) (*Plan, error) {
	inst, err := c.installs.GetActive(ctx, tenantID, moduleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNoActiveInstallation, tenantID, moduleID)
		}
		return nil, fmt.Errorf("get active installation: %w", err)
	}

	target, err := c.versions.Get(ctx, targetVersionID)
	if err != nil {
		return nil, fmt.Errorf("get target version %s: %w", targetVersionID, err)
	}
	if target.ModuleID != moduleID {
		return nil, fmt.Errorf("version %s belongs to module %s, not %s", targetVersionID, target.ModuleID, moduleID)
	}

	currentSV, err := registry.Parse(inst.Version)
	if err != nil {
		return nil, fmt.Errorf("parse current version %q: %w", inst.Version, err)
	}
	targetSV := registry.Semver{Major: target.Major, Minor: target.Minor, Patch: target.Patch, Prerelease: target.Prerelease}
	if targetSV.Compare(currentSV) >= 0 {
		return nil, fmt.Errorf("%w: %s >= %s", ErrNotEarlier, target.Version, inst.Version)
	}

	steps, err := c.catalog.StepsForRollback(ctx, moduleID, target.Version, inst.Version)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		TenantID:       tenantID,
		ModuleID:       moduleID,
		CurrentVersion: inst.Version,
		TargetVersion:  target.Version,
		Steps:          steps,
	}
	for _, s := range steps {
		if !s.IsReversible || s.DownScript == "" {
			plan.Blockers = append(plan.Blockers, fmt.Sprintf("migration to %s is not reversible", s.ToVersion))
		} else {
			plan.Warnings = append(plan.Warnings, scanDownScript(s)...)
		}
		plan.EstimatedDurationSeconds += s.EstimatedDurationSeconds
		plan.RequiresMaintenanceWindow = plan.RequiresMaintenanceWindow || s.RequiresMaintenanceWindow
	}
	plan.CanRollback = len(plan.Blockers) == 0
	return plan, nil
}

// scanDownScript reports destructive operation markers in a down script.
// Advisory only.
func scanDownScript(m *store.Migration) []string {
	var warnings []string
	script := strings.ToLower(m.DownScript)
	for _, marker := range destructiveMarkers {
		if strings.Contains(script, marker) {
			warnings = append(warnings, fmt.Sprintf("down script of migration to %s contains %q", m.ToVersion, marker))
		}
	}
	return warnings
}

// ExecuteRollback rolls the tenant back to the target version. A blocked plan
// is refused unless opts.Force; force still refuses a step with no down
// script. On the first failed step the installation is marked failed and left
// for operator intervention; restoring from the pre-rollback backup is the
// documented manual remedy. On success the prior installation is marked
// rolled_back and the target version's installation is reactivated or
// created.
func (c *Coordinator) ExecuteRollback(ctx context.Context, tenantID, moduleID string, targetVersionID uuid.UUID, actorID string, opts ExecuteOptions) error {
	plan, err := c.PlanRollback(ctx, tenantID, moduleID, targetVersionID)
	if err != nil {
		return err
	}
	if !plan.CanRollback {
		if !opts.Force {
			return fmt.Errorf("%w: %s", ErrBlocked, strings.Join(plan.Blockers, "; "))
		}
		for _, s := range plan.Steps {
			if s.DownScript == "" {
				return fmt.Errorf("%w: migration to %s has no down script to execute", ErrBlocked, s.ToVersion)
			}
		}
		c.logger.Warn("rollback forced past blockers",
			"tenant", tenantID,
			"module", moduleID,
			"blockers", plan.Blockers,
			"actor", actorID)
	}

	target, err := c.versions.Get(ctx, targetVersionID)
	if err != nil {
		return fmt.Errorf("get target version %s: %w", targetVersionID, err)
	}
	inst, err := c.installs.GetActive(ctx, tenantID, moduleID)
	if err != nil {
		return fmt.Errorf("get active installation: %w", err)
	}

	if err := c.installs.TransitionStatus(ctx, inst.ID, []store.InstallStatus{store.InstallStatusActive}, store.InstallStatusPendingRollback); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("operation already in progress for %s/%s: %w", tenantID, moduleID, err)
		}
		return fmt.Errorf("transition installation: %w", err)
	}

	var backupID *uuid.UUID
	if c.backups != nil {
		b, err := c.backups.Backup(ctx, tenantID, moduleID, store.BackupReasonAuto)
		if err != nil {
			c.release(ctx, inst, store.InstallStatusActive)
			return fmt.Errorf("pre-rollback backup: %w", err)
		}
		backupID = &b.ID
	}

	if _, err := c.orch.ExecuteReverse(ctx, tenantID, moduleID, plan.Steps, actorID, backupID, opts.StepTimeout); err != nil {
		// Deliberate fail-stop: no re-forward-migration. The tenant is in
		// an indeterminate state between versions.
		c.release(ctx, inst, store.InstallStatusFailed)
		c.logger.Error("rollback failed",
			"tenant", tenantID,
			"module", moduleID,
			"target", target.Version,
			"backup", backupID,
			"error", err)
		return fmt.Errorf("rollback of %s/%s to %s: %w", tenantID, moduleID, target.Version, err)
	}

	if err := c.installs.TransitionStatus(ctx, inst.ID, []store.InstallStatus{store.InstallStatusPendingRollback}, store.InstallStatusRolledBack); err != nil {
		return fmt.Errorf("mark installation rolled back: %w", err)
	}

	if err := c.activateTarget(ctx, tenantID, moduleID, target); err != nil {
		return err
	}

	c.logger.Info("rollback complete",
		"tenant", tenantID,
		"module", moduleID,
		"from", plan.CurrentVersion,
		"to", target.Version)
	return nil
}

// activateTarget reactivates a historical installation row for the target
// version or creates a new active one.
func (c *Coordinator) activateTarget(ctx context.Context, tenantID, moduleID string, target *store.ModuleVersion) error {
	now := time.Now()

	history, err := c.installs.History(ctx, tenantID, moduleID)
	if err != nil {
		return fmt.Errorf("list installation history: %w", err)
	}
	for _, h := range history {
		if h.VersionID == target.ID && h.Status == store.InstallStatusRolledBack {
			h.Status = store.InstallStatusActive
			h.ActivatedAt = &now
			if err := c.installs.Update(ctx, h); err != nil {
				return fmt.Errorf("reactivate installation %s: %w", h.ID, err)
			}
			return nil
		}
	}

	inst := &store.Installation{
		TenantID:    tenantID,
		ModuleID:    moduleID,
		VersionID:   target.ID,
		Version:     target.Version,
		Status:      store.InstallStatusActive,
		ActivatedAt: &now,
	}
	if err := c.installs.Create(ctx, inst); err != nil {
		return fmt.Errorf("create installation at %s: %w", target.Version, err)
	}
	return nil
}

func (c *Coordinator) release(ctx context.Context, inst *store.Installation, to store.InstallStatus) {
	if err := c.installs.TransitionStatus(ctx, inst.ID, []store.InstallStatus{store.InstallStatusPendingRollback}, to); err != nil {
		c.logger.Error("failed to settle installation state",
			"installation", inst.ID,
			"target_status", to,
			"error", err)
	}
}
