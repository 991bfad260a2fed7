package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/modlifecycle/registry"
	"github.com/GoCodeAlone/modlifecycle/store"
)

// Orchestrator execution errors.
var (
	// ErrStepFailed marks an upgrade batch stopped at a failed step. When
	// compensation completed, the tenant's active version is unchanged.
	ErrStepFailed = errors.New("migration step failed")
	// ErrCompensationFailed marks the degraded fail-stop state: a step
	// failed and an already-applied step could not be undone. The
	// installation is marked failed and requires operator intervention;
	// restoring from the pre-upgrade backup is the documented remedy.
	ErrCompensationFailed = errors.New("compensation failed, manual intervention required")
	// ErrNoDownScript is returned by reverse execution when a step carries
	// no down script at all.
	ErrNoDownScript = errors.New("migration has no down script")
)

// BackupService snapshots a tenant's module-owned data before a risky
// operation. Implemented by the backup package; kept as a local interface so
// the orchestrator tests with a fake.
type BackupService interface {
	Backup(ctx context.Context, tenantID, moduleID string, reason store.BackupReason) (*store.DataBackup, error)
}

// Orchestrator plans and executes migration batches against tenant data. All
// collaborators are injected; at most one operation runs at a time per
// (tenant, module) pair, enforced by the installation status compare-and-set.
type Orchestrator struct {
	installs store.InstallationStore
	runs     store.RunStore
	versions store.VersionStore
	catalog  *Catalog
	backups  BackupService
	exec     ScriptExecutor
	locker   DistributedLock
	metrics  *Metrics
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator. backups, locker, and metrics may
// be nil; the locker is an optional second guard on top of the status
// compare-and-set for deployments that want advisory locking too.
func NewOrchestrator(installs store.InstallationStore, runs store.RunStore, versions store.VersionStore, catalog *Catalog, backups BackupService, exec ScriptExecutor, locker DistributedLock, metrics *Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		installs: installs,
		runs:     runs,
		versions: versions,
		catalog:  catalog,
		backups:  backups,
		exec:     exec,
		locker:   locker,
		metrics:  metrics,
		logger:   logger,
	}
}

// UpgradePlan describes the steps an upgrade would execute.
type UpgradePlan struct {
	TenantID                  string             `json:"tenant_id"`
	ModuleID                  string             `json:"module_id"`
	FromVersion               *string            `json:"from_version,omitempty"`
	ToVersion                 string             `json:"to_version"`
	Steps                     []*store.Migration `json:"steps"`
	Warnings                  []string           `json:"warnings,omitempty"`
	EstimatedDurationSeconds  int64              `json:"estimated_duration_seconds"`
	RequiresMaintenanceWindow bool               `json:"requires_maintenance_window"`
}

// PlanUpgrade computes the step sequence for upgrading a tenant to the target
// version, with planning hints and deprecation warnings. It does not mutate
// anything.
func (o *Orchestrator) PlanUpgrade(ctx context.Context, tenantID string, target *store.ModuleVersion) (*UpgradePlan, error) {
	var fromVersion *string
	inst, err := o.installs.GetActive(ctx, tenantID, target.ModuleID)
	switch {
	case err == nil:
		fromVersion = &inst.Version
	case errors.Is(err, store.ErrNotFound):
		// Fresh install from genesis.
	default:
		return nil, fmt.Errorf("get active installation: %w", err)
	}

	steps, err := o.catalog.StepsForUpgrade(ctx, target.ModuleID, fromVersion, target.Version)
	if err != nil {
		return nil, err
	}

	plan := &UpgradePlan{
		TenantID:    tenantID,
		ModuleID:    target.ModuleID,
		FromVersion: fromVersion,
		ToVersion:   target.Version,
		Steps:       steps,
	}
	for _, s := range steps {
		plan.EstimatedDurationSeconds += s.EstimatedDurationSeconds
		plan.RequiresMaintenanceWindow = plan.RequiresMaintenanceWindow || s.RequiresMaintenanceWindow
	}

	warnings, err := o.versionWarnings(ctx, target.ModuleID, fromVersion, target.Version)
	if err != nil {
		return nil, err
	}
	plan.Warnings = warnings
	return plan, nil
}

// versionWarnings reports deprecated or yanked versions in (from, to].
func (o *Orchestrator) versionWarnings(ctx context.Context, moduleID string, from *string, to string) ([]string, error) {
	all, err := o.versions.ListByModule(ctx, moduleID)
	if err != nil {
		return nil, fmt.Errorf("list versions for %s: %w", moduleID, err)
	}
	toSV, err := registry.Parse(to)
	if err != nil {
		return nil, fmt.Errorf("parse target version %q: %w", to, err)
	}
	var fromSV *registry.Semver
	if from != nil {
		sv, err := registry.Parse(*from)
		if err != nil {
			return nil, fmt.Errorf("parse current version %q: %w", *from, err)
		}
		fromSV = &sv
	}

	var warnings []string
	for _, v := range all {
		sv := registry.Semver{Major: v.Major, Minor: v.Minor, Patch: v.Patch, Prerelease: v.Prerelease}
		if fromSV != nil && sv.Compare(*fromSV) <= 0 {
			continue
		}
		if sv.Compare(toSV) > 0 {
			continue
		}
		switch v.Status {
		case store.VersionStatusDeprecated:
			warnings = append(warnings, fmt.Sprintf("version %s is deprecated: %s", v.Version, v.StatusReason))
		case store.VersionStatusYanked:
			warnings = append(warnings, fmt.Sprintf("version %s has been yanked: %s", v.Version, v.StatusReason))
		}
	}
	return warnings, nil
}

// UpgradeOptions control upgrade execution.
type UpgradeOptions struct {
	// CreateBackup snapshots tenant data before the first step.
	CreateBackup bool
	// StepTimeout bounds each script execution. Timeout boundaries sit
	// between steps; a partially-applied script cannot be cancelled.
	StepTimeout time.Duration
}

// DefaultUpgradeOptions returns the standard options: backup enabled, no
// per-step timeout.
func DefaultUpgradeOptions() UpgradeOptions {
	return UpgradeOptions{CreateBackup: true}
}

type appliedStep struct {
	step *store.Migration
	run  *store.MigrationRun
}

// ExecuteUpgrade runs the given steps in order against the tenant's data.
// Forward execution is sequential and stops at the first failure;
// already-applied steps are then compensated in reverse order, bounded by
// reversibility. On full success the installation becomes active at the
// target version.
//
// Returns store.ErrConflict (wrapped) when another operation is in progress
// for the (tenant, module) pair.
func (o *Orchestrator) ExecuteUpgrade(ctx context.Context, tenantID string, target *store.ModuleVersion, steps []*store.Migration, actorID string, opts UpgradeOptions) ([]*store.MigrationRun, error) {
	moduleID := target.ModuleID

	inst, fresh, err := o.claimInstallation(ctx, tenantID, target)
	if err != nil {
		o.metrics.countOperation("upgrade", "conflict")
		return nil, err
	}

	if o.locker != nil {
		release, err := o.locker.Acquire(ctx, LockKey(tenantID, moduleID))
		if err != nil {
			o.releaseQuiescent(ctx, inst, fresh)
			return nil, fmt.Errorf("acquire lifecycle lock: %w", err)
		}
		defer release()
	}

	var backupID *uuid.UUID
	if opts.CreateBackup && o.backups != nil {
		b, err := o.backups.Backup(ctx, tenantID, moduleID, store.BackupReasonPreUpgrade)
		if err != nil {
			o.releaseQuiescent(ctx, inst, fresh)
			o.metrics.countOperation("upgrade", "backup_failed")
			return nil, fmt.Errorf("pre-upgrade backup: %w", err)
		}
		backupID = &b.ID
		o.metrics.addBackupBytes(b.SizeBytes)
		o.logger.Info("pre-upgrade backup taken",
			"tenant", tenantID,
			"module", moduleID,
			"backup", b.ID,
			"bytes", b.SizeBytes)
	}

	var runs []*store.MigrationRun
	var applied []appliedStep
	for _, step := range steps {
		run, err := o.startRun(ctx, step, tenantID, moduleID, store.RunDirectionUp, actorID, backupID)
		if err != nil {
			o.releaseQuiescent(ctx, inst, fresh)
			return runs, err
		}
		runs = append(runs, run)

		o.logger.Info("applying migration",
			"tenant", tenantID,
			"module", moduleID,
			"to", step.ToVersion,
			"sequence", step.Sequence)

		if stepErr := o.runScript(ctx, tenantID, step.UpScript, store.RunDirectionUp, opts.StepTimeout); stepErr != nil {
			o.finishRun(ctx, run, store.RunStatusFailed, stepErr)
			return o.failAndCompensate(ctx, inst, fresh, tenantID, step, stepErr, applied, runs, opts)
		}
		o.finishRun(ctx, run, store.RunStatusSuccess, nil)
		applied = append(applied, appliedStep{step: step, run: run})
	}

	now := time.Now()
	inst.VersionID = target.ID
	inst.Version = target.Version
	inst.Status = store.InstallStatusActive
	inst.ActivatedAt = &now
	if err := o.installs.Update(ctx, inst); err != nil {
		return runs, fmt.Errorf("activate %s@%s for tenant %s: %w", moduleID, target.Version, tenantID, err)
	}

	o.metrics.countOperation("upgrade", "success")
	o.logger.Info("upgrade complete",
		"tenant", tenantID,
		"module", moduleID,
		"version", target.Version,
		"steps", len(steps))
	return runs, nil
}

// failAndCompensate handles a failed forward step: undo already-applied steps
// in reverse order, then settle the installation state.
func (o *Orchestrator) failAndCompensate(ctx context.Context, inst *store.Installation, fresh bool, tenantID string, failedStep *store.Migration, stepErr error, applied []appliedStep, runs []*store.MigrationRun, opts UpgradeOptions) ([]*store.MigrationRun, error) {
	o.logger.Error("migration step failed",
		"tenant", tenantID,
		"module", inst.ModuleID,
		"to", failedStep.ToVersion,
		"error", stepErr)

	for i := len(applied) - 1; i >= 0; i-- {
		step := applied[i].step
		if !step.IsReversible || step.DownScript == "" {
			o.degrade(ctx, inst)
			o.metrics.countOperation("upgrade", "degraded")
			return runs, fmt.Errorf("migration to %s failed (%v); %w: applied migration to %s is not reversible",
				failedStep.ToVersion, stepErr, ErrCompensationFailed, step.ToVersion)
		}
		if downErr := o.runScript(ctx, tenantID, step.DownScript, store.RunDirectionDown, opts.StepTimeout); downErr != nil {
			o.degrade(ctx, inst)
			o.metrics.countOperation("upgrade", "degraded")
			return runs, fmt.Errorf("migration to %s failed (%v); %w: undo of migration to %s failed: %v",
				failedStep.ToVersion, stepErr, ErrCompensationFailed, step.ToVersion, downErr)
		}
		o.finishRun(ctx, applied[i].run, store.RunStatusRolledBack, nil)
	}

	o.releaseQuiescent(ctx, inst, fresh)
	o.metrics.countOperation("upgrade", "step_failed")
	return runs, fmt.Errorf("%w: migration to %s: %v", ErrStepFailed, failedStep.ToVersion, stepErr)
}

// ExecuteReverse runs down scripts for the given steps, which must already be
// in descending sequence order. It records runs and stops at the first
// failure without compensating; the caller owns all installation state
// transitions. This is the reverse-execution primitive used by the rollback
// coordinator.
func (o *Orchestrator) ExecuteReverse(ctx context.Context, tenantID, moduleID string, steps []*store.Migration, actorID string, backupID *uuid.UUID, stepTimeout time.Duration) ([]*store.MigrationRun, error) {
	var runs []*store.MigrationRun
	for _, step := range steps {
		if step.DownScript == "" {
			return runs, fmt.Errorf("%w: migration to %s", ErrNoDownScript, step.ToVersion)
		}

		run, err := o.startRun(ctx, step, tenantID, moduleID, store.RunDirectionDown, actorID, backupID)
		if err != nil {
			return runs, err
		}
		runs = append(runs, run)

		o.logger.Info("reverting migration",
			"tenant", tenantID,
			"module", moduleID,
			"to", step.ToVersion,
			"sequence", step.Sequence)

		if stepErr := o.runScript(ctx, tenantID, step.DownScript, store.RunDirectionDown, stepTimeout); stepErr != nil {
			o.finishRun(ctx, run, store.RunStatusFailed, stepErr)
			return runs, fmt.Errorf("%w: revert of migration to %s: %v", ErrStepFailed, step.ToVersion, stepErr)
		}
		o.finishRun(ctx, run, store.RunStatusSuccess, nil)
	}
	return runs, nil
}

// claimInstallation atomically moves the (tenant, module) pair into the
// installing state, creating the installation row on first install.
func (o *Orchestrator) claimInstallation(ctx context.Context, tenantID string, target *store.ModuleVersion) (inst *store.Installation, fresh bool, err error) {
	inst, err = o.installs.GetActive(ctx, tenantID, target.ModuleID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		inst = &store.Installation{
			TenantID:  tenantID,
			ModuleID:  target.ModuleID,
			VersionID: target.ID,
			Version:   target.Version,
			Status:    store.InstallStatusInstalling,
		}
		if err := o.installs.Create(ctx, inst); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return nil, false, fmt.Errorf("operation already in progress for %s/%s: %w", tenantID, target.ModuleID, err)
			}
			return nil, false, fmt.Errorf("create installation: %w", err)
		}
		return inst, true, nil
	case err != nil:
		return nil, false, fmt.Errorf("get active installation: %w", err)
	}

	if err := o.installs.TransitionStatus(ctx, inst.ID, []store.InstallStatus{store.InstallStatusActive}, store.InstallStatusInstalling); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, false, fmt.Errorf("operation already in progress for %s/%s: %w", tenantID, target.ModuleID, err)
		}
		return nil, false, fmt.Errorf("transition installation: %w", err)
	}
	inst.Status = store.InstallStatusInstalling
	return inst, false, nil
}

// releaseQuiescent returns the installation to a quiescent state after an
// aborted or compensated operation: back to active for an upgrade, failed for
// a first install that never activated.
func (o *Orchestrator) releaseQuiescent(ctx context.Context, inst *store.Installation, fresh bool) {
	to := store.InstallStatusActive
	if fresh {
		to = store.InstallStatusFailed
	}
	if err := o.installs.TransitionStatus(ctx, inst.ID, []store.InstallStatus{store.InstallStatusInstalling}, to); err != nil {
		o.logger.Error("failed to settle installation state",
			"installation", inst.ID,
			"target_status", to,
			"error", err)
	}
}

// degrade marks the installation failed after an incomplete compensation.
func (o *Orchestrator) degrade(ctx context.Context, inst *store.Installation) {
	err := o.installs.TransitionStatus(ctx, inst.ID,
		[]store.InstallStatus{store.InstallStatusInstalling, store.InstallStatusPendingRollback},
		store.InstallStatusFailed)
	if err != nil {
		o.logger.Error("failed to mark installation failed", "installation", inst.ID, "error", err)
	}
}

func (o *Orchestrator) startRun(ctx context.Context, step *store.Migration, tenantID, moduleID string, direction store.RunDirection, actorID string, backupID *uuid.UUID) (*store.MigrationRun, error) {
	run := &store.MigrationRun{
		MigrationID: step.ID,
		TenantID:    tenantID,
		ModuleID:    moduleID,
		Direction:   direction,
		Status:      store.RunStatusRunning,
		BackupID:    backupID,
		ActorID:     actorID,
		StartedAt:   time.Now(),
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("record migration run: %w", err)
	}
	return run, nil
}

func (o *Orchestrator) finishRun(ctx context.Context, run *store.MigrationRun, status store.RunStatus, runErr error) {
	now := time.Now()
	run.Status = status
	run.FinishedAt = &now
	if runErr != nil {
		run.ErrorDetail = runErr.Error()
	}
	if err := o.runs.Update(ctx, run); err != nil {
		o.logger.Error("failed to update migration run", "run", run.ID, "error", err)
	}
}

// runScript executes one script with an optional per-step timeout. A timeout
// is treated identically to a script failure.
func (o *Orchestrator) runScript(ctx context.Context, tenantID, script string, direction store.RunDirection, timeout time.Duration) error {
	start := time.Now()
	defer o.observeStep(direction, start)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return o.exec.Execute(ctx, tenantID, script)
}

func (o *Orchestrator) observeStep(direction store.RunDirection, start time.Time) {
	o.metrics.observeStep(string(direction), start)
}
