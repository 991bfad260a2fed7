package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/modlifecycle/store"
)

// fakeExecutor records executed scripts and fails the ones listed in failOn.
type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
	failOn   map[string]error

	// gate, when set, is closed-waited on before each execution returns;
	// started receives one signal per execution begin.
	gate    chan struct{}
	started chan struct{}
}

func (f *fakeExecutor) Execute(ctx context.Context, tenantID, script string) error {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.executed = append(f.executed, script)
	err := f.failOn[script]
	f.mu.Unlock()
	return err
}

func (f *fakeExecutor) scripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

// fakeBackups returns a canned backup record, or fails when err is set.
type fakeBackups struct {
	err   error
	taken int
}

func (f *fakeBackups) Backup(ctx context.Context, tenantID, moduleID string, reason store.BackupReason) (*store.DataBackup, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.taken++
	return &store.DataBackup{ID: uuid.New(), TenantID: tenantID, ModuleID: moduleID, Reason: reason, SizeBytes: 128}, nil
}

type harness struct {
	versions store.VersionStore
	installs store.InstallationStore
	runs     store.RunStore
	catalog  *Catalog
	exec     *fakeExecutor
	backups  *fakeBackups
	orch     *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		versions: store.NewMockVersionStore(),
		installs: store.NewMockInstallationStore(),
		runs:     store.NewMockRunStore(),
		exec:     &fakeExecutor{failOn: map[string]error{}},
		backups:  &fakeBackups{},
	}
	h.catalog = NewCatalog(store.NewMockMigrationStore(), h.versions, nil)
	h.orch = NewOrchestrator(h.installs, h.runs, h.versions, h.catalog, h.backups, h.exec, NewProcessLock(), nil, nil)
	return h
}

// seedChain registers versions and a migration chain; downs[i] == "" makes
// step i irreversible.
func (h *harness) seedChain(t *testing.T, moduleID string, versions []string, downs []string) []*store.ModuleVersion {
	t.Helper()
	ctx := context.Background()

	out := make([]*store.ModuleVersion, len(versions))
	for i, ver := range versions {
		v := &store.ModuleVersion{
			ModuleID:  moduleID,
			Version:   ver,
			BundleRef: "bundle://" + moduleID + "/" + ver,
			Status:    store.VersionStatusPublished,
		}
		if err := h.versions.Create(ctx, v); err != nil {
			t.Fatalf("seed version %s: %v", ver, err)
		}
		out[i] = v
	}

	var from *string
	for i, ver := range versions {
		m := &store.Migration{
			ModuleID:     moduleID,
			FromVersion:  from,
			ToVersion:    ver,
			Sequence:     int64(i + 1),
			UpScript:     "up:" + ver,
			DownScript:   downs[i],
			IsReversible: downs[i] != "",
		}
		if _, err := h.catalog.AddStep(ctx, m); err != nil {
			t.Fatalf("seed migration to %s: %v", ver, err)
		}
		v := ver
		from = &v
	}
	return out
}

func (h *harness) activeStatus(t *testing.T, tenantID, moduleID string) (*store.Installation, error) {
	t.Helper()
	return h.installs.GetActive(context.Background(), tenantID, moduleID)
}

func TestExecuteUpgradeFreshInstall(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	vers := h.seedChain(t, "billing", []string{"1.0.0", "1.1.0"}, []string{"down:1.0.0", "down:1.1.0"})
	target := vers[1]

	plan, err := h.orch.PlanUpgrade(ctx, "acme", target)
	if err != nil {
		t.Fatal(err)
	}
	if plan.FromVersion != nil || len(plan.Steps) != 2 {
		t.Fatalf("plan = from %v, %d steps; want genesis, 2 steps", plan.FromVersion, len(plan.Steps))
	}

	runs, err := h.orch.ExecuteUpgrade(ctx, "acme", target, plan.Steps, "ops@acme", DefaultUpgradeOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	for _, run := range runs {
		if run.Status != store.RunStatusSuccess {
			t.Errorf("run to %s status = %s, want success", run.MigrationID, run.Status)
		}
		if run.BackupID == nil {
			t.Error("run missing backup reference")
		}
		if run.ActorID != "ops@acme" {
			t.Errorf("run actor = %q, want ops@acme", run.ActorID)
		}
	}
	if h.backups.taken != 1 {
		t.Errorf("backups taken = %d, want 1", h.backups.taken)
	}

	inst, err := h.activeStatus(t, "acme", "billing")
	if err != nil {
		t.Fatal(err)
	}
	if inst.Version != "1.1.0" || inst.ActivatedAt == nil {
		t.Errorf("installation = %s activated %v, want 1.1.0 with timestamp", inst.Version, inst.ActivatedAt)
	}
}

func TestExecuteUpgradeStepFailureCompensates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	vers := h.seedChain(t, "billing",
		[]string{"1.0.0", "1.1.0", "1.2.0"},
		[]string{"down:1.0.0", "down:1.1.0", "down:1.2.0"})

	// Install 1.0.0 first so the tenant has an active version to fall back to.
	plan, err := h.orch.PlanUpgrade(ctx, "acme", vers[0])
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.ExecuteUpgrade(ctx, "acme", vers[0], plan.Steps, "ops", DefaultUpgradeOptions()); err != nil {
		t.Fatal(err)
	}
	h.exec.executed = nil

	// Upgrade 1.0.0 -> 1.2.0; the second step fails.
	h.exec.failOn["up:1.2.0"] = fmt.Errorf("column already exists")
	plan, err = h.orch.PlanUpgrade(ctx, "acme", vers[2])
	if err != nil {
		t.Fatal(err)
	}
	runs, err := h.orch.ExecuteUpgrade(ctx, "acme", vers[2], plan.Steps, "ops", DefaultUpgradeOptions())
	if !errors.Is(err, ErrStepFailed) {
		t.Fatalf("got %v, want ErrStepFailed", err)
	}

	// Applied step 1.1.0 was undone in reverse order.
	want := []string{"up:1.1.0", "up:1.2.0", "down:1.1.0"}
	got := h.exec.scripts()
	if len(got) != len(want) {
		t.Fatalf("executed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("executed[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	// Run records: first step rolled_back, second failed.
	if runs[0].Status != store.RunStatusRolledBack {
		t.Errorf("runs[0].Status = %s, want rolled_back", runs[0].Status)
	}
	if runs[1].Status != store.RunStatusFailed || runs[1].ErrorDetail == "" {
		t.Errorf("runs[1] = %s/%q, want failed with detail", runs[1].Status, runs[1].ErrorDetail)
	}

	// The tenant remains active on the original version.
	inst, err := h.activeStatus(t, "acme", "billing")
	if err != nil {
		t.Fatal(err)
	}
	if inst.Version != "1.0.0" || inst.Status != store.InstallStatusActive {
		t.Errorf("installation = %s/%s, want 1.0.0/active", inst.Version, inst.Status)
	}
}

func TestExecuteUpgradeDegradedCompensation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	// Step to 1.1.0 is irreversible; the step to 1.2.0 fails after it.
	vers := h.seedChain(t, "billing",
		[]string{"1.0.0", "1.1.0", "1.2.0"},
		[]string{"down:1.0.0", "", "down:1.2.0"})

	plan, err := h.orch.PlanUpgrade(ctx, "acme", vers[0])
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.ExecuteUpgrade(ctx, "acme", vers[0], plan.Steps, "ops", DefaultUpgradeOptions()); err != nil {
		t.Fatal(err)
	}

	h.exec.failOn["up:1.2.0"] = fmt.Errorf("disk full")
	plan, err = h.orch.PlanUpgrade(ctx, "acme", vers[2])
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.orch.ExecuteUpgrade(ctx, "acme", vers[2], plan.Steps, "ops", DefaultUpgradeOptions())
	if !errors.Is(err, ErrCompensationFailed) {
		t.Fatalf("got %v, want ErrCompensationFailed", err)
	}

	// No active installation remains; the row is failed and needs an operator.
	if _, err := h.activeStatus(t, "acme", "billing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("active installation still present after degraded compensation: %v", err)
	}
	history, err := h.installs.History(ctx, "acme", "billing")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) == 0 || history[0].Status != store.InstallStatusFailed {
		t.Errorf("latest installation status = %v, want failed", history)
	}
}

func TestExecuteUpgradeMutualExclusion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	vers := h.seedChain(t, "billing", []string{"1.0.0", "1.1.0"}, []string{"down:1.0.0", "down:1.1.0"})

	plan, err := h.orch.PlanUpgrade(ctx, "acme", vers[0])
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.ExecuteUpgrade(ctx, "acme", vers[0], plan.Steps, "ops", DefaultUpgradeOptions()); err != nil {
		t.Fatal(err)
	}

	// Hold the first upgrade mid-step, then try a second one.
	h.exec.gate = make(chan struct{})
	h.exec.started = make(chan struct{}, 4)

	plan, err = h.orch.PlanUpgrade(ctx, "acme", vers[1])
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.ExecuteUpgrade(ctx, "acme", vers[1], plan.Steps, "ops", DefaultUpgradeOptions())
		done <- err
	}()

	select {
	case <-h.exec.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first upgrade never started executing")
	}

	_, err = h.orch.ExecuteUpgrade(ctx, "acme", vers[1], plan.Steps, "ops", DefaultUpgradeOptions())
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("concurrent upgrade: got %v, want ErrConflict", err)
	}

	close(h.exec.gate)
	if err := <-done; err != nil {
		t.Fatalf("first upgrade failed: %v", err)
	}

	inst, err := h.activeStatus(t, "acme", "billing")
	if err != nil {
		t.Fatal(err)
	}
	if inst.Version != "1.1.0" {
		t.Errorf("installation version = %s, want 1.1.0", inst.Version)
	}
}

func TestExecuteUpgradeBackupFailureAborts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	vers := h.seedChain(t, "billing", []string{"1.0.0", "1.1.0"}, []string{"down:1.0.0", "down:1.1.0"})

	plan, err := h.orch.PlanUpgrade(ctx, "acme", vers[0])
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.ExecuteUpgrade(ctx, "acme", vers[0], plan.Steps, "ops", DefaultUpgradeOptions()); err != nil {
		t.Fatal(err)
	}
	h.exec.executed = nil

	h.backups.err = fmt.Errorf("blob store unreachable")
	plan, err = h.orch.PlanUpgrade(ctx, "acme", vers[1])
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.ExecuteUpgrade(ctx, "acme", vers[1], plan.Steps, "ops", DefaultUpgradeOptions()); err == nil {
		t.Fatal("upgrade succeeded despite backup failure")
	}

	// Nothing executed; tenant still active on 1.0.0.
	if got := h.exec.scripts(); len(got) != 0 {
		t.Errorf("scripts executed despite aborted upgrade: %v", got)
	}
	inst, err := h.activeStatus(t, "acme", "billing")
	if err != nil {
		t.Fatal(err)
	}
	if inst.Version != "1.0.0" || inst.Status != store.InstallStatusActive {
		t.Errorf("installation = %s/%s, want 1.0.0/active", inst.Version, inst.Status)
	}

	// Skipping the backup proceeds without the backup service.
	h.backups.err = nil
	opts := DefaultUpgradeOptions()
	opts.CreateBackup = false
	runs, err := h.orch.ExecuteUpgrade(ctx, "acme", vers[1], plan.Steps, "ops", opts)
	if err != nil {
		t.Fatal(err)
	}
	if runs[0].BackupID != nil {
		t.Error("run carries a backup reference with backups disabled")
	}
}

func TestExecuteReverse(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedChain(t, "billing",
		[]string{"1.0.0", "1.1.0", "1.2.0"},
		[]string{"down:1.0.0", "down:1.1.0", "down:1.2.0"})

	steps, err := h.catalog.StepsForRollback(ctx, "billing", "1.0.0", "1.2.0")
	if err != nil {
		t.Fatal(err)
	}

	runs, err := h.orch.ExecuteReverse(ctx, "acme", "billing", steps, "ops", nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"down:1.2.0", "down:1.1.0"}
	got := h.exec.scripts()
	if len(got) != len(want) {
		t.Fatalf("executed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("executed[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	for _, run := range runs {
		if run.Direction != store.RunDirectionDown || run.Status != store.RunStatusSuccess {
			t.Errorf("run = %s/%s, want down/success", run.Direction, run.Status)
		}
	}
}

func TestExecuteReverseStopsAtFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedChain(t, "billing",
		[]string{"1.0.0", "1.1.0", "1.2.0"},
		[]string{"down:1.0.0", "down:1.1.0", "down:1.2.0"})

	h.exec.failOn["down:1.1.0"] = fmt.Errorf("rows still referenced")
	steps, err := h.catalog.StepsForRollback(ctx, "billing", "1.0.0", "1.2.0")
	if err != nil {
		t.Fatal(err)
	}

	runs, err := h.orch.ExecuteReverse(ctx, "acme", "billing", steps, "ops", nil, 0)
	if !errors.Is(err, ErrStepFailed) {
		t.Fatalf("got %v, want ErrStepFailed", err)
	}
	// First down succeeded and stays succeeded: no compensation on reverse.
	if runs[0].Status != store.RunStatusSuccess {
		t.Errorf("runs[0].Status = %s, want success", runs[0].Status)
	}
	if runs[1].Status != store.RunStatusFailed {
		t.Errorf("runs[1].Status = %s, want failed", runs[1].Status)
	}
}

func TestExecuteReverseMissingDownScript(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedChain(t, "billing", []string{"1.0.0", "1.1.0"}, []string{"down:1.0.0", ""})

	steps, err := h.catalog.StepsForRollback(ctx, "billing", "1.0.0", "1.1.0")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.ExecuteReverse(ctx, "acme", "billing", steps, "ops", nil, 0); !errors.Is(err, ErrNoDownScript) {
		t.Fatalf("got %v, want ErrNoDownScript", err)
	}
	if got := h.exec.scripts(); len(got) != 0 {
		t.Errorf("scripts executed despite missing down script: %v", got)
	}
}

func TestPlanUpgradeWarnings(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	vers := h.seedChain(t, "billing", []string{"1.0.0", "1.1.0", "1.2.0"}, []string{"d1", "d2", "d3"})

	// Mark the intermediate version deprecated.
	vers[1].Status = store.VersionStatusDeprecated
	vers[1].StatusReason = "superseded"
	if err := h.versions.Update(ctx, vers[1]); err != nil {
		t.Fatal(err)
	}

	plan, err := h.orch.PlanUpgrade(ctx, "acme", vers[2])
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Warnings) != 1 {
		t.Fatalf("warnings = %v, want one deprecation warning", plan.Warnings)
	}
}

func TestPlanUpgradeMaintenanceWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	v := &store.ModuleVersion{ModuleID: "billing", Version: "1.0.0", Status: store.VersionStatusPublished}
	if err := h.versions.Create(ctx, v); err != nil {
		t.Fatal(err)
	}
	m := &store.Migration{
		ModuleID:                  "billing",
		ToVersion:                 "1.0.0",
		Sequence:                  1,
		UpScript:                  "up",
		RequiresMaintenanceWindow: true,
		EstimatedDurationSeconds:  90,
	}
	if _, err := h.catalog.AddStep(ctx, m); err != nil {
		t.Fatal(err)
	}

	plan, err := h.orch.PlanUpgrade(ctx, "acme", v)
	if err != nil {
		t.Fatal(err)
	}
	if !plan.RequiresMaintenanceWindow || plan.EstimatedDurationSeconds != 90 {
		t.Errorf("plan = window %v, estimate %d; want true, 90", plan.RequiresMaintenanceWindow, plan.EstimatedDurationSeconds)
	}
}
