package rollback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/modlifecycle/migration"
	"github.com/GoCodeAlone/modlifecycle/store"
)

type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
	failOn   map[string]error
}

func (f *fakeExecutor) Execute(ctx context.Context, tenantID, script string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, script)
	return f.failOn[script]
}

type fakeBackups struct {
	err   error
	taken int
}

func (f *fakeBackups) Backup(ctx context.Context, tenantID, moduleID string, reason store.BackupReason) (*store.DataBackup, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.taken++
	return &store.DataBackup{ID: uuid.New(), TenantID: tenantID, ModuleID: moduleID, Reason: reason}, nil
}

type harness struct {
	versions store.VersionStore
	installs store.InstallationStore
	catalog  *migration.Catalog
	exec     *fakeExecutor
	backups  *fakeBackups
	coord    *Coordinator
	vers     map[string]*store.ModuleVersion
}

// newHarness builds a tenant already upgraded through the chain, so every
// test starts from an active installation at the last version.
func newHarness(t *testing.T, versions []string, downs []string) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{
		versions: store.NewMockVersionStore(),
		installs: store.NewMockInstallationStore(),
		exec:     &fakeExecutor{failOn: map[string]error{}},
		backups:  &fakeBackups{},
		vers:     make(map[string]*store.ModuleVersion),
	}
	h.catalog = migration.NewCatalog(store.NewMockMigrationStore(), h.versions, nil)
	runs := store.NewMockRunStore()
	orch := migration.NewOrchestrator(h.installs, runs, h.versions, h.catalog, h.backups, h.exec, nil, nil, nil)
	h.coord = NewCoordinator(h.versions, h.installs, h.catalog, orch, h.backups, nil)

	var from *string
	for i, ver := range versions {
		v := &store.ModuleVersion{
			ModuleID:  "billing",
			Version:   ver,
			BundleRef: "bundle://billing/" + ver,
			Status:    store.VersionStatusPublished,
		}
		if err := h.versions.Create(ctx, v); err != nil {
			t.Fatalf("seed version %s: %v", ver, err)
		}
		h.vers[ver] = v

		// A "!" prefix seeds a down script whose step is still flagged
		// irreversible, the advisory-blocker case.
		down := downs[i]
		reversible := down != "" && !strings.HasPrefix(down, "!")
		down = strings.TrimPrefix(down, "!")

		m := &store.Migration{
			ModuleID:     "billing",
			FromVersion:  from,
			ToVersion:    ver,
			Sequence:     int64(i + 1),
			UpScript:     "up:" + ver,
			DownScript:   down,
			IsReversible: reversible,
		}
		if _, err := h.catalog.AddStep(ctx, m); err != nil {
			t.Fatalf("seed migration to %s: %v", ver, err)
		}
		vv := ver
		from = &vv
	}

	last := versions[len(versions)-1]
	target := h.vers[last]
	steps, err := h.catalog.StepsForUpgrade(ctx, "billing", nil, last)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := orch.ExecuteUpgrade(ctx, "acme", target, steps, "setup", migration.UpgradeOptions{}); err != nil {
		t.Fatalf("install at %s: %v", last, err)
	}
	h.exec.executed = nil
	h.backups.taken = 0
	return h
}

func TestPlanRollback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		[]string{"1.0.0", "1.1.0", "1.2.0"},
		[]string{"down:1.0.0", "DROP TABLE legacy; down:1.1.0", "down:1.2.0"})

	plan, err := h.coord.PlanRollback(ctx, "acme", "billing", h.vers["1.0.0"].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !plan.CanRollback {
		t.Errorf("CanRollback = false with fully reversible chain: %v", plan.Blockers)
	}
	if got := targets(plan.Steps); len(got) != 2 || got[0] != "1.2.0" || got[1] != "1.1.0" {
		t.Errorf("steps = %v, want [1.2.0 1.1.0]", got)
	}
	if len(plan.Warnings) != 1 || !strings.Contains(plan.Warnings[0], "drop table") {
		t.Errorf("warnings = %v, want one destructive-marker warning", plan.Warnings)
	}
}

func TestPlanRollbackBlockers(t *testing.T) {
	ctx := context.Background()
	// The 1.1.0 step is irreversible.
	h := newHarness(t,
		[]string{"1.0.0", "1.1.0", "1.2.0"},
		[]string{"down:1.0.0", "", "down:1.2.0"})

	plan, err := h.coord.PlanRollback(ctx, "acme", "billing", h.vers["1.0.0"].ID)
	if err != nil {
		t.Fatal(err)
	}
	if plan.CanRollback {
		t.Error("CanRollback = true over an irreversible step")
	}
	if len(plan.Blockers) != 1 || plan.Blockers[0] != "migration to 1.1.0 is not reversible" {
		t.Errorf("blockers = %v, want [migration to 1.1.0 is not reversible]", plan.Blockers)
	}

	// Rolling back only above the irreversible step is fine.
	plan, err = h.coord.PlanRollback(ctx, "acme", "billing", h.vers["1.1.0"].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !plan.CanRollback || len(plan.Steps) != 1 {
		t.Errorf("plan above irreversible step = can %v, %d steps; want true, 1", plan.CanRollback, len(plan.Steps))
	}
}

func TestPlanRollbackRejectsNonEarlier(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, []string{"1.0.0", "1.1.0"}, []string{"d1", "d2"})

	if _, err := h.coord.PlanRollback(ctx, "acme", "billing", h.vers["1.1.0"].ID); !errors.Is(err, ErrNotEarlier) {
		t.Errorf("same version: got %v, want ErrNotEarlier", err)
	}
	if _, err := h.coord.PlanRollback(ctx, "nobody", "billing", h.vers["1.0.0"].ID); !errors.Is(err, ErrNoActiveInstallation) {
		t.Errorf("unknown tenant: got %v, want ErrNoActiveInstallation", err)
	}
}

func TestExecuteRollback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		[]string{"1.0.0", "1.1.0", "1.2.0"},
		[]string{"down:1.0.0", "down:1.1.0", "down:1.2.0"})

	err := h.coord.ExecuteRollback(ctx, "acme", "billing", h.vers["1.0.0"].ID, "ops", ExecuteOptions{})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"down:1.2.0", "down:1.1.0"}
	if got := h.exec.executed; len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("executed %v, want %v", got, want)
	}
	if h.backups.taken != 1 {
		t.Errorf("backups taken = %d, want 1", h.backups.taken)
	}

	inst, err := h.installs.GetActive(ctx, "acme", "billing")
	if err != nil {
		t.Fatal(err)
	}
	if inst.Version != "1.0.0" {
		t.Errorf("active version after rollback = %s, want 1.0.0", inst.Version)
	}

	// The prior installation is preserved as rolled_back history.
	history, err := h.installs.History(ctx, "acme", "billing")
	if err != nil {
		t.Fatal(err)
	}
	var rolledBack bool
	for _, rec := range history {
		if rec.Version == "1.2.0" && rec.Status == store.InstallStatusRolledBack {
			rolledBack = true
		}
	}
	if !rolledBack {
		t.Errorf("no rolled_back record for 1.2.0 in history: %v", history)
	}
}

func TestExecuteRollbackBlockedAndForced(t *testing.T) {
	ctx := context.Background()
	// Down script exists but the step is flagged irreversible: advisory
	// blocker that force can bypass.
	h := newHarness(t, []string{"1.0.0", "1.1.0"}, []string{"down:1.0.0", "!down:1.1.0"})

	err := h.coord.ExecuteRollback(ctx, "acme", "billing", h.vers["1.0.0"].ID, "ops", ExecuteOptions{})
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("got %v, want ErrBlocked", err)
	}
	if len(h.exec.executed) != 0 {
		t.Errorf("scripts executed despite blocked rollback: %v", h.exec.executed)
	}

	// Forced past the advisory blocker.
	err = h.coord.ExecuteRollback(ctx, "acme", "billing", h.vers["1.0.0"].ID, "ops", ExecuteOptions{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	inst, err := h.installs.GetActive(ctx, "acme", "billing")
	if err != nil {
		t.Fatal(err)
	}
	if inst.Version != "1.0.0" {
		t.Errorf("active version = %s, want 1.0.0", inst.Version)
	}
}

func TestExecuteRollbackForceCannotInventScripts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, []string{"1.0.0", "1.1.0"}, []string{"down:1.0.0", ""})

	err := h.coord.ExecuteRollback(ctx, "acme", "billing", h.vers["1.0.0"].ID, "ops", ExecuteOptions{Force: true})
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("got %v, want ErrBlocked", err)
	}
	if len(h.exec.executed) != 0 {
		t.Errorf("scripts executed despite missing down script: %v", h.exec.executed)
	}
	// Refused before any state transition: the tenant stays active.
	inst, err := h.installs.GetActive(ctx, "acme", "billing")
	if err != nil {
		t.Fatal(err)
	}
	if inst.Status != store.InstallStatusActive {
		t.Errorf("installation status = %s, want active", inst.Status)
	}
}

func TestExecuteRollbackFailureIsFailStop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		[]string{"1.0.0", "1.1.0", "1.2.0"},
		[]string{"down:1.0.0", "down:1.1.0", "down:1.2.0"})

	h.exec.failOn["down:1.1.0"] = fmt.Errorf("constraint violation")
	err := h.coord.ExecuteRollback(ctx, "acme", "billing", h.vers["1.0.0"].ID, "ops", ExecuteOptions{})
	if err == nil {
		t.Fatal("rollback succeeded despite failing down script")
	}

	// No compensation: only the two down attempts ran, nothing re-applied.
	want := []string{"down:1.2.0", "down:1.1.0"}
	if got := h.exec.executed; len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("executed %v, want %v", got, want)
	}

	// The installation is failed, for an operator to restore from backup.
	if _, err := h.installs.GetActive(ctx, "acme", "billing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("active installation after failed rollback: %v", err)
	}
	history, err := h.installs.History(ctx, "acme", "billing")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) == 0 || history[0].Status != store.InstallStatusFailed {
		t.Errorf("latest installation = %v, want failed", history)
	}
}

func targets(steps []*store.Migration) []string {
	out := make([]string, len(steps))
	for i, m := range steps {
		out[i] = m.ToVersion
	}
	return out
}
