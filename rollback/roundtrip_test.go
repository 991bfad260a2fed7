package rollback

import (
	"context"
	"testing"
	"time"

	"github.com/GoCodeAlone/modlifecycle/backup"
	"github.com/GoCodeAlone/modlifecycle/migration"
	"github.com/GoCodeAlone/modlifecycle/store"
)

// sqlHarness wires the coordinator over a real SQLite database: lifecycle
// tables, tenant data, script execution, and snapshot storage all share one
// handle, the single-node deployment shape.
type sqlHarness struct {
	store   *store.SQLiteStore
	catalog *migration.Catalog
	orch    *migration.Orchestrator
	coord   *Coordinator
	vers    map[string]*store.ModuleVersion
}

func newSQLHarness(t *testing.T) *sqlHarness {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	data := backup.NewSQLData(s.DB())
	data.RegisterTables("inventory", "widgets")
	backups := backup.NewService(s.Backups(), backup.NewLocalStore(t.TempDir()), data, time.Hour, nil)

	h := &sqlHarness{
		store:   s,
		catalog: migration.NewCatalog(s.Migrations(), s.Versions(), nil),
		vers:    make(map[string]*store.ModuleVersion),
	}
	h.orch = migration.NewOrchestrator(s.Installations(), s.Runs(), s.Versions(), h.catalog, backups,
		migration.NewSQLExecutor(s.DB()), migration.NewProcessLock(), nil, nil)
	h.coord = NewCoordinator(s.Versions(), s.Installations(), h.catalog, h.orch, backups, nil)

	for _, v := range []*store.ModuleVersion{
		{ModuleID: "inventory", Version: "1.0.0", Major: 1, BundleRef: "bundle://inventory/1.0.0", Status: store.VersionStatusPublished},
		{ModuleID: "inventory", Version: "1.1.0", Major: 1, Minor: 1, BundleRef: "bundle://inventory/1.1.0", Status: store.VersionStatusPublished},
	} {
		if err := s.Versions().Create(ctx, v); err != nil {
			t.Fatalf("seed version %s: %v", v.Version, err)
		}
		h.vers[v.Version] = v
	}

	from := "1.0.0"
	for _, m := range []*store.Migration{
		{
			ModuleID:     "inventory",
			ToVersion:    "1.0.0",
			Sequence:     1,
			UpScript:     `CREATE TABLE IF NOT EXISTS widgets (id INTEGER PRIMARY KEY AUTOINCREMENT, tenant_id TEXT NOT NULL, name TEXT NOT NULL)`,
			DownScript:   `DROP TABLE widgets`,
			IsReversible: true,
		},
		{
			ModuleID:     "inventory",
			FromVersion:  &from,
			ToVersion:    "1.1.0",
			Sequence:     2,
			UpScript:     `INSERT INTO widgets (tenant_id, name) VALUES ('{{tenant}}', 'default-widget')`,
			DownScript:   `DELETE FROM widgets WHERE tenant_id = '{{tenant}}' AND name = 'default-widget'`,
			IsReversible: true,
		},
	} {
		if _, err := h.catalog.AddStep(ctx, m); err != nil {
			t.Fatalf("seed migration to %s: %v", m.ToVersion, err)
		}
	}
	return h
}

func (h *sqlHarness) upgrade(t *testing.T, tenantID, toVersion string, from *string, opts migration.UpgradeOptions) {
	t.Helper()
	ctx := context.Background()
	steps, err := h.catalog.StepsForUpgrade(ctx, "inventory", from, toVersion)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.ExecuteUpgrade(ctx, tenantID, h.vers[toVersion], steps, "ops", opts); err != nil {
		t.Fatalf("upgrade %s to %s: %v", tenantID, toVersion, err)
	}
}

func (h *sqlHarness) widgetCount(t *testing.T, tenantID string) int64 {
	t.Helper()
	var n int64
	err := h.store.DB().QueryRow(`SELECT COUNT(*) FROM widgets WHERE tenant_id = ?`, tenantID).Scan(&n)
	if err != nil {
		t.Fatalf("count widgets for %s: %v", tenantID, err)
	}
	return n
}

func (h *sqlHarness) addWidget(t *testing.T, tenantID, name string) {
	t.Helper()
	if _, err := h.store.DB().Exec(`INSERT INTO widgets (tenant_id, name) VALUES (?, ?)`, tenantID, name); err != nil {
		t.Fatalf("insert widget for %s: %v", tenantID, err)
	}
}

// TestRollbackRoundTripRestoresRowCounts drives a tenant from genesis up the
// real migration chain and back down again, with scripts running through the
// SQL executor and snapshots through SQL-backed tenant data, and checks that
// row counts return to each earlier state.
func TestRollbackRoundTripRestoresRowCounts(t *testing.T) {
	ctx := context.Background()
	h := newSQLHarness(t)

	// Genesis -> 1.0.0 creates the widgets table. No snapshot here: before
	// the first migration the module owns no tables to export.
	h.upgrade(t, "acme", "1.0.0", nil, migration.UpgradeOptions{})
	if n := h.widgetCount(t, "acme"); n != 0 {
		t.Fatalf("widgets after install = %d, want 0", n)
	}

	// Tenant data written while running at 1.0.0.
	h.addWidget(t, "acme", "anvil")
	h.addWidget(t, "acme", "rocket")
	h.addWidget(t, "globex", "crate")
	before := h.widgetCount(t, "acme")

	from := "1.0.0"
	h.upgrade(t, "acme", "1.1.0", &from, migration.DefaultUpgradeOptions())
	if n := h.widgetCount(t, "acme"); n != before+1 {
		t.Fatalf("widgets after upgrade = %d, want %d", n, before+1)
	}

	// 1.1.0 -> 1.0.0 through the coordinator: pre-rollback snapshot, then
	// the down script, then reactivation at the target.
	if err := h.coord.ExecuteRollback(ctx, "acme", "inventory", h.vers["1.0.0"].ID, "ops", ExecuteOptions{}); err != nil {
		t.Fatal(err)
	}
	if n := h.widgetCount(t, "acme"); n != before {
		t.Errorf("widgets after rollback = %d, want %d", n, before)
	}
	if n := h.widgetCount(t, "globex"); n != 1 {
		t.Errorf("widgets for other tenant = %d, want 1", n)
	}

	inst, err := h.store.Installations().GetActive(ctx, "acme", "inventory")
	if err != nil {
		t.Fatal(err)
	}
	if inst.Version != "1.0.0" {
		t.Errorf("active version after rollback = %s, want 1.0.0", inst.Version)
	}

	// The reverse run carries the snapshot taken just before it, and the
	// snapshot recorded the row counts of the 1.1.0 state.
	runs, err := h.store.Runs().History(ctx, "acme", "inventory")
	if err != nil {
		t.Fatal(err)
	}
	var down *store.MigrationRun
	for _, r := range runs {
		if r.Direction == store.RunDirectionDown {
			down = r
			break
		}
	}
	if down == nil || down.BackupID == nil {
		t.Fatalf("no down run with a backup in history: %v", runs)
	}
	rec, err := h.store.Backups().Get(ctx, *down.BackupID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Reason != store.BackupReasonAuto {
		t.Errorf("backup reason = %s, want %s", rec.Reason, store.BackupReasonAuto)
	}
	if rec.RowCounts["widgets"] != before+1 {
		t.Errorf("backup row count = %d, want %d", rec.RowCounts["widgets"], before+1)
	}

	// 1.0.0 -> genesis. The coordinator addresses versions, so the last leg
	// reverses the remaining chain directly.
	steps, err := h.catalog.StepsForUpgrade(ctx, "inventory", nil, "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	if _, err := h.orch.ExecuteReverse(ctx, "acme", "inventory", steps, "ops", nil, 0); err != nil {
		t.Fatal(err)
	}

	var tables int64
	err = h.store.DB().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'widgets'`).Scan(&tables)
	if err != nil {
		t.Fatal(err)
	}
	if tables != 0 {
		t.Errorf("widgets table still present after reverting to genesis")
	}
}
