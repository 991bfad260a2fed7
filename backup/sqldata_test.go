package backup

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE invoices (
			id        INTEGER PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			amount    INTEGER NOT NULL,
			memo      TEXT NOT NULL DEFAULT ''
		)`)
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func seedInvoices(t *testing.T, db *sql.DB) {
	t.Helper()
	rows := []struct {
		tenant string
		amount int
		memo   string
	}{
		{"acme", 100, "jan"},
		{"acme", 250, "feb"},
		{"other", 999, "theirs"},
	}
	for _, r := range rows {
		if _, err := db.Exec(`INSERT INTO invoices (tenant_id, amount, memo) VALUES (?,?,?)`, r.tenant, r.amount, r.memo); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSQLDataExportScopesToTenant(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedInvoices(t, db)

	d := NewSQLData(db)
	d.RegisterTables("billing", "invoices")

	if got := d.Tables("billing"); len(got) != 1 || got[0] != "invoices" {
		t.Fatalf("Tables = %v", got)
	}

	rows, err := d.Export(ctx, "acme", "invoices")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("exported %d rows, want 2", len(rows))
	}
	for _, row := range rows {
		if row["tenant_id"] != "acme" {
			t.Errorf("exported foreign row: %v", row)
		}
		// []byte columns are normalized to string for the JSON snapshot.
		if _, ok := row["memo"].(string); !ok {
			t.Errorf("memo is %T, want string", row["memo"])
		}
	}

	n, err := d.Count(ctx, "acme", "invoices")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func TestSQLDataRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedInvoices(t, db)

	d := NewSQLData(db)

	exported, err := d.Export(ctx, "acme", "invoices")
	if err != nil {
		t.Fatal(err)
	}
	if err := d.DeleteAll(ctx, "acme", "invoices"); err != nil {
		t.Fatal(err)
	}
	if n, _ := d.Count(ctx, "acme", "invoices"); n != 0 {
		t.Fatalf("rows remain after delete: %d", n)
	}
	// The other tenant is untouched.
	if n, _ := d.Count(ctx, "other", "invoices"); n != 1 {
		t.Fatalf("other tenant count = %d, want 1", n)
	}

	if err := d.Insert(ctx, "acme", "invoices", exported); err != nil {
		t.Fatal(err)
	}
	restored, err := d.Export(ctx, "acme", "invoices")
	if err != nil {
		t.Fatal(err)
	}
	if len(restored) != 2 {
		t.Fatalf("restored %d rows, want 2", len(restored))
	}
	memos := map[any]bool{}
	for _, row := range restored {
		memos[row["memo"]] = true
	}
	if !memos["jan"] || !memos["feb"] {
		t.Errorf("restored rows = %v", restored)
	}
}

func TestSQLDataInsertEmpty(t *testing.T) {
	d := NewSQLData(newTestDB(t))
	if err := d.Insert(context.Background(), "acme", "invoices", nil); err != nil {
		t.Fatal(err)
	}
}

func TestSQLDataBindStyles(t *testing.T) {
	question := NewSQLData(nil)
	if got := question.bindvar(1); got != "?" {
		t.Errorf("default bindvar(1) = %q, want ?", got)
	}
	if got := question.bindvars(3); got != "?,?,?" {
		t.Errorf("default bindvars(3) = %q, want ?,?,?", got)
	}

	dollar := NewPostgresSQLData(nil)
	if got := dollar.bindvar(1); got != "$1" {
		t.Errorf("postgres bindvar(1) = %q, want $1", got)
	}
	if got := dollar.bindvars(3); got != "$1,$2,$3" {
		t.Errorf("postgres bindvars(3) = %q, want $1,$2,$3", got)
	}
}

func TestSQLDataRejectsBadIdentifiers(t *testing.T) {
	ctx := context.Background()
	d := NewSQLData(newTestDB(t))

	if _, err := d.Export(ctx, "acme", "invoices; drop table invoices"); err == nil {
		t.Error("Export accepted an invalid table name")
	}
	if err := d.DeleteAll(ctx, "acme", `invoices"`); err == nil {
		t.Error("DeleteAll accepted an invalid table name")
	}
	err := d.Insert(ctx, "acme", "invoices", []map[string]any{{"amount; --": 1}})
	if err == nil {
		t.Error("Insert accepted an invalid column name")
	}
}
