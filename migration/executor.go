package migration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ScriptExecutor executes one store-native migration script scoped to a
// single tenant. Each execution is atomic at the data-store level: the script
// either fully applies or fully fails.
type ScriptExecutor interface {
	Execute(ctx context.Context, tenantID, script string) error
}

// SQLExecutor runs migration scripts against a SQL database, one transaction
// per script. Scripts may reference the tenant through the {{tenant}}
// placeholder; tenant scoping beyond that is the script author's contract.
type SQLExecutor struct {
	db *sql.DB
}

// NewSQLExecutor creates a SQLExecutor over the given database handle.
func NewSQLExecutor(db *sql.DB) *SQLExecutor {
	return &SQLExecutor{db: db}
}

// Execute runs the script inside a transaction.
func (e *SQLExecutor) Execute(ctx context.Context, tenantID, script string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, strings.ReplaceAll(script, "{{tenant}}", tenantID)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute script: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit script: %w", err)
	}
	return nil
}
