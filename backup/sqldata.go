package backup

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLData implements TenantData over a database/sql handle. Module table
// ownership is declared up front with RegisterTables; rows are scoped to a
// tenant through a tenant_id column that every owned table must carry.
type SQLData struct {
	db     *sql.DB
	tables map[string][]string
	dollar bool
}

// NewSQLData creates a SQLData for drivers that use ? placeholders (SQLite,
// MySQL).
func NewSQLData(db *sql.DB) *SQLData {
	return &SQLData{db: db, tables: make(map[string][]string)}
}

// NewPostgresSQLData creates a SQLData for drivers that use $N placeholders.
// Required with the pgx stdlib driver, which passes queries to the backend
// verbatim.
func NewPostgresSQLData(db *sql.DB) *SQLData {
	return &SQLData{db: db, tables: make(map[string][]string), dollar: true}
}

// bindvar returns the placeholder for the i-th (1-based) query argument.
func (d *SQLData) bindvar(i int) string {
	if d.dollar {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

// bindvars returns a comma-joined placeholder list for n arguments.
func (d *SQLData) bindvars(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.bindvar(i + 1)
	}
	return strings.Join(parts, ",")
}

// RegisterTables declares the tables a module owns. Table names must be
// plain identifiers; anything else is rejected at query time.
func (d *SQLData) RegisterTables(moduleID string, tables ...string) {
	d.tables[moduleID] = append(d.tables[moduleID], tables...)
}

func (d *SQLData) Tables(moduleID string) []string {
	return d.tables[moduleID]
}

func (d *SQLData) Export(ctx context.Context, tenantID, table string) ([]map[string]any, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT * FROM %s WHERE tenant_id = %s`, table, d.bindvar(1)), tenantID)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}

	var result []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			// Normalize []byte so the row survives a JSON round trip.
			if b, ok := vals[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = vals[i]
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func (d *SQLData) DeleteAll(ctx context.Context, tenantID, table string) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	_, err := d.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = %s`, table, d.bindvar(1)), tenantID)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}

func (d *SQLData) Insert(ctx context.Context, tenantID, table string, rows []map[string]any) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	// Column order comes from the first row's sorted keys; all rows in a
	// snapshot share the same shape.
	cols := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		if err := checkIdent(col); err != nil {
			return err
		}
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		table, strings.Join(cols, ", "), d.bindvars(len(cols)))

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, row := range rows {
		args := make([]any, len(cols))
		for i, col := range cols {
			args[i] = row[col]
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func (d *SQLData) Count(ctx context.Context, tenantID, table string) (int64, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	var n int64
	err := d.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE tenant_id = %s`, table, d.bindvar(1)), tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}
