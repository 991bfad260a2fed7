package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStore provides all lifecycle stores over a single SQLite database.
// It is suitable for single-node deployments and local development; use
// PGStore for multi-node production setups.
type SQLiteStore struct {
	db *sql.DB

	versions      *SQLiteVersionStore
	migrations    *SQLiteMigrationStore
	installations *SQLiteInstallationStore
	runs          *SQLiteRunStore
	backups       *SQLiteBackupStore
}

// NewSQLiteStore opens (or creates) the database at dsn and applies the
// schema. Use ":memory:" for an in-memory database.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	// Append pragmas to the DSN so they apply to every connection in the pool.
	if dsn != ":memory:" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Limit to one open connection to serialize writes and avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	s.versions = &SQLiteVersionStore{db: db}
	s.migrations = &SQLiteMigrationStore{db: db}
	s.installations = &SQLiteInstallationStore{db: db}
	s.runs = &SQLiteRunStore{db: db}
	s.backups = &SQLiteBackupStore{db: db}
	return s, nil
}

// DB exposes the underlying database handle, e.g. for the script executor.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Versions returns the VersionStore.
func (s *SQLiteStore) Versions() VersionStore { return s.versions }

// Migrations returns the MigrationStore.
func (s *SQLiteStore) Migrations() MigrationStore { return s.migrations }

// Installations returns the InstallationStore.
func (s *SQLiteStore) Installations() InstallationStore { return s.installations }

// Runs returns the RunStore.
func (s *SQLiteStore) Runs() RunStore { return s.runs }

// Backups returns the BackupStore.
func (s *SQLiteStore) Backups() BackupStore { return s.backups }

// isUniqueViolation reports whether err is a SQLite unique constraint
// violation. modernc.org/sqlite returns errors containing
// "UNIQUE constraint failed".
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Timestamps are stored as RFC3339Nano text so they sort and round-trip
// without driver-specific time handling.

func sqliteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseSQLiteTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func sqliteTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return sqliteTime(*t)
}

func parseSQLiteTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseSQLiteTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SQLiteVersionStore implements VersionStore over SQLite.
type SQLiteVersionStore struct {
	db *sql.DB
}

func (s *SQLiteVersionStore) Create(ctx context.Context, v *ModuleVersion) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	deps, err := json.Marshal(depsOrEmpty(v.Dependencies))
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO module_versions (id, module_id, version, major, minor, patch,
			prerelease, bundle_ref, content_hash, dependencies, breaking_changes,
			status, status_reason, created_at, published_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		v.ID.String(), v.ModuleID, v.Version, v.Major, v.Minor, v.Patch,
		v.Prerelease, v.BundleRef, v.ContentHash, string(deps), v.BreakingChanges,
		string(v.Status), v.StatusReason, sqliteTime(v.CreatedAt), sqliteTimePtr(v.PublishedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func (s *SQLiteVersionStore) Get(ctx context.Context, id uuid.UUID) (*ModuleVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, module_id, version, major, minor, patch, prerelease,
			bundle_ref, content_hash, dependencies, breaking_changes,
			status, status_reason, created_at, published_at
		FROM module_versions WHERE id = ?`, id.String())
	return scanSQLiteVersion(row)
}

func (s *SQLiteVersionStore) GetByVersion(ctx context.Context, moduleID, version string) (*ModuleVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, module_id, version, major, minor, patch, prerelease,
			bundle_ref, content_hash, dependencies, breaking_changes,
			status, status_reason, created_at, published_at
		FROM module_versions WHERE module_id = ? AND version = ?`, moduleID, version)
	return scanSQLiteVersion(row)
}

func (s *SQLiteVersionStore) Update(ctx context.Context, v *ModuleVersion) error {
	deps, err := json.Marshal(depsOrEmpty(v.Dependencies))
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE module_versions SET bundle_ref=?, content_hash=?, dependencies=?,
			breaking_changes=?, status=?, status_reason=?, published_at=?
		WHERE id = ?`,
		v.BundleRef, v.ContentHash, string(deps), v.BreakingChanges,
		string(v.Status), v.StatusReason, sqliteTimePtr(v.PublishedAt), v.ID.String())
	if err != nil {
		return fmt.Errorf("update version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteVersionStore) ListByModule(ctx context.Context, moduleID string) ([]*ModuleVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, module_id, version, major, minor, patch, prerelease,
			bundle_ref, content_hash, dependencies, breaking_changes,
			status, status_reason, created_at, published_at
		FROM module_versions WHERE module_id = ?
		ORDER BY created_at`, moduleID)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var result []*ModuleVersion
	for rows.Next() {
		v, err := scanSQLiteVersion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteVersion(row rowScanner) (*ModuleVersion, error) {
	var v ModuleVersion
	var id, created string
	var deps string
	var published sql.NullString
	err := row.Scan(&id, &v.ModuleID, &v.Version, &v.Major, &v.Minor, &v.Patch,
		&v.Prerelease, &v.BundleRef, &v.ContentHash, &deps, &v.BreakingChanges,
		&v.Status, &v.StatusReason, &created, &published)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan version: %w", err)
	}
	if v.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse version id: %w", err)
	}
	if err := json.Unmarshal([]byte(deps), &v.Dependencies); err != nil {
		return nil, fmt.Errorf("unmarshal dependencies: %w", err)
	}
	if v.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if v.PublishedAt, err = parseSQLiteTimePtr(published); err != nil {
		return nil, fmt.Errorf("parse published_at: %w", err)
	}
	return &v, nil
}

// SQLiteMigrationStore implements MigrationStore over SQLite.
type SQLiteMigrationStore struct {
	db *sql.DB
}

func (s *SQLiteMigrationStore) Create(ctx context.Context, m *Migration) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	var from any
	if m.FromVersion != nil {
		from = *m.FromVersion
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO migrations (id, module_id, from_version, to_version, sequence,
			up_script, down_script, is_reversible, requires_maintenance_window,
			estimated_duration_seconds, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID.String(), m.ModuleID, from, m.ToVersion, m.Sequence,
		m.UpScript, m.DownScript, m.IsReversible, m.RequiresMaintenanceWindow,
		m.EstimatedDurationSeconds, sqliteTime(m.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert migration: %w", err)
	}
	return nil
}

func (s *SQLiteMigrationStore) Get(ctx context.Context, id uuid.UUID) (*Migration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, module_id, from_version, to_version, sequence, up_script,
			down_script, is_reversible, requires_maintenance_window,
			estimated_duration_seconds, created_at
		FROM migrations WHERE id = ?`, id.String())
	return scanSQLiteMigration(row)
}

func (s *SQLiteMigrationStore) ListByModule(ctx context.Context, moduleID string) ([]*Migration, error) {
	return s.list(ctx, `
		SELECT id, module_id, from_version, to_version, sequence, up_script,
			down_script, is_reversible, requires_maintenance_window,
			estimated_duration_seconds, created_at
		FROM migrations WHERE module_id = ?
		ORDER BY sequence`, moduleID)
}

func (s *SQLiteMigrationStore) Range(ctx context.Context, moduleID string, fromSeq, toSeq int64) ([]*Migration, error) {
	return s.list(ctx, `
		SELECT id, module_id, from_version, to_version, sequence, up_script,
			down_script, is_reversible, requires_maintenance_window,
			estimated_duration_seconds, created_at
		FROM migrations WHERE module_id = ? AND sequence > ? AND sequence <= ?
		ORDER BY sequence`, moduleID, fromSeq, toSeq)
}

func (s *SQLiteMigrationStore) list(ctx context.Context, query string, args ...any) ([]*Migration, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query migrations: %w", err)
	}
	defer rows.Close()

	var result []*Migration
	for rows.Next() {
		m, err := scanSQLiteMigration(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func scanSQLiteMigration(row rowScanner) (*Migration, error) {
	var m Migration
	var id, created string
	var from sql.NullString
	err := row.Scan(&id, &m.ModuleID, &from, &m.ToVersion, &m.Sequence,
		&m.UpScript, &m.DownScript, &m.IsReversible, &m.RequiresMaintenanceWindow,
		&m.EstimatedDurationSeconds, &created)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan migration: %w", err)
	}
	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse migration id: %w", err)
	}
	if from.Valid {
		m.FromVersion = &from.String
	}
	if m.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &m, nil
}

// SQLiteInstallationStore implements InstallationStore over SQLite. The
// partial unique index installations_one_live enforces at most one live
// installation per (tenant, module).
type SQLiteInstallationStore struct {
	db *sql.DB
}

func (s *SQLiteInstallationStore) Create(ctx context.Context, inst *Installation) error {
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	now := time.Now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO installations (id, tenant_id, module_id, version_id, version,
			status, activated_at, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		inst.ID.String(), inst.TenantID, inst.ModuleID, inst.VersionID.String(),
		inst.Version, string(inst.Status), sqliteTimePtr(inst.ActivatedAt),
		sqliteTime(inst.CreatedAt), sqliteTime(inst.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert installation: %w", err)
	}
	return nil
}

func (s *SQLiteInstallationStore) Get(ctx context.Context, id uuid.UUID) (*Installation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, module_id, version_id, version, status,
			activated_at, created_at, updated_at
		FROM installations WHERE id = ?`, id.String())
	return scanSQLiteInstallation(row)
}

func (s *SQLiteInstallationStore) GetActive(ctx context.Context, tenantID, moduleID string) (*Installation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, module_id, version_id, version, status,
			activated_at, created_at, updated_at
		FROM installations
		WHERE tenant_id = ? AND module_id = ? AND status = 'active'`,
		tenantID, moduleID)
	return scanSQLiteInstallation(row)
}

func (s *SQLiteInstallationStore) Update(ctx context.Context, inst *Installation) error {
	inst.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE installations SET version_id=?, version=?, status=?,
			activated_at=?, updated_at=?
		WHERE id = ?`,
		inst.VersionID.String(), inst.Version, string(inst.Status),
		sqliteTimePtr(inst.ActivatedAt), sqliteTime(inst.UpdatedAt), inst.ID.String())
	if err != nil {
		return fmt.Errorf("update installation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteInstallationStore) TransitionStatus(ctx context.Context, id uuid.UUID, from []InstallStatus, to InstallStatus) error {
	placeholders := make([]string, len(from))
	args := []any{string(to), sqliteTime(time.Now().UTC()), id.String()}
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE installations SET status=?, updated_at=?
		WHERE id = ? AND status IN (%s)`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return fmt.Errorf("transition installation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		row := s.db.QueryRowContext(ctx, `SELECT 1 FROM installations WHERE id = ?`, id.String())
		if scanErr := row.Scan(&exists); scanErr == sql.ErrNoRows {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (s *SQLiteInstallationStore) History(ctx context.Context, tenantID, moduleID string) ([]*Installation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, module_id, version_id, version, status,
			activated_at, created_at, updated_at
		FROM installations
		WHERE tenant_id = ? AND module_id = ?
		ORDER BY created_at DESC`, tenantID, moduleID)
	if err != nil {
		return nil, fmt.Errorf("query installations: %w", err)
	}
	defer rows.Close()

	var result []*Installation
	for rows.Next() {
		inst, err := scanSQLiteInstallation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

func scanSQLiteInstallation(row rowScanner) (*Installation, error) {
	var inst Installation
	var id, versionID, created, updated string
	var activated sql.NullString
	err := row.Scan(&id, &inst.TenantID, &inst.ModuleID, &versionID,
		&inst.Version, &inst.Status, &activated, &created, &updated)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan installation: %w", err)
	}
	if inst.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse installation id: %w", err)
	}
	if inst.VersionID, err = uuid.Parse(versionID); err != nil {
		return nil, fmt.Errorf("parse version id: %w", err)
	}
	if inst.ActivatedAt, err = parseSQLiteTimePtr(activated); err != nil {
		return nil, fmt.Errorf("parse activated_at: %w", err)
	}
	if inst.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if inst.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &inst, nil
}

// SQLiteRunStore implements RunStore over SQLite.
type SQLiteRunStore struct {
	db *sql.DB
}

func (s *SQLiteRunStore) Create(ctx context.Context, run *MigrationRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	var backupID any
	if run.BackupID != nil {
		backupID = run.BackupID.String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO migration_runs (id, migration_id, tenant_id, module_id,
			direction, status, backup_id, actor_id, error_detail, started_at, finished_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID.String(), run.MigrationID.String(), run.TenantID, run.ModuleID,
		string(run.Direction), string(run.Status), backupID, run.ActorID,
		run.ErrorDetail, sqliteTime(run.StartedAt), sqliteTimePtr(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert migration run: %w", err)
	}
	return nil
}

func (s *SQLiteRunStore) Update(ctx context.Context, run *MigrationRun) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE migration_runs SET status=?, error_detail=?, finished_at=?
		WHERE id = ?`,
		string(run.Status), run.ErrorDetail, sqliteTimePtr(run.FinishedAt), run.ID.String())
	if err != nil {
		return fmt.Errorf("update migration run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteRunStore) History(ctx context.Context, tenantID, moduleID string) ([]*MigrationRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, migration_id, tenant_id, module_id, direction, status,
			backup_id, actor_id, error_detail, started_at, finished_at
		FROM migration_runs
		WHERE tenant_id = ? AND module_id = ?
		ORDER BY started_at DESC`, tenantID, moduleID)
	if err != nil {
		return nil, fmt.Errorf("query migration runs: %w", err)
	}
	defer rows.Close()

	var result []*MigrationRun
	for rows.Next() {
		var run MigrationRun
		var id, migrationID, started string
		var backupID, finished sql.NullString
		err := rows.Scan(&id, &migrationID, &run.TenantID, &run.ModuleID,
			&run.Direction, &run.Status, &backupID, &run.ActorID,
			&run.ErrorDetail, &started, &finished)
		if err != nil {
			return nil, fmt.Errorf("scan migration run: %w", err)
		}
		if run.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse run id: %w", err)
		}
		if run.MigrationID, err = uuid.Parse(migrationID); err != nil {
			return nil, fmt.Errorf("parse migration id: %w", err)
		}
		if backupID.Valid {
			bid, err := uuid.Parse(backupID.String)
			if err != nil {
				return nil, fmt.Errorf("parse backup id: %w", err)
			}
			run.BackupID = &bid
		}
		if run.StartedAt, err = parseSQLiteTime(started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if run.FinishedAt, err = parseSQLiteTimePtr(finished); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		result = append(result, &run)
	}
	return result, rows.Err()
}

// SQLiteBackupStore implements BackupStore over SQLite.
type SQLiteBackupStore struct {
	db *sql.DB
}

func (s *SQLiteBackupStore) Create(ctx context.Context, b *DataBackup) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}

	counts, err := json.Marshal(countsOrEmpty(b.RowCounts))
	if err != nil {
		return fmt.Errorf("marshal row counts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO data_backups (id, tenant_id, module_id, storage_locator,
			size_bytes, row_counts, reason, created_at, expires_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		b.ID.String(), b.TenantID, b.ModuleID, b.StorageLocator,
		b.SizeBytes, string(counts), string(b.Reason),
		sqliteTime(b.CreatedAt), sqliteTime(b.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert backup: %w", err)
	}
	return nil
}

func (s *SQLiteBackupStore) Get(ctx context.Context, id uuid.UUID) (*DataBackup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, module_id, storage_locator, size_bytes,
			row_counts, reason, created_at, expires_at
		FROM data_backups WHERE id = ?`, id.String())
	return scanSQLiteBackup(row)
}

func (s *SQLiteBackupStore) ListExpired(ctx context.Context, asOf time.Time) ([]*DataBackup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, module_id, storage_locator, size_bytes,
			row_counts, reason, created_at, expires_at
		FROM data_backups
		WHERE expires_at <= ?
		ORDER BY expires_at`, sqliteTime(asOf))
	if err != nil {
		return nil, fmt.Errorf("query expired backups: %w", err)
	}
	defer rows.Close()

	var result []*DataBackup
	for rows.Next() {
		b, err := scanSQLiteBackup(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (s *SQLiteBackupStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM data_backups WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete backup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSQLiteBackup(row rowScanner) (*DataBackup, error) {
	var b DataBackup
	var id, counts, created, expires string
	err := row.Scan(&id, &b.TenantID, &b.ModuleID, &b.StorageLocator,
		&b.SizeBytes, &counts, &b.Reason, &created, &expires)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan backup: %w", err)
	}
	if b.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse backup id: %w", err)
	}
	if err := json.Unmarshal([]byte(counts), &b.RowCounts); err != nil {
		return nil, fmt.Errorf("unmarshal row counts: %w", err)
	}
	if b.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if b.ExpiresAt, err = parseSQLiteTime(expires); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	return &b, nil
}
