package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/GoCodeAlone/modlifecycle/backup"
	"github.com/GoCodeAlone/modlifecycle/config"
	"github.com/GoCodeAlone/modlifecycle/migration"
	"github.com/GoCodeAlone/modlifecycle/registry"
	"github.com/GoCodeAlone/modlifecycle/rollback"
	"github.com/GoCodeAlone/modlifecycle/store"
)

// runtime wires stores and services from a loaded configuration. Commands
// build one, use it, and Close it.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	versions      store.VersionStore
	migrations    store.MigrationStore
	installations store.InstallationStore
	runs          store.RunStore
	backupRecords store.BackupStore

	registry    *registry.Registry
	catalog     *migration.Catalog
	orch        *migration.Orchestrator
	backups     *backup.Service
	coordinator *rollback.Coordinator

	closers []func()
}

func openRuntime(ctx context.Context, configPath string) (*runtime, error) {
	var cfg *config.Config
	if configPath == "" {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	rt := &runtime{cfg: cfg, logger: logger}

	var (
		execDB  *sql.DB
		locker  migration.DistributedLock
		newData = backup.NewSQLData
	)

	switch cfg.Store.Driver {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = s.Close() })
		rt.versions = s.Versions()
		rt.migrations = s.Migrations()
		rt.installations = s.Installations()
		rt.runs = s.Runs()
		rt.backupRecords = s.Backups()
		execDB = s.DB()
		locker = migration.NewProcessLock()
	case "postgres":
		pg, err := store.NewPGStore(ctx, store.PGConfig{
			URL:      cfg.Store.Postgres.URL,
			MaxConns: cfg.Store.Postgres.MaxConns,
			MinConns: cfg.Store.Postgres.MinConns,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pg.Close)
		rt.versions = pg.Versions()
		rt.migrations = pg.Migrations()
		rt.installations = pg.Installations()
		rt.runs = pg.Runs()
		rt.backupRecords = pg.Backups()

		// Migration scripts run through database/sql so the executor is
		// driver-agnostic.
		db, err := sql.Open("pgx", cfg.Store.Postgres.URL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open pgx: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = db.Close() })
		execDB = db
		// pgx sends queries verbatim, so tenant-data SQL needs $N binds.
		newData = backup.NewPostgresSQLData

		locker = migration.NewProcessLock()
		if cfg.Migration.UseAdvisoryLocks {
			locker = migration.NewPostgresLock(pg.Pool())
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	var blobs backup.BlobStore
	switch cfg.Blob.Backend {
	case "local":
		blobs = backup.NewLocalStore(cfg.Blob.Dir)
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Blob.Region))
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		blobs = backup.NewS3Store(s3.NewFromConfig(awsCfg), cfg.Blob.Bucket, cfg.Blob.Prefix)
	default:
		rt.Close()
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Blob.Backend)
	}

	data := newData(execDB)
	rt.backups = backup.NewService(rt.backupRecords, blobs, data, cfg.Backup.Retention, logger)

	metrics := migration.NewMetrics(cfg.Metrics.Namespace)
	exec := migration.NewSQLExecutor(execDB)

	rt.registry = registry.New(rt.versions, logger)
	rt.catalog = migration.NewCatalog(rt.migrations, rt.versions, logger)
	rt.orch = migration.NewOrchestrator(rt.installations, rt.runs, rt.versions,
		rt.catalog, rt.backups, exec, locker, metrics, logger)
	rt.coordinator = rollback.NewCoordinator(rt.versions, rt.installations,
		rt.catalog, rt.orch, rt.backups, logger)

	return rt, nil
}

// resolveVersion looks up a version row by module and version string.
func resolveVersion(ctx context.Context, rt *runtime, moduleID, version string) (*store.ModuleVersion, error) {
	if version == "" {
		return nil, fmt.Errorf("--version is required")
	}
	v, err := rt.versions.GetByVersion(ctx, moduleID, version)
	if err != nil {
		return nil, fmt.Errorf("resolve %s@%s: %w", moduleID, version, err)
	}
	return v, nil
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}
