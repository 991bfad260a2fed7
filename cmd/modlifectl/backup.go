package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/modlifecycle/store"
)

func runBackup(args []string) error {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	tenantID := fs.String("tenant", "", "Tenant identifier")
	moduleID := fs.String("module", "", "Module identifier")
	backupID := fs.String("id", "", "Backup identifier (for restore)")
	timeout := fs.Duration("timeout", 10*time.Minute, "Overall operation timeout")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `Usage: modlifectl backup <subcommand> [options]

Manage tenant data backups.

Subcommands:
  create    Take a manual backup of a tenant's module data
  restore   Restore a tenant's data from a backup
  sweep     Delete backups past their retention expiry

Examples:
  modlifectl backup create --tenant acme --module billing
  modlifectl backup restore --tenant acme --id 6f1e...
  modlifectl backup sweep

Options:
`)
		fs.PrintDefaults()
	}

	if len(args) == 0 {
		fs.Usage()
		return fmt.Errorf("subcommand required: create, restore, or sweep")
	}
	subcmd := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := openRuntime(ctx, *configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	switch subcmd {
	case "create":
		if *tenantID == "" || *moduleID == "" {
			return fmt.Errorf("--tenant and --module are required")
		}
		b, err := rt.backups.Backup(ctx, *tenantID, *moduleID, store.BackupReasonManual)
		if err != nil {
			return err
		}
		return printJSON(b)
	case "restore":
		if *tenantID == "" || *backupID == "" {
			return fmt.Errorf("--tenant and --id are required")
		}
		id, err := uuid.Parse(*backupID)
		if err != nil {
			return fmt.Errorf("parse backup id: %w", err)
		}
		if err := rt.backups.Restore(ctx, id, *tenantID); err != nil {
			return err
		}
		fmt.Printf("restored backup %s for tenant %s\n", id, *tenantID)
		return nil
	case "sweep":
		n, err := rt.backups.SweepExpired(ctx, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("swept %d expired backup(s)\n", n)
		return nil
	default:
		fs.Usage()
		return fmt.Errorf("unknown subcommand: %s", subcmd)
	}
}
