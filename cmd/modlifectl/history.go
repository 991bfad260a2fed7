package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/GoCodeAlone/modlifecycle/store"
)

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	tenantID := fs.String("tenant", "", "Tenant identifier")
	moduleID := fs.String("module", "", "Module identifier")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `Usage: modlifectl history [options]

Show installation and migration-run history for a tenant's module,
newest first.

Examples:
  modlifectl history --tenant acme --module billing

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenantID == "" || *moduleID == "" {
		return fmt.Errorf("--tenant and --module are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rt, err := openRuntime(ctx, *configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	installations, err := rt.installations.History(ctx, *tenantID, *moduleID)
	if err != nil {
		return err
	}
	runs, err := rt.runs.History(ctx, *tenantID, *moduleID)
	if err != nil {
		return err
	}

	return printJSON(struct {
		Installations []*store.Installation `json:"installations"`
		Runs          []*store.MigrationRun `json:"runs"`
	}{installations, runs})
}
