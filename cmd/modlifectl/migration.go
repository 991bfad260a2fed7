package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/GoCodeAlone/modlifecycle/store"
)

func runMigration(args []string) error {
	fs := flag.NewFlagSet("migration", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	moduleID := fs.String("module", "", "Module identifier")
	fromVer := fs.String("from", "", "Source version (omit for a genesis step)")
	toVer := fs.String("to", "", "Target version")
	seq := fs.Int64("sequence", 0, "Chain sequence number")
	upFile := fs.String("up", "", "Path to the up script")
	downFile := fs.String("down", "", "Path to the down script (omit for irreversible)")
	maintenance := fs.Bool("maintenance", false, "Step requires a maintenance window")
	estimate := fs.Int64("estimate", 0, "Estimated duration in seconds")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `Usage: modlifectl migration <subcommand> [options]

Manage a module's migration chain.

Subcommands:
  add     Append a migration step to the chain
  list    List a module's migration chain in sequence order

Examples:
  modlifectl migration add --module billing --to 1.0.0 --sequence 1 --up genesis.sql --down teardown.sql
  modlifectl migration add --module billing --from 1.0.0 --to 1.1.0 --sequence 2 --up add_col.sql
  modlifectl migration list --module billing

Options:
`)
		fs.PrintDefaults()
	}

	if len(args) == 0 {
		fs.Usage()
		return fmt.Errorf("subcommand required: add or list")
	}
	subcmd := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *moduleID == "" {
		return fmt.Errorf("--module is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rt, err := openRuntime(ctx, *configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	switch subcmd {
	case "add":
		if *toVer == "" || *upFile == "" {
			return fmt.Errorf("--to and --up are required")
		}
		up, err := os.ReadFile(*upFile)
		if err != nil {
			return fmt.Errorf("read up script: %w", err)
		}
		var down []byte
		if *downFile != "" {
			if down, err = os.ReadFile(*downFile); err != nil {
				return fmt.Errorf("read down script: %w", err)
			}
		}

		m := &store.Migration{
			ModuleID:                  *moduleID,
			ToVersion:                 *toVer,
			Sequence:                  *seq,
			UpScript:                  string(up),
			DownScript:                string(down),
			IsReversible:              len(down) > 0,
			RequiresMaintenanceWindow: *maintenance,
			EstimatedDurationSeconds:  *estimate,
		}
		if *fromVer != "" {
			m.FromVersion = fromVer
		}

		added, err := rt.catalog.AddStep(ctx, m)
		if err != nil {
			return err
		}
		return printJSON(added)
	case "list":
		steps, err := rt.migrations.ListByModule(ctx, *moduleID)
		if err != nil {
			return err
		}
		return printJSON(steps)
	default:
		fs.Usage()
		return fmt.Errorf("unknown subcommand: %s", subcmd)
	}
}
