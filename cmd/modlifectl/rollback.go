package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/GoCodeAlone/modlifecycle/rollback"
)

func runRollback(args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	tenantID := fs.String("tenant", "", "Tenant identifier")
	moduleID := fs.String("module", "", "Module identifier")
	ver := fs.String("version", "", "Target version to roll back to")
	actor := fs.String("actor", "", "Actor recorded in the audit trail")
	force := fs.Bool("force", false, "Proceed despite advisory blockers")
	timeout := fs.Duration("timeout", 30*time.Minute, "Overall operation timeout")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `Usage: modlifectl rollback <subcommand> [options]

Plan and execute tenant rollbacks to an earlier version.

Subcommands:
  plan    Show the down steps, blockers, and warnings
  run     Execute the rollback

Examples:
  modlifectl rollback plan --tenant acme --module billing --version 1.4.0
  modlifectl rollback run --tenant acme --module billing --version 1.4.0 --actor ops@acme --force

Options:
`)
		fs.PrintDefaults()
	}

	if len(args) == 0 {
		fs.Usage()
		return fmt.Errorf("subcommand required: plan or run")
	}
	subcmd := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *tenantID == "" || *moduleID == "" || *ver == "" {
		return fmt.Errorf("--tenant, --module, and --version are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := openRuntime(ctx, *configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	target, err := resolveVersion(ctx, rt, *moduleID, *ver)
	if err != nil {
		return err
	}

	switch subcmd {
	case "plan":
		plan, err := rt.coordinator.PlanRollback(ctx, *tenantID, *moduleID, target.ID)
		if err != nil {
			return err
		}
		return printJSON(plan)
	case "run":
		err := rt.coordinator.ExecuteRollback(ctx, *tenantID, *moduleID, target.ID, *actor, rollback.ExecuteOptions{
			Force:       *force,
			StepTimeout: rt.cfg.Migration.StepTimeout,
		})
		if err != nil {
			return err
		}
		fmt.Printf("rolled back %s/%s to %s\n", *tenantID, *moduleID, *ver)
		return nil
	default:
		fs.Usage()
		return fmt.Errorf("unknown subcommand: %s", subcmd)
	}
}
