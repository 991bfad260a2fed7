package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/GoCodeAlone/modlifecycle/migration"
)

func runUpgrade(args []string) error {
	fs := flag.NewFlagSet("upgrade", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	tenantID := fs.String("tenant", "", "Tenant identifier")
	moduleID := fs.String("module", "", "Module identifier")
	ver := fs.String("version", "", "Target version")
	actor := fs.String("actor", "", "Actor recorded in the audit trail")
	noBackup := fs.Bool("no-backup", false, "Skip the pre-upgrade backup")
	timeout := fs.Duration("timeout", 30*time.Minute, "Overall operation timeout")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `Usage: modlifectl upgrade <subcommand> [options]

Plan and execute tenant upgrades.

Subcommands:
  plan    Show the migration steps an upgrade would run
  run     Execute the upgrade

Examples:
  modlifectl upgrade plan --tenant acme --module billing --version 2.0.0
  modlifectl upgrade run --tenant acme --module billing --version 2.0.0 --actor ops@acme

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
		plan, err := rt.orch.PlanUpgrade(ctx, *tenantID, target)
		if err != nil {
			return err
		}
		return printJSON(plan)
	case "run":
		plan, err := rt.orch.PlanUpgrade(ctx, *tenantID, target)
		if err != nil {
			return err
		}
		opts := migration.DefaultUpgradeOptions()
		opts.CreateBackup = !*noBackup
		opts.StepTimeout = rt.cfg.Migration.StepTimeout
		runs, err := rt.orch.ExecuteUpgrade(ctx, *tenantID, target, plan.Steps, *actor, opts)
		if err != nil {
			// Partial results are still worth showing; runs carry the
			// per-step outcome including compensation.
			_ = printJSON(runs)
			return err
		}
		return printJSON(runs)
	default:
		fs.Usage()
		return fmt.Errorf("unknown subcommand: %s", subcmd)
	}
}
