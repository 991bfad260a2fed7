package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/GoCodeAlone/modlifecycle/registry"
)

func runVersion(args []string) error {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	moduleID := fs.String("module", "", "Module identifier")
	ver := fs.String("version", "", "Semantic version (e.g. 1.4.0)")
	bundleRef := fs.String("bundle", "", "Bundle reference for the version payload")
	contentHash := fs.String("hash", "", "Content hash of the bundle")
	deps := fs.String("deps", "", "Dependencies as module=constraint pairs, comma separated")
	breaking := fs.Bool("breaking", false, "Declare the version as breaking")
	reason := fs.String("reason", "", "Reason for deprecate/yank")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `Usage: modlifectl version <subcommand> [options]

Manage the module version registry.

Subcommands:
  register    Register a new draft version
  publish     Publish a draft version
  deprecate   Mark a published version deprecated
  yank        Pull a version from resolution entirely
  list        List a module's versions

Examples:
  modlifectl version register --module billing --version 1.4.0 --bundle s3://bundles/billing-1.4.0.tgz
  modlifectl version publish --module billing --version 1.4.0
  modlifectl version deprecate --module billing --version 1.2.0 --reason "superseded by 1.4"
  modlifectl version list --module billing

Options:
`)
		fs.PrintDefaults()
	}

	if len(args) == 0 {
		fs.Usage()
		return fmt.Errorf("subcommand required: register, publish, deprecate, yank, or list")
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
	case "register":
		if *ver == "" || *bundleRef == "" {
			return fmt.Errorf("--version and --bundle are required")
		}
		dependencies, err := parseDeps(*deps)
		if err != nil {
			return err
		}
		v, err := rt.registry.Create(ctx, *moduleID, *ver, *bundleRef, registry.CreateOptions{
			ContentHash:     *contentHash,
			Dependencies:    dependencies,
			BreakingChanges: *breaking,
		})
		if err != nil {
			return err
		}
		return printJSON(v)
	case "publish":
		v, err := resolveVersion(ctx, rt, *moduleID, *ver)
		if err != nil {
			return err
		}
		published, err := rt.registry.Publish(ctx, v.ID)
		if err != nil {
			return err
		}
		return printJSON(published)
	case "deprecate":
		v, err := resolveVersion(ctx, rt, *moduleID, *ver)
		if err != nil {
			return err
		}
		retired, err := rt.registry.Deprecate(ctx, v.ID, *reason)
		if err != nil {
			return err
		}
		return printJSON(retired)
	case "yank":
		v, err := resolveVersion(ctx, rt, *moduleID, *ver)
		if err != nil {
			return err
		}
		retired, err := rt.registry.Yank(ctx, v.ID, *reason)
		if err != nil {
			return err
		}
		return printJSON(retired)
	case "list":
		versions, err := rt.registry.ListVersions(ctx, *moduleID)
		if err != nil {
			return err
		}
		return printJSON(versions)
	default:
		fs.Usage()
		return fmt.Errorf("unknown subcommand: %s", subcmd)
	}
}

func parseDeps(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	deps := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		name, constraint, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("invalid dependency %q, want module=constraint", pair)
		}
		deps[name] = constraint
	}
	return deps, nil
}
