package main

import (
	"encoding/json"
	"fmt"
	"os"
)

var version = "dev"

var commands = map[string]func([]string) error{
	"version":   runVersion,
	"migration": runMigration,
	"upgrade":   runUpgrade,
	"rollback":  runRollback,
	"history":   runHistory,
	"backup":    runBackup,
}

func usage() {
	fmt.Fprintf(os.Stderr, `modlifectl - Module Lifecycle Manager CLI (version %s)

Usage:
  modlifectl <command> [options]

Commands:
  version    Version registry (register, publish, deprecate, yank, list)
  migration  Migration catalog (add, list)
  upgrade    Tenant upgrades (plan, run)
  rollback   Tenant rollbacks (plan, run)
  history    Installation and migration-run history for a tenant
  backup     Data backups (create, restore, sweep)

Global options (every command):
  --config   Path to the YAML configuration file

Run 'modlifectl <command> -h' for command-specific help.
`, version)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		usage()
		os.Exit(0)
	}
	if cmd == "-v" || cmd == "--version" {
		fmt.Println(version)
		os.Exit(0)
	}

	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}

	if err := fn(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
