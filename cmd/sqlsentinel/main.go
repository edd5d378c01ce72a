// Command sqlsentinel executes declarative SQL alerts against a target
// database, records every execution, and notifies configured channels.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Exit codes: 0 all OK, 1 at least one ALERT, 2 at least one ERROR,
// 3 usage or configuration problem.
const (
	exitOK    = 0
	exitAlert = 1
	exitError = 2
	exitUsage = 3
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	os.Exit(run(logger, os.Args[1:]))
}

func run(logger *slog.Logger, args []string) int {
	if len(args) == 0 {
		usage()
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "init":
		return cmdInit(ctx, logger, args[1:])
	case "validate":
		return cmdValidate(ctx, logger, args[1:])
	case "run":
		return cmdRun(ctx, logger, args[1:])
	case "history":
		return cmdHistory(ctx, logger, args[1:])
	case "prune":
		return cmdPrune(ctx, logger, args[1:])
	case "status":
		return cmdStatus(ctx, logger, args[1:])
	case "silence":
		return cmdSilence(ctx, logger, args[1:])
	case "unsilence":
		return cmdUnsilence(ctx, logger, args[1:])
	case "serve":
		return cmdServe(ctx, logger, args[1:])
	case "help", "-h", "--help":
		usage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		return exitUsage
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: sqlsentinel <command> [flags]

Commands:
  init       create the state database schema (idempotent)
  validate   check an alert config file, reporting every problem
  run        execute alerts once and exit with the batch verdict
  history    list recorded executions
  prune      delete executions older than a retention window
  status     show per-alert state from the state database
  silence    mute notifications for an alert for a duration
  unsilence  clear an alert's silence window
  serve      run the read-only status HTTP API

Run "sqlsentinel <command> -h" for command flags.
`)
}

func getenv(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func defaultStateDB() string {
	return getenv("SQLSENTINEL_STATE_DB", "sqlite:///sqlsentinel.db")
}
