package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/kyle-gehring/sqlsentinel-sub002/internal/alert"
	"github.com/kyle-gehring/sqlsentinel-sub002/internal/config"
	"github.com/kyle-gehring/sqlsentinel-sub002/internal/history"
	"github.com/kyle-gehring/sqlsentinel-sub002/internal/runner"
)

func cmdInit(ctx context.Context, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	stateDB := fs.String("state-db", defaultStateDB(), "state database URL (sqlite:// or postgres://)")
	fs.Parse(args)

	store, err := history.Open(ctx, *stateDB)
	if err != nil {
		logger.Error("failed to open state database", slog.String("error", err.Error()))
		return exitUsage
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		logger.Error("failed to initialize schema", slog.String("error", err.Error()))
		return exitError
	}
	fmt.Println("state database initialized")
	return exitOK
}

func cmdValidate(ctx context.Context, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: sqlsentinel validate <config.yaml>")
		return exitUsage
	}

	cfg, err := config.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitUsage
	}
	if err := alert.ValidateAll(cfg.Alerts); err != nil {
		var verr *alert.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(os.Stderr, "config is invalid (%d problems):\n", len(verr.Details))
			for _, d := range verr.Details {
				line := fmt.Sprintf("  %s: %s %s", d.Alert, d.Field, d.Problem)
				if d.Hint != "" {
					line += " (" + d.Hint + ")"
				}
				fmt.Fprintln(os.Stderr, line)
			}
		} else {
			fmt.Fprintf(os.Stderr, "config is invalid: %v\n", err)
		}
		return exitUsage
	}
	for _, warning := range alert.Warnings(cfg.Alerts) {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
	}
	fmt.Printf("config valid: %d alerts\n", len(cfg.Alerts))
	return exitOK
}

func cmdRun(ctx context.Context, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	stateDB := fs.String("state-db", defaultStateDB(), "state database URL")
	only := fs.String("alert", "", "run only the named alert (comma-separated for several)")
	dryRun := fs.Bool("dry-run", false, "execute and evaluate without persisting or notifying")
	concurrency := fs.Int("concurrency", 0, "max parallel alert evaluations")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: sqlsentinel run [flags] <config.yaml>")
		return exitUsage
	}

	cfg, err := config.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitUsage
	}
	if err := alert.ValidateAll(cfg.Alerts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitUsage
	}

	var store history.Store
	if !*dryRun {
		store, err = history.Open(ctx, *stateDB)
		if err != nil {
			logger.Error("failed to open state database", slog.String("error", err.Error()))
			return exitUsage
		}
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			logger.Error("failed to initialize schema", slog.String("error", err.Error()))
			return exitError
		}
	}

	opts := runner.Options{
		DryRun:      *dryRun,
		TriggeredBy: "manual",
		Concurrency: *concurrency,
	}
	if *only != "" {
		for _, name := range strings.Split(*only, ",") {
			if trimmed := strings.TrimSpace(name); trimmed != "" {
				opts.Only = append(opts.Only, trimmed)
			}
		}
	}

	summary, err := runner.New(cfg, store, logger).Run(ctx, opts)
	if err != nil {
		logger.Error("run failed", slog.String("error", err.Error()))
		return exitError
	}
	printSummary(summary, *dryRun)
	return summary.ExitCode()
}

func printSummary(summary runner.Summary, dryRun bool) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ALERT\tVERDICT\tDURATION\tDETAIL")
	for _, res := range summary.Results {
		exec := res.Execution
		detail := ""
		switch {
		case res.Err != nil:
			detail = res.Err.Error()
		case exec.Err != "":
			detail = exec.Err
		case exec.ActualValue != nil && exec.Threshold != nil:
			detail = fmt.Sprintf("actual=%v threshold=%v", exec.ActualValue, exec.Threshold)
		case exec.ActualValue != nil:
			detail = fmt.Sprintf("actual=%v", exec.ActualValue)
		}
		fmt.Fprintf(w, "%s\t%s\t%.0fms\t%s\n", exec.AlertName, exec.Verdict, exec.DurationMillis(), detail)
		for _, out := range res.Notifications {
			note := out.Status
			if out.Err != nil {
				note += ": " + out.Err.Error()
			}
			fmt.Fprintf(w, "  -> %s\t%s\t\t\n", out.Channel, note)
		}
	}
	w.Flush()
	if dryRun {
		fmt.Println("dry run: nothing was persisted or sent")
	}
}
