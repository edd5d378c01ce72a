package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kyle-gehring/sqlsentinel-sub002/internal/history"
)

func openStore(ctx context.Context, logger *slog.Logger, stateDB string) (history.Store, int) {
	store, err := history.Open(ctx, stateDB)
	if err != nil {
		logger.Error("failed to open state database", slog.String("error", err.Error()))
		return nil, exitUsage
	}
	return store, exitOK
}

func cmdHistory(ctx context.Context, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	stateDB := fs.String("state-db", defaultStateDB(), "state database URL")
	alertName := fs.String("alert", "", "filter by alert name")
	limit := fs.Int("limit", 0, "max records to return (default 100)")
	asJSON := fs.Bool("json", false, "emit records as JSON lines")
	fs.Parse(args)

	store, code := openStore(ctx, logger, *stateDB)
	if store == nil {
		return code
	}
	defer store.Close()

	records, err := store.List(ctx, history.Filter{AlertName: *alertName, Limit: *limit})
	if err != nil {
		logger.Error("failed to list history", slog.String("error", err.Error()))
		return exitError
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return exitError
			}
		}
		return exitOK
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tEXECUTED\tALERT\tVERDICT\tDURATION\tACTUAL\tTHRESHOLD\tERROR")
	for _, rec := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.0fms\t%s\t%s\t%s\n",
			rec.Seq,
			rec.ExecutedAt.UTC().Format(time.RFC3339),
			rec.AlertName,
			rec.Verdict,
			rec.DurationMillis,
			deref(rec.ActualValue),
			deref(rec.Threshold),
			rec.ErrMessage)
	}
	w.Flush()
	return exitOK
}

func cmdPrune(ctx context.Context, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	stateDB := fs.String("state-db", defaultStateDB(), "state database URL")
	olderThan := fs.Duration("older-than", 0, "delete records older than this duration (required, e.g. 720h)")
	fs.Parse(args)
	if *olderThan <= 0 {
		fmt.Fprintln(os.Stderr, "usage: sqlsentinel prune --older-than <duration> [--state-db <url>]")
		return exitUsage
	}

	store, code := openStore(ctx, logger, *stateDB)
	if store == nil {
		return code
	}
	defer store.Close()

	cutoff := time.Now().UTC().Add(-*olderThan)
	deleted, err := store.Prune(ctx, cutoff)
	if err != nil {
		logger.Error("prune failed", slog.String("error", err.Error()))
		return exitError
	}
	fmt.Printf("deleted %d records older than %s\n", deleted, cutoff.Format(time.RFC3339))
	return exitOK
}

func cmdStatus(ctx context.Context, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	stateDB := fs.String("state-db", defaultStateDB(), "state database URL")
	alertName := fs.String("alert", "", "show stats for one alert")
	window := fs.Duration("window", 24*time.Hour, "stats window for --alert")
	fs.Parse(args)

	store, code := openStore(ctx, logger, *stateDB)
	if store == nil {
		return code
	}
	defer store.Close()

	if *alertName != "" {
		return printAlertStats(ctx, logger, store, *alertName, *window)
	}

	states, err := store.ListStates(ctx)
	if err != nil {
		logger.Error("failed to list states", slog.String("error", err.Error()))
		return exitError
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ALERT\tSTATUS\tLAST RUN\tCONSECUTIVE\tSILENCED UNTIL")
	now := time.Now().UTC()
	for _, s := range states {
		consecutive := s.ConsecutiveOKs
		if s.CurrentStatus == "ALERT" {
			consecutive = s.ConsecutiveAlerts
		}
		silenced := ""
		if s.IsSilenced(now) {
			silenced = s.SilencedUntil.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			s.AlertName, s.CurrentStatus, formatTimePtr(s.LastExecutedAt), consecutive, silenced)
	}
	w.Flush()
	return exitOK
}

func printAlertStats(ctx context.Context, logger *slog.Logger, store history.Store, alertName string, window time.Duration) int {
	state, err := store.GetState(ctx, alertName)
	if err != nil {
		logger.Error("failed to load state", slog.String("error", err.Error()))
		return exitError
	}
	stats, err := store.Stats(ctx, alertName, window)
	if err != nil {
		logger.Error("failed to load stats", slog.String("error", err.Error()))
		return exitError
	}
	fmt.Printf("alert: %s\n", alertName)
	fmt.Printf("status: %s\n", state.CurrentStatus)
	fmt.Printf("last run: %s\n", formatTimePtr(state.LastExecutedAt))
	fmt.Printf("last alert: %s\n", formatTimePtr(state.LastAlertAt))
	if state.IsSilenced(time.Now().UTC()) {
		fmt.Printf("silenced until: %s\n", state.SilencedUntil.UTC().Format(time.RFC3339))
	}
	fmt.Printf("window %s: %d runs (%d ok, %d alert, %d error)\n",
		window, stats.Total, stats.OKs, stats.Alerts, stats.Errors)
	if stats.Total > 0 {
		fmt.Printf("duration ms: avg %.1f min %.1f max %.1f\n",
			stats.AvgDurationMs, stats.MinDurationMs, stats.MaxDurationMs)
	}
	return exitOK
}

func cmdSilence(ctx context.Context, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("silence", flag.ExitOnError)
	stateDB := fs.String("state-db", defaultStateDB(), "state database URL")
	duration := fs.Duration("for", time.Hour, "how long to mute notifications")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: sqlsentinel silence [--for <duration>] <alert-name>")
		return exitUsage
	}

	store, code := openStore(ctx, logger, *stateDB)
	if store == nil {
		return code
	}
	defer store.Close()

	until := time.Now().UTC().Add(*duration)
	if err := store.Silence(ctx, fs.Arg(0), &until); err != nil {
		logger.Error("silence failed", slog.String("error", err.Error()))
		return exitError
	}
	fmt.Printf("alert %s silenced until %s\n", fs.Arg(0), until.Format(time.RFC3339))
	return exitOK
}

func cmdUnsilence(ctx context.Context, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("unsilence", flag.ExitOnError)
	stateDB := fs.String("state-db", defaultStateDB(), "state database URL")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: sqlsentinel unsilence <alert-name>")
		return exitUsage
	}

	store, code := openStore(ctx, logger, *stateDB)
	if store == nil {
		return code
	}
	defer store.Close()

	if err := store.Silence(ctx, fs.Arg(0), nil); err != nil {
		logger.Error("unsilence failed", slog.String("error", err.Error()))
		return exitError
	}
	fmt.Printf("alert %s unsilenced\n", fs.Arg(0))
	return exitOK
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
