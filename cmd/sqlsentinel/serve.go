package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/kyle-gehring/sqlsentinel-sub002/internal/alert"
	"github.com/kyle-gehring/sqlsentinel-sub002/internal/config"
	"github.com/kyle-gehring/sqlsentinel-sub002/internal/server"
)

func cmdServe(ctx context.Context, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	stateDB := fs.String("state-db", defaultStateDB(), "state database URL")
	addr := fs.String("addr", getenv("SQLSENTINEL_ADDR", ":8080"), "listen address")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: sqlsentinel serve [flags] <config.yaml>")
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

	store, code := openStore(ctx, logger, *stateDB)
	if store == nil {
		return code
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		logger.Error("failed to initialize schema", slog.String("error", err.Error()))
		return exitError
	}

	srv := &http.Server{
		Addr:         *addr,
		Handler:      server.NewRouter(&server.Handler{Cfg: cfg, Store: store}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("status api listening", slog.String("addr", *addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.String("error", err.Error()))
		return exitError
	}
	return exitOK
}
