package runner

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kyle-gehring/sqlsentinel-sub002/internal/alert"
	"github.com/kyle-gehring/sqlsentinel-sub002/internal/config"
	"github.com/kyle-gehring/sqlsentinel-sub002/internal/history"
	"github.com/kyle-gehring/sqlsentinel-sub002/internal/notify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedTarget creates a sqlite target database with a small orders table.
func seedTarget(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "target.db")
	handle, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open target: %v", err)
	}
	defer handle.Close()
	stmts := []string{
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, amount REAL, customer_id INTEGER)`,
		`INSERT INTO orders (amount, customer_id) VALUES (600, 1), (900, 2)`,
	}
	for _, stmt := range stmts {
		if _, err := handle.Exec(stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return "sqlite:///" + path
}

func testStore(t *testing.T) history.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := history.Open(context.Background(), "sqlite:///"+path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	return store
}

func statusQuery(threshold string) string {
	return `SELECT CASE WHEN SUM(amount) >= ` + threshold + ` THEN 'OK' ELSE 'ALERT' END AS status,
		SUM(amount) AS actual_value, ` + threshold + ` AS threshold FROM orders`
}

func baseConfig(targetURL string, alerts ...alert.Alert) config.Config {
	return config.Config{
		Database:     targetURL,
		QueryTimeout: 5 * time.Second,
		Alerts:       alerts,
	}
}

func TestRunPersistsOKVerdict(t *testing.T) {
	target := seedTarget(t)
	store := testStore(t)
	cfg := baseConfig(target, alert.Alert{
		Name:      "daily_revenue_check",
		Query:     statusQuery("1000"),
		Schedule:  "0 9 * * *",
		Condition: &alert.Condition{Mode: alert.ModeStatus},
	})

	summary, err := New(cfg, store, testLogger()).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(summary.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(summary.Results))
	}
	res := summary.Results[0]
	if res.Execution.Verdict != alert.VerdictOK {
		t.Fatalf("verdict = %s (%s)", res.Execution.Verdict, res.Execution.Err)
	}
	if res.Record.Seq == 0 {
		t.Fatalf("execution was not persisted")
	}
	if summary.ExitCode() != 0 {
		t.Fatalf("exit code = %d", summary.ExitCode())
	}

	state, err := store.GetState(context.Background(), "daily_revenue_check")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.CurrentStatus != alert.VerdictOK || state.ConsecutiveOKs != 1 {
		t.Fatalf("state not advanced: %+v", state)
	}
}

func TestRunNotifiesOnAlertTransitionOnly(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	target := seedTarget(t)
	store := testStore(t)
	cfg := baseConfig(target, alert.Alert{
		Name:      "revenue_floor",
		Query:     statusQuery("5000"),
		Schedule:  "0 9 * * *",
		Condition: &alert.Condition{Mode: alert.ModeStatus},
		Notify:    []alert.ChannelConfig{{Kind: "webhook", URL: srv.URL}},
	})
	r := New(cfg, store, testLogger())

	summary, err := r.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res := summary.Results[0]
	if res.Execution.Verdict != alert.VerdictAlert {
		t.Fatalf("verdict = %s (%s)", res.Execution.Verdict, res.Execution.Err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 notification, got %d", hits.Load())
	}
	if summary.ExitCode() != 1 {
		t.Fatalf("exit code = %d", summary.ExitCode())
	}

	attempts, err := store.ListAttempts(context.Background(), res.Execution.RunID)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 1 || attempts[0].Status != "sent" {
		t.Fatalf("attempt not recorded: %v", attempts)
	}

	// Second run stays in ALERT; no new notification.
	if _, err := r.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("repeat ALERT must stay quiet, got %d hits", hits.Load())
	}
}

func TestRunRecoveryNotifiesOptedInChannels(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	target := seedTarget(t)
	store := testStore(t)
	a := alert.Alert{
		Name:      "revenue_floor",
		Query:     statusQuery("5000"),
		Schedule:  "0 9 * * *",
		Condition: &alert.Condition{Mode: alert.ModeStatus},
		Notify:    []alert.ChannelConfig{{Kind: "webhook", URL: srv.URL, NotifyOnRecovery: true}},
	}
	cfg := baseConfig(target, a)
	if _, err := New(cfg, store, testLogger()).Run(context.Background(), Options{}); err != nil {
		t.Fatalf("alert run: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected the initial alert notification, got %d", hits.Load())
	}

	// Threshold the data now clears; the verdict recovers to OK.
	a.Query = statusQuery("1000")
	cfg = baseConfig(target, a)
	summary, err := New(cfg, store, testLogger()).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("recovery run: %v", err)
	}
	if summary.Results[0].Execution.Verdict != alert.VerdictOK {
		t.Fatalf("verdict = %s", summary.Results[0].Execution.Verdict)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected a recovery notification, got %d hits", hits.Load())
	}
}

func TestRunDryRunPersistsNothing(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	target := seedTarget(t)
	store := testStore(t)
	cfg := baseConfig(target, alert.Alert{
		Name:      "revenue_floor",
		Query:     statusQuery("5000"),
		Schedule:  "0 9 * * *",
		Condition: &alert.Condition{Mode: alert.ModeStatus},
		Notify:    []alert.ChannelConfig{{Kind: "webhook", URL: srv.URL}},
	})

	summary, err := New(cfg, store, testLogger()).Run(context.Background(), Options{DryRun: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res := summary.Results[0]
	if res.Execution.Verdict != alert.VerdictAlert {
		t.Fatalf("dry run must still evaluate, got %s", res.Execution.Verdict)
	}
	if hits.Load() != 0 {
		t.Fatalf("dry run must never send")
	}
	if len(res.Notifications) != 1 || res.Notifications[0].Status != "skipped" {
		t.Fatalf("expected a skipped outcome: %v", res.Notifications)
	}
	records, err := store.List(context.Background(), history.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("dry run must not persist, found %d records", len(records))
	}
}

func TestRunQueryErrorBecomesErrorVerdict(t *testing.T) {
	target := seedTarget(t)
	store := testStore(t)
	cfg := baseConfig(target, alert.Alert{
		Name:      "broken",
		Query:     "SELECT * FROM no_such_table",
		Schedule:  "0 9 * * *",
		Condition: &alert.Condition{Mode: alert.ModeStatus},
	})

	summary, err := New(cfg, store, testLogger()).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res := summary.Results[0]
	if res.Execution.Verdict != alert.VerdictError {
		t.Fatalf("verdict = %s", res.Execution.Verdict)
	}
	if res.Execution.ErrKind == "" || res.Execution.Err == "" {
		t.Fatalf("error detail missing: %+v", res.Execution)
	}
	if summary.ExitCode() != 2 {
		t.Fatalf("exit code = %d", summary.ExitCode())
	}
	records, err := store.List(context.Background(), history.Filter{AlertName: "broken"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].Verdict != alert.VerdictError {
		t.Fatalf("ERROR execution must still be recorded: %v", records)
	}
}

func TestRunSkipsDisabledAlerts(t *testing.T) {
	target := seedTarget(t)
	store := testStore(t)
	off := false
	cfg := baseConfig(target,
		alert.Alert{
			Name:      "enabled",
			Query:     statusQuery("1000"),
			Schedule:  "0 9 * * *",
			Condition: &alert.Condition{Mode: alert.ModeStatus},
		},
		alert.Alert{
			Name:      "disabled",
			Query:     statusQuery("1000"),
			Schedule:  "0 9 * * *",
			Enabled:   &off,
			Condition: &alert.Condition{Mode: alert.ModeStatus},
		},
	)
	summary, err := New(cfg, store, testLogger()).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(summary.Results) != 1 || summary.Results[0].Execution.AlertName != "enabled" {
		t.Fatalf("disabled alert must be skipped: %v", summary.Results)
	}
}

func TestRunSelectByName(t *testing.T) {
	target := seedTarget(t)
	store := testStore(t)
	cfg := baseConfig(target, alert.Alert{
		Name:      "only_me",
		Query:     statusQuery("1000"),
		Schedule:  "0 9 * * *",
		Condition: &alert.Condition{Mode: alert.ModeStatus},
	})
	r := New(cfg, store, testLogger())

	if _, err := r.Run(context.Background(), Options{Only: []string{"missing"}}); err == nil {
		t.Fatalf("unknown alert selection must fail the batch")
	}
	summary, err := r.Run(context.Background(), Options{Only: []string{"only_me"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(summary.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(summary.Results))
	}
}

func TestRunRowsMode(t *testing.T) {
	target := seedTarget(t)
	store := testStore(t)
	cfg := baseConfig(target, alert.Alert{
		Name:      "orphaned_orders",
		Query:     "SELECT id FROM orders WHERE customer_id IS NULL",
		Schedule:  "*/15 * * * *",
		Condition: &alert.Condition{Mode: alert.ModeRows},
	})
	summary, err := New(cfg, store, testLogger()).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Results[0].Execution.Verdict != alert.VerdictOK {
		t.Fatalf("no matching rows must be OK, got %s", summary.Results[0].Execution.Verdict)
	}
}

// closableChannel records whether the runner released it after dispatch.
type closableChannel struct {
	closed bool
}

func (c *closableChannel) Kind() string                                   { return "closable" }
func (c *closableChannel) Validate() error                                { return nil }
func (c *closableChannel) Send(ctx context.Context, msg notify.Message) error { return nil }
func (c *closableChannel) NotifyOnRecovery() bool                         { return false }
func (c *closableChannel) Close() error                                   { c.closed = true; return nil }

type plainChannel struct{}

func (plainChannel) Kind() string                                   { return "plain" }
func (plainChannel) Validate() error                                { return nil }
func (plainChannel) Send(ctx context.Context, msg notify.Message) error { return nil }
func (plainChannel) NotifyOnRecovery() bool                         { return false }

func TestCloseChannelsReleasesClosers(t *testing.T) {
	ch := &closableChannel{}
	closeChannels([]notify.Channel{ch, plainChannel{}})
	if !ch.closed {
		t.Fatalf("channel holding a connection was not closed")
	}
}

func TestSummaryExitCodeErrorWins(t *testing.T) {
	s := Summary{Results: []Result{
		{Execution: alert.ExecutionResult{Verdict: alert.VerdictAlert}},
		{Execution: alert.ExecutionResult{Verdict: alert.VerdictError}},
	}}
	if s.ExitCode() != 2 {
		t.Fatalf("ERROR must dominate, got %d", s.ExitCode())
	}
}
