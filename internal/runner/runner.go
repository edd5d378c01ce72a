// Package runner executes configured alerts end to end: query, evaluate,
// persist, notify. Alerts are independent; one failing alert never stops
// the rest of the batch.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kyle-gehring/sqlsentinel-sub002/internal/alert"
	"github.com/kyle-gehring/sqlsentinel-sub002/internal/config"
	"github.com/kyle-gehring/sqlsentinel-sub002/internal/db"
	"github.com/kyle-gehring/sqlsentinel-sub002/internal/evaluate"
	"github.com/kyle-gehring/sqlsentinel-sub002/internal/history"
	"github.com/kyle-gehring/sqlsentinel-sub002/internal/notify"
)

const defaultConcurrency = 4

// Options controls one batch invocation.
type Options struct {
	// Only restricts the batch to the named alerts. Empty means every
	// enabled alert in the config.
	Only []string

	// DryRun executes and evaluates but never writes history and never
	// sends notifications; channels are validated only.
	DryRun bool

	// TriggeredBy is recorded on every execution ("manual", "api", ...).
	TriggeredBy string

	// Concurrency caps parallel alert evaluations. Zero means the
	// default.
	Concurrency int
}

// Result is the full outcome for one alert in the batch.
type Result struct {
	Execution     alert.ExecutionResult
	Record        history.Record
	Notifications []notify.Outcome

	// Err is set when the run could not complete its bookkeeping, most
	// importantly a failed history write. The verdict itself stands.
	Err error
}

// Summary aggregates a batch.
type Summary struct {
	Results []Result
}

func (s Summary) counts() (oks, alerts, errs int) {
	for _, r := range s.Results {
		switch {
		case r.Err != nil:
			errs++
		case r.Execution.Verdict == alert.VerdictAlert:
			alerts++
		case r.Execution.Verdict == alert.VerdictError:
			errs++
		default:
			oks++
		}
	}
	return
}

// ExitCode maps the batch to the process exit code: 0 all OK, 1 at least
// one ALERT, 2 at least one ERROR or failed persistence. ERROR wins over
// ALERT.
func (s Summary) ExitCode() int {
	_, alerts, errs := s.counts()
	switch {
	case errs > 0:
		return 2
	case alerts > 0:
		return 1
	default:
		return 0
	}
}

type Runner struct {
	cfg        config.Config
	store      history.Store
	dispatcher *notify.Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

// New builds a runner. store may be nil only for dry-run batches.
func New(cfg config.Config, store history.Store, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:        cfg,
		store:      store,
		dispatcher: notify.NewDispatcher(logger),
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes the selected alerts with bounded concurrency and returns
// one Result per alert, in config order. The returned error covers batch
// setup only (bad selection, unreachable target database); per-alert
// failures live on the Results.
func (r *Runner) Run(ctx context.Context, opts Options) (Summary, error) {
	selected, err := r.selectAlerts(opts.Only)
	if err != nil {
		return Summary{}, err
	}
	if len(selected) == 0 {
		return Summary{}, nil
	}
	if !opts.DryRun && r.store == nil {
		return Summary{}, fmt.Errorf("state store is required outside dry-run")
	}
	if opts.TriggeredBy == "" {
		opts.TriggeredBy = "manual"
	}

	querier, err := db.Open(r.cfg.Database, db.Options{Timeout: r.cfg.QueryTimeout})
	if err != nil {
		return Summary{}, fmt.Errorf("open target database: %w", err)
	}
	defer querier.Close()

	workers := opts.Concurrency
	if workers <= 0 {
		workers = defaultConcurrency
	}
	if workers > len(selected) {
		workers = len(selected)
	}

	results := make([]Result, len(selected))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = r.runOne(ctx, querier, selected[i], opts)
			}
		}()
	}
	for i := range selected {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	oks, alerts, errs := (Summary{Results: results}).counts()
	r.logger.Info("batch finished",
		slog.Int("alerts_run", len(results)),
		slog.Int("ok", oks),
		slog.Int("alert", alerts),
		slog.Int("error", errs),
		slog.Bool("dry_run", opts.DryRun))
	return Summary{Results: results}, nil
}

func (r *Runner) selectAlerts(only []string) ([]alert.Alert, error) {
	if len(only) == 0 {
		var enabled []alert.Alert
		for _, a := range r.cfg.Alerts {
			if a.IsEnabled() {
				enabled = append(enabled, a)
			}
		}
		return enabled, nil
	}
	selected := make([]alert.Alert, 0, len(only))
	for _, name := range only {
		a, ok := r.cfg.AlertByName(name)
		if !ok {
			return nil, fmt.Errorf("alert %q is not configured", name)
		}
		selected = append(selected, a)
	}
	return selected, nil
}

func (r *Runner) runOne(ctx context.Context, querier db.Querier, a alert.Alert, opts Options) Result {
	exec := r.execute(ctx, querier, a, opts.TriggeredBy)
	logAttrs := []any{
		slog.String("alert", a.Name),
		slog.String("run_id", exec.RunID),
		slog.String("verdict", string(exec.Verdict)),
		slog.Float64("duration_ms", exec.DurationMillis()),
	}
	if exec.Err != "" {
		logAttrs = append(logAttrs, slog.String("error", exec.Err))
	}
	r.logger.Info("alert executed", logAttrs...)

	if opts.DryRun {
		return r.dryRunResult(ctx, a, exec)
	}

	res := Result{Execution: exec}

	record, err := r.store.Record(ctx, exec, a.Query)
	if err != nil {
		res.Err = &history.PersistenceError{Op: "record", Err: err}
		r.logger.Error("history write failed",
			slog.String("alert", a.Name), slog.String("error", err.Error()))
		return res
	}
	res.Record = record

	state, err := r.store.GetState(ctx, a.Name)
	if err != nil {
		res.Err = &history.PersistenceError{Op: "get state", Err: err}
		return res
	}
	now := r.now().UTC()
	shouldNotify := state.ShouldNotify(exec.Verdict, r.cfg.MinAlertInterval, now)
	recovered := exec.Verdict == alert.VerdictOK &&
		state.CurrentStatus == alert.VerdictAlert &&
		!state.IsSilenced(now)

	next := state.Advance(exec.Verdict, now)
	next.AlertName = a.Name
	if err := r.store.PutState(ctx, next); err != nil {
		res.Err = &history.PersistenceError{Op: "put state", Err: err}
		return res
	}

	channels := r.channelsFor(a, recovered)
	defer closeChannels(channels)
	if (!shouldNotify && !recovered) || len(channels) == 0 {
		return res
	}

	msg := messageFor(a, exec)
	res.Notifications = r.dispatcher.Dispatch(ctx, msg, channels, false)

	attempts := make([]history.Attempt, 0, len(res.Notifications))
	for _, out := range res.Notifications {
		attempt := history.Attempt{
			RunID:     exec.RunID,
			AlertName: a.Name,
			Channel:   out.Channel,
			Status:    out.Status,
			Attempts:  out.Attempts,
			CreatedAt: now,
		}
		if out.Err != nil {
			attempt.LastError = out.Err.Error()
		}
		attempts = append(attempts, attempt)
	}
	if err := r.store.RecordAttempts(ctx, attempts); err != nil {
		res.Err = &history.PersistenceError{Op: "record attempts", Err: err}
	}
	return res
}

// execute runs the query and evaluates it into an ExecutionResult. Query
// failures become ERROR verdicts, never batch failures.
func (r *Runner) execute(ctx context.Context, querier db.Querier, a alert.Alert, triggeredBy string) alert.ExecutionResult {
	started := r.now().UTC()
	exec := alert.ExecutionResult{
		RunID:       uuid.NewString(),
		AlertName:   a.Name,
		StartedAt:   started,
		TriggeredBy: triggeredBy,
	}

	rows, err := querier.Query(ctx, a.Query)
	exec.FinishedAt = r.now().UTC()
	exec.Duration = exec.FinishedAt.Sub(started)
	if err != nil {
		exec.Verdict = alert.VerdictError
		exec.ErrKind = string(db.Kind(err))
		exec.Err = err.Error()
		return exec
	}

	outcome := evaluate.Evaluate(a, rows)
	exec.Verdict = outcome.Verdict
	exec.ActualValue = outcome.ActualValue
	exec.Threshold = outcome.Threshold
	exec.Context = outcome.Context
	exec.Err = outcome.Err
	if outcome.Err != "" {
		exec.ErrKind = "evaluation"
	}
	return exec
}

// dryRunResult validates notification channels without sending or
// persisting anything.
func (r *Runner) dryRunResult(ctx context.Context, a alert.Alert, exec alert.ExecutionResult) Result {
	res := Result{Execution: exec}
	channels, buildErrs := notify.BuildAll(a.Notify)
	defer closeChannels(channels)
	for _, err := range buildErrs {
		res.Notifications = append(res.Notifications, notify.Outcome{
			Status: notify.StatusSkipped,
			Err:    err,
		})
	}
	if len(channels) > 0 {
		msg := messageFor(a, exec)
		res.Notifications = append(res.Notifications,
			r.dispatcher.Dispatch(ctx, msg, channels, true)...)
	}
	return res
}

// channelsFor builds the channels relevant to this verdict. On recovery
// only channels that opted in receive the OK.
func (r *Runner) channelsFor(a alert.Alert, recovered bool) []notify.Channel {
	channels, buildErrs := notify.BuildAll(a.Notify)
	for _, err := range buildErrs {
		r.logger.Warn("skipping misconfigured channel",
			slog.String("alert", a.Name), slog.String("error", err.Error()))
	}
	if !recovered {
		return channels
	}
	var recovery []notify.Channel
	for _, ch := range channels {
		if ch.NotifyOnRecovery() {
			recovery = append(recovery, ch)
			continue
		}
		closeChannels([]notify.Channel{ch})
	}
	return recovery
}

// closeChannels releases channels that hold connections, such as NATS.
func closeChannels(channels []notify.Channel) {
	for _, ch := range channels {
		if closer, ok := ch.(io.Closer); ok {
			_ = closer.Close()
		}
	}
}

func messageFor(a alert.Alert, exec alert.ExecutionResult) notify.Message {
	return notify.Message{
		RunID:       exec.RunID,
		AlertName:   a.Name,
		Description: a.Description,
		Verdict:     exec.Verdict,
		ActualValue: exec.ActualValue,
		Threshold:   exec.Threshold,
		Context:     exec.Context,
		Timestamp:   exec.FinishedAt,
	}
}
