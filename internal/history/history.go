// Package history persists the append-only execution log, per-alert
// state, and notification attempts in the state database.
package history

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kyle-gehring/sqlsentinel-sub002/internal/alert"
)

// Record is the durable projection of one execution. Seq is assigned by
// the store at write time; records are never updated or deleted by normal
// operation.
type Record struct {
	Seq            int64           `json:"seq"`
	RunID          string          `json:"runId"`
	AlertName      string          `json:"alertName"`
	ExecutedAt     time.Time       `json:"executedAt"`
	DurationMillis float64         `json:"durationMs"`
	Verdict        alert.Verdict   `json:"verdict"`
	ActualValue    *string         `json:"actualValue,omitempty"`
	Threshold      *string         `json:"threshold,omitempty"`
	Query          string          `json:"query"`
	ErrKind        string          `json:"errKind,omitempty"`
	ErrMessage     string          `json:"error,omitempty"`
	TriggeredBy    string          `json:"triggeredBy"`
	Context        alert.Context   `json:"context,omitempty"`
}

// Attempt is the delivery outcome for one (run, channel) pair.
type Attempt struct {
	RunID     string    `json:"runId"`
	AlertName string    `json:"alertName"`
	Channel   string    `json:"channel"`
	Status    string    `json:"status"` // sent | failed
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// State tracks an alert's position in the OK/ALERT cycle, driving
// notify-on-transition suppression.
type State struct {
	AlertName         string        `json:"alertName"`
	CurrentStatus     alert.Verdict `json:"currentStatus,omitempty"`
	LastExecutedAt    *time.Time    `json:"lastExecutedAt,omitempty"`
	LastAlertAt       *time.Time    `json:"lastAlertAt,omitempty"`
	LastOKAt          *time.Time    `json:"lastOkAt,omitempty"`
	ConsecutiveAlerts int           `json:"consecutiveAlerts"`
	ConsecutiveOKs    int           `json:"consecutiveOks"`
	SilencedUntil     *time.Time    `json:"silencedUntil,omitempty"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// IsSilenced reports whether notifications are muted at the given time.
func (s State) IsSilenced(now time.Time) bool {
	return s.SilencedUntil != nil && now.Before(*s.SilencedUntil)
}

// ShouldNotify decides whether a new verdict warrants a notification.
// Only ALERT notifies, only on first occurrence or an OK-to-ALERT
// transition, and never within minInterval of the previous alert.
func (s State) ShouldNotify(verdict alert.Verdict, minInterval time.Duration, now time.Time) bool {
	if verdict != alert.VerdictAlert {
		return false
	}
	if s.IsSilenced(now) {
		return false
	}
	if minInterval > 0 && s.LastAlertAt != nil && now.Sub(*s.LastAlertAt) < minInterval {
		return false
	}
	return s.CurrentStatus != alert.VerdictAlert
}

// Advance returns the state after observing a verdict.
func (s State) Advance(verdict alert.Verdict, at time.Time) State {
	next := s
	next.CurrentStatus = verdict
	next.LastExecutedAt = &at
	next.UpdatedAt = at
	switch verdict {
	case alert.VerdictAlert:
		next.LastAlertAt = &at
		next.ConsecutiveAlerts++
		next.ConsecutiveOKs = 0
	case alert.VerdictOK:
		next.LastOKAt = &at
		next.ConsecutiveOKs++
		next.ConsecutiveAlerts = 0
	default:
		// ERROR leaves both streaks untouched; a transient query failure
		// is neither an alert nor a recovery.
	}
	return next
}

type Filter struct {
	AlertName string
	Limit     int
}

const defaultListLimit = 100

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// Stats summarizes recent executions of one alert.
type Stats struct {
	Total         int     `json:"total"`
	Alerts        int     `json:"alerts"`
	OKs           int     `json:"oks"`
	Errors        int     `json:"errors"`
	AvgDurationMs float64 `json:"avgDurationMs"`
	MinDurationMs float64 `json:"minDurationMs"`
	MaxDurationMs float64 `json:"maxDurationMs"`
}

// Store is the state-database contract. Implementations must make every
// write a single atomic transaction and tolerate concurrent writers.
type Store interface {
	// Init creates the schema. Safe to call on an initialized store.
	Init(ctx context.Context) error

	// Record appends one execution and returns it with its sequence id.
	Record(ctx context.Context, res alert.ExecutionResult, query string) (Record, error)

	// List returns records most-recent-first.
	List(ctx context.Context, f Filter) ([]Record, error)

	Stats(ctx context.Context, alertName string, window time.Duration) (Stats, error)

	// Prune deletes records older than the cutoff. Administrative only;
	// the engine never calls it.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)

	// GetState returns the zero State for alerts never executed.
	GetState(ctx context.Context, alertName string) (State, error)
	PutState(ctx context.Context, s State) error
	ListStates(ctx context.Context) ([]State, error)
	Silence(ctx context.Context, alertName string, until *time.Time) error

	RecordAttempts(ctx context.Context, attempts []Attempt) error
	ListAttempts(ctx context.Context, runID string) ([]Attempt, error)

	Ping(ctx context.Context) error
	Close() error
}

// PersistenceError marks a failed history write. The orchestrator treats
// it as fatal for that alert's run: no notification goes out for a result
// that has no audit trail.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("history %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Open selects the store implementation by the state-db URL scheme:
// sqlite or postgres.
func Open(ctx context.Context, stateURL string) (Store, error) {
	trimmed := strings.TrimSpace(stateURL)
	if trimmed == "" {
		return nil, fmt.Errorf("state database URL is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse state database URL: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "sqlite":
		return openSQLiteStore(trimmed)
	case "postgres", "postgresql":
		return openPostgresStore(ctx, trimmed)
	default:
		return nil, fmt.Errorf("unsupported state database scheme %q", parsed.Scheme)
	}
}

func formatValue(v any) *string {
	if v == nil {
		return nil
	}
	s := fmt.Sprint(v)
	return &s
}
