package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kyle-gehring/sqlsentinel-sub002/internal/alert"
)

type postgresStore struct {
	pool *pgxpool.Pool
}

func openPostgresStore(ctx context.Context, dsn string) (*postgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, &PersistenceError{Op: "open", Err: err}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, &PersistenceError{Op: "open", Err: err}
	}
	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sqlsentinel_executions (
			seq           BIGSERIAL PRIMARY KEY,
			run_id        TEXT NOT NULL,
			alert_name    TEXT NOT NULL,
			executed_at   TIMESTAMPTZ NOT NULL,
			duration_ms   DOUBLE PRECISION NOT NULL,
			verdict       TEXT NOT NULL,
			actual_value  TEXT,
			threshold     TEXT,
			query         TEXT NOT NULL,
			err_kind      TEXT,
			err_message   TEXT,
			triggered_by  TEXT NOT NULL,
			context_data  JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sqlsentinel_executions_alert
			ON sqlsentinel_executions(alert_name, executed_at DESC)`,
		`CREATE TABLE IF NOT EXISTS sqlsentinel_state (
			alert_name         TEXT PRIMARY KEY,
			current_status     TEXT,
			last_executed_at   TIMESTAMPTZ,
			last_alert_at      TIMESTAMPTZ,
			last_ok_at         TIMESTAMPTZ,
			consecutive_alerts INTEGER NOT NULL DEFAULT 0,
			consecutive_oks    INTEGER NOT NULL DEFAULT 0,
			silenced_until     TIMESTAMPTZ,
			updated_at         TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sqlsentinel_notifications (
			id          BIGSERIAL PRIMARY KEY,
			run_id      TEXT NOT NULL,
			alert_name  TEXT NOT NULL,
			channel     TEXT NOT NULL,
			status      TEXT NOT NULL,
			attempts    INTEGER NOT NULL,
			last_error  TEXT,
			created_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sqlsentinel_notifications_run
			ON sqlsentinel_notifications(run_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return &PersistenceError{Op: "init", Err: err}
		}
	}
	return nil
}

func (s *postgresStore) Record(ctx context.Context, res alert.ExecutionResult, query string) (Record, error) {
	rec := recordFromResult(res, query)
	var contextJSON []byte
	if len(rec.Context) > 0 {
		var err error
		contextJSON, err = json.Marshal(rec.Context)
		if err != nil {
			return Record{}, &PersistenceError{Op: "record", Err: err}
		}
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO sqlsentinel_executions
		(run_id, alert_name, executed_at, duration_ms, verdict, actual_value, threshold, query, err_kind, err_message, triggered_by, context_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq`,
		rec.RunID,
		rec.AlertName,
		rec.ExecutedAt.UTC(),
		rec.DurationMillis,
		string(rec.Verdict),
		rec.ActualValue,
		rec.Threshold,
		rec.Query,
		nilIfEmpty(rec.ErrKind),
		nilIfEmpty(rec.ErrMessage),
		rec.TriggeredBy,
		contextJSON,
	)
	if err := row.Scan(&rec.Seq); err != nil {
		return Record{}, &PersistenceError{Op: "record", Err: err}
	}
	return rec, nil
}

func (s *postgresStore) List(ctx context.Context, f Filter) ([]Record, error) {
	stmt := `SELECT seq, run_id, alert_name, executed_at, duration_ms, verdict, actual_value, threshold, query, err_kind, err_message, triggered_by, context_data
		FROM sqlsentinel_executions`
	args := []any{}
	if f.AlertName != "" {
		stmt += ` WHERE alert_name = $1 ORDER BY seq DESC LIMIT $2`
		args = append(args, f.AlertName, f.limit())
	} else {
		stmt += ` ORDER BY seq DESC LIMIT $1`
		args = append(args, f.limit())
	}
	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()
	records := []Record{}
	for rows.Next() {
		var (
			rec         Record
			verdict     string
			errKind     *string
			errMessage  *string
			contextData []byte
		)
		if err := rows.Scan(
			&rec.Seq,
			&rec.RunID,
			&rec.AlertName,
			&rec.ExecutedAt,
			&rec.DurationMillis,
			&verdict,
			&rec.ActualValue,
			&rec.Threshold,
			&rec.Query,
			&errKind,
			&errMessage,
			&rec.TriggeredBy,
			&contextData,
		); err != nil {
			return nil, &PersistenceError{Op: "list", Err: err}
		}
		rec.Verdict = alert.Verdict(verdict)
		if errKind != nil {
			rec.ErrKind = *errKind
		}
		if errMessage != nil {
			rec.ErrMessage = *errMessage
		}
		if len(contextData) > 0 {
			_ = json.Unmarshal(contextData, &rec.Context)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	return records, nil
}

func (s *postgresStore) Stats(ctx context.Context, alertName string, window time.Duration) (Stats, error) {
	cutoff := time.Now().UTC().Add(-window)
	row := s.pool.QueryRow(ctx, `SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN verdict = 'ALERT' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN verdict = 'OK' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN verdict = 'ERROR' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(duration_ms), 0),
			COALESCE(MIN(duration_ms), 0),
			COALESCE(MAX(duration_ms), 0)
		FROM sqlsentinel_executions
		WHERE alert_name = $1 AND executed_at >= $2`, alertName, cutoff)
	var stats Stats
	if err := row.Scan(&stats.Total, &stats.Alerts, &stats.OKs, &stats.Errors, &stats.AvgDurationMs, &stats.MinDurationMs, &stats.MaxDurationMs); err != nil {
		return Stats{}, &PersistenceError{Op: "stats", Err: err}
	}
	return stats, nil
}

func (s *postgresStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sqlsentinel_executions WHERE executed_at < $1`, olderThan.UTC())
	if err != nil {
		return 0, &PersistenceError{Op: "prune", Err: err}
	}
	return tag.RowsAffected(), nil
}

func (s *postgresStore) GetState(ctx context.Context, alertName string) (State, error) {
	row := s.pool.QueryRow(ctx, `SELECT alert_name, current_status, last_executed_at, last_alert_at, last_ok_at, consecutive_alerts, consecutive_oks, silenced_until, updated_at
		FROM sqlsentinel_state WHERE alert_name = $1`, alertName)
	state, err := scanPGState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return State{AlertName: alertName}, nil
	}
	if err != nil {
		return State{}, &PersistenceError{Op: "get state", Err: err}
	}
	return state, nil
}

func (s *postgresStore) PutState(ctx context.Context, state State) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO sqlsentinel_state
		(alert_name, current_status, last_executed_at, last_alert_at, last_ok_at, consecutive_alerts, consecutive_oks, silenced_until, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (alert_name) DO UPDATE SET
			current_status = EXCLUDED.current_status,
			last_executed_at = EXCLUDED.last_executed_at,
			last_alert_at = EXCLUDED.last_alert_at,
			last_ok_at = EXCLUDED.last_ok_at,
			consecutive_alerts = EXCLUDED.consecutive_alerts,
			consecutive_oks = EXCLUDED.consecutive_oks,
			silenced_until = EXCLUDED.silenced_until,
			updated_at = EXCLUDED.updated_at`,
		state.AlertName,
		nilIfEmpty(string(state.CurrentStatus)),
		state.LastExecutedAt,
		state.LastAlertAt,
		state.LastOKAt,
		state.ConsecutiveAlerts,
		state.ConsecutiveOKs,
		state.SilencedUntil,
		state.UpdatedAt.UTC(),
	)
	if err != nil {
		return &PersistenceError{Op: "put state", Err: err}
	}
	return nil
}

func (s *postgresStore) ListStates(ctx context.Context) ([]State, error) {
	rows, err := s.pool.Query(ctx, `SELECT alert_name, current_status, last_executed_at, last_alert_at, last_ok_at, consecutive_alerts, consecutive_oks, silenced_until, updated_at
		FROM sqlsentinel_state ORDER BY alert_name`)
	if err != nil {
		return nil, &PersistenceError{Op: "list states", Err: err}
	}
	defer rows.Close()
	states := []State{}
	for rows.Next() {
		state, err := scanPGState(rows)
		if err != nil {
			return nil, &PersistenceError{Op: "list states", Err: err}
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list states", Err: err}
	}
	return states, nil
}

func (s *postgresStore) Silence(ctx context.Context, alertName string, until *time.Time) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO sqlsentinel_state (alert_name, silenced_until, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (alert_name) DO UPDATE SET
			silenced_until = EXCLUDED.silenced_until,
			updated_at = EXCLUDED.updated_at`,
		alertName, until)
	if err != nil {
		return &PersistenceError{Op: "silence", Err: err}
	}
	return nil
}

func (s *postgresStore) RecordAttempts(ctx context.Context, attempts []Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &PersistenceError{Op: "record attempts", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for _, a := range attempts {
		if _, err := tx.Exec(ctx, `INSERT INTO sqlsentinel_notifications
			(run_id, alert_name, channel, status, attempts, last_error, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			a.RunID, a.AlertName, a.Channel, a.Status, a.Attempts, nilIfEmpty(a.LastError), a.CreatedAt.UTC(),
		); err != nil {
			return &PersistenceError{Op: "record attempts", Err: err}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return &PersistenceError{Op: "record attempts", Err: err}
	}
	return nil
}

func (s *postgresStore) ListAttempts(ctx context.Context, runID string) ([]Attempt, error) {
	rows, err := s.pool.Query(ctx, `SELECT run_id, alert_name, channel, status, attempts, last_error, created_at
		FROM sqlsentinel_notifications WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, &PersistenceError{Op: "list attempts", Err: err}
	}
	defer rows.Close()
	attempts := []Attempt{}
	for rows.Next() {
		var a Attempt
		var lastError *string
		if err := rows.Scan(&a.RunID, &a.AlertName, &a.Channel, &a.Status, &a.Attempts, &lastError, &a.CreatedAt); err != nil {
			return nil, &PersistenceError{Op: "list attempts", Err: err}
		}
		if lastError != nil {
			a.LastError = *lastError
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list attempts", Err: err}
	}
	return attempts, nil
}

func (s *postgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPGState(row pgx.Row) (State, error) {
	var (
		state         State
		currentStatus *string
	)
	if err := row.Scan(
		&state.AlertName,
		&currentStatus,
		&state.LastExecutedAt,
		&state.LastAlertAt,
		&state.LastOKAt,
		&state.ConsecutiveAlerts,
		&state.ConsecutiveOKs,
		&state.SilencedUntil,
		&state.UpdatedAt,
	); err != nil {
		return State{}, err
	}
	if currentStatus != nil {
		state.CurrentStatus = alert.Verdict(*currentStatus)
	}
	return state, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
