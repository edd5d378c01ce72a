package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/kyle-gehring/sqlsentinel-sub002/internal/alert"
	"github.com/kyle-gehring/sqlsentinel-sub002/internal/db"
	_ "modernc.org/sqlite"
)

// sqliteTimeFormat is RFC3339 with a fixed-width fractional part.
// Timestamps are compared as text in WHERE clauses, and trimming trailing
// zeros would break lexicographic ordering for sub-second values.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteStore struct {
	db *sql.DB
}

func openSQLiteStore(stateURL string) (*sqliteStore, error) {
	path, err := db.SQLitePath(stateURL)
	if err != nil {
		return nil, err
	}
	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &PersistenceError{Op: "open", Err: err}
	}
	if _, err := handle.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = handle.Close()
		return nil, &PersistenceError{Op: "open", Err: err}
	}
	if _, err := handle.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = handle.Close()
		return nil, &PersistenceError{Op: "open", Err: err}
	}
	return &sqliteStore{db: handle}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sqlsentinel_executions (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id        TEXT NOT NULL,
			alert_name    TEXT NOT NULL,
			executed_at   TEXT NOT NULL,
			duration_ms   REAL NOT NULL,
			verdict       TEXT NOT NULL,
			actual_value  TEXT,
			threshold     TEXT,
			query         TEXT NOT NULL,
			err_kind      TEXT,
			err_message   TEXT,
			triggered_by  TEXT NOT NULL,
			context_data  TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sqlsentinel_executions_alert
			ON sqlsentinel_executions(alert_name, executed_at DESC)`,
		`CREATE TABLE IF NOT EXISTS sqlsentinel_state (
			alert_name         TEXT PRIMARY KEY,
			current_status     TEXT,
			last_executed_at   TEXT,
			last_alert_at      TEXT,
			last_ok_at         TEXT,
			consecutive_alerts INTEGER NOT NULL DEFAULT 0,
			consecutive_oks    INTEGER NOT NULL DEFAULT 0,
			silenced_until     TEXT,
			updated_at         TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sqlsentinel_notifications (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT NOT NULL,
			alert_name  TEXT NOT NULL,
			channel     TEXT NOT NULL,
			status      TEXT NOT NULL,
			attempts    INTEGER NOT NULL,
			last_error  TEXT,
			created_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sqlsentinel_notifications_run
			ON sqlsentinel_notifications(run_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &PersistenceError{Op: "init", Err: err}
		}
	}
	return nil
}

func (s *sqliteStore) Record(ctx context.Context, res alert.ExecutionResult, query string) (Record, error) {
	contextJSON, err := marshalContext(res.Context)
	if err != nil {
		return Record{}, &PersistenceError{Op: "record", Err: err}
	}
	rec := recordFromResult(res, query)
	out, err := s.db.ExecContext(ctx, `INSERT INTO sqlsentinel_executions
		(run_id, alert_name, executed_at, duration_ms, verdict, actual_value, threshold, query, err_kind, err_message, triggered_by, context_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.AlertName,
		rec.ExecutedAt.UTC().Format(sqliteTimeFormat),
		rec.DurationMillis,
		string(rec.Verdict),
		nullableString(rec.ActualValue),
		nullableString(rec.Threshold),
		rec.Query,
		rec.ErrKind,
		rec.ErrMessage,
		rec.TriggeredBy,
		contextJSON,
	)
	if err != nil {
		return Record{}, &PersistenceError{Op: "record", Err: err}
	}
	seq, err := out.LastInsertId()
	if err != nil {
		return Record{}, &PersistenceError{Op: "record", Err: err}
	}
	rec.Seq = seq
	return rec, nil
}

func (s *sqliteStore) List(ctx context.Context, f Filter) ([]Record, error) {
	stmt := `SELECT seq, run_id, alert_name, executed_at, duration_ms, verdict, actual_value, threshold, query, err_kind, err_message, triggered_by, context_data
		FROM sqlsentinel_executions`
	args := []any{}
	if f.AlertName != "" {
		stmt += ` WHERE alert_name = ?`
		args = append(args, f.AlertName)
	}
	stmt += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, f.limit())
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()
	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &PersistenceError{Op: "list", Err: err}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	return records, nil
}

func (s *sqliteStore) Stats(ctx context.Context, alertName string, window time.Duration) (Stats, error) {
	cutoff := time.Now().UTC().Add(-window).Format(sqliteTimeFormat)
	row := s.db.QueryRowContext(ctx, `SELECT
			COUNT(*),
			SUM(CASE WHEN verdict = 'ALERT' THEN 1 ELSE 0 END),
			SUM(CASE WHEN verdict = 'OK' THEN 1 ELSE 0 END),
			SUM(CASE WHEN verdict = 'ERROR' THEN 1 ELSE 0 END),
			COALESCE(AVG(duration_ms), 0),
			COALESCE(MIN(duration_ms), 0),
			COALESCE(MAX(duration_ms), 0)
		FROM sqlsentinel_executions
		WHERE alert_name = ? AND executed_at >= ?`, alertName, cutoff)
	return scanStats(row)
}

func (s *sqliteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	out, err := s.db.ExecContext(ctx,
		`DELETE FROM sqlsentinel_executions WHERE executed_at < ?`,
		olderThan.UTC().Format(sqliteTimeFormat))
	if err != nil {
		return 0, &PersistenceError{Op: "prune", Err: err}
	}
	deleted, err := out.RowsAffected()
	if err != nil {
		return 0, &PersistenceError{Op: "prune", Err: err}
	}
	return deleted, nil
}

func (s *sqliteStore) GetState(ctx context.Context, alertName string) (State, error) {
	row := s.db.QueryRowContext(ctx, `SELECT alert_name, current_status, last_executed_at, last_alert_at, last_ok_at, consecutive_alerts, consecutive_oks, silenced_until, updated_at
		FROM sqlsentinel_state WHERE alert_name = ?`, alertName)
	state, err := scanState(row)
	if err == sql.ErrNoRows {
		return State{AlertName: alertName}, nil
	}
	if err != nil {
		return State{}, &PersistenceError{Op: "get state", Err: err}
	}
	return state, nil
}

func (s *sqliteStore) PutState(ctx context.Context, state State) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sqlsentinel_state
		(alert_name, current_status, last_executed_at, last_alert_at, last_ok_at, consecutive_alerts, consecutive_oks, silenced_until, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(alert_name) DO UPDATE SET
			current_status = excluded.current_status,
			last_executed_at = excluded.last_executed_at,
			last_alert_at = excluded.last_alert_at,
			last_ok_at = excluded.last_ok_at,
			consecutive_alerts = excluded.consecutive_alerts,
			consecutive_oks = excluded.consecutive_oks,
			silenced_until = excluded.silenced_until,
			updated_at = excluded.updated_at`,
		state.AlertName,
		string(state.CurrentStatus),
		nullableTime(state.LastExecutedAt),
		nullableTime(state.LastAlertAt),
		nullableTime(state.LastOKAt),
		state.ConsecutiveAlerts,
		state.ConsecutiveOKs,
		nullableTime(state.SilencedUntil),
		state.UpdatedAt.UTC().Format(sqliteTimeFormat),
	)
	if err != nil {
		return &PersistenceError{Op: "put state", Err: err}
	}
	return nil
}

func (s *sqliteStore) ListStates(ctx context.Context) ([]State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT alert_name, current_status, last_executed_at, last_alert_at, last_ok_at, consecutive_alerts, consecutive_oks, silenced_until, updated_at
		FROM sqlsentinel_state ORDER BY alert_name`)
	if err != nil {
		return nil, &PersistenceError{Op: "list states", Err: err}
	}
	defer rows.Close()
	states := []State{}
	for rows.Next() {
		state, err := scanState(rows)
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

func (s *sqliteStore) Silence(ctx context.Context, alertName string, until *time.Time) error {
	now := time.Now().UTC().Format(sqliteTimeFormat)
	_, err := s.db.ExecContext(ctx, `INSERT INTO sqlsentinel_state (alert_name, silenced_until, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(alert_name) DO UPDATE SET
			silenced_until = excluded.silenced_until,
			updated_at = excluded.updated_at`,
		alertName, nullableTime(until), now)
	if err != nil {
		return &PersistenceError{Op: "silence", Err: err}
	}
	return nil
}

func (s *sqliteStore) RecordAttempts(ctx context.Context, attempts []Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "record attempts", Err: err}
	}
	defer func() { _ = tx.Rollback() }()
	for _, a := range attempts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO sqlsentinel_notifications
			(run_id, alert_name, channel, status, attempts, last_error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.RunID, a.AlertName, a.Channel, a.Status, a.Attempts, a.LastError,
			a.CreatedAt.UTC().Format(sqliteTimeFormat),
		); err != nil {
			return &PersistenceError{Op: "record attempts", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "record attempts", Err: err}
	}
	return nil
}

func (s *sqliteStore) ListAttempts(ctx context.Context, runID string) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, alert_name, channel, status, attempts, last_error, created_at
		FROM sqlsentinel_notifications WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, &PersistenceError{Op: "list attempts", Err: err}
	}
	defer rows.Close()
	attempts := []Attempt{}
	for rows.Next() {
		var a Attempt
		var lastError sql.NullString
		var createdAt string
		if err := rows.Scan(&a.RunID, &a.AlertName, &a.Channel, &a.Status, &a.Attempts, &lastError, &createdAt); err != nil {
			return nil, &PersistenceError{Op: "list attempts", Err: err}
		}
		a.LastError = lastError.String
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list attempts", Err: err}
	}
	return attempts, nil
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rec          Record
		executedAt   string
		verdict      string
		actualValue  sql.NullString
		threshold    sql.NullString
		errKind      sql.NullString
		errMessage   sql.NullString
		contextData  sql.NullString
	)
	if err := sc.Scan(
		&rec.Seq,
		&rec.RunID,
		&rec.AlertName,
		&executedAt,
		&rec.DurationMillis,
		&verdict,
		&actualValue,
		&threshold,
		&rec.Query,
		&errKind,
		&errMessage,
		&rec.TriggeredBy,
		&contextData,
	); err != nil {
		return Record{}, err
	}
	rec.ExecutedAt, _ = time.Parse(time.RFC3339Nano, executedAt)
	rec.Verdict = alert.Verdict(verdict)
	if actualValue.Valid {
		rec.ActualValue = &actualValue.String
	}
	if threshold.Valid {
		rec.Threshold = &threshold.String
	}
	rec.ErrKind = errKind.String
	rec.ErrMessage = errMessage.String
	if contextData.Valid && contextData.String != "" {
		_ = json.Unmarshal([]byte(contextData.String), &rec.Context)
	}
	return rec, nil
}

func scanState(sc scanner) (State, error) {
	var (
		state          State
		currentStatus  sql.NullString
		lastExecutedAt sql.NullString
		lastAlertAt    sql.NullString
		lastOKAt       sql.NullString
		silencedUntil  sql.NullString
		updatedAt      string
	)
	if err := sc.Scan(
		&state.AlertName,
		&currentStatus,
		&lastExecutedAt,
		&lastAlertAt,
		&lastOKAt,
		&state.ConsecutiveAlerts,
		&state.ConsecutiveOKs,
		&silencedUntil,
		&updatedAt,
	); err != nil {
		return State{}, err
	}
	state.CurrentStatus = alert.Verdict(currentStatus.String)
	state.LastExecutedAt = parseNullableTime(lastExecutedAt)
	state.LastAlertAt = parseNullableTime(lastAlertAt)
	state.LastOKAt = parseNullableTime(lastOKAt)
	state.SilencedUntil = parseNullableTime(silencedUntil)
	state.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return state, nil
}

func scanStats(sc scanner) (Stats, error) {
	var stats Stats
	var alerts, oks, errCount sql.NullInt64
	if err := sc.Scan(&stats.Total, &alerts, &oks, &errCount, &stats.AvgDurationMs, &stats.MinDurationMs, &stats.MaxDurationMs); err != nil {
		return Stats{}, &PersistenceError{Op: "stats", Err: err}
	}
	stats.Alerts = int(alerts.Int64)
	stats.OKs = int(oks.Int64)
	stats.Errors = int(errCount.Int64)
	return stats, nil
}

func recordFromResult(res alert.ExecutionResult, query string) Record {
	return Record{
		RunID:          res.RunID,
		AlertName:      res.AlertName,
		ExecutedAt:     res.StartedAt,
		DurationMillis: res.DurationMillis(),
		Verdict:        res.Verdict,
		ActualValue:    formatValue(res.ActualValue),
		Threshold:      formatValue(res.Threshold),
		Query:          query,
		ErrKind:        res.ErrKind,
		ErrMessage:     res.Err,
		TriggeredBy:    res.TriggeredBy,
		Context:        res.Context,
	}
}

func marshalContext(ctx alert.Context) (sql.NullString, error) {
	if len(ctx) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullableString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullableTime(ts *time.Time) sql.NullString {
	if ts == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: ts.UTC().Format(sqliteTimeFormat), Valid: true}
}

func parseNullableTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &ts
}
