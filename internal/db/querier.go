// Package db executes alert queries against target databases. Each
// backend normalizes driver types so callers never see backend-specific
// values.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const DefaultTimeout = 30 * time.Second

// Row is one result row with column order preserved.
type Row struct {
	Columns []string
	Values  map[string]any
}

func (r Row) Get(col string) (any, bool) {
	v, ok := r.Values[col]
	return v, ok
}

// Querier is the capability set every backend implements.
type Querier interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, query string) ([]Row, error)
	Close() error
}

type Options struct {
	Timeout time.Duration
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

type ErrKind string

const (
	KindConnection ErrKind = "connection"
	KindQuery      ErrKind = "query"
	KindTimeout    ErrKind = "timeout"
)

// Error tags a backend failure with its kind so callers can report
// timeouts and connection failures distinctly from bad SQL.
type Error struct {
	Kind ErrKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Kind extracts the error kind, defaulting to query for untagged errors.
func Kind(err error) ErrKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindQuery
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindQuery, Err: err}
}

// sqlQuerier is the shared implementation for every database/sql-backed
// backend.
type sqlQuerier struct {
	db      *sql.DB
	timeout time.Duration
}

func (q *sqlQuerier) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	if err := q.db.PingContext(ctx); err != nil {
		return &Error{Kind: KindConnection, Err: err}
	}
	return nil
}

func (q *sqlQuerier) Query(ctx context.Context, query string) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer rows.Close()
	results, err := scanRows(rows)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return results, nil
}

func (q *sqlQuerier) Close() error {
	if q.db == nil {
		return nil
	}
	return q.db.Close()
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	results := []Row{}
	for rows.Next() {
		values := make([]any, len(cols))
		for i := range values {
			var v any
			values[i] = &v
		}
		if err := rows.Scan(values...); err != nil {
			return nil, err
		}
		row := Row{Columns: cols, Values: make(map[string]any, len(cols))}
		for i, col := range cols {
			v := *(values[i].(*any))
			row.Values[col] = normalizeValue(v)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	default:
		return t
	}
}
