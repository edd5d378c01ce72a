package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Open constructs the backend matching the connection URL's scheme.
// Supported schemes: sqlite, postgres/postgresql, mysql, sqlserver/mssql,
// bigquery.
func Open(connURL string, opts Options) (Querier, error) {
	trimmed := strings.TrimSpace(connURL)
	if trimmed == "" {
		return nil, errors.New("connection URL is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse connection URL: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "sqlite":
		return newSQLiteQuerier(trimmed, opts)
	case "postgres", "postgresql":
		return newPostgresQuerier(trimmed, opts)
	case "mysql":
		return newMySQLQuerier(parsed, opts)
	case "sqlserver", "mssql":
		return newMSSQLQuerier(parsed, opts)
	case "bigquery":
		return newBigQueryQuerier(parsed, opts)
	default:
		return nil, fmt.Errorf("unsupported database scheme %q", parsed.Scheme)
	}
}

func openDatabase(driverName, dsn string, opts Options) (*sqlQuerier, error) {
	handle, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Err: err}
	}
	return &sqlQuerier{db: handle, timeout: opts.timeout()}, nil
}
