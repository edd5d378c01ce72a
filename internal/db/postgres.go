package db

import (
	"strings"

	_ "github.com/lib/pq"
)

func newPostgresQuerier(connURL string, opts Options) (*sqlQuerier, error) {
	// lib/pq accepts URL-form DSNs directly; normalize the postgresql
	// alias so both spellings work.
	dsn := connURL
	if strings.HasPrefix(dsn, "postgresql://") {
		dsn = "postgres://" + strings.TrimPrefix(dsn, "postgresql://")
	}
	return openDatabase("postgres", dsn, opts)
}
