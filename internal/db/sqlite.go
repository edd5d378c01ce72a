package db

import (
	"errors"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLitePath converts a sqlite URL to a filesystem path. sqlite:///x.db is
// relative, sqlite:////var/x.db is absolute, matching the convention the
// documentation uses.
func SQLitePath(connURL string) (string, error) {
	rest := strings.TrimPrefix(connURL, "sqlite://")
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return "", errors.New("sqlite URL has no path")
	}
	return rest, nil
}

func newSQLiteQuerier(connURL string, opts Options) (*sqlQuerier, error) {
	path, err := SQLitePath(connURL)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Err: err}
	}
	return openDatabase("sqlite", path, opts)
}
