package db

import (
	"net/url"

	_ "github.com/microsoft/go-mssqldb"
)

func newMSSQLQuerier(parsed *url.URL, opts Options) (*sqlQuerier, error) {
	// go-mssqldb accepts URL-form DSNs under the sqlserver scheme.
	normalized := *parsed
	normalized.Scheme = "sqlserver"
	return openDatabase("sqlserver", normalized.String(), opts)
}
