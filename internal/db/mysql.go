package db

import (
	"fmt"
	"net/url"

	_ "github.com/go-sql-driver/mysql"
)

// newMySQLQuerier rewrites the URL form into the DSN format the mysql
// driver expects: user:pass@tcp(host:port)/dbname.
func newMySQLQuerier(parsed *url.URL, opts Options) (*sqlQuerier, error) {
	host := parsed.Hostname()
	if host == "" {
		return nil, &Error{Kind: KindConnection, Err: fmt.Errorf("mysql URL is missing a host")}
	}
	port := parsed.Port()
	if port == "" {
		port = "3306"
	}
	creds := ""
	if parsed.User != nil {
		creds = parsed.User.Username()
		if password, ok := parsed.User.Password(); ok {
			creds += ":" + password
		}
		creds += "@"
	}
	dbName := ""
	if len(parsed.Path) > 1 {
		dbName = parsed.Path[1:]
	}
	query := parsed.Query()
	if query.Get("parseTime") == "" {
		query.Set("parseTime", "true")
	}
	dsn := fmt.Sprintf("%stcp(%s:%s)/%s?%s", creds, host, port, dbName, query.Encode())
	return openDatabase("mysql", dsn, opts)
}
