package db

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// bigQueryQuerier runs alert queries against BigQuery. The URL form is
// bigquery://project-id/dataset?credentials=/path/key.json&location=US
// with dataset, credentials and location all optional.
type bigQueryQuerier struct {
	client  *bigquery.Client
	project string
	dataset string
	locale  string
	timeout time.Duration
}

func newBigQueryQuerier(parsed *url.URL, opts Options) (*bigQueryQuerier, error) {
	project := parsed.Host
	if project == "" {
		return nil, &Error{Kind: KindConnection, Err: fmt.Errorf("bigquery URL is missing a project id")}
	}
	dataset := strings.TrimPrefix(parsed.Path, "/")
	params := parsed.Query()
	locale := params.Get("location")
	if locale == "" {
		locale = "US"
	}
	var clientOpts []option.ClientOption
	if creds := params.Get("credentials"); creds != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(creds))
	}
	client, err := bigquery.NewClient(context.Background(), project, clientOpts...)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Err: fmt.Errorf("create bigquery client: %w", err)}
	}
	return &bigQueryQuerier{
		client:  client,
		project: project,
		dataset: dataset,
		locale:  locale,
		timeout: opts.timeout(),
	}, nil
}

func (q *bigQueryQuerier) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	_, err := q.run(ctx, "SELECT 1")
	if err != nil {
		return &Error{Kind: KindConnection, Err: err}
	}
	return nil
}

func (q *bigQueryQuerier) Query(ctx context.Context, query string) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	rows, err := q.run(ctx, query)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return rows, nil
}

func (q *bigQueryQuerier) run(ctx context.Context, query string) ([]Row, error) {
	job := q.client.Query(query)
	job.Location = q.locale
	if q.dataset != "" {
		job.DefaultProjectID = q.project
		job.DefaultDatasetID = q.dataset
	}
	it, err := job.Read(ctx)
	if err != nil {
		return nil, err
	}
	results := []Row{}
	for {
		var values []bigquery.Value
		err := it.Next(&values)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		cols := make([]string, len(it.Schema))
		row := Row{Values: make(map[string]any, len(it.Schema))}
		for i, field := range it.Schema {
			cols[i] = field.Name
			var v any
			if i < len(values) {
				v = normalizeBigQueryValue(values[i])
			}
			row.Values[field.Name] = v
		}
		row.Columns = cols
		results = append(results, row)
	}
	return results, nil
}

func (q *bigQueryQuerier) Close() error {
	return q.client.Close()
}

func normalizeBigQueryValue(v bigquery.Value) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case []bigquery.Value:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeBigQueryValue(item)
		}
		return out
	default:
		return t
	}
}
