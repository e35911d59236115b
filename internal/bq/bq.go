// Package bq wraps the BigQuery operations shared by the sync jobs: CSV load
// jobs with explicit schemas, temp-to-target table promotion, and small
// scalar queries.
package bq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is the subset of BigQuery operations the sync jobs depend on.
// The production implementation is Client; tests substitute fakes.
type Store interface {
	LoadCSV(ctx context.Context, dataset, table string, r io.Reader, opts LoadOptions) error
	ReplaceTable(ctx context.Context, sourceDataset, sourceTable, targetDataset, targetTable string) error
	DeleteTable(ctx context.Context, dataset, table string) error
	MaxTimestamp(ctx context.Context, dataset, table, column string) (time.Time, bool, error)
	QueryStrings(ctx context.Context, query string) ([]string, error)
}

// LoadOptions controls a CSV load job.
type LoadOptions struct {
	// Schema is the explicit destination schema. Required; autodetect is not
	// used so that column types stay stable across loads.
	Schema bigquery.Schema
	// Append appends to the destination instead of truncating it.
	Append bool
	// SkipLeadingRows skips CSV header rows.
	SkipLeadingRows int64
	// NullMarker is the string treated as NULL in the CSV input.
	NullMarker string
	// AllowQuotedNewlines permits newlines inside quoted fields.
	AllowQuotedNewlines bool
}

// Client is the BigQuery backed Store.
type Client struct {
	bq *bigquery.Client
}

// NewClient creates a BigQuery client using ambient credentials.
func NewClient(ctx context.Context, projectID string) (*Client, error) {
	c, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	return &Client{bq: c}, nil
}

// Close releases the underlying API client.
func (c *Client) Close() error {
	return c.bq.Close()
}

// LoadCSV runs a load job from r into dataset.table and waits for it to finish.
func (c *Client) LoadCSV(ctx context.Context, dataset, table string, r io.Reader, opts LoadOptions) error {
	source := bigquery.NewReaderSource(r)
	source.SourceFormat = bigquery.CSV
	source.Schema = opts.Schema
	source.SkipLeadingRows = opts.SkipLeadingRows
	source.NullMarker = opts.NullMarker
	source.AllowQuotedNewlines = opts.AllowQuotedNewlines

	loader := c.bq.Dataset(dataset).Table(table).LoaderFrom(source)
	loader.WriteDisposition = bigquery.WriteTruncate
	if opts.Append {
		loader.WriteDisposition = bigquery.WriteAppend
	}
	loader.CreateDisposition = bigquery.CreateIfNeeded

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("start load into %s.%s: %w", dataset, table, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait for load into %s.%s: %w", dataset, table, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("load into %s.%s: %w", dataset, table, err)
	}
	return nil
}

// ReplaceTable atomically replaces the target table with the contents of the
// source table, which may live in a different dataset. Staged loads are
// promoted this way so a mid-run failure never leaves a half-written target.
func (c *Client) ReplaceTable(ctx context.Context, sourceDataset, sourceTable, targetDataset, targetTable string) error {
	stmt, err := replaceTableSQL(sourceDataset, sourceTable, targetDataset, targetTable)
	if err != nil {
		return err
	}

	job, err := c.bq.Query(stmt).Run(ctx)
	if err != nil {
		return fmt.Errorf("start replace of %s.%s: %w", targetDataset, targetTable, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait for replace of %s.%s: %w", targetDataset, targetTable, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("replace %s.%s: %w", targetDataset, targetTable, err)
	}
	return nil
}

// DeleteTable removes a table, ignoring the case where it does not exist.
func (c *Client) DeleteTable(ctx context.Context, dataset, table string) error {
	if err := c.bq.Dataset(dataset).Table(table).Delete(ctx); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete %s.%s: %w", dataset, table, err)
	}
	return nil
}

// MaxTimestamp returns the greatest value of a TIMESTAMP column. The second
// return value is false when the table does not exist yet, is empty, or the
// column is all NULL, so callers can bootstrap against a fresh dataset.
func (c *Client) MaxTimestamp(ctx context.Context, dataset, table, column string) (time.Time, bool, error) {
	stmt, err := maxTimestampSQL(dataset, table, column)
	if err != nil {
		return time.Time{}, false, err
	}

	it, err := c.bq.Query(stmt).Read(ctx)
	if err != nil {
		if isNotFound(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("query max %s of %s.%s: %w", column, dataset, table, err)
	}

	var row []bigquery.Value
	if err := it.Next(&row); err != nil {
		if err == iterator.Done {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("read max %s of %s.%s: %w", column, dataset, table, err)
	}
	if len(row) == 0 || row[0] == nil {
		return time.Time{}, false, nil
	}

	ts, ok := row[0].(time.Time)
	if !ok {
		return time.Time{}, false, fmt.Errorf("max %s of %s.%s: unexpected value type %T", column, dataset, table, row[0])
	}
	return ts, true, nil
}

// QueryStrings runs a query whose result is a single STRING column and
// returns the values in order. A missing source table yields an empty slice
// so first runs against a fresh dataset work.
func (c *Client) QueryStrings(ctx context.Context, query string) ([]string, error) {
	it, err := c.bq.Query(query).Read(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("run query: %w", err)
	}

	var out []string
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read query row: %w", err)
		}
		if len(row) == 0 || row[0] == nil {
			continue
		}
		s, ok := row[0].(string)
		if !ok {
			return nil, fmt.Errorf("query row: unexpected value type %T", row[0])
		}
		out = append(out, s)
	}
	return out, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// replaceTableSQL builds the CREATE OR REPLACE statement used for temp-to-target
// promotion. Identifiers are validated rather than quoted.
func replaceTableSQL(sourceDataset, sourceTable, targetDataset, targetTable string) (string, error) {
	for _, ident := range []string{sourceDataset, sourceTable, targetDataset, targetTable} {
		if !identRe.MatchString(ident) {
			return "", fmt.Errorf("invalid identifier %q", ident)
		}
	}
	return fmt.Sprintf("CREATE OR REPLACE TABLE `%s.%s` AS SELECT * FROM `%s.%s`",
		targetDataset, targetTable, sourceDataset, sourceTable), nil
}

func maxTimestampSQL(dataset, table, column string) (string, error) {
	for _, ident := range []string{dataset, table, column} {
		if !identRe.MatchString(ident) {
			return "", fmt.Errorf("invalid identifier %q", ident)
		}
	}
	return fmt.Sprintf("SELECT MAX(%s) FROM `%s.%s`", column, dataset, table), nil
}
