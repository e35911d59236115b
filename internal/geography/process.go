package geography

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/CruGlobal/dot/internal/bq"
	gpubsub "github.com/CruGlobal/dot/internal/pubsub"
)

// naValues are treated as missing data and mapped to NULL, except in columns
// the dataset marks as KeepNA, where "NA" is a real country code.
var naValues = map[string]struct{}{
	"":     {},
	"NA":   {},
	"N/A":  {},
	"NULL": {},
	"null": {},
	"NaN":  {},
	"nan":  {},
	"#N/A": {},
	"<NA>": {},
	"None": {},
}

// RunConfig controls one geography refresh.
type RunConfig struct {
	// Dataset is the target BigQuery dataset.
	Dataset string
	// DBTJobID is published in the completion event so the downstream dbt
	// job can be triggered.
	DBTJobID string
}

// Runner refreshes every catalog dataset and publishes a completion event.
type Runner struct {
	fetcher   Fetcher
	store     bq.Store
	publisher gpubsub.Publisher
	logger    *slog.Logger
	cfg       RunConfig
}

// NewRunner wires a geography refresh. publisher may be nil to skip the
// completion event.
func NewRunner(fetcher Fetcher, store bq.Store, publisher gpubsub.Publisher, logger *slog.Logger, cfg RunConfig) *Runner {
	return &Runner{fetcher: fetcher, store: store, publisher: publisher, logger: logger, cfg: cfg}
}

// Run downloads, normalizes, and loads all datasets, then publishes the
// completion event. The first dataset failure aborts the run.
func (r *Runner) Run(ctx context.Context) error {
	for _, ds := range Catalog {
		if err := r.refresh(ctx, ds); err != nil {
			return fmt.Errorf("dataset %s: %w", ds.Table, err)
		}
	}

	if r.publisher != nil {
		event := map[string]string{"job_id": r.cfg.DBTJobID}
		if _, err := gpubsub.PublishJSON(ctx, r.publisher, event, nil); err != nil {
			return fmt.Errorf("publish completion event: %w", err)
		}
		r.logger.Info("published completion event", "dbt_job_id", r.cfg.DBTJobID)
	}
	return nil
}

func (r *Runner) refresh(ctx context.Context, ds Dataset) error {
	start := time.Now()

	raw, err := r.fetcher.Fetch(ctx, ds)
	if err != nil {
		return err
	}
	defer raw.Close()

	normalized, rows, err := Normalize(ds, raw)
	if err != nil {
		return err
	}

	err = r.store.LoadCSV(ctx, r.cfg.Dataset, ds.Table, bytes.NewReader(normalized), bq.LoadOptions{
		Schema:              schemaFor(ds),
		SkipLeadingRows:     1,
		AllowQuotedNewlines: true,
	})
	if err != nil {
		return err
	}

	r.logger.Info("refreshed dataset", "table", ds.Table, "rows", rows,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// schemaFor builds the load schema from the catalog's column types, so
// numeric and date columns are coerced on ingest.
func schemaFor(ds Dataset) bigquery.Schema {
	schema := make(bigquery.Schema, 0, len(ds.Columns))
	for _, col := range ds.Columns {
		schema = append(schema, &bigquery.FieldSchema{Name: col.Name, Type: col.Type})
	}
	return schema
}

// Normalize converts a raw dataset file into standard CSV with the catalog's
// column names as header. Comment lines and header rows are dropped, short
// rows are padded, long rows truncated, and NA markers blanked. It returns
// the CSV bytes and the data row count.
func Normalize(ds Dataset, r io.Reader) ([]byte, int, error) {
	keep := make(map[int]struct{})
	for i, col := range ds.Columns {
		for _, k := range ds.KeepNA {
			if col.Name == k {
				keep[i] = struct{}{}
			}
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write(ds.ColumnNames())

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)

	rows := 0
	lineNo := 0
	for scanner.Scan() {
		line := scanner.Text()
		lineNo++
		if lineNo <= ds.SkipRows {
			continue
		}
		if ds.CommentPrefix != "" && strings.HasPrefix(line, ds.CommentPrefix) {
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields, err := splitRow(ds, line)
		if err != nil {
			return nil, 0, fmt.Errorf("line %d: %w", lineNo, err)
		}

		record := make([]string, len(ds.Columns))
		for i := range record {
			if i >= len(fields) {
				break
			}
			v := strings.TrimSpace(fields[i])
			if _, isNA := naValues[v]; isNA {
				if _, keepCol := keep[i]; !keepCol || v != "NA" {
					v = ""
				}
			}
			record[i] = v
		}
		w.Write(record)
		rows++
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read source: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), rows, nil
}

// splitRow parses one source line. Tab-delimited GeoNames files are plain
// splits; comma-delimited MaxMind files use CSV quoting.
func splitRow(ds Dataset, line string) ([]string, error) {
	if ds.Comma == '\t' {
		return strings.Split(line, "\t"), nil
	}
	cr := csv.NewReader(strings.NewReader(line))
	cr.Comma = ds.Comma
	cr.FieldsPerRecord = -1
	return cr.Read()
}
