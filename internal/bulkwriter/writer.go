package bulkwriter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/fieldsync/sync-core/internal/durable"
)

// Writer performs chunked upserts against a durable.Store (§4.3).
type Writer struct {
	store *durable.Store
}

// New constructs a Writer bound to store.
func New(store *durable.Store) *Writer {
	return &Writer{store: store}
}

// Insert chunks records into opts.ChunkSize-sized groups, each written in
// its own transaction via a single INSERT OR REPLACE statement. A chunk
// that fails enters bisection (§4.3 steps 4-5).
func (w *Writer) Insert(ctx context.Context, table string, records []Record, opts Options) (Result, error) {
	opts = opts.normalize()
	if len(opts.Columns) == 0 {
		return Result{}, fmt.Errorf("bulkwriter: %s: no columns declared", table)
	}

	var result Result

	for start := 0; start < len(records); start += opts.ChunkSize {
		end := start + opts.ChunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]
		result.ChunksTotal++

		err := w.insertChunk(ctx, table, chunk, opts.Columns)
		if err == nil {
			result.InsertedRecords += len(chunk)
			if opts.OnProgress != nil {
				opts.OnProgress(result.InsertedRecords, result.FailedRecords)
			}
			continue
		}

		result.ChunksBisected++
		inserted, failures := w.bisect(ctx, table, chunk, opts.Columns, opts.BisectMinSize)
		result.InsertedRecords += inserted
		for _, f := range failures {
			result.FailedRecords++
			result.Failures = append(result.Failures, f)
			if id := recordID(f.Record); id != "" {
				result.FailedIDs = append(result.FailedIDs, id)
			}
			if opts.OnInvalidRecord != nil {
				opts.OnInvalidRecord(f.Record, f.Err)
			}
		}
		if opts.OnProgress != nil {
			opts.OnProgress(result.InsertedRecords, result.FailedRecords)
		}

		if !opts.continueOnError() && len(failures) > 0 {
			result.Aborted = true
			return result, nil
		}
	}

	return result, nil
}

// insertChunk writes chunk inside a single transaction as one multi-row
// INSERT OR REPLACE statement (B1: atomic per chunk).
func (w *Writer) insertChunk(ctx context.Context, table string, chunk []Record, columns []string) error {
	if len(chunk) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(chunk))
	for _, rec := range chunk {
		row, err := coerceRow(rec, columns)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	stmt, args := buildInsertOrReplace(table, columns, rows)

	return w.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, stmt, args...)
		return err
	})
}

// bisect recursively halves chunk until subgroups reach minSize, then
// writes or isolates each leaf individually. Valid records in a failing
// chunk are still inserted; invalid ones are reported with their error.
func (w *Writer) bisect(ctx context.Context, table string, chunk []Record, columns []string, minSize int) (inserted int, failures []FailedRecord) {
	if len(chunk) <= minSize {
		for _, rec := range chunk {
			if err := w.insertChunk(ctx, table, []Record{rec}, columns); err != nil {
				failures = append(failures, FailedRecord{Record: rec, Err: err})
				continue
			}
			inserted++
		}
		return inserted, failures
	}

	mid := len(chunk) / 2
	left := chunk[:mid]
	right := chunk[mid:]

	if err := w.insertChunk(ctx, table, left, columns); err != nil {
		li, lf := w.bisect(ctx, table, left, columns, minSize)
		inserted += li
		failures = append(failures, lf...)
	} else {
		inserted += len(left)
	}

	if err := w.insertChunk(ctx, table, right, columns); err != nil {
		ri, rf := w.bisect(ctx, table, right, columns, minSize)
		inserted += ri
		failures = append(failures, rf...)
	} else {
		inserted += len(right)
	}

	return inserted, failures
}

func buildInsertOrReplace(table string, columns []string, rows [][]any) (string, []any) {
	quotedCols := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = quoteIdent(c)
	}

	placeholderRow := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"
	valueGroups := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		valueGroups[i] = placeholderRow
		args = append(args, row...)
	}

	stmt := fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (%s) VALUES %s",
		quoteIdent(table),
		strings.Join(quotedCols, ", "),
		strings.Join(valueGroups, ", "),
	)
	return stmt, args
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
