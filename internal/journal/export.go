package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ExportVersion is the version of the export envelope.
const ExportVersion = 1

// ExportOptions narrows what Export emits. The zero value exports everything.
type ExportOptions struct {
	// Operations restricts the export to these operations.
	Operations []Operation
	// Bucket restricts the export to one bucket.
	Bucket string
	// Since drops entries recorded before this instant.
	Since time.Time
}

// Export is the JSON document written by Export.
type Export struct {
	Version       int       `json:"version"`
	ExportedAt    time.Time `json:"exported_at"`
	SchemaVersion int       `json:"schema_version"`
	Entries       []Entry   `json:"entries"`
}

// ExportFile opens the journal at dbPath read-only and renders the selected
// entries, oldest first, as indented JSON.
func ExportFile(ctx context.Context, dbPath string, opts *ExportOptions) ([]byte, error) {
	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if opts == nil {
		opts = &ExportOptions{}
	}
	for _, op := range opts.Operations {
		if !validOperation(op) {
			return nil, fmt.Errorf("unknown operation %q", op)
		}
	}

	var version int
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return nil, fmt.Errorf("reading schema version: %w", err)
	}

	query, args := exportQuery(opts)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	doc := Export{
		Version:       ExportVersion,
		ExportedAt:    time.Now().UTC().Truncate(time.Millisecond),
		SchemaVersion: version,
		Entries:       entries,
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding export: %w", err)
	}
	return out, nil
}

func exportQuery(opts *ExportOptions) (string, []any) {
	var (
		where []string
		args  []any
	)
	if len(opts.Operations) > 0 {
		marks := make([]string, len(opts.Operations))
		for i, op := range opts.Operations {
			marks[i] = "?"
			args = append(args, string(op))
		}
		where = append(where, "operation IN ("+strings.Join(marks, ", ")+")")
	}
	if opts.Bucket != "" {
		where = append(where, "bucket = ?")
		args = append(args, opts.Bucket)
	}
	if !opts.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, opts.Since.UTC().Format(timeFormat))
	}

	query := `SELECT id, operation, bucket, file, bytes, created_at FROM entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return query + " ORDER BY id", args
}

func validOperation(op Operation) bool {
	for _, known := range AllOperations {
		if op == known {
			return true
		}
	}
	return false
}
