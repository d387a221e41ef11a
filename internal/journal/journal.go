// Package journal keeps an append-only SQLite log of the mutations applied
// to the content root. The journal is advisory: the filesystem stays the
// single source of truth and nothing is ever replayed from it.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

const (
	// timeFormat is the ISO 8601 format used for all timestamps in SQLite.
	timeFormat = "2006-01-02T15:04:05.000Z"

	// schemaVersion is bumped whenever the entries table changes shape.
	schemaVersion = 1
)

// Operation names a journaled mutation.
type Operation string

const (
	OpCreateBucket Operation = "create_bucket"
	OpDeleteBucket Operation = "delete_bucket"
	OpUpload       Operation = "upload"
	OpOverwrite    Operation = "overwrite"
	OpDeleteFile   Operation = "delete_file"
)

// AllOperations lists every journaled operation.
var AllOperations = []Operation{OpCreateBucket, OpDeleteBucket, OpUpload, OpOverwrite, OpDeleteFile}

// Entry is one journaled mutation.
type Entry struct {
	ID        int64     `json:"id"`
	Operation Operation `json:"operation"`
	Bucket    string    `json:"bucket"`
	File      string    `json:"file,omitempty"`
	Bytes     int64     `json:"bytes,omitempty"`
	Time      time.Time `json:"time"`
}

// Journal is the SQLite-backed mutation log.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}

	j := &Journal{db: db}
	if err := j.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing journal database: %w", err)
	}
	return j, nil
}

// initDB applies PRAGMAs and creates the schema. Safe to call repeatedly.
func (j *Journal) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := j.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS entries (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			operation  TEXT NOT NULL,
			bucket     TEXT NOT NULL,
			file       TEXT NOT NULL DEFAULT '',
			bytes      INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_entries_bucket ON entries(bucket);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	_, err := j.db.Exec(
		`INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)`,
		schemaVersion, time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting schema version: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Append records e. A zero Time is replaced with the current UTC time.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO entries (operation, bucket, file, bytes, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(e.Operation), e.Bucket, e.File, e.Bytes, e.Time.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("appending %s entry: %w", e.Operation, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, operation, bucket, file, bytes, created_at
		 FROM entries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Count returns the number of journaled entries.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	entries := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			op      string
			created string
		)
		if err := rows.Scan(&e.ID, &op, &e.Bucket, &e.File, &e.Bytes, &created); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		e.Operation = Operation(op)
		t, err := time.Parse(timeFormat, created)
		if err != nil {
			return nil, fmt.Errorf("parsing entry time %q: %w", created, err)
		}
		e.Time = t
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return entries, nil
}
