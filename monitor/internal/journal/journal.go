// Package journal persists run outcomes in SQLite: one row per pass and one
// row per identifier checked, so what the monitor did is inspectable after
// the fact without trawling logs.
//
// The caller gets the pure-Go sqlite driver implicitly; no cgo involved.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Schema is applied idempotently on open.
const Schema = `
-- One row per monitoring pass
CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    started_at   INTEGER NOT NULL,
    finished_at  INTEGER,
    identifiers  INTEGER NOT NULL DEFAULT 0,
    changes      INTEGER NOT NULL DEFAULT 0,
    failures     INTEGER NOT NULL DEFAULT 0
);

-- One row per identifier checked within a run
CREATE TABLE IF NOT EXISTS fetch_log (
    id            TEXT PRIMARY KEY,
    run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    rin           TEXT NOT NULL,
    pub_id        TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    content_hash  TEXT NOT NULL DEFAULT '',
    changed       INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    duration_ms   INTEGER NOT NULL DEFAULT 0,
    fetched_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fetch_log_run ON fetch_log(run_id);
CREATE INDEX IF NOT EXISTS idx_fetch_log_rin ON fetch_log(rin, fetched_at DESC);
`

// Statuses recorded in fetch_log.status.
const (
	StatusOK        = "ok"        // change detected, snapshot written
	StatusUnchanged = "unchanged" // fingerprints matched, snapshot refreshed
	StatusBaseline  = "baseline"  // first snapshot for the identifier
	StatusNotFound  = "not_found" // rule absent from the batch
	StatusError     = "error"     // fetch, catalog or storage failure
)

// FetchRecord is one identifier's outcome within a run.
type FetchRecord struct {
	ID           string
	RunID        string
	RIN          string
	PubID        string
	Status       string
	ContentHash  string
	Changed      bool
	ErrorMessage string
	DurationMs   int64
	FetchedAt    int64 // unix milliseconds
}

// Run summarizes one pass. FinishedAt is nil while the pass is in flight.
type Run struct {
	ID          string
	StartedAt   int64
	FinishedAt  *int64
	Identifiers int
	Changes     int
	Failures    int
}

// Journal wraps the run-history database.
type Journal struct {
	DB    *sql.DB
	newID func() string
}

// Open opens the journal database at path, creating parent directories as
// needed, and applies pragmas plus schema.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("journal: mkdir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}

	return &Journal{
		DB:    db,
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}, nil
}

// OpenMemory opens an in-memory journal for testing. MaxOpenConns(1)
// ensures all queries hit the same in-memory database; the journal is
// closed via t.Cleanup.
func OpenMemory(t testing.TB) *Journal {
	t.Helper()
	j, err := Open(":memory:")
	if err != nil {
		t.Fatalf("journal.OpenMemory: %v", err)
	}
	j.DB.SetMaxOpenConns(1)
	t.Cleanup(func() { j.Close() })
	return j
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.DB.Close()
}

// StartRun inserts a run row and returns its id. Run ids are UUIDv7, so
// they sort chronologically.
func (j *Journal) StartRun(ctx context.Context) (string, error) {
	id := j.newID()
	_, err := j.DB.ExecContext(ctx,
		`INSERT INTO runs (id, started_at) VALUES (?, ?)`,
		id, time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("journal: start run: %w", err)
	}
	return id, nil
}

// FinishRun closes a run row with its totals.
func (j *Journal) FinishRun(ctx context.Context, runID string, identifiers, changes, failures int) error {
	_, err := j.DB.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, identifiers = ?, changes = ?, failures = ?
		WHERE id = ?`,
		time.Now().UnixMilli(), identifiers, changes, failures, runID)
	if err != nil {
		return fmt.Errorf("journal: finish run: %w", err)
	}
	return nil
}

// RecordFetch inserts one identifier outcome. ID and FetchedAt are filled
// in when zero.
func (j *Journal) RecordFetch(ctx context.Context, rec *FetchRecord) error {
	if rec.ID == "" {
		rec.ID = j.newID()
	}
	if rec.FetchedAt == 0 {
		rec.FetchedAt = time.Now().UnixMilli()
	}
	_, err := j.DB.ExecContext(ctx,
		`INSERT INTO fetch_log (id, run_id, rin, pub_id, status, content_hash,
		changed, error_message, duration_ms, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.RIN, rec.PubID, rec.Status, rec.ContentHash,
		rec.Changed, rec.ErrorMessage, rec.DurationMs, rec.FetchedAt)
	if err != nil {
		return fmt.Errorf("journal: record fetch: %w", err)
	}
	return nil
}

// LastRun returns the most recently started run, or false when the journal
// is empty.
func (j *Journal) LastRun(ctx context.Context) (*Run, bool, error) {
	var r Run
	err := j.DB.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, identifiers, changes, failures
		FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`).
		Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Identifiers, &r.Changes, &r.Failures)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("journal: last run: %w", err)
	}
	return &r, true, nil
}

// History returns fetch records for one identifier, newest first.
func (j *Journal) History(ctx context.Context, rin string, limit int) ([]*FetchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.DB.QueryContext(ctx,
		`SELECT id, run_id, rin, pub_id, status, content_hash, changed,
		error_message, duration_ms, fetched_at
		FROM fetch_log WHERE rin = ?
		ORDER BY fetched_at DESC, id DESC LIMIT ?`, rin, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: history: %w", err)
	}
	defer rows.Close()

	var result []*FetchRecord
	for rows.Next() {
		var rec FetchRecord
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.RIN, &rec.PubID, &rec.Status,
			&rec.ContentHash, &rec.Changed, &rec.ErrorMessage, &rec.DurationMs,
			&rec.FetchedAt); err != nil {
			return nil, fmt.Errorf("journal: scan history: %w", err)
		}
		result = append(result, &rec)
	}
	return result, rows.Err()
}
