// Package sqlite provides a single-file run history for local use.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/chapterforge/internal/book"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    job_id           TEXT PRIMARY KEY,
    source           TEXT NOT NULL,
    status           TEXT NOT NULL,
    units_requested  INTEGER NOT NULL,
    units_succeeded  INTEGER NOT NULL,
    units_failed     INTEGER NOT NULL,
    duration_ms      INTEGER NOT NULL,
    units_per_second REAL NOT NULL,
    workers          INTEGER NOT NULL,
    proxy_mode       TEXT NOT NULL,
    error            TEXT NOT NULL DEFAULT '',
    finished_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);
`

// RunStore implements book.RunRecorder on SQLite.
type RunStore struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*RunStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("history.path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent job completion.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &RunStore{db: db}, nil
}

// Close closes the database connection.
func (s *RunStore) Close() error {
	return s.db.Close()
}

// RecordRun inserts or replaces the row for run.JobID.
func (s *RunStore) RecordRun(ctx context.Context, run book.RunRecord) error {
	if run.JobID == "" {
		return fmt.Errorf("run job id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (
			job_id, source, status, units_requested, units_succeeded, units_failed,
			duration_ms, units_per_second, workers, proxy_mode, error, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.JobID, run.Source, string(run.Status),
		run.UnitsRequested, run.UnitsSucceeded, run.UnitsFailed,
		run.Duration.Milliseconds(), run.UnitsPerSecond, run.Workers,
		run.ProxyMode, run.Error, run.FinishedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *RunStore) RecentRuns(ctx context.Context, limit int) ([]book.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, source, status, units_requested, units_succeeded, units_failed,
		        duration_ms, units_per_second, workers, proxy_mode, error, finished_at
		 FROM runs ORDER BY finished_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []book.RunRecord
	for rows.Next() {
		var (
			run        book.RunRecord
			status     string
			durationMS int64
			finishedMS int64
		)
		if err := rows.Scan(
			&run.JobID, &run.Source, &status,
			&run.UnitsRequested, &run.UnitsSucceeded, &run.UnitsFailed,
			&durationMS, &run.UnitsPerSecond, &run.Workers,
			&run.ProxyMode, &run.Error, &finishedMS,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = book.JobStatus(status)
		run.Duration = time.Duration(durationMS) * time.Millisecond
		run.FinishedAt = time.UnixMilli(finishedMS).UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
