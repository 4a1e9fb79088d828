// Package postgres provides a Postgres-backed run history.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/chapterforge/internal/book"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "runs"

// Config controls the Postgres connection pool used for run rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// RunStore records finished jobs into Postgres.
type RunStore struct {
	pool  pool
	table string
}

// NewRunStore connects to Postgres and ensures the run table exists.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRunStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{pool: p, table: table}, nil
}

// EnsureSchema creates the run table when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	job_id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	status TEXT NOT NULL,
	units_requested INTEGER NOT NULL,
	units_succeeded INTEGER NOT NULL,
	units_failed INTEGER NOT NULL,
	duration_ms BIGINT NOT NULL,
	units_per_second DOUBLE PRECISION NOT NULL,
	workers INTEGER NOT NULL,
	proxy_mode TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	finished_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create run table: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordRun upserts a run row keyed by job id.
func (s *RunStore) RecordRun(ctx context.Context, run book.RunRecord) error {
	if run.JobID == "" {
		return fmt.Errorf("run job id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	source,
	status,
	units_requested,
	units_succeeded,
	units_failed,
	duration_ms,
	units_per_second,
	workers,
	proxy_mode,
	error_message,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (job_id) DO UPDATE SET
	status = EXCLUDED.status,
	units_succeeded = EXCLUDED.units_succeeded,
	units_failed = EXCLUDED.units_failed,
	duration_ms = EXCLUDED.duration_ms,
	units_per_second = EXCLUDED.units_per_second,
	error_message = EXCLUDED.error_message,
	finished_at = EXCLUDED.finished_at`, s.table)

	args := []any{
		run.JobID,
		run.Source,
		string(run.Status),
		run.UnitsRequested,
		run.UnitsSucceeded,
		run.UnitsFailed,
		run.Duration.Milliseconds(),
		run.UnitsPerSecond,
		run.Workers,
		run.ProxyMode,
		run.Error,
		run.FinishedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *RunStore) RecentRuns(ctx context.Context, limit int) ([]book.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`
SELECT job_id, source, status, units_requested, units_succeeded, units_failed,
	duration_ms, units_per_second, workers, proxy_mode, error_message, finished_at
FROM %s
ORDER BY finished_at DESC
LIMIT $1`, s.table)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []book.RunRecord
	for rows.Next() {
		var (
			run        book.RunRecord
			status     string
			durationMS int64
		)
		if err := rows.Scan(
			&run.JobID,
			&run.Source,
			&status,
			&run.UnitsRequested,
			&run.UnitsSucceeded,
			&run.UnitsFailed,
			&durationMS,
			&run.UnitsPerSecond,
			&run.Workers,
			&run.ProxyMode,
			&run.Error,
			&run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = book.JobStatus(status)
		run.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}
