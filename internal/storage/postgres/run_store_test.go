package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapterforge/internal/book"
)

func TestRecordRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "runs")
	require.NoError(t, err)

	finished := time.Unix(1700000000, 0).UTC()
	run := book.RunRecord{
		JobID:          "job-1",
		Source:         "https://www.royalroad.com/fiction/1/x",
		Status:         book.JobStatusCompleted,
		UnitsRequested: 10,
		UnitsSucceeded: 9,
		UnitsFailed:    1,
		Duration:       1500 * time.Millisecond,
		UnitsPerSecond: 6,
		Workers:        2,
		ProxyMode:      "direct",
		FinishedAt:     finished,
	}

	mock.ExpectExec("INSERT INTO runs").
		WithArgs(
			run.JobID,
			run.Source,
			"completed",
			10,
			9,
			1,
			int64(1500),
			6.0,
			2,
			"direct",
			"",
			finished,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunPropagatesErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO runs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("boom"))

	err = store.RecordRun(context.Background(), book.RunRecord{JobID: "job-2"})
	require.ErrorContains(t, err, "insert run")
	require.ErrorContains(t, store.RecordRun(context.Background(), book.RunRecord{}), "job id is required")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentRunsScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "book_runs")
	require.NoError(t, err)

	finished := time.Unix(1700000000, 0).UTC()
	rows := mock.NewRows([]string{
		"job_id", "source", "status", "units_requested", "units_succeeded", "units_failed",
		"duration_ms", "units_per_second", "workers", "proxy_mode", "error_message", "finished_at",
	}).
		AddRow("job-2", "https://a", "failed", 3, 0, 3, int64(2000), 0.0, 2, "failover", "no content retrieved", finished).
		AddRow("job-1", "https://b", "completed", 5, 5, 0, int64(1000), 5.0, 2, "direct", "", finished.Add(-time.Minute))

	mock.ExpectQuery("SELECT job_id, source, status").
		WithArgs(5).
		WillReturnRows(rows)

	runs, err := store.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, book.JobStatusFailed, runs[0].Status)
	require.Equal(t, 2*time.Second, runs[0].Duration)
	require.Equal(t, "no content retrieved", runs[0].Error)
	require.Equal(t, "direct", runs[1].ProxyMode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "runs")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS runs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRunStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRunStoreWithPool(nil, "runs")
	require.ErrorContains(t, err, "pool is required")

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewRunStoreWithPool(mock, "runs; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewRunStore(context.Background(), Config{})
	require.ErrorContains(t, err, "dsn is required")
}
