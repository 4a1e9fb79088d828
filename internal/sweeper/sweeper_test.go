package sweeper

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapterforge/internal/book"
	"github.com/JakeFAU/chapterforge/internal/clock"
	"github.com/JakeFAU/chapterforge/internal/storage"
	"github.com/JakeFAU/chapterforge/internal/storage/memory"
)

func finishedJob(t *testing.T, jobs *memory.JobStore, artifacts *memory.ArtifactStore, id string, complete bool) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, jobs.CreateJob(ctx, book.Job{ID: id}))
	require.NoError(t, jobs.StartJob(ctx, id, 5))
	if !complete {
		require.NoError(t, jobs.FailJob(ctx, id, "boom", book.JobCounters{}))
		return
	}
	key := id + ".epub"
	_, err := artifacts.Put(ctx, key, "application/epub+zip", strings.NewReader("data"))
	require.NoError(t, err)
	require.NoError(t, jobs.CompleteJob(ctx, id, book.ArtifactRef{Key: key}, book.JobCounters{}))
}

func TestSweepOnceRemovesStaleTerminalJobs(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	jobs := memory.NewJobStoreWithClock(clk)
	artifacts := memory.NewArtifactStoreWithClock(clk)
	ctx := context.Background()

	finishedJob(t, jobs, artifacts, "old-done", true)
	finishedJob(t, jobs, artifacts, "old-failed", false)
	require.NoError(t, jobs.CreateJob(ctx, book.Job{ID: "old-running"}))
	require.NoError(t, jobs.StartJob(ctx, "old-running", 40))
	_, err := artifacts.Put(ctx, "orphan.epub", "application/epub+zip", strings.NewReader("x"))
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	finishedJob(t, jobs, artifacts, "fresh-done", true)

	s := New(jobs, artifacts, time.Hour, time.Minute, WithClock(clk))
	removed, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, removed)

	remaining, err := jobs.ListJobs(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(remaining))
	for _, j := range remaining {
		ids = append(ids, j.ID)
	}
	require.ElementsMatch(t, []string{"old-running", "fresh-done"}, ids)
	require.Equal(t, 1, artifacts.Len())

	removed, err = s.SweepOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestSweepOnceToleratesArtifactDeleteFailure(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	jobs := memory.NewJobStoreWithClock(clk)
	ctx := context.Background()
	require.NoError(t, jobs.CreateJob(ctx, book.Job{ID: "j"}))
	require.NoError(t, jobs.CompleteJob(ctx, "j", book.ArtifactRef{Key: "j.epub"}, book.JobCounters{}))
	clk.Advance(3 * time.Hour)

	store := &storage.MockArtifactStore{}
	store.On("Delete", mock.Anything, "j.epub").Return(context.DeadlineExceeded).Once()
	store.On("Sweep", mock.Anything, clk.Now().Add(-time.Hour)).Return(2, nil).Once()

	removed, err := New(jobs, store, time.Hour, time.Minute, WithClock(clk)).SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, removed)
	store.AssertExpectations(t)
}

func TestRunDisabledReturnsImmediately(t *testing.T) {
	t.Parallel()

	s := New(memory.NewJobStore(), memory.NewArtifactStore(), 0, 0)
	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled sweeper kept running")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := New(memory.NewJobStore(), memory.NewArtifactStore(), time.Hour, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
