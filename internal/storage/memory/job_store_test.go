package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapterforge/internal/book"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := book.Job{ID: "job-1", Request: book.Request{Source: "https://example.com/n", Start: 1, Quantity: 3}}

	require.NoError(t, store.CreateJob(ctx, job))
	require.ErrorIs(t, store.CreateJob(ctx, job), book.ErrJobExists)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, book.JobStatusPending, got.Status)
	require.False(t, got.Submitted.IsZero())

	require.NoError(t, store.StartJob(ctx, job.ID, 5))
	require.NoError(t, store.SetTitle(ctx, job.ID, "A Novel"))
	require.NoError(t, store.UpdateProgress(ctx, job.ID, 40))
	require.NoError(t, store.UpdateProgress(ctx, job.ID, 20))

	got, err = store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, book.JobStatusProcessing, got.Status)
	require.Equal(t, 40, got.Progress, "progress never decreases")
	require.Equal(t, "A Novel", got.Title)
	require.NotNil(t, got.Started)

	ref := book.ArtifactRef{Key: "books/a.epub", Filename: "A Novel.epub"}
	counters := book.JobCounters{UnitsRequested: 3, UnitsSucceeded: 3}
	require.NoError(t, store.CompleteJob(ctx, job.ID, ref, counters))

	got, err = store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, book.JobStatusCompleted, got.Status)
	require.Equal(t, 100, got.Progress)
	require.Equal(t, counters, got.Counters)
	require.NotNil(t, got.Finished)

	got.Artifact.Key = "mutated"
	again, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, "books/a.epub", again.Artifact.Key, "snapshots must not alias registry state")

	require.ErrorIs(t, store.FailJob(ctx, job.ID, "late", counters), book.ErrJobTerminal)
	require.ErrorIs(t, store.UpdateProgress(ctx, job.ID, 10), book.ErrJobTerminal)

	deleted, err := store.DeleteJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, job.ID, deleted.ID)
	_, err = store.DeleteJob(ctx, job.ID)
	require.ErrorIs(t, err, book.ErrJobNotFound)
	_, err = store.GetJob(ctx, job.ID)
	require.ErrorIs(t, err, book.ErrJobNotFound)
}

func TestJobStoreFailKeepsProgress(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, book.Job{ID: "j"}))
	require.NoError(t, store.StartJob(ctx, "j", 15))
	require.NoError(t, store.FailJob(ctx, "j", "boom", book.JobCounters{UnitsRequested: 2, UnitsFailed: 2}))

	got, err := store.GetJob(ctx, "j")
	require.NoError(t, err)
	require.Equal(t, book.JobStatusFailed, got.Status)
	require.Equal(t, 15, got.Progress)
	require.Equal(t, "boom", got.Error)
	require.Nil(t, got.Artifact)
}

func TestJobStoreUnknownJob(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.ErrorIs(t, store.StartJob(ctx, "missing", 5), book.ErrJobNotFound)
	require.ErrorIs(t, store.SetTitle(ctx, "missing", "x"), book.ErrJobNotFound)
	require.ErrorIs(t, store.CompleteJob(ctx, "missing", book.ArtifactRef{}, book.JobCounters{}), book.ErrJobNotFound)
}

func TestJobStoreListJobsOrdered(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		require.NoError(t, store.CreateJob(ctx, book.Job{ID: id, Submitted: base.Add(time.Duration(i) * time.Minute)}))
	}
	jobs, err := store.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	require.Equal(t, []string{"c", "a", "b"}, []string{jobs[0].ID, jobs[1].ID, jobs[2].ID})
}

func TestJobStoreConcurrentAccess(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, book.Job{ID: "j"}))
	require.NoError(t, store.StartJob(ctx, "j", 0))

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.UpdateProgress(ctx, "j", i)
		}()
		go func() {
			defer wg.Done()
			_, _ = store.GetJob(ctx, "j")
		}()
	}
	wg.Wait()

	got, err := store.GetJob(ctx, "j")
	require.NoError(t, err)
	require.Equal(t, 49, got.Progress, fmt.Sprintf("unexpected progress %d", got.Progress))
}
