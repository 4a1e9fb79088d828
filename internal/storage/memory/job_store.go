// Package memory holds in-process implementations of the job registry and
// artifact store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/chapterforge/internal/book"
)

// JobStore is the in-memory job registry. Every read returns a copy.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]book.Job
	now  func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]book.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// NewJobStoreWithClock constructs a JobStore that timestamps with c.
func NewJobStoreWithClock(c book.Clock) *JobStore {
	s := NewJobStore()
	s.now = c.Now
	return s
}

// CreateJob registers a new job. Submitted defaults to now.
func (s *JobStore) CreateJob(_ context.Context, job book.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", book.ErrJobExists, job.ID)
	}
	if job.Status == "" {
		job.Status = book.JobStatusPending
	}
	if job.Submitted.IsZero() {
		job.Submitted = s.now()
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// GetJob returns a snapshot of the job.
func (s *JobStore) GetJob(_ context.Context, jobID string) (book.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return book.Job{}, fmt.Errorf("%w: %s", book.ErrJobNotFound, jobID)
	}
	return job.Clone(), nil
}

// StartJob moves a pending job to processing.
func (s *JobStore) StartJob(_ context.Context, jobID string, progress int) error {
	return s.mutate(jobID, func(job *book.Job) {
		job.Status = book.JobStatusProcessing
		if job.Started == nil {
			ts := s.now()
			job.Started = &ts
		}
		setProgress(job, progress)
	})
}

// UpdateProgress raises the job's progress. Lower values are ignored so
// readers never observe progress going backwards.
func (s *JobStore) UpdateProgress(_ context.Context, jobID string, progress int) error {
	return s.mutate(jobID, func(job *book.Job) {
		setProgress(job, progress)
	})
}

// SetTitle records the document title once metadata is known.
func (s *JobStore) SetTitle(_ context.Context, jobID, title string) error {
	return s.mutate(jobID, func(job *book.Job) {
		job.Title = title
	})
}

// CompleteJob marks the job completed at 100%.
func (s *JobStore) CompleteJob(_ context.Context, jobID string, ref book.ArtifactRef, counters book.JobCounters) error {
	return s.mutate(jobID, func(job *book.Job) {
		job.Status = book.JobStatusCompleted
		job.Progress = 100
		job.Artifact = &ref
		job.Counters = counters
		job.Error = ""
		ts := s.now()
		job.Finished = &ts
	})
}

// FailJob marks the job failed, keeping whatever progress it had reached.
func (s *JobStore) FailJob(_ context.Context, jobID, errText string, counters book.JobCounters) error {
	return s.mutate(jobID, func(job *book.Job) {
		job.Status = book.JobStatusFailed
		job.Error = errText
		job.Counters = counters
		ts := s.now()
		job.Finished = &ts
	})
}

// DeleteJob removes the job and returns its last snapshot.
func (s *JobStore) DeleteJob(_ context.Context, jobID string) (book.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return book.Job{}, fmt.Errorf("%w: %s", book.ErrJobNotFound, jobID)
	}
	delete(s.jobs, jobID)
	return job, nil
}

// ListJobs returns snapshots of all jobs ordered by submission time.
func (s *JobStore) ListJobs(_ context.Context) ([]book.Job, error) {
	s.mu.RLock()
	out := make([]book.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Submitted.Equal(out[j].Submitted) {
			return out[i].ID < out[j].ID
		}
		return out[i].Submitted.Before(out[j].Submitted)
	})
	return out, nil
}

func (s *JobStore) mutate(jobID string, fn func(*book.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", book.ErrJobNotFound, jobID)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", book.ErrJobTerminal, jobID, job.Status)
	}
	fn(&job)
	s.jobs[jobID] = job
	return nil
}

func setProgress(job *book.Job, progress int) {
	progress = max(0, min(progress, 100))
	if progress > job.Progress {
		job.Progress = progress
	}
}
