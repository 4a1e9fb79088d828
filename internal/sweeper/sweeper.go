// Package sweeper reclaims jobs and artifacts nobody came back for.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterforge/internal/book"
	"github.com/JakeFAU/chapterforge/internal/clock"
	"github.com/JakeFAU/chapterforge/internal/metrics"
)

// Sweeper periodically removes terminal jobs older than TTL together with
// their artifacts, then sweeps artifacts the job registry no longer knows.
type Sweeper struct {
	jobs      book.JobStore
	artifacts book.ArtifactStore
	ttl       time.Duration
	interval  time.Duration
	clock     book.Clock
	logger    *zap.Logger
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the time source.
func WithClock(c book.Clock) Option {
	return func(s *Sweeper) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds a Sweeper.
func New(jobs book.JobStore, artifacts book.ArtifactStore, ttl, interval time.Duration, opts ...Option) *Sweeper {
	s := &Sweeper{
		jobs:      jobs,
		artifacts: artifacts,
		ttl:       ttl,
		interval:  interval,
		clock:     clock.System{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps every interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 || s.ttl <= 0 {
		s.logger.Info("Sweeper disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Warn("Sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce performs a single pass and returns how many jobs and artifacts
// were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.ttl)
	jobs, err := s.jobs.ListJobs(ctx)
	if err != nil {
		return 0, err //nolint:wrapcheck
	}

	removed := 0
	for _, job := range jobs {
		if !job.Status.Terminal() || job.Finished == nil || job.Finished.After(cutoff) {
			continue
		}
		if _, err := s.jobs.DeleteJob(ctx, job.ID); err != nil {
			s.logger.Debug("Stale job already gone", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		removed++
		if job.Artifact == nil {
			continue
		}
		if err := s.artifacts.Delete(ctx, job.Artifact.Key); err != nil {
			s.logger.Warn("Delete stale artifact failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	orphans, err := s.artifacts.Sweep(ctx, cutoff)
	if err != nil {
		return removed, err //nolint:wrapcheck
	}
	total := removed + orphans
	if total > 0 {
		s.logger.Info("Sweep removed stale entries", zap.Int("jobs", removed), zap.Int("artifacts", orphans))
	}
	metrics.ObserveSwept(total)
	return total, nil
}
