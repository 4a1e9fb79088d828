// Package orchestrator is the job-facing entry point: it accepts requests,
// answers status lookups, streams progress and hands out finished artifacts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterforge/internal/book"
	"github.com/JakeFAU/chapterforge/internal/clock"
	"github.com/JakeFAU/chapterforge/internal/id/uuid"
	"github.com/JakeFAU/chapterforge/internal/progress"
	"github.com/JakeFAU/chapterforge/internal/queue"
)

// DefaultMaxUnits caps Quantity when Config.MaxUnits is unset.
const DefaultMaxUnits = 1000

// Dispatcher queues work for background execution without blocking.
type Dispatcher interface {
	Dispatch(item queue.Item)
}

// Config bounds accepted requests.
type Config struct {
	MaxUnits     int
	PollInterval time.Duration
}

// Deps are the Orchestrator's collaborators. IDs and Clock are optional.
type Deps struct {
	Jobs       book.JobStore
	Artifacts  book.ArtifactStore
	Providers  book.ProviderResolver
	Dispatcher Dispatcher
	IDs        book.IDGenerator
	Clock      book.Clock
}

// Orchestrator owns the job registry on behalf of callers.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.IDs == nil {
		deps.IDs = uuid.NewJobIDGenerator()
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if cfg.MaxUnits <= 0 {
		cfg.MaxUnits = DefaultMaxUnits
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = progress.DefaultPollInterval
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger}
}

// MaxUnits reports the largest accepted Quantity.
func (o *Orchestrator) MaxUnits() int { return o.cfg.MaxUnits }

// Submit validates req, records a pending job and schedules it. It never
// waits on network I/O.
func (o *Orchestrator) Submit(ctx context.Context, req book.Request) (book.Job, error) {
	if err := o.validate(req); err != nil {
		return book.Job{}, err
	}
	if _, err := o.deps.Providers.Resolve(req.Source); err != nil {
		return book.Job{}, fmt.Errorf("resolve %q: %w", req.Source, err)
	}
	id, err := o.deps.IDs.NewID()
	if err != nil {
		return book.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	now := o.deps.Clock.Now()
	job := book.Job{
		ID:        id,
		Status:    book.JobStatusPending,
		Request:   req,
		Submitted: now,
	}
	if err := o.deps.Jobs.CreateJob(ctx, job); err != nil {
		return book.Job{}, fmt.Errorf("create job: %w", err)
	}
	o.deps.Dispatcher.Dispatch(queue.Item{JobID: id, Request: req, Enqueued: now})
	o.logger.Info("Job submitted",
		zap.String("job_id", id),
		zap.String("url", req.Source),
		zap.Int("start", req.Start),
		zap.Int("quantity", req.Quantity),
	)
	return o.deps.Jobs.GetJob(ctx, id) //nolint:wrapcheck
}

func (o *Orchestrator) validate(req book.Request) error {
	u, err := url.ParseRequestURI(req.Source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", book.ErrInvalidRequest)
	}
	if req.Start < 1 {
		return fmt.Errorf("%w: start must be >= 1", book.ErrInvalidRequest)
	}
	if req.Quantity < 1 || req.Quantity > o.cfg.MaxUnits {
		return fmt.Errorf("%w: quantity must be between 1 and %d", book.ErrInvalidRequest, o.cfg.MaxUnits)
	}
	return nil
}

// Get returns a snapshot of the job.
func (o *Orchestrator) Get(ctx context.Context, jobID string) (book.Job, error) {
	job, err := o.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return book.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// List returns every known job.
func (o *Orchestrator) List(ctx context.Context) ([]book.Job, error) {
	jobs, err := o.deps.Jobs.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Events streams snapshots of the job until it finishes or ctx ends.
func (o *Orchestrator) Events(ctx context.Context, jobID string) <-chan progress.Snapshot {
	return progress.Stream(ctx, o.deps.Jobs, jobID, o.cfg.PollInterval)
}

// Retrieve opens the finished artifact. Callers must close the reader and
// should call Cleanup once the artifact has been delivered.
func (o *Orchestrator) Retrieve(ctx context.Context, jobID string) (io.ReadCloser, book.Job, error) {
	job, err := o.Get(ctx, jobID)
	if err != nil {
		return nil, book.Job{}, err
	}
	if job.Status != book.JobStatusCompleted || job.Artifact == nil {
		return nil, job, fmt.Errorf("job %s is %s: %w", jobID, job.Status, book.ErrNotReady)
	}
	rc, err := o.deps.Artifacts.Open(ctx, job.Artifact.Key)
	if err != nil {
		return nil, job, fmt.Errorf("open artifact: %w", err)
	}
	return rc, job, nil
}

// Cleanup forgets the job and deletes its artifact. Unknown ids are a no-op.
func (o *Orchestrator) Cleanup(ctx context.Context, jobID string) error {
	job, err := o.deps.Jobs.DeleteJob(ctx, jobID)
	if errors.Is(err, book.ErrJobNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	if job.Artifact != nil {
		if err := o.deps.Artifacts.Delete(ctx, job.Artifact.Key); err != nil {
			return fmt.Errorf("delete artifact %s: %w", job.Artifact.Key, err)
		}
	}
	o.logger.Info("Job cleaned up", zap.String("job_id", jobID), zap.String("status", string(job.Status)))
	return nil
}

// Abandon fails a job that could not be queued.
func (o *Orchestrator) Abandon(item queue.Item, cause error) {
	ctx := context.Background()
	if err := o.deps.Jobs.FailJob(ctx, item.JobID, fmt.Sprintf("not scheduled: %v", cause), book.JobCounters{}); err != nil {
		o.logger.Warn("Abandon job failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
}
