package progress

import (
	"context"
	"time"

	"github.com/JakeFAU/chapterforge/internal/book"
)

// DefaultPollInterval is how often Stream samples the registry.
const DefaultPollInterval = 500 * time.Millisecond

// JobGetter is the read side of the job registry.
type JobGetter interface {
	GetJob(ctx context.Context, jobID string) (book.Job, error)
}

// Snapshot is one observation of a job.
type Snapshot struct {
	Status   book.JobStatus
	Progress int
	Title    string
	Error    string
	Artifact *book.ArtifactRef
	// Err is set on the final snapshot when the job could not be read,
	// typically book.ErrJobNotFound.
	Err error
}

func snapshotOf(job book.Job) Snapshot {
	job = job.Clone()
	return Snapshot{
		Status:   job.Status,
		Progress: job.Progress,
		Title:    job.Title,
		Error:    job.Error,
		Artifact: job.Artifact,
	}
}

// Stream polls jobID every interval and sends a snapshot whenever the
// (status, progress) pair differs from the last one sent. The first
// snapshot is sent immediately. The channel closes after a terminal status,
// after a lookup error (delivered as a snapshot with Err set), or once ctx
// is done.
func Stream(ctx context.Context, jobs JobGetter, jobID string, interval time.Duration) <-chan Snapshot {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	out := make(chan Snapshot)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var (
			last Snapshot
			sent bool
		)
		for {
			job, err := jobs.GetJob(ctx, jobID)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				select {
				case out <- Snapshot{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			snap := snapshotOf(job)
			if !sent || snap.Status != last.Status || snap.Progress != last.Progress {
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
				last, sent = snap, true
			}
			if snap.Status.Terminal() {
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
