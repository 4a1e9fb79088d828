package book

import (
	"context"
	"io"
	"time"
)

// ContentProvider extracts documents from one family of sites.
type ContentProvider interface {
	Name() string
	FetchMetadata(ctx context.Context, source string) (Metadata, error)
	ListUnitURLs(ctx context.Context, source string, start, quantity int) ([]string, error)
	FetchUnit(ctx context.Context, url string) (Unit, error)
}

// CoverFetcher is implemented by providers able to download cover images.
type CoverFetcher interface {
	FetchCover(ctx context.Context, url string) ([]byte, error)
}

// ProviderResolver selects the provider responsible for a source URL.
type ProviderResolver interface {
	Resolve(source string) (ContentProvider, error)
}

// UnitFetcher retrieves a single unit, applying whatever retry policy it carries.
type UnitFetcher interface {
	Fetch(ctx context.Context, url string) (Unit, error)
}

// ArtifactBuilder serializes a Document.
type ArtifactBuilder interface {
	Build(ctx context.Context, doc Document, w io.Writer) error
	Extension() string
	ContentType() string
}

// JobStore is the job registry. Reads return snapshots.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	StartJob(ctx context.Context, jobID string, progress int) error
	UpdateProgress(ctx context.Context, jobID string, progress int) error
	SetTitle(ctx context.Context, jobID, title string) error
	CompleteJob(ctx context.Context, jobID string, ref ArtifactRef, counters JobCounters) error
	FailJob(ctx context.Context, jobID string, errText string, counters JobCounters) error
	DeleteJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context) ([]Job, error)
}

// ArtifactStore persists built artifacts for later retrieval.
type ArtifactStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Sweep(ctx context.Context, olderThan time.Time) (int, error)
}

// RunRecorder stores finished-job benchmarks.
type RunRecorder interface {
	RecordRun(ctx context.Context, run RunRecord) error
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes artifact digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
