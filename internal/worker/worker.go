// Package worker runs the background pipeline for each submitted job.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterforge/internal/artifact"
	"github.com/JakeFAU/chapterforge/internal/book"
	"github.com/JakeFAU/chapterforge/internal/clock"
	"github.com/JakeFAU/chapterforge/internal/collector"
	"github.com/JakeFAU/chapterforge/internal/fetcher"
	"github.com/JakeFAU/chapterforge/internal/hash/sha256"
	"github.com/JakeFAU/chapterforge/internal/id/uuid"
	"github.com/JakeFAU/chapterforge/internal/metrics"
	"github.com/JakeFAU/chapterforge/internal/progress"
	"github.com/JakeFAU/chapterforge/internal/queue"
)

// Progress checkpoints of the pipeline. Collection maps 0..100 onto
// progressListed..progressCollected.
const (
	progressStarted   = 5
	progressListed    = 15
	progressCollected = 95
	progressBuilding  = 98
)

// NoContentMessage is the error recorded when every unit failed.
const NoContentMessage = "no content retrieved"

// Config controls Worker behavior.
type Config struct {
	// Concurrency bounds parallel unit downloads within one job.
	Concurrency       int
	Policy            fetcher.Policy
	CoverMaxDimension int
	// Topic receives terminal-state notifications when a Publisher is set.
	Topic string
	// ProxyMode is recorded on run summaries.
	ProxyMode string
}

// Deps are the collaborators a Worker needs. Providers, Jobs, Artifacts
// and Builder are required.
type Deps struct {
	Providers book.ProviderResolver
	Jobs      book.JobStore
	Artifacts book.ArtifactStore
	Builder   book.ArtifactBuilder
	Router    fetcher.Router
	Publisher book.Publisher
	Events    progress.Emitter
	Hasher    book.Hasher
	Names     book.IDGenerator
	Clock     book.Clock
	// Sleeper overrides retry backoff waits, mainly for tests.
	Sleeper fetcher.Sleeper
}

// Worker consumes queue items and executes the pipeline.
type Worker struct {
	queue  queue.Queue
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker, filling optional dependencies with defaults.
func New(q queue.Queue, deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = progress.NopEmitter{}
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if deps.Names == nil {
		deps.Names = uuid.NewArtifactNameGenerator()
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = collector.DefaultConcurrency
	}
	if cfg.ProxyMode == "" {
		cfg.ProxyMode = "direct"
	}
	return &Worker{queue: q, deps: deps, cfg: cfg, logger: logger}
}

// Run blocks, consuming queue items until ctx ends or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("Queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("Dequeued job", zap.String("job_id", item.JobID))
		w.Process(ctx, item)
	}
}

// run carries per-job state through the pipeline.
type run struct {
	item     queue.Item
	site     string
	title    string
	started  time.Time
	counters book.JobCounters
}

// Process executes one job to a terminal state. It never panics; a panic in
// any stage fails the job.
func (w *Worker) Process(ctx context.Context, item queue.Item) {
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	r := &run{item: item, started: w.deps.Clock.Now()}
	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("url", item.Request.Source))

	ref, err := w.execute(ctx, r, logger)
	// Terminal writes must land even when shutdown cancelled ctx.
	final := context.WithoutCancel(ctx)
	if err != nil {
		w.fail(final, r, err, logger)
		return
	}
	w.complete(final, r, ref, logger)
}

func (w *Worker) execute(ctx context.Context, r *run, logger *zap.Logger) (ref book.ArtifactRef, err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Job pipeline panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("internal error: %v", p)
		}
	}()

	req := r.item.Request
	if err := w.deps.Jobs.StartJob(ctx, r.item.JobID, progressStarted); err != nil {
		return ref, fmt.Errorf("start job: %w", err)
	}

	provider, err := w.deps.Providers.Resolve(req.Source)
	if err != nil {
		return ref, err
	}
	r.site = provider.Name()
	w.emit(progress.Event{JobID: r.item.JobID, Stage: progress.StageJobStart, Site: r.site, Progress: progressStarted})

	meta, err := provider.FetchMetadata(ctx, req.Source)
	if err != nil {
		return ref, fmt.Errorf("fetch metadata: %w", err)
	}
	r.title = meta.Title
	if err := w.deps.Jobs.SetTitle(ctx, r.item.JobID, meta.Title); err != nil {
		return ref, fmt.Errorf("set title: %w", err)
	}

	urls, err := provider.ListUnitURLs(ctx, req.Source, req.Start, req.Quantity)
	if err != nil {
		return ref, fmt.Errorf("list units: %w", err)
	}
	r.counters.UnitsRequested = len(urls)
	logger.Info("Units listed", zap.String("site", r.site), zap.Int("units", len(urls)))
	w.updateProgress(ctx, r.item.JobID, progressListed, logger)

	cover := w.fetchCover(ctx, provider, meta.CoverURL, logger)

	results, err := w.collect(ctx, r, provider, urls, logger)
	for _, res := range results {
		if res.Failed {
			r.counters.UnitsFailed++
		} else {
			r.counters.UnitsSucceeded++
		}
	}
	if err != nil {
		return ref, err
	}

	w.updateProgress(ctx, r.item.JobID, progressBuilding, logger)
	doc := book.Document{
		Metadata:   meta,
		Cover:      cover,
		Units:      results,
		SourceURL:  req.Source,
		AssembleAt: w.deps.Clock.Now(),
	}
	if len(cover) > 0 {
		doc.CoverType = artifact.CoverContentType
	}
	return w.persist(ctx, doc)
}

func (w *Worker) collect(
	ctx context.Context,
	r *run,
	provider book.ContentProvider,
	urls []string,
	logger *zap.Logger,
) ([]book.UnitResult, error) {
	opts := []fetcher.Option{fetcher.WithLogger(logger)}
	if w.deps.Router != nil {
		opts = append(opts, fetcher.WithRouter(w.deps.Router))
	}
	if w.deps.Sleeper != nil {
		opts = append(opts, fetcher.WithSleeper(w.deps.Sleeper))
	}
	resilient := fetcher.NewResilient(provider, w.cfg.Policy, opts...)

	reqs := make([]book.UnitRequest, len(urls))
	for i, u := range urls {
		reqs[i] = book.UnitRequest{Index: i, URL: u}
	}

	c := collector.New(resilient,
		collector.WithConcurrency(w.cfg.Concurrency),
		collector.WithLogger(logger),
		collector.WithObserver(func(res book.UnitResult, took time.Duration) {
			evt := progress.Event{
				JobID: r.item.JobID,
				Stage: progress.StageUnitDone,
				Site:  r.site,
				URL:   res.URL,
				Index: res.Index,
				Dur:   took,
			}
			if res.Failed {
				evt.Stage = progress.StageUnitFailed
				evt.Kind = res.Kind.String()
				evt.Note = res.Err
			}
			w.emit(evt)
		}),
	)
	span := progressCollected - progressListed
	results, err := c.Collect(ctx, reqs, func(pct int) {
		w.updateProgress(ctx, r.item.JobID, progressListed+pct*span/100, logger)
	})
	if errors.Is(err, book.ErrNoContent) {
		return results, errors.New(NoContentMessage)
	}
	if err != nil {
		return results, fmt.Errorf("collect units: %w", err)
	}
	return results, nil
}

func (w *Worker) fetchCover(ctx context.Context, provider book.ContentProvider, coverURL string, logger *zap.Logger) []byte {
	cf, ok := provider.(book.CoverFetcher)
	if !ok || coverURL == "" {
		return nil
	}
	raw, err := cf.FetchCover(ctx, coverURL)
	if err != nil {
		logger.Warn("Cover download failed, continuing without cover", zap.String("cover_url", coverURL), zap.Error(err))
		return nil
	}
	img, err := artifact.NormalizeCover(raw, w.cfg.CoverMaxDimension)
	if err != nil {
		logger.Warn("Cover is not a usable image, continuing without cover", zap.String("cover_url", coverURL), zap.Error(err))
		return nil
	}
	return img
}

func (w *Worker) persist(ctx context.Context, doc book.Document) (book.ArtifactRef, error) {
	var buf bytes.Buffer
	if err := w.deps.Builder.Build(ctx, doc, &buf); err != nil {
		return book.ArtifactRef{}, fmt.Errorf("build artifact: %w", err)
	}
	data := buf.Bytes()
	digest, err := w.deps.Hasher.Hash(data)
	if err != nil {
		return book.ArtifactRef{}, fmt.Errorf("hash artifact: %w", err)
	}
	name, err := w.deps.Names.NewID()
	if err != nil {
		return book.ArtifactRef{}, fmt.Errorf("name artifact: %w", err)
	}
	ext := w.deps.Builder.Extension()
	key := name + "." + ext
	uri, err := w.deps.Artifacts.Put(ctx, key, w.deps.Builder.ContentType(), bytes.NewReader(data))
	if err != nil {
		return book.ArtifactRef{}, fmt.Errorf("store artifact: %w", err)
	}
	return book.ArtifactRef{
		Key:         key,
		URI:         uri,
		Filename:    artifact.SanitizeFilename(doc.Title, ext),
		ContentType: w.deps.Builder.ContentType(),
		Size:        int64(len(data)),
		SHA256:      digest,
	}, nil
}

func (w *Worker) complete(ctx context.Context, r *run, ref book.ArtifactRef, logger *zap.Logger) {
	if err := w.deps.Jobs.CompleteJob(ctx, r.item.JobID, ref, r.counters); err != nil {
		logger.Error("Complete job failed, discarding artifact", zap.String("key", ref.Key), zap.Error(err))
		if delErr := w.deps.Artifacts.Delete(ctx, ref.Key); delErr != nil {
			logger.Warn("Discard artifact failed", zap.String("key", ref.Key), zap.Error(delErr))
		}
		return
	}
	summary := w.summary(r, book.JobStatusCompleted, "")
	logger.Info("Job completed",
		zap.String("title", r.title),
		zap.String("artifact", ref.URI),
		zap.Int("units_succeeded", r.counters.UnitsSucceeded),
		zap.Int("units_failed", r.counters.UnitsFailed),
		zap.Duration("duration", summary.Duration),
	)
	metrics.ObserveJob(string(book.JobStatusCompleted))
	w.emit(progress.Event{JobID: r.item.JobID, Stage: progress.StageJobDone, Site: r.site, Progress: 100, Run: summary})
	w.notify(ctx, Notification{
		JobID:       r.item.JobID,
		Status:      string(book.JobStatusCompleted),
		Title:       r.title,
		ArtifactURI: ref.URI,
		SHA256:      ref.SHA256,
		Units:       r.counters,
	}, logger)
}

func (w *Worker) fail(ctx context.Context, r *run, cause error, logger *zap.Logger) {
	errText := cause.Error()
	logger.Warn("Job failed", zap.String("kind", book.KindOf(cause).String()), zap.Error(cause))
	if err := w.deps.Jobs.FailJob(ctx, r.item.JobID, errText, r.counters); err != nil {
		logger.Error("Fail job status update failed", zap.Error(err))
		return
	}
	summary := w.summary(r, book.JobStatusFailed, errText)
	metrics.ObserveJob(string(book.JobStatusFailed))
	w.emit(progress.Event{
		JobID: r.item.JobID,
		Stage: progress.StageJobFailed,
		Site:  r.site,
		Kind:  book.KindOf(cause).String(),
		Note:  errText,
		Run:   summary,
	})
	w.notify(ctx, Notification{
		JobID:  r.item.JobID,
		Status: string(book.JobStatusFailed),
		Title:  r.title,
		Units:  r.counters,
		Error:  errText,
	}, logger)
}

func (w *Worker) summary(r *run, status book.JobStatus, errText string) *book.RunRecord {
	finished := w.deps.Clock.Now()
	elapsed := finished.Sub(r.started)
	var rate float64
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(r.counters.UnitsSucceeded) / secs
	}
	return &book.RunRecord{
		JobID:          r.item.JobID,
		Source:         r.item.Request.Source,
		Status:         status,
		UnitsRequested: r.counters.UnitsRequested,
		UnitsSucceeded: r.counters.UnitsSucceeded,
		UnitsFailed:    r.counters.UnitsFailed,
		Duration:       elapsed,
		UnitsPerSecond: rate,
		Workers:        w.cfg.Concurrency,
		ProxyMode:      w.cfg.ProxyMode,
		Error:          errText,
		FinishedAt:     finished,
	}
}

func (w *Worker) updateProgress(ctx context.Context, jobID string, pct int, logger *zap.Logger) {
	if err := w.deps.Jobs.UpdateProgress(ctx, jobID, pct); err != nil {
		logger.Debug("Progress update rejected", zap.Int("progress", pct), zap.Error(err))
	}
}

func (w *Worker) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = w.deps.Clock.Now()
	}
	w.deps.Events.Emit(evt)
}

func (w *Worker) notify(ctx context.Context, n Notification, logger *zap.Logger) {
	if w.deps.Publisher == nil {
		return
	}
	id, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, n)
	if err != nil {
		logger.Warn("Publish notification failed", zap.Error(err))
		return
	}
	logger.Debug("Notification published", zap.String("message_id", id))
}
