// Package collector downloads many units concurrently while keeping results
// in request order.
package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/chapterforge/internal/book"
	"github.com/JakeFAU/chapterforge/internal/metrics"
)

// DefaultConcurrency is the pool size when none is configured.
const DefaultConcurrency = 2

// ProgressFunc receives floor(done/total*100). Calls are serialized and the
// values never decrease.
type ProgressFunc func(percent int)

// UnitObserver is told about every finished unit and how long it took,
// retries included.
type UnitObserver func(res book.UnitResult, took time.Duration)

// Collector runs a UnitFetcher over a batch of requests.
type Collector struct {
	fetcher     book.UnitFetcher
	concurrency int
	logger      *zap.Logger
	observer    UnitObserver
}

// Option customizes a Collector.
type Option func(*Collector)

// WithConcurrency bounds the number of in-flight fetches.
func WithConcurrency(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver registers a per-unit callback invoked from worker goroutines.
func WithObserver(o UnitObserver) Option {
	return func(c *Collector) { c.observer = o }
}

// New builds a Collector.
func New(f book.UnitFetcher, opts ...Option) *Collector {
	c := &Collector{fetcher: f, concurrency: DefaultConcurrency, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect fetches every request and returns exactly one result per request,
// indexed by UnitRequest.Index. Failed units become placeholder results. The
// returned error wraps book.ErrNoContent only when no unit succeeded; results
// are returned either way.
func (c *Collector) Collect(ctx context.Context, reqs []book.UnitRequest, onProgress ProgressFunc) ([]book.UnitResult, error) {
	results := make([]book.UnitResult, len(reqs))
	if len(reqs) == 0 {
		return results, fmt.Errorf("collect: empty batch: %w", book.ErrNoContent)
	}
	for i, req := range reqs {
		if req.Index != i {
			return nil, fmt.Errorf("collect: request %d has index %d", i, req.Index)
		}
	}

	progress := newDispatcher(onProgress, len(reqs))
	defer progress.close()

	var (
		done      atomic.Int64
		succeeded atomic.Int64
	)
	total := int64(len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, req := range reqs {
		g.Go(func() error {
			began := time.Now()
			results[req.Index] = c.fetchOne(gctx, req, &succeeded)
			if c.observer != nil {
				c.observer(results[req.Index], time.Since(began))
			}
			progress.send(int(done.Add(1) * 100 / total))
			return nil
		})
	}
	// Workers never return errors; failures are captured in results.
	_ = g.Wait()
	progress.close()

	ok := int(succeeded.Load())
	c.logger.Info("collection finished",
		zap.Int("units", len(reqs)), zap.Int("succeeded", ok), zap.Int("failed", len(reqs)-ok))
	if ok == 0 {
		return results, fmt.Errorf("collect: all %d units failed: %w", len(reqs), book.ErrNoContent)
	}
	return results, nil
}

func (c *Collector) fetchOne(ctx context.Context, req book.UnitRequest, succeeded *atomic.Int64) book.UnitResult {
	unit, err := c.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		c.logger.Warn("unit failed, inserting placeholder",
			zap.Int("index", req.Index), zap.String("url", req.URL), zap.Error(err))
		metrics.ObserveUnit("failed")
		return book.FailedUnit(req, err)
	}
	succeeded.Add(1)
	metrics.ObserveUnit("ok")
	return book.UnitResult{Index: req.Index, URL: req.URL, Title: unit.Title, Body: unit.Body}
}

// dispatcher delivers progress on its own goroutine so a slow callback never
// holds up a worker. Values are forwarded only when they increase.
type dispatcher struct {
	ch       chan int
	finished chan struct{}
	once     sync.Once
}

func newDispatcher(fn ProgressFunc, capacity int) *dispatcher {
	d := &dispatcher{ch: make(chan int, capacity), finished: make(chan struct{})}
	go func() {
		defer close(d.finished)
		last := -1
		for pct := range d.ch {
			if pct > last && fn != nil {
				fn(pct)
				last = pct
			}
		}
	}()
	return d
}

// send never blocks: the buffer holds one slot per request.
func (d *dispatcher) send(pct int) {
	d.ch <- pct
}

func (d *dispatcher) close() {
	d.once.Do(func() {
		close(d.ch)
		<-d.finished
	})
}
