// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterforge/internal/queue"
)

// ErrStopped is reported for items dispatched after shutdown began.
var ErrStopped = errors.New("dispatcher stopped")

// Runner is a long-lived queue consumer.
type Runner interface {
	Run(ctx context.Context)
}

// DropFunc is called when an item could not be queued.
type DropFunc func(item queue.Item, err error)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   queue.Queue
	workers []Runner
	logger  *zap.Logger
	onDrop  DropFunc

	base    context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	stopped bool
	pending sync.WaitGroup
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDropHandler registers fn for items that never reached the queue.
func WithDropHandler(fn DropFunc) Option {
	return func(d *Dispatcher) { d.onDrop = fn }
}

// New creates a Dispatcher.
func New(q queue.Queue, workers []Runner, opts ...Option) *Dispatcher {
	base, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		queue:   q,
		workers: workers,
		logger:  zap.NewNop(),
		base:    base,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(w)
	}
	d.logger.Info("Dispatcher started", zap.Int("workers", len(d.workers)))
	<-ctx.Done()

	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cancel()
	d.pending.Wait()
	wg.Wait()
	d.logger.Info("Dispatcher stopped")
}

// Dispatch hands item to the queue without blocking. When the queue is full
// the item waits on a background goroutine until space frees up.
func (d *Dispatcher) Dispatch(item queue.Item) {
	if d.queue.TryEnqueue(item) {
		return
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.drop(item, ErrStopped)
		return
	}
	d.pending.Add(1)
	d.mu.Unlock()

	d.logger.Debug("Queue full, deferring enqueue", zap.String("job_id", item.JobID))
	go func() {
		defer d.pending.Done()
		if err := d.queue.Enqueue(d.base, item); err != nil {
			d.drop(item, err)
		}
	}()
}

func (d *Dispatcher) drop(item queue.Item, err error) {
	d.logger.Warn("Job dropped before queueing", zap.String("job_id", item.JobID), zap.Error(err))
	if d.onDrop != nil {
		d.onDrop(item, err)
	}
}
