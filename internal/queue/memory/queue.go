// Package memory provides a bounded in-process job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/chapterforge/internal/queue"
)

// Queue is a bounded channel-backed queue.Queue.
type Queue struct {
	ch        chan queue.Item
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a queue holding up to capacity pending items.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:   make(chan queue.Item, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue waits for room in the queue.
func (q *Queue) Enqueue(ctx context.Context, item queue.Item) error {
	select {
	case <-q.done:
		return queue.ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return queue.ErrClosed
	case q.ch <- item:
		return nil
	}
}

// TryEnqueue adds item only if there is room right now.
func (q *Queue) TryEnqueue(item queue.Item) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.ch <- item:
		return true
	default:
		return false
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (queue.Item, error) {
	select {
	case <-ctx.Done():
		return queue.Item{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return queue.Item{}, queue.ErrClosed
	case item := <-q.ch:
		return item, nil
	}
}

// Len reports how many items are waiting.
func (q *Queue) Len() int { return len(q.ch) }

// Close stops the queue. Pending items are abandoned.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
