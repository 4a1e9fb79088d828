// Package queue defines the hand-off between job submission and job
// workers.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/chapterforge/internal/book"
)

// ErrClosed is returned once the queue has been shut down.
var ErrClosed = errors.New("queue closed")

// Item is one submitted job awaiting a worker.
type Item struct {
	JobID    string
	Request  book.Request
	Enqueued time.Time
}

// Queue carries Items from submitters to workers.
type Queue interface {
	// Enqueue blocks until there is room, ctx ends or the queue closes.
	Enqueue(ctx context.Context, item Item) error
	// TryEnqueue never blocks; it reports whether the item was accepted.
	TryEnqueue(item Item) bool
	Dequeue(ctx context.Context) (Item, error)
	Close()
}
