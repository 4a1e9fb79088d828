// Package memory records notifications in process for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Message is one recorded publish.
type Message struct {
	Topic   string
	Payload any
}

// DefaultLimit is how many messages New retains.
const DefaultLimit = 1000

// Publisher keeps the most recent payloads it is handed.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
	limit    int
	seq      int
	err      error
}

// New returns an empty Publisher retaining DefaultLimit messages.
func New() *Publisher {
	return NewWithLimit(DefaultLimit)
}

// NewWithLimit returns a Publisher that keeps at most limit messages,
// discarding the oldest first. A non-positive limit keeps everything.
func NewWithLimit(limit int) *Publisher {
	return &Publisher{limit: limit}
}

// FailWith makes subsequent publishes return err. Pass nil to recover.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the message and returns a sequential id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", fmt.Errorf("publish to %q: %w", topic, p.err)
	}
	p.seq++
	p.messages = append(p.messages, Message{Topic: topic, Payload: payload})
	if p.limit > 0 && len(p.messages) > p.limit {
		p.messages = p.messages[len(p.messages)-p.limit:]
	}
	return fmt.Sprintf("memory-%d", p.seq), nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Message(nil), p.messages...)
}

// Close implements io.Closer.
func (p *Publisher) Close() error { return nil }
