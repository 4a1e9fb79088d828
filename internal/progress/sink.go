package progress

import "context"

// Sink consumes batches of events. Consume is only ever called from the
// hub's goroutine but must honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub satisfies it; workers depend on
// this interface only.
type Emitter interface {
	Emit(evt Event)
}

// NopEmitter discards everything.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(Event) {}
