package emit

import (
	"context"
	"sync"
)

// BufferedEmitter keeps every event in memory, grouped by RequestID, for
// tests and in-process inspection. Not meant for
// long-running production processes with high request volume — nothing
// evicts old entries.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewBufferedEmitter builds an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RequestID] = append(b.events[event.RequestID], event)
}

func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		b.Emit(e)
	}
	return nil
}

func (b *BufferedEmitter) Flush(context.Context) error { return nil }

// History returns every event recorded for requestID, in emission order.
func (b *BufferedEmitter) History(requestID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.events[requestID]))
	copy(out, b.events[requestID])
	return out
}

// Clear discards every event recorded for requestID.
func (b *BufferedEmitter) Clear(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, requestID)
}

// All returns every event recorded across every requestID, in no
// guaranteed order.
func (b *BufferedEmitter) All() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, evs := range b.events {
		out = append(out, evs...)
	}
	return out
}
