package emit

import "context"

// NullEmitter discards every event. It is the default when no observability
// backend is configured, and is useful in tests that don't care about
// emitted events but need a non-nil Emitter.
type NullEmitter struct{}

// NewNullEmitter builds a NullEmitter.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

func (n *NullEmitter) Emit(Event) {}

func (n *NullEmitter) EmitBatch(context.Context, []Event) error { return nil }

func (n *NullEmitter) Flush(context.Context) error { return nil }
