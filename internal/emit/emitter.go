package emit

import "context"

// Emitter receives observability events from every gateway component.
// Implementations must be safe for concurrent use and must not block the
// caller for long: a slow or unavailable backend should buffer, drop, or
// fail silently rather than stall a chat request.
type Emitter interface {
	// Emit records a single event. Must not panic.
	Emit(event Event)

	// EmitBatch records several events at once, preserving order.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until any buffered events have been delivered, or
	// ctx expires. Safe to call more than once.
	Flush(ctx context.Context) error
}
