package events

// Event is the canonical payload emitted by the escrow engine after a state
// transition commits. Attributes carry string-encoded fields so downstream
// consumers never need the engine's internal types.
type Event struct {
	Type       string
	Attributes map[string]string
}

// Emitter receives committed events. The engine emits synchronously after
// each successful transition, so implementations must not block.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// Recorder buffers events in emission order. Intended for tests and for
// draining into webhook-style delivery loops.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Emit(evt Event) {
	r.Events = append(r.Events, evt)
}

// Types returns the recorded event type names in order.
func (r *Recorder) Types() []string {
	types := make([]string, 0, len(r.Events))
	for _, evt := range r.Events {
		types = append(types, evt.Type)
	}
	return types
}
