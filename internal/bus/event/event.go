// Package event defines the value that travels through the bus: a named
// occurrence with a mutable payload, metadata stamped at creation, a
// per-dispatch context mapping, and a monotonic cancellation flag.
package event

import (
	"sync/atomic"
	"time"

	"github.com/runeforged/runebus/internal/bus/ids"
)

// Metadata keys stamped on every event at construction.
const (
	MetaTimestamp     = "timestamp"
	MetaCorrelationID = "correlation_id"
)

// Event is a single named occurrence. The name is immutable; payload,
// metadata and context are shared mutable maps visible to middleware,
// hooks and listeners of the same dispatch.
type Event struct {
	name string

	// Payload carries the event's data. Middleware and listeners may
	// mutate it in place.
	Payload map[string]any

	// Metadata travels with the event value itself. It always contains
	// MetaTimestamp and MetaCorrelationID after construction.
	Metadata map[string]any

	// Context holds values scoped to one dispatch call. The pipeline
	// installs it into the ambient context for the duration of dispatch;
	// unlike Metadata it is not persisted or forwarded.
	Context map[string]any

	cancelled atomic.Bool
}

// Option configures an Event at construction.
type Option func(*Event)

// WithPayload sets the initial payload map. The map is used as-is, not copied.
func WithPayload(payload map[string]any) Option {
	return func(e *Event) {
		e.Payload = payload
	}
}

// WithMetadata merges entries into the event's metadata before the
// construction stamps are applied, so a caller-provided correlation id or
// timestamp wins over the generated ones.
func WithMetadata(md map[string]any) Option {
	return func(e *Event) {
		for k, v := range md {
			e.Metadata[k] = v
		}
	}
}

// WithCorrelationID pins the correlation id instead of generating one.
func WithCorrelationID(id string) Option {
	return func(e *Event) {
		e.Metadata[MetaCorrelationID] = id
	}
}

// WithContext seeds the per-dispatch context mapping.
func WithContext(values map[string]any) Option {
	return func(e *Event) {
		e.Context = values
	}
}

// New creates an Event. The timestamp and correlation id are assigned here,
// exactly once, unless already supplied via options. Construction never fails.
func New(name string, opts ...Option) *Event {
	e := &Event{
		name:     name,
		Payload:  map[string]any{},
		Metadata: map[string]any{},
		Context:  map[string]any{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	if e.Context == nil {
		e.Context = map[string]any{}
	}
	if _, ok := e.Metadata[MetaTimestamp]; !ok {
		e.Metadata[MetaTimestamp] = time.Now().UTC()
	}
	if _, ok := e.Metadata[MetaCorrelationID]; !ok {
		e.Metadata[MetaCorrelationID] = ids.CreateCorrelationID()
	}
	return e
}

// Name returns the immutable event name.
func (e *Event) Name() string { return e.name }

// CorrelationID returns the correlation id stamped at construction.
func (e *Event) CorrelationID() string {
	id, _ := e.Metadata[MetaCorrelationID].(string)
	return id
}

// Timestamp returns the creation time stamped at construction.
func (e *Event) Timestamp() time.Time {
	ts, _ := e.Metadata[MetaTimestamp].(time.Time)
	return ts
}

// Cancel marks the event cancelled. Idempotent; the flag never resets within
// a dispatch. Listeners later in priority order are skipped once set.
func (e *Event) Cancel() {
	e.cancelled.Store(true)
}

// Cancelled reports whether a listener cancelled the event.
func (e *Event) Cancelled() bool {
	return e.cancelled.Load()
}
