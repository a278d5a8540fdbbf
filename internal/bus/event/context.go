package event

import "context"

type ctxKey int

const dispatchKey ctxKey = iota

// Dispatch is the ambient state installed for the duration of one dispatch
// call. Values points at the event's Context map, so writes made by one
// listener are visible to listeners later in the same dispatch and to the
// after-hooks, and are discarded with the event.
type Dispatch struct {
	Event         *Event
	CorrelationID string
	Mode          string
	Values        map[string]any
}

// WithDispatch returns a context carrying d. Derived contexts shadow any
// outer dispatch; the caller's context is untouched, which gives the
// guaranteed restore-on-exit semantics for nested dispatches.
func WithDispatch(ctx context.Context, d *Dispatch) context.Context {
	return context.WithValue(ctx, dispatchKey, d)
}

// DispatchFrom extracts the ambient dispatch state, if any.
func DispatchFrom(ctx context.Context) (*Dispatch, bool) {
	d, ok := ctx.Value(dispatchKey).(*Dispatch)
	return d, ok
}

// CorrelationIDFrom returns the ambient correlation id, or "" outside a
// dispatch.
func CorrelationIDFrom(ctx context.Context) string {
	if d, ok := DispatchFrom(ctx); ok {
		return d.CorrelationID
	}
	return ""
}

// Value reads a key from the ambient dispatch values.
func Value(ctx context.Context, key string) (any, bool) {
	d, ok := DispatchFrom(ctx)
	if !ok {
		return nil, false
	}
	v, ok := d.Values[key]
	return v, ok
}

// SetValue writes a key into the ambient dispatch values. No-op outside a
// dispatch.
func SetValue(ctx context.Context, key string, value any) {
	if d, ok := DispatchFrom(ctx); ok && d.Values != nil {
		d.Values[key] = value
	}
}
