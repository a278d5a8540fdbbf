package bus

import (
	"context"
	"errors"

	"github.com/runeforged/runebus/internal/bus/event"
	"github.com/runeforged/runebus/internal/bus/logging"
)

// Middleware transforms an event between admission and delivery. The
// returned event is threaded into the next middleware; returning nil keeps
// the current one. Unlike hooks, middleware failures are not isolated: an
// error or panic aborts the remaining pipeline and surfaces to the caller
// as a *errs.MiddlewareError.
type Middleware func(ctx context.Context, evt *event.Event) (*event.Event, error)

// MiddlewareBuilder constructs a middleware using the bus instance, for
// middlewares that need the bus logger or config.
type MiddlewareBuilder func(*Bus) (Middleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a Bus.
type MiddlewareRegistration struct {
	Name       string
	Middleware Middleware
	Builder    MiddlewareBuilder
}

type middlewareEntry struct {
	name string
	fn   Middleware
}

// DefaultMiddlewares returns the standard middleware chain used by the Bus
// constructor.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		LogEventsMiddleware(nil),
	}
}

// AnnotateMiddleware stamps a metadata entry on every event that does not
// already carry the key.
func AnnotateMiddleware(key string, value any) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "annotate",
		Middleware: func(ctx context.Context, evt *event.Event) (*event.Event, error) {
			if _, ok := evt.Metadata[key]; !ok {
				evt.Metadata[key] = value
			}
			return evt, nil
		},
	}
}

// LogEventsMiddleware logs the payload and metadata of every dispatched
// event. Passing a nil logger uses the bus logger.
func LogEventsMiddleware(logger logging.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_events",
		Builder: func(b *Bus) (Middleware, error) {
			l := logger
			if l == nil {
				l = b.logger
			}
			if l == nil {
				return nil, errors.New("log events middleware requires a logger")
			}
			return func(ctx context.Context, evt *event.Event) (*event.Event, error) {
				l.Debug("Dispatching event", logging.LogFields{
					"event":          evt.Name(),
					"correlation_id": evt.CorrelationID(),
					"payload":        evt.Payload,
					"metadata":       evt.Metadata,
				})
				return evt, nil
			}, nil
		},
	}
}

// RedactMiddleware masks the payload values under the given keys before
// listeners, persistence and forwarding see them.
func RedactMiddleware(keys ...string) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "redact",
		Middleware: func(ctx context.Context, evt *event.Event) (*event.Event, error) {
			for _, key := range keys {
				if _, ok := evt.Payload[key]; ok {
					evt.Payload[key] = "***REDACTED***"
				}
			}
			return evt, nil
		},
	}
}

// RegisterMiddleware appends the supplied middleware to the dispatch chain.
// A Builder returning a nil middleware registers nothing.
func (b *Bus) RegisterMiddleware(reg MiddlewareRegistration) error {
	var mw Middleware
	switch {
	case reg.Middleware != nil:
		mw = reg.Middleware
	case reg.Builder != nil:
		var err error
		mw, err = reg.Builder(b)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	b.middlewaresMu.Lock()
	b.middlewares = append(b.middlewares, middlewareEntry{name: reg.Name, fn: mw})
	b.middlewaresMu.Unlock()
	return nil
}

// Use appends an anonymous middleware to the dispatch chain.
func (b *Bus) Use(mw Middleware) {
	if mw == nil {
		return
	}
	b.middlewaresMu.Lock()
	b.middlewares = append(b.middlewares, middlewareEntry{fn: mw})
	b.middlewaresMu.Unlock()
}

func (b *Bus) snapshotMiddlewares() []middlewareEntry {
	b.middlewaresMu.RLock()
	defer b.middlewaresMu.RUnlock()
	return b.middlewares[:len(b.middlewares):len(b.middlewares)]
}
