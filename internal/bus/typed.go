package bus

import (
	"context"
	"fmt"
	"reflect"

	"github.com/runeforged/runebus/internal/bus/errs"
	"github.com/runeforged/runebus/internal/bus/event"
	"github.com/runeforged/runebus/internal/bus/jsoncodec"
	"github.com/runeforged/runebus/internal/bus/registry"
)

// Typed adapts a function taking a decoded payload struct into a
// registry.Listener. T must be a pointer type, for example *OrderPlaced;
// the event payload is encoded to JSON and decoded into a fresh T for
// every invocation, so listeners never share payload structs.
func Typed[T any](fn func(ctx context.Context, payload T, evt *event.Event) error) (registry.Listener, error) {
	if fn == nil {
		return nil, errs.ErrListenerRequired
	}

	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() == reflect.Interface {
		return nil, errs.ErrPayloadTypeRequired
	}
	if t.Kind() != reflect.Pointer {
		return nil, errs.ErrPayloadPointerNeeded
	}
	elem := t.Elem()

	return func(ctx context.Context, evt *event.Event) error {
		raw, err := jsoncodec.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}

		value := reflect.New(elem)
		if err := jsoncodec.Unmarshal(raw, value.Interface()); err != nil {
			return fmt.Errorf("failed to unmarshal event payload: %w", err)
		}

		return fn(ctx, value.Interface().(T), evt)
	}, nil
}

// MustTyped is Typed panicking on error, for static registrations.
func MustTyped[T any](fn func(ctx context.Context, payload T, evt *event.Event) error) registry.Listener {
	l, err := Typed(fn)
	if err != nil {
		panic(err)
	}
	return l
}
