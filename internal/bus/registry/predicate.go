package registry

import "github.com/runeforged/runebus/internal/bus/event"

// And accepts an event only when every predicate does. Nil predicates are
// treated as always-true.
func And(ps ...Predicate) Predicate {
	return func(evt *event.Event) bool {
		for _, p := range ps {
			if p != nil && !p(evt) {
				return false
			}
		}
		return true
	}
}

// Or accepts an event when at least one predicate does. With no predicates
// it rejects everything.
func Or(ps ...Predicate) Predicate {
	return func(evt *event.Event) bool {
		for _, p := range ps {
			if p == nil || p(evt) {
				return true
			}
		}
		return false
	}
}

// Not inverts a predicate.
func Not(p Predicate) Predicate {
	return func(evt *event.Event) bool {
		return p != nil && !p(evt)
	}
}

// PayloadHas accepts events whose payload carries the key.
func PayloadHas(key string) Predicate {
	return func(evt *event.Event) bool {
		_, ok := evt.Payload[key]
		return ok
	}
}

// PayloadEquals accepts events whose payload value for key equals want.
func PayloadEquals(key string, want any) Predicate {
	return func(evt *event.Event) bool {
		got, ok := evt.Payload[key]
		return ok && got == want
	}
}

// MetadataEquals accepts events whose metadata value for key equals want.
func MetadataEquals(key string, want any) Predicate {
	return func(evt *event.Event) bool {
		got, ok := evt.Metadata[key]
		return ok && got == want
	}
}
