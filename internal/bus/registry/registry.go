// Package registry keeps the ordered listener table for event dispatch.
// Listeners register under an exact event name or a trailing-asterisk prefix
// pattern and are resolved per event name as a sorted snapshot, so
// registering or removing listeners mid-dispatch never affects a dispatch
// already in flight.
package registry

import (
	"cmp"
	"context"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/runeforged/runebus/internal/bus/errs"
	"github.com/runeforged/runebus/internal/bus/event"
	"github.com/runeforged/runebus/internal/bus/ids"
)

// DefaultPriority is assigned to registrations that do not set one. Lower
// priorities run earlier.
const DefaultPriority = 10

// Listener handles one event delivery.
type Listener func(ctx context.Context, evt *event.Event) error

// Predicate gates a listener per event. A nil predicate accepts everything.
type Predicate func(evt *event.Event) bool

// Entry is one registration. Entries are immutable once registered; Resolve
// hands out shared pointers.
type Entry struct {
	ID        string
	Pattern   string
	Priority  int
	Listener  Listener
	Predicate Predicate

	wildcard bool
	prefix   string
	seq      uint64
}

// Wildcard reports whether the entry's pattern is a prefix pattern.
func (e *Entry) Wildcard() bool { return e.wildcard }

// Matches reports whether the entry's pattern covers the event name.
func (e *Entry) Matches(name string) bool {
	if e.wildcard {
		return strings.HasPrefix(name, e.prefix)
	}
	return e.Pattern == name
}

// Accepts reports whether the entry's predicate admits the event.
func (e *Entry) Accepts(evt *event.Event) bool {
	return e.Predicate == nil || e.Predicate(evt)
}

// Option configures a registration.
type Option func(*Entry)

// WithPriority orders the listener among its peers; lower runs earlier.
func WithPriority(priority int) Option {
	return func(e *Entry) {
		e.Priority = priority
	}
}

// WithPredicate gates the listener per event.
func WithPredicate(p Predicate) Option {
	return func(e *Entry) {
		e.Predicate = p
	}
}

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	exact     map[string][]*Entry
	wildcards []*Entry
	byID      map[string]*Entry
	seq       uint64
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		exact: make(map[string][]*Entry),
		byID:  make(map[string]*Entry),
	}
}

// Register adds a listener under pattern and returns the registration ID.
// A pattern ending in '*' matches every name with that prefix; a lone '*'
// matches all names. Registering the same listener twice under the same
// pattern keeps both registrations.
func (r *Registry) Register(pattern string, l Listener, opts ...Option) (string, error) {
	if pattern == "" {
		return "", errs.ErrPatternRequired
	}
	if l == nil {
		return "", errs.ErrListenerRequired
	}

	e := &Entry{
		ID:       ids.CreateULID(),
		Pattern:  pattern,
		Priority: DefaultPriority,
		Listener: l,
	}
	for _, opt := range opts {
		opt(e)
	}
	if strings.HasSuffix(pattern, "*") {
		e.wildcard = true
		e.prefix = strings.TrimSuffix(pattern, "*")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	e.seq = r.seq
	if e.wildcard {
		r.wildcards = append(r.wildcards, e)
	} else {
		r.exact[pattern] = append(r.exact[pattern], e)
	}
	r.byID[e.ID] = e
	return e.ID, nil
}

// Unregister removes every registration of l under pattern and reports how
// many were removed. Listeners are matched by function identity, so the
// exact function value registered must be passed back; distinct closures
// over the same code match each other.
func (r *Registry) Unregister(pattern string, l Listener) int {
	if l == nil {
		return 0
	}
	target := reflect.ValueOf(l).Pointer()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	remove := func(e *Entry) bool {
		if e.Pattern != pattern || reflect.ValueOf(e.Listener).Pointer() != target {
			return false
		}
		delete(r.byID, e.ID)
		removed++
		return true
	}

	if strings.HasSuffix(pattern, "*") {
		r.wildcards = slices.DeleteFunc(r.wildcards, remove)
	} else {
		bucket := slices.DeleteFunc(r.exact[pattern], remove)
		if len(bucket) == 0 {
			delete(r.exact, pattern)
		} else {
			r.exact[pattern] = bucket
		}
	}
	return removed
}

// UnregisterID removes a single registration by its ID.
func (r *Registry) UnregisterID(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	if e.wildcard {
		r.wildcards = slices.DeleteFunc(r.wildcards, func(c *Entry) bool { return c == e })
		return true
	}
	bucket := slices.DeleteFunc(r.exact[e.Pattern], func(c *Entry) bool { return c == e })
	if len(bucket) == 0 {
		delete(r.exact, e.Pattern)
	} else {
		r.exact[e.Pattern] = bucket
	}
	return true
}

// Resolve returns the entries matching name as a fresh slice, ordered by
// ascending priority. On equal priority an exact registration precedes a
// wildcard one, and otherwise registration order decides.
func (r *Registry) Resolve(name string) []*Entry {
	r.mu.RLock()
	matched := make([]*Entry, 0, len(r.exact[name])+len(r.wildcards))
	matched = append(matched, r.exact[name]...)
	for _, e := range r.wildcards {
		if strings.HasPrefix(name, e.prefix) {
			matched = append(matched, e)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *Entry) int {
		if a.Priority != b.Priority {
			return cmp.Compare(a.Priority, b.Priority)
		}
		if a.wildcard != b.wildcard {
			if a.wildcard {
				return 1
			}
			return -1
		}
		return cmp.Compare(a.seq, b.seq)
	})
	return matched
}

// Registrations returns every entry, ordered by registration.
func (r *Registry) Registrations() []*Entry {
	r.mu.RLock()
	all := make([]*Entry, 0, len(r.byID))
	for _, e := range r.byID {
		all = append(all, e)
	}
	r.mu.RUnlock()

	slices.SortFunc(all, func(a, b *Entry) int { return cmp.Compare(a.seq, b.seq) })
	return all
}

// Len reports the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
