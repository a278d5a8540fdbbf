// Package hooks provides a named hook registry for application lifecycle
// points. Unlike the positional before/after/on-error chains on the Bus,
// entries here are labeled, carry a priority, and can be toggled without
// being removed.
package hooks

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/runeforged/runebus/internal/bus/errs"
	"github.com/runeforged/runebus/internal/bus/event"
)

// DefaultPriority is assigned when no WithPriority option is given. Lower
// values run earlier.
const DefaultPriority = 10

// Hook is a labeled lifecycle callback. A non-nil error is collected by
// Invoke but never stops the remaining hooks.
type Hook func(ctx context.Context, evt *event.Event) error

// Info describes a registered hook for introspection.
type Info struct {
	Point    string
	Label    string
	Priority int
	Enabled  bool
}

type entry struct {
	label    string
	priority int
	enabled  bool
	fn       Hook
	seq      uint64
}

// Option configures a hook at registration time.
type Option func(*entry)

// WithPriority overrides DefaultPriority. Lower runs earlier.
func WithPriority(p int) Option {
	return func(e *entry) { e.priority = p }
}

// Disabled registers the hook switched off. It can be switched on later
// with Enable.
func Disabled() Option {
	return func(e *entry) { e.enabled = false }
}

// Registry keys hooks by the point where they fire. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	points map[string][]*entry
	seq    uint64
}

// NewRegistry returns an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{points: map[string][]*entry{}}
}

// Register adds a labeled hook at a point. Labels are unique per point; a
// duplicate label is rejected with ErrHookExists.
func (r *Registry) Register(point, label string, h Hook, opts ...Option) error {
	if point == "" || label == "" {
		return errs.ErrHookNameRequired
	}
	if h == nil {
		return errs.ErrHookRequired
	}

	e := &entry{label: label, priority: DefaultPriority, enabled: true, fn: h}
	for _, opt := range opts {
		opt(e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.points[point] {
		if existing.label == label {
			return fmt.Errorf("hook %q at point %q: %w", label, point, errs.ErrHookExists)
		}
	}
	r.seq++
	e.seq = r.seq
	r.points[point] = append(r.points[point], e)
	return nil
}

// Unregister removes the labeled hook. Reports whether it was present.
func (r *Registry) Unregister(point, label string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := len(r.points[point])
	r.points[point] = slices.DeleteFunc(r.points[point], func(e *entry) bool {
		return e.label == label
	})
	if len(r.points[point]) == 0 {
		delete(r.points, point)
	}
	return len(r.points[point]) != before
}

// Enable switches the labeled hook on. Reports whether the label exists.
func (r *Registry) Enable(point, label string) bool {
	return r.setEnabled(point, label, true)
}

// Disable switches the labeled hook off without removing it. Reports whether
// the label exists.
func (r *Registry) Disable(point, label string) bool {
	return r.setEnabled(point, label, false)
}

func (r *Registry) setEnabled(point, label string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.points[point] {
		if e.label == label {
			e.enabled = enabled
			return true
		}
	}
	return false
}

// Invoke runs the enabled hooks at a point in ascending priority order,
// registration order on ties. Every hook runs; panics are recovered and
// errors are collected into the returned slice, one HookError per failure.
func (r *Registry) Invoke(ctx context.Context, point string, evt *event.Event) []error {
	snapshot := r.enabled(point)

	var errors []error
	for _, e := range snapshot {
		if err := safeInvoke(ctx, e.fn, evt); err != nil {
			errors = append(errors, &errs.HookError{Phase: point + "/" + e.label, Err: err})
		}
	}
	return errors
}

// enabled snapshots the entries to run, sorted, so hooks may mutate the
// registry while Invoke is in flight.
func (r *Registry) enabled(point string) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make([]*entry, 0, len(r.points[point]))
	for _, e := range r.points[point] {
		if e.enabled {
			snapshot = append(snapshot, e)
		}
	}
	slices.SortFunc(snapshot, func(a, b *entry) int {
		if c := cmp.Compare(a.priority, b.priority); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	return snapshot
}

func safeInvoke(ctx context.Context, h Hook, evt *event.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h(ctx, evt)
}

// Entries lists the hooks at a point in invocation order, disabled entries
// included.
func (r *Registry) Entries(point string) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := slices.Clone(r.points[point])
	slices.SortFunc(snapshot, func(a, b *entry) int {
		if c := cmp.Compare(a.priority, b.priority); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	infos := make([]Info, 0, len(snapshot))
	for _, e := range snapshot {
		infos = append(infos, Info{Point: point, Label: e.label, Priority: e.priority, Enabled: e.enabled})
	}
	return infos
}

// Points lists the points that have at least one hook, sorted.
func (r *Registry) Points() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	points := make([]string, 0, len(r.points))
	for p := range r.points {
		points = append(points, p)
	}
	slices.Sort(points)
	return points
}
