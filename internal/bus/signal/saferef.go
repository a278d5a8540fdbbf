package signal

import (
	"context"
	"reflect"
	"runtime"
	"sync"
	"weak"

	"github.com/runeforged/runebus/internal/bus/ids"
)

// Receiver is the uniform callable a Router delivers to. Every receiver gets
// the same tagged-argument bundle, so heterogeneous receivers never require
// call-time signature introspection.
type Receiver func(ctx context.Context, d Delivery) (any, error)

// MethodFunc is the method-expression shape accepted by weak connections,
// e.g. (*Subscriber).HandleTick. The owner is re-bound at call time so the
// reference itself never keeps it alive.
type MethodFunc[T any] func(owner *T, ctx context.Context, d Delivery) (any, error)

// Ref is a reference to a receiver and the handle used for Disconnect.
//
// A direct Ref holds its function strongly and is always alive. A bound Ref
// observes its owning object through a weak pointer: once the owner is
// collected, Resolve reports absent, invalidation callbacks fire exactly
// once, and the Ref removes itself from the dedup table. A dead Ref is never
// resurrected.
type Ref struct {
	id      string
	bound   bool
	direct  Receiver
	resolve func() (Receiver, bool)

	// dedup identity, bound refs only
	owner any
	pc    uintptr
	table *refTable

	mu        sync.Mutex
	dead      bool
	onInvalid []func(*Ref)
}

// ID returns a stable identifier for logs and debug output.
func (r *Ref) ID() string { return r.id }

// Bound reports whether the reference observes an owning object weakly.
func (r *Ref) Bound() bool { return r.bound }

// Alive reports whether Resolve would currently succeed.
func (r *Ref) Alive() bool {
	_, ok := r.Resolve()
	return ok
}

// Resolve returns the callable receiver, or absent once the owner has been
// collected. It never panics; absence is an expected lifecycle outcome, not
// an error.
func (r *Ref) Resolve() (Receiver, bool) {
	if !r.bound {
		return r.direct, true
	}
	r.mu.Lock()
	dead := r.dead
	r.mu.Unlock()
	if dead {
		return nil, false
	}
	return r.resolve()
}

// OnInvalidate registers fn to run when the owner becomes unreachable. Each
// registered callback fires exactly once. Registering on an already-dead
// reference runs fn immediately.
func (r *Ref) OnInvalidate(fn func(*Ref)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	if r.dead {
		r.mu.Unlock()
		fn(r)
		return
	}
	r.onInvalid = append(r.onInvalid, fn)
	r.mu.Unlock()
}

// invalidate marks the reference dead, removes it from the dedup table and
// fires the accumulated callbacks. Subsequent calls are no-ops.
func (r *Ref) invalidate() {
	r.mu.Lock()
	if r.dead {
		r.mu.Unlock()
		return
	}
	r.dead = true
	callbacks := r.onInvalid
	r.onInvalid = nil
	r.mu.Unlock()

	if r.table != nil {
		r.table.remove(r.pc, r)
	}
	for _, fn := range callbacks {
		fn(r)
	}
}

func newDirectRef(rcv Receiver) *Ref {
	return &Ref{id: ids.CreateULID(), direct: rcv}
}

// refTable deduplicates bound references per router: binding the same
// (owner, method) pair again returns the existing Ref. Buckets are keyed by
// the method's code pointer and scanned by owner identity, where identity is
// the boxed weak pointer (equal weak pointers mean the same object, even
// after the address is reused).
type refTable struct {
	mu   sync.Mutex
	refs map[uintptr][]*Ref
}

func newRefTable() *refTable {
	return &refTable{refs: make(map[uintptr][]*Ref)}
}

func (t *refTable) remove(pc uintptr, ref *Ref) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bucket := t.refs[pc]
	for i, r := range bucket {
		if r == ref {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(t.refs, pc)
	} else {
		t.refs[pc] = bucket
	}
}

// Len reports the number of live bound references in the table.
func (t *refTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, bucket := range t.refs {
		n += len(bucket)
	}
	return n
}

// bindMethod returns the table's reference for (owner, method), creating it
// on first use. The created flag lets the router install its prune callback
// exactly once per reference.
//
// Method identity is the function value's code pointer. Pass method
// expressions such as (*T).Handle; per-call closures share a code pointer
// with their siblings and would collapse into one reference.
func bindMethod[T any](table *refTable, owner *T, method MethodFunc[T]) (ref *Ref, created bool) {
	wp := weak.Make(owner)
	key := any(wp)
	pc := reflect.ValueOf(method).Pointer()

	table.mu.Lock()
	for _, r := range table.refs[pc] {
		if r.owner == key {
			r.mu.Lock()
			dead := r.dead
			r.mu.Unlock()
			if !dead {
				table.mu.Unlock()
				return r, false
			}
		}
	}

	ref = &Ref{
		id:    ids.CreateULID(),
		bound: true,
		owner: key,
		pc:    pc,
		table: table,
	}
	ref.resolve = func() (Receiver, bool) {
		o := wp.Value()
		if o == nil {
			return nil, false
		}
		return func(ctx context.Context, d Delivery) (any, error) {
			return method(o, ctx, d)
		}, true
	}
	table.refs[pc] = append(table.refs[pc], ref)
	table.mu.Unlock()

	runtime.AddCleanup(owner, func(r *Ref) { r.invalidate() }, ref)
	return ref, true
}
