// Package signal routes deliveries from senders to receivers keyed by
// (sender, signal) pairs, with wildcard senders and signals. Receivers are
// held as safe references: bound-method receivers are observed weakly and
// their connections pruned automatically when the owner is collected, so the
// router is never the reason a subscriber stays alive.
package signal

import (
	"context"
	"runtime"
	"sync"
	"weak"

	"github.com/runeforged/runebus/internal/bus/errs"
	"github.com/runeforged/runebus/internal/bus/event"
)

// AnySignal matches every signal name. A connection made without On()
// observes all signals.
const AnySignal = ""

// Anonymous is the sender used for deliveries that carry no sender identity.
// Unlike the wildcard (a nil sender), Anonymous is an ordinary distinct
// sender value.
var Anonymous any = anonymousSender{}

type anonymousSender struct{}

// Delivery is the tagged-argument bundle passed to every receiver.
type Delivery struct {
	// Signal is the name the delivery was sent under.
	Signal string
	// Sender identifies the originator as given to Send; nil for wildcard
	// sends. Connections made with FromOwner see the owner's key here.
	Sender any
	// Event is set when the delivery was emitted by a bus dispatch.
	Event *event.Event
	// Args carries the forwarded arguments.
	Args map[string]any
}

// Outcome pairs a receiver with its result or captured error.
type Outcome struct {
	Ref   *Ref
	Value any
	Err   error
}

// ConnectOption configures a connection.
type ConnectOption func(*connectOpts)

type connectOpts struct {
	sender    any
	signal    string
	onConnect []func(*Router)
}

// From keys the connection to a specific sender. Senders must be comparable;
// nil means any sender. The router holds the value, so prefer FromOwner for
// senders whose lifetime the router should not extend.
func From(sender any) ConnectOption {
	return func(o *connectOpts) {
		o.sender = sender
	}
}

// On keys the connection to one signal name; without it the connection
// observes every signal.
func On(sig string) ConnectOption {
	return func(o *connectOpts) {
		o.signal = sig
	}
}

// FromOwner keys the connection by the sender object's identity without
// keeping it alive. All of the sender's connections are dropped once it
// becomes unreachable. Use SenderOf to address the same sender in Send.
func FromOwner[S any](sender *S) ConnectOption {
	wp := weak.Make(sender)
	return func(o *connectOpts) {
		o.sender = wp
		o.onConnect = append(o.onConnect, func(r *Router) {
			runtime.AddCleanup(sender, func(key any) { r.dropSender(key) }, any(wp))
		})
	}
}

// SenderOf returns the lookup key for a sender connected with FromOwner.
func SenderOf[S any](sender *S) any {
	return weak.Make(sender)
}

// Router indexes receivers by (sender, signal). All methods are safe for
// concurrent use; resolution works on snapshots, so connecting or
// disconnecting during a send never affects that send's receiver set.
type Router struct {
	mu    sync.RWMutex
	conns map[any]map[string][]*Ref
	back  map[*Ref]map[any]struct{}
	table *refTable
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{
		conns: make(map[any]map[string][]*Ref),
		back:  make(map[*Ref]map[any]struct{}),
		table: newRefTable(),
	}
}

// Connect registers a plain receiver and returns its handle. The receiver is
// held strongly; its lifetime is managed by Disconnect.
func (r *Router) Connect(rcv Receiver, opts ...ConnectOption) (*Ref, error) {
	if rcv == nil {
		return nil, errs.ErrReceiverRequired
	}
	ref := newDirectRef(rcv)
	r.insert(ref, applyConnectOpts(opts))
	return ref, nil
}

// ConnectMethod registers method bound to owner without keeping owner alive.
// Connecting the same (owner, method) pair again reuses the existing
// reference, whatever key it is added under. When the owner is collected the
// reference invalidates and every one of its connections is pruned, exactly
// as if Disconnect had been called.
func ConnectMethod[T any](r *Router, owner *T, method MethodFunc[T], opts ...ConnectOption) (*Ref, error) {
	if owner == nil {
		return nil, errs.ErrOwnerRequired
	}
	if method == nil {
		return nil, errs.ErrReceiverRequired
	}
	ref, created := bindMethod(r.table, owner, method)
	if created {
		ref.OnInvalidate(func(dead *Ref) { r.Disconnect(dead) })
	}
	r.insert(ref, applyConnectOpts(opts))
	return ref, nil
}

func applyConnectOpts(opts []ConnectOption) connectOpts {
	var o connectOpts
	o.signal = AnySignal
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (r *Router) insert(ref *Ref, o connectOpts) {
	r.mu.Lock()
	signals := r.conns[o.sender]
	if signals == nil {
		signals = make(map[string][]*Ref)
		r.conns[o.sender] = signals
	}
	bucket := signals[o.signal]
	present := false
	for _, existing := range bucket {
		if existing == ref {
			present = true
			break
		}
	}
	if !present {
		signals[o.signal] = append(bucket, ref)
	}
	senders := r.back[ref]
	if senders == nil {
		senders = make(map[any]struct{})
		r.back[ref] = senders
	}
	senders[o.sender] = struct{}{}
	r.mu.Unlock()

	for _, fn := range o.onConnect {
		fn(r)
	}
}

// Disconnect removes the reference from every sender it is connected under,
// using the back-index instead of a full scan. Empty signal lists and
// orphaned senders are pruned. Reports whether anything was removed.
func (r *Router) Disconnect(ref *Ref) bool {
	if ref == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	senders, ok := r.back[ref]
	if !ok {
		return false
	}
	for senderKey := range senders {
		signals := r.conns[senderKey]
		for sig, bucket := range signals {
			kept := bucket[:0]
			for _, candidate := range bucket {
				if candidate != ref {
					kept = append(kept, candidate)
				}
			}
			if len(kept) == 0 {
				delete(signals, sig)
			} else {
				signals[sig] = kept
			}
		}
		if len(signals) == 0 {
			delete(r.conns, senderKey)
		}
	}
	delete(r.back, ref)
	return true
}

// dropSender removes a sender entry and every connection under it. Invoked
// by the cleanup attached through FromOwner.
func (r *Router) dropSender(senderKey any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	signals, ok := r.conns[senderKey]
	if !ok {
		return
	}
	for _, bucket := range signals {
		for _, ref := range bucket {
			if senders := r.back[ref]; senders != nil {
				delete(senders, senderKey)
				if len(senders) == 0 {
					delete(r.back, ref)
				}
			}
		}
	}
	delete(r.conns, senderKey)
}

// Receivers returns the live references for (sender, signal): the union of
// the exact pair, (sender, any), (any, signal) and (any, any) buckets, in
// that preference order, de-duplicated by reference identity. Dead
// references are skipped and pruned as a side effect, never surfaced.
func (r *Router) Receivers(sender any, sig string) []*Ref {
	r.mu.RLock()
	var ordered []*Ref
	seen := make(map[*Ref]struct{})
	var dead []*Ref

	appendBucket := func(senderKey any, signalKey string) {
		signals := r.conns[senderKey]
		if signals == nil {
			return
		}
		for _, ref := range signals[signalKey] {
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}
			if ref.Alive() {
				ordered = append(ordered, ref)
			} else {
				dead = append(dead, ref)
			}
		}
	}

	appendBucket(sender, sig)
	if sig != AnySignal {
		appendBucket(sender, AnySignal)
	}
	if sender != nil {
		appendBucket(nil, sig)
		if sig != AnySignal {
			appendBucket(nil, AnySignal)
		}
	}
	r.mu.RUnlock()

	for _, ref := range dead {
		r.Disconnect(ref)
	}
	return ordered
}

// Send resolves the receivers for (sender, signal) and invokes each with the
// argument bundle. The first receiver error stops the sweep and is returned
// alongside the outcomes collected so far.
func (r *Router) Send(ctx context.Context, sig string, sender any, args map[string]any) ([]Outcome, error) {
	return r.deliver(ctx, Delivery{Signal: sig, Sender: sender, Args: args}, false)
}

// SendRobust is Send except that a receiver's error is captured as its
// outcome instead of stopping the sweep, so every receiver is attempted.
func (r *Router) SendRobust(ctx context.Context, sig string, sender any, args map[string]any) []Outcome {
	outcomes, _ := r.deliver(ctx, Delivery{Signal: sig, Sender: sender, Args: args}, true)
	return outcomes
}

// EmitEvent robustly delivers a bus event under (sender, event name), with
// the event attached to each delivery. Cancellation is honoured between
// receiver invocations.
func (r *Router) EmitEvent(ctx context.Context, evt *event.Event, sender any) []Outcome {
	refs := r.Receivers(sender, evt.Name())
	d := Delivery{Signal: evt.Name(), Sender: sender, Event: evt, Args: evt.Payload}

	outcomes := make([]Outcome, 0, len(refs))
	for _, ref := range refs {
		if evt.Cancelled() {
			break
		}
		out, ok := invoke(ctx, ref, d)
		if !ok {
			continue
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func (r *Router) deliver(ctx context.Context, d Delivery, robust bool) ([]Outcome, error) {
	refs := r.Receivers(d.Sender, d.Signal)
	outcomes := make([]Outcome, 0, len(refs))
	for _, ref := range refs {
		out, ok := invoke(ctx, ref, d)
		if !ok {
			continue
		}
		outcomes = append(outcomes, out)
		if out.Err != nil && !robust {
			return outcomes, out.Err
		}
	}
	return outcomes, nil
}

// invoke resolves and calls a single receiver. A reference whose owner
// vanished between snapshot and call resolves to absent and is skipped, not
// reported as an error.
func invoke(ctx context.Context, ref *Ref, d Delivery) (Outcome, bool) {
	rcv, ok := ref.Resolve()
	if !ok {
		return Outcome{}, false
	}
	value, err := rcv(ctx, d)
	return Outcome{Ref: ref, Value: value, Err: err}, true
}

// ConnectionCount reports the number of (sender, signal, receiver) entries.
func (r *Router) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, signals := range r.conns {
		for _, bucket := range signals {
			n += len(bucket)
		}
	}
	return n
}

// SenderCount reports the number of distinct sender entries, the wildcard
// included.
func (r *Router) SenderCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// BoundRefCount reports the number of live bound references in the dedup
// table.
func (r *Router) BoundRefCount() int {
	return r.table.Len()
}
