package bus

import (
	"github.com/runeforged/runebus/internal/bus/errs"
	"github.com/runeforged/runebus/internal/bus/registry"
	"github.com/runeforged/runebus/internal/bus/signal"
)

// RegisterListener subscribes a listener under an exact event name or a
// trailing-* prefix pattern. Options set priority and a predicate. The
// returned id can be passed to UnregisterID.
func (b *Bus) RegisterListener(pattern string, l registry.Listener, opts ...registry.Option) (string, error) {
	if b.isClosed() {
		return "", errs.ErrBusClosed
	}
	return b.registry.Register(pattern, l, opts...)
}

// Unregister removes every registration of l under pattern. It returns
// the number of entries removed; removing an absent pair is not an error.
func (b *Bus) Unregister(pattern string, l registry.Listener) int {
	return b.registry.Unregister(pattern, l)
}

// UnregisterID removes a single registration by its id.
func (b *Bus) UnregisterID(id string) bool {
	return b.registry.UnregisterID(id)
}

// Connect subscribes a router receiver. Options choose the sender and
// signal to listen on; without options the receiver observes every
// emission, including dispatched events under their names.
func (b *Bus) Connect(rcv signal.Receiver, opts ...signal.ConnectOption) (*signal.Ref, error) {
	if b.isClosed() {
		return nil, errs.ErrBusClosed
	}
	return b.router.Connect(rcv, opts...)
}

// ConnectMethod connects a bound method receiver whose owner is observed
// weakly: when the owner is collected the connection disappears on its
// own, so registering never extends the owner's lifetime.
func ConnectMethod[T any](b *Bus, owner *T, method signal.MethodFunc[T], opts ...signal.ConnectOption) (*signal.Ref, error) {
	if b == nil {
		return nil, errs.ErrBusRequired
	}
	if b.isClosed() {
		return nil, errs.ErrBusClosed
	}
	return signal.ConnectMethod(b.router, owner, method, opts...)
}

// Disconnect removes a router connection.
func (b *Bus) Disconnect(ref *signal.Ref) bool {
	return b.router.Disconnect(ref)
}

// ListenerInfo describes one live registration for introspection.
type ListenerInfo struct {
	ID       string `json:"id"`
	Pattern  string `json:"pattern"`
	Priority int    `json:"priority"`
	Wildcard bool   `json:"wildcard"`
}

// Listeners returns a snapshot of the live registrations in registration
// order.
func (b *Bus) Listeners() []ListenerInfo {
	entries := b.registry.Registrations()
	infos := make([]ListenerInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, ListenerInfo{
			ID:       e.ID,
			Pattern:  e.Pattern,
			Priority: e.Priority,
			Wildcard: e.Wildcard(),
		})
	}
	return infos
}
