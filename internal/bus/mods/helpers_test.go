package mods

import (
	"context"
	"sync"

	"github.com/runeforged/runebus/internal/bus/hooks"
	"github.com/runeforged/runebus/internal/bus/registry"
)

// recorder collects labels across goroutines.
type recorder struct {
	mu     sync.Mutex
	labels []string
}

func (r *recorder) add(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels = append(r.labels, label)
}

func (r *recorder) Labels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := make([]string, len(r.labels))
	copy(clone, r.labels)
	return clone
}

// fakeHost satisfies Host and records loader lifecycle dispatches.
type fakeHost struct {
	mu         sync.Mutex
	dispatched []string
	hookReg    *hooks.Registry
	listeners  *registry.Registry
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		hookReg:   hooks.NewRegistry(),
		listeners: registry.New(),
	}
}

func (h *fakeHost) Dispatch(_ context.Context, name string, payload map[string]any, _ string) error {
	ext, _ := payload["extension"].(string)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dispatched = append(h.dispatched, name+":"+ext)
	return nil
}

func (h *fakeHost) RegisterListener(pattern string, l registry.Listener, opts ...registry.Option) (string, error) {
	return h.listeners.Register(pattern, l, opts...)
}

func (h *fakeHost) UnregisterID(id string) bool { return h.listeners.UnregisterID(id) }

func (h *fakeHost) HookRegistry() *hooks.Registry { return h.hookReg }

func (h *fakeHost) Dispatched() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	clone := make([]string, len(h.dispatched))
	copy(clone, h.dispatched)
	return clone
}

// testExt is a scriptable extension built around Base.
type testExt struct {
	Base
	rec *recorder

	registerErr   error
	activateErr   error
	deactivateErr error

	onRegister func(ctx context.Context, host Host) error
}

func newTestExt(rec *recorder, name string, requires ...string) *testExt {
	return &testExt{Base: NewBase(name, "1.0.0", requires...), rec: rec}
}

func (e *testExt) Register(ctx context.Context, host Host) error {
	if e.rec != nil {
		e.rec.add("register:" + e.Name())
	}
	if e.onRegister != nil {
		if err := e.onRegister(ctx, host); err != nil {
			return err
		}
	}
	return e.registerErr
}

func (e *testExt) Activate(context.Context) error {
	if e.rec != nil {
		e.rec.add("activate:" + e.Name())
	}
	return e.activateErr
}

func (e *testExt) Deactivate(context.Context) error {
	if e.rec != nil {
		e.rec.add("deactivate:" + e.Name())
	}
	return e.deactivateErr
}

// fakeComponent is a scriptable lifecycle component.
type fakeComponent struct {
	name     string
	rec      *recorder
	startErr error
	stopErr  error
}

func (c *fakeComponent) Start(context.Context) error {
	c.rec.add("start:" + c.name)
	return c.startErr
}

func (c *fakeComponent) Stop(context.Context) error {
	c.rec.add("stop:" + c.name)
	return c.stopErr
}
