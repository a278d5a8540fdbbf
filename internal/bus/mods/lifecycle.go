package mods

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Component is a long-running piece of an extension, started when the
// loader activates and stopped when it deactivates.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Lifecycle brackets the running phase of registered components: Start in
// registration order, Stop in reverse. A failed Start stops the components
// already started before returning.
type Lifecycle struct {
	mu         sync.Mutex
	components []Component
	started    int
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// Register adds a component. Components registered while running are picked
// up by the next Start.
func (l *Lifecycle) Register(c Component) {
	if c == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.components = append(l.components, c)
}

// Start starts every component that is not yet running, in registration
// order. On failure the components started so far are stopped in reverse
// and the start error returned, joined with any stop errors.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ; l.started < len(l.components); l.started++ {
		if err := l.components[l.started].Start(ctx); err != nil {
			startErr := fmt.Errorf("start component %d: %w", l.started, err)
			return errors.Join(startErr, l.stopLocked(ctx))
		}
	}
	return nil
}

// Stop stops the running components in reverse start order. Every component
// gets its Stop call; errors are joined.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.stopLocked(ctx)
}

func (l *Lifecycle) stopLocked(ctx context.Context) error {
	var errs []error
	for l.started > 0 {
		l.started--
		if err := l.components[l.started].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop component %d: %w", l.started, err))
		}
	}
	return errors.Join(errs...)
}

// Running reports how many components are currently started.
func (l *Lifecycle) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.started
}

// Len reports how many components are registered.
func (l *Lifecycle) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.components)
}
