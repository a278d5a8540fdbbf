package mods

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/runeforged/runebus/internal/bus/errs"
)

// Locator is a named service registry extensions use to share components:
// one extension provides a service during Register, a dependent extension
// resolves it during Activate. Safe for concurrent use.
type Locator struct {
	mu       sync.RWMutex
	services map[string]any
}

func NewLocator() *Locator {
	return &Locator{services: make(map[string]any)}
}

// Provide registers a service under a unique name.
func (l *Locator) Provide(name string, service any) error {
	if name == "" {
		return errs.ErrServiceNameRequired
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.services[name]; ok {
		return fmt.Errorf("%w: %q", errs.ErrServiceExists, name)
	}
	l.services[name] = service
	return nil
}

// Replace registers a service, overwriting any previous one.
func (l *Locator) Replace(name string, service any) error {
	if name == "" {
		return errs.ErrServiceNameRequired
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.services[name] = service
	return nil
}

// Revoke removes a service, reporting whether it was present.
func (l *Locator) Revoke(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.services[name]; !ok {
		return false
	}
	delete(l.services, name)
	return true
}

// Lookup returns the raw service under name.
func (l *Locator) Lookup(name string) (any, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	svc, ok := l.services[name]
	return svc, ok
}

// Names lists the provided service names, sorted.
func (l *Locator) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.services))
	for name := range l.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the service under name with its type asserted to T.
func Resolve[T any](l *Locator, name string) (T, error) {
	var zero T
	if l == nil {
		return zero, fmt.Errorf("%w: %q", errs.ErrServiceNotFound, name)
	}

	svc, ok := l.Lookup(name)
	if !ok {
		return zero, fmt.Errorf("%w: %q", errs.ErrServiceNotFound, name)
	}
	typed, ok := svc.(T)
	if !ok {
		want := reflect.TypeOf((*T)(nil)).Elem()
		return zero, fmt.Errorf("runebus: service %q is %T, not %s", name, svc, want)
	}
	return typed, nil
}
