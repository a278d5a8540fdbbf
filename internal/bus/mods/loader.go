package mods

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/runeforged/runebus/internal/bus/errs"
	"github.com/runeforged/runebus/internal/bus/logging"
)

// Lifecycle events the loader dispatches through its host.
const (
	EventActivated   = "extension.activated"
	EventDeactivated = "extension.deactivated"
)

// Loader owns the extension set of one bus. Extensions are added inactive;
// Activate resolves the dependency order, registers each extension against
// the host, activates them requirement-first and starts the shared
// lifecycle components. Deactivate unwinds in reverse.
type Loader struct {
	mu     sync.Mutex
	host   Host
	logger logging.ServiceLogger

	locator   *Locator
	lifecycle *Lifecycle

	extensions map[string]Extension
	registered map[string]bool
	order      []string
}

// NewLoader creates an empty loader for the given host. A nil logger falls
// back to the default service logger.
func NewLoader(host Host, logger logging.ServiceLogger) *Loader {
	if logger == nil {
		logger = logging.NewDefaultServiceLogger()
	}
	return &Loader{
		host:       host,
		logger:     logger,
		locator:    NewLocator(),
		lifecycle:  NewLifecycle(),
		extensions: make(map[string]Extension),
		registered: make(map[string]bool),
	}
}

// Locator returns the service registry shared by this loader's extensions.
func (l *Loader) Locator() *Locator { return l.locator }

// Lifecycle returns the component lifecycle shared by this loader's
// extensions.
func (l *Loader) Lifecycle() *Lifecycle { return l.lifecycle }

// Add validates and admits an extension. It stays inactive until Activate.
func (l *Loader) Add(ext Extension) error {
	if ext == nil {
		return errs.ErrExtensionRequired
	}
	manifest := ManifestOf(ext)
	if err := manifest.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.extensions[manifest.Name]; ok {
		return fmt.Errorf("%w: %q", errs.ErrExtensionExists, manifest.Name)
	}
	l.extensions[manifest.Name] = ext
	l.logger.Debug("Extension added", logging.LogFields{
		"extension": manifest.Name,
		"version":   manifest.Version,
	})
	return nil
}

// Manifests lists the added extensions sorted by name.
func (l *Loader) Manifests() []Manifest {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Manifest, 0, len(l.extensions))
	for _, ext := range l.extensions {
		out = append(out, ManifestOf(ext))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Order resolves the activation order without activating anything.
func (l *Loader) Order() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.resolveLocked()
}

// Active reports whether the loader's extensions are currently activated.
func (l *Loader) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.order != nil
}

// Activate registers and activates every added extension in dependency
// order, then starts the lifecycle components. On failure the extensions
// activated so far are deactivated in reverse and the error returned.
// Activating an already active loader is a no-op.
func (l *Loader) Activate(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.order != nil {
		return nil
	}

	order, err := l.resolveLocked()
	if err != nil {
		return err
	}

	activated := make([]string, 0, len(order))
	for _, name := range order {
		ext := l.extensions[name]
		if !l.registered[name] {
			if err := ext.Register(ctx, l.host); err != nil {
				l.rollbackLocked(ctx, activated)
				return fmt.Errorf("register extension %q: %w", name, err)
			}
			l.registered[name] = true
		}
		if err := ext.Activate(ctx); err != nil {
			l.rollbackLocked(ctx, activated)
			return fmt.Errorf("activate extension %q: %w", name, err)
		}
		activated = append(activated, name)
		l.logger.Info("Extension activated", logging.LogFields{"extension": name})
		l.emit(ctx, EventActivated, name)
	}

	if err := l.lifecycle.Start(ctx); err != nil {
		l.rollbackLocked(ctx, activated)
		return fmt.Errorf("start components: %w", err)
	}

	l.order = order
	return nil
}

// Deactivate stops the lifecycle components and deactivates the active
// extensions in reverse activation order. Every extension gets its
// Deactivate call; errors are joined. Deactivating an inactive loader is a
// no-op.
func (l *Loader) Deactivate(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.order == nil {
		return nil
	}

	var failures []error
	if err := l.lifecycle.Stop(ctx); err != nil {
		failures = append(failures, fmt.Errorf("stop components: %w", err))
	}
	for i := len(l.order) - 1; i >= 0; i-- {
		name := l.order[i]
		if err := l.extensions[name].Deactivate(ctx); err != nil {
			failures = append(failures, fmt.Errorf("deactivate extension %q: %w", name, err))
			continue
		}
		l.logger.Info("Extension deactivated", logging.LogFields{"extension": name})
		l.emit(ctx, EventDeactivated, name)
	}
	l.order = nil
	return errors.Join(failures...)
}

func (l *Loader) resolveLocked() ([]string, error) {
	manifests := make([]Manifest, 0, len(l.extensions))
	for _, ext := range l.extensions {
		manifests = append(manifests, ManifestOf(ext))
	}
	return resolveOrder(manifests)
}

// rollbackLocked deactivates the named extensions in reverse order. Used on
// a failed Activate; failures are logged, the original error wins.
func (l *Loader) rollbackLocked(ctx context.Context, activated []string) {
	for i := len(activated) - 1; i >= 0; i-- {
		name := activated[i]
		if err := l.extensions[name].Deactivate(ctx); err != nil {
			l.logger.Error("Extension rollback failed", err, logging.LogFields{"extension": name})
		}
	}
}

// emit dispatches a loader lifecycle event through the host. Dispatch
// failures are logged, never raised: lifecycle events are advisory.
func (l *Loader) emit(ctx context.Context, event, name string) {
	if l.host == nil {
		return
	}
	if err := l.host.Dispatch(ctx, event, map[string]any{"extension": name}, ""); err != nil {
		l.logger.Debug("Extension lifecycle event not dispatched", logging.LogFields{
			"event":     event,
			"extension": name,
			"error":     err.Error(),
		})
	}
}
