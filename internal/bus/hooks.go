package bus

import (
	"context"
	"time"

	"github.com/runeforged/runebus/internal/bus/event"
	"github.com/runeforged/runebus/internal/bus/logging"
)

// BeforeHook runs before an admitted event enters the middleware chain.
// A returned error is logged and isolated; it never blocks the dispatch.
type BeforeHook func(ctx context.Context, evt *event.Event) error

// AfterHook runs once delivery has been carried out or enqueued, with the
// elapsed wall-clock time of the dispatch. Errors are isolated like
// BeforeHook errors.
type AfterHook func(ctx context.Context, evt *event.Event, elapsed time.Duration) error

// ErrorHook receives every contained delivery error. Hook errors are
// isolated; a failing error hook never affects the others.
type ErrorHook func(ctx context.Context, evt *event.Event, err error) error

// Hooks bundles the three dispatch lifecycle callbacks.
// All hooks are optional - nil hooks are simply not called.
type Hooks struct {
	// OnBefore is called after validation and admission, before middleware.
	OnBefore BeforeHook

	// OnAfter is called when delivery has completed (sync) or been enqueued
	// (async, deferred), even when a delivery error was contained.
	OnAfter AfterHook

	// OnError is called for each contained listener error. It never sees
	// validation, admission or middleware failures.
	OnError ErrorHook
}

// Merge combines two hook bundles, creating a new one that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnBefore: chainBeforeHooks(h.OnBefore, other.OnBefore),
		OnAfter:  chainAfterHooks(h.OnAfter, other.OnAfter),
		OnError:  chainErrorHooks(h.OnError, other.OnError),
	}
}

func chainBeforeHooks(a, b BeforeHook) BeforeHook {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, evt *event.Event) error {
		errA := a(ctx, evt)
		errB := b(ctx, evt)
		if errA != nil {
			return errA
		}
		return errB
	}
}

func chainAfterHooks(a, b AfterHook) AfterHook {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, evt *event.Event, elapsed time.Duration) error {
		errA := a(ctx, evt, elapsed)
		errB := b(ctx, evt, elapsed)
		if errA != nil {
			return errA
		}
		return errB
	}
}

func chainErrorHooks(a, b ErrorHook) ErrorHook {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, evt *event.Event, err error) error {
		errA := a(ctx, evt, err)
		errB := b(ctx, evt, err)
		if errA != nil {
			return errA
		}
		return errB
	}
}

// LoggingHooks returns pre-built hooks that log the dispatch lifecycle.
func LoggingHooks(logger logging.ServiceLogger) Hooks {
	return Hooks{
		OnBefore: func(ctx context.Context, evt *event.Event) error {
			logger.Info("Dispatch started", logging.LogFields{
				"event":          evt.Name(),
				"correlation_id": evt.CorrelationID(),
			})
			return nil
		},
		OnAfter: func(ctx context.Context, evt *event.Event, elapsed time.Duration) error {
			logger.Info("Dispatch completed", logging.LogFields{
				"event":          evt.Name(),
				"correlation_id": evt.CorrelationID(),
				"duration_ms":    elapsed.Milliseconds(),
			})
			return nil
		},
		OnError: func(ctx context.Context, evt *event.Event, err error) error {
			logger.Error("Listener failed", err, logging.LogFields{
				"event":          evt.Name(),
				"correlation_id": evt.CorrelationID(),
			})
			return nil
		},
	}
}

// MetricsHooks returns pre-built hooks that feed dispatch counters.
func MetricsHooks(onBefore, onAfter, onError func(eventName string)) Hooks {
	return Hooks{
		OnBefore: func(ctx context.Context, evt *event.Event) error {
			if onBefore != nil {
				onBefore(evt.Name())
			}
			return nil
		},
		OnAfter: func(ctx context.Context, evt *event.Event, elapsed time.Duration) error {
			if onAfter != nil {
				onAfter(evt.Name())
			}
			return nil
		},
		OnError: func(ctx context.Context, evt *event.Event, err error) error {
			if onError != nil {
				onError(evt.Name())
			}
			return nil
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on contained
// listener errors.
func AlertingHooks(alertFunc ErrorHook) Hooks {
	return Hooks{
		OnError: alertFunc,
	}
}

// RegisterBeforeDispatch appends a hook to the before chain. Hooks run in
// registration order and are never removed.
func (b *Bus) RegisterBeforeDispatch(h BeforeHook) {
	if h == nil {
		return
	}
	b.hooksMu.Lock()
	b.beforeHooks = append(b.beforeHooks, h)
	b.hooksMu.Unlock()
}

// RegisterAfterDispatch appends a hook to the after chain.
func (b *Bus) RegisterAfterDispatch(h AfterHook) {
	if h == nil {
		return
	}
	b.hooksMu.Lock()
	b.afterHooks = append(b.afterHooks, h)
	b.hooksMu.Unlock()
}

// RegisterOnError appends a hook to the error chain.
func (b *Bus) RegisterOnError(h ErrorHook) {
	if h == nil {
		return
	}
	b.hooksMu.Lock()
	b.errorHooks = append(b.errorHooks, h)
	b.hooksMu.Unlock()
}

// RegisterHooks appends every non-nil hook of the bundle to its chain.
func (b *Bus) RegisterHooks(h Hooks) {
	b.RegisterBeforeDispatch(h.OnBefore)
	b.RegisterAfterDispatch(h.OnAfter)
	b.RegisterOnError(h.OnError)
}

func (b *Bus) snapshotBeforeHooks() []BeforeHook {
	b.hooksMu.RLock()
	defer b.hooksMu.RUnlock()
	return b.beforeHooks[:len(b.beforeHooks):len(b.beforeHooks)]
}

func (b *Bus) snapshotAfterHooks() []AfterHook {
	b.hooksMu.RLock()
	defer b.hooksMu.RUnlock()
	return b.afterHooks[:len(b.afterHooks):len(b.afterHooks)]
}

func (b *Bus) snapshotErrorHooks() []ErrorHook {
	b.hooksMu.RLock()
	defer b.hooksMu.RUnlock()
	return b.errorHooks[:len(b.errorHooks):len(b.errorHooks)]
}

// runBeforeHooks invokes the before chain in registration order. Each hook
// is isolated: an error or panic is logged and counted, the remaining hooks
// still run.
func (b *Bus) runBeforeHooks(ctx context.Context, evt *event.Event) {
	for _, h := range b.snapshotBeforeHooks() {
		if err := safeBeforeHook(ctx, h, evt); err != nil {
			b.containHookError(evt, "before", err)
		}
	}
}

// runAfterHooks invokes the after chain in registration order, isolated the
// same way as the before chain.
func (b *Bus) runAfterHooks(ctx context.Context, evt *event.Event, elapsed time.Duration) {
	for _, h := range b.snapshotAfterHooks() {
		if err := safeAfterHook(ctx, h, evt, elapsed); err != nil {
			b.containHookError(evt, "after", err)
		}
	}
}

// runErrorHooks funnels one contained delivery error through the error
// chain. Each hook is isolated.
func (b *Bus) runErrorHooks(ctx context.Context, evt *event.Event, deliveryErr error) {
	for _, h := range b.snapshotErrorHooks() {
		if err := safeErrorHook(ctx, h, evt, deliveryErr); err != nil {
			b.containHookError(evt, "on_error", err)
		}
	}
}

func safeBeforeHook(ctx context.Context, h BeforeHook, evt *event.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicError(rec)
		}
	}()
	return h(ctx, evt)
}

func safeAfterHook(ctx context.Context, h AfterHook, evt *event.Event, elapsed time.Duration) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicError(rec)
		}
	}()
	return h(ctx, evt, elapsed)
}

func safeErrorHook(ctx context.Context, h ErrorHook, evt *event.Event, deliveryErr error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicError(rec)
		}
	}()
	return h(ctx, evt, deliveryErr)
}
