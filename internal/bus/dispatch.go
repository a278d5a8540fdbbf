package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/runeforged/runebus/internal/bus/errs"
	"github.com/runeforged/runebus/internal/bus/event"
	"github.com/runeforged/runebus/internal/bus/logging"
	"github.com/runeforged/runebus/internal/bus/registry"
	"github.com/runeforged/runebus/internal/bus/signal"
	"github.com/runeforged/runebus/internal/bus/store"
)

// Delivery modes accepted by Dispatch. Empty selects the configured
// default, which itself defaults to sync.
const (
	ModeSync     = "sync"
	ModeAsync    = "async"
	ModeDeferred = "deferred"
)

// Named hook points the pipeline invokes on the hook registry.
const (
	PointBeforeDispatch = "before_dispatch"
	PointAfterDispatch  = "after_dispatch"
	PointOnError        = "on_error"
)

var tracer = otel.Tracer("runebus/dispatch")

// Dispatch builds an event from name and payload and runs it through the
// pipeline. See DispatchEvent for the error contract.
func (b *Bus) Dispatch(ctx context.Context, name string, payload map[string]any, mode string) error {
	return b.DispatchEvent(ctx, event.New(name, event.WithPayload(payload)), mode)
}

// DispatchEvent runs evt through the pipeline: validate, admit, install
// the dispatch context and span, before-hooks, middleware, persist,
// forward, deliver per mode, after-hooks.
//
// Validation and admission rejections abort silently: the caller gets nil
// and the rejection is visible only in logs, metrics and stats. Hook and
// listener failures are contained. The only error a collaborator can
// surface to the caller is a *errs.MiddlewareError, which aborts the
// remaining pipeline.
func (b *Bus) DispatchEvent(ctx context.Context, evt *event.Event, mode string) error {
	if evt == nil {
		return nil
	}
	if b.isClosed() {
		return errs.ErrBusClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	mode = b.resolveMode(mode)
	stats := b.statsFor(evt.Name())

	if err := b.validator.Validate(evt.Name(), evt.Payload, evt.Metadata); err != nil {
		verr := asValidationError(evt.Name(), err)
		b.logger.Debug("Event rejected by validation", logging.LogFields{
			"event":  evt.Name(),
			"reason": verr.Reason,
		})
		b.metrics.recordRejection(mode, resultValidation)
		stats.recordRejection(ErrorCategoryValidation, verr)
		return nil
	}

	if !b.limiter.Allow(evt.Name()) {
		aerr := &errs.AdmissionError{Name: evt.Name()}
		b.logger.Debug("Event rejected by rate limit", logging.LogFields{
			"event": evt.Name(),
		})
		b.metrics.recordRejection(mode, resultAdmission)
		stats.recordRejection(ErrorCategoryAdmission, aerr)
		return nil
	}

	started := time.Now()
	disp := &event.Dispatch{
		Event:         evt,
		CorrelationID: evt.CorrelationID(),
		Mode:          mode,
		Values:        evt.Context,
	}
	ctx = event.WithDispatch(ctx, disp)
	ctx, span := tracer.Start(ctx, "Dispatch", trace.WithAttributes(
		attribute.String("event.name", evt.Name()),
		attribute.String("event.correlation_id", evt.CorrelationID()),
		attribute.String("event.mode", mode),
	))

	var dispatchErr error
	defer func() {
		if dispatchErr != nil {
			span.RecordError(dispatchErr)
		}
		span.End()
		elapsed := time.Since(started)
		stats.record(elapsed, dispatchErr, b.classifier)
		result := resultOK
		if dispatchErr != nil {
			result = resultMiddleware
		}
		b.metrics.recordDispatch(mode, result, elapsed)
	}()

	b.runBeforeHooks(ctx, evt)
	b.invokePoint(ctx, PointBeforeDispatch, evt)

	for i, mw := range b.snapshotMiddlewares() {
		next, err := b.applyMiddleware(ctx, mw, evt)
		if err != nil {
			dispatchErr = &errs.MiddlewareError{Index: i, Name: mw.name, Err: err}
			b.logger.Error("Middleware aborted dispatch", dispatchErr, logging.LogFields{
				"event":          evt.Name(),
				"correlation_id": evt.CorrelationID(),
				"middleware":     mw.name,
			})
			return dispatchErr
		}
		if next != nil {
			evt = next
		}
	}
	disp.Event = evt

	if b.store != nil || b.forwarder != nil {
		rec := store.FromEvent(evt, mode)
		if b.store != nil {
			if err := b.store.Save(ctx, rec); err != nil {
				b.logger.Error("Failed to persist event record", err, logging.LogFields{
					"event":          evt.Name(),
					"correlation_id": evt.CorrelationID(),
				})
			}
		}
		if b.forwarder != nil {
			if err := b.forwarder.Forward(ctx, rec); err != nil {
				b.logger.Error("Failed to forward event record", err, logging.LogFields{
					"event":          evt.Name(),
					"correlation_id": evt.CorrelationID(),
				})
			}
		}
	}

	switch mode {
	case ModeAsync:
		b.deliverAsync(ctx, evt)
	case ModeDeferred:
		b.deferEvent(evt)
	default:
		b.deliverSync(ctx, evt)
	}

	b.runAfterHooks(ctx, evt, time.Since(started))
	b.invokePoint(ctx, PointAfterDispatch, evt)

	return nil
}

// resolveMode normalizes the requested mode, falling back to the
// configured default and finally to sync.
func (b *Bus) resolveMode(mode string) string {
	m := strings.ToLower(mode)
	if m == "" {
		m = strings.ToLower(b.conf.DefaultMode)
	}
	switch m {
	case ModeSync, ModeAsync, ModeDeferred:
		return m
	case "":
		return ModeSync
	default:
		b.logger.Debug("Unknown dispatch mode, using sync", logging.LogFields{"mode": mode})
		return ModeSync
	}
}

func asValidationError(name string, err error) *errs.ValidationError {
	var verr *errs.ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	return &errs.ValidationError{Name: name, Reason: err.Error()}
}

// deliverSync invokes the resolved listeners on the caller's goroutine in
// priority order, then emits robustly through the router under the
// event's name. The first listener error aborts the remaining registry
// listeners; router receivers are isolated individually.
func (b *Bus) deliverSync(ctx context.Context, evt *event.Event) {
	for _, entry := range b.registry.Resolve(evt.Name()) {
		if evt.Cancelled() {
			break
		}
		if !entry.Accepts(evt) {
			continue
		}
		if err := b.invokeListener(ctx, entry, evt); err != nil {
			b.containListenerError(ctx, evt, entry.Pattern, entry.Priority, err)
			break
		}
	}

	b.emitRouter(ctx, evt)
}

// deliverAsync enqueues each accepting listener as an independent unit on
// the worker pool. Cancellation is checked before each enqueue only; a
// unit already queued runs even if a later listener cancels the event.
func (b *Bus) deliverAsync(ctx context.Context, evt *event.Event) {
	// Workers outlive the dispatch call, so they must not see its
	// cancellation. Context values (span, dispatch state) are kept.
	ctx = context.WithoutCancel(ctx)

	for _, entry := range b.registry.Resolve(evt.Name()) {
		if evt.Cancelled() {
			break
		}
		if !entry.Accepts(evt) {
			continue
		}
		b.submitUnit(evt, func() {
			if err := b.invokeListener(ctx, entry, evt); err != nil {
				b.containListenerError(ctx, evt, entry.Pattern, entry.Priority, err)
			}
		})
	}

	b.submitUnit(evt, func() {
		b.emitRouter(ctx, evt)
	})
}

func (b *Bus) submitUnit(evt *event.Event, unit func()) {
	if err := b.async.submit(unit); err != nil {
		b.logger.Error("Async delivery unit dropped", err, logging.LogFields{
			"event":          evt.Name(),
			"correlation_id": evt.CorrelationID(),
		})
	}
}

// deferEvent appends the event to the deferred queue for a later Drain.
func (b *Bus) deferEvent(evt *event.Event) {
	if evicted := b.deferred.push(evt); evicted != nil {
		b.logger.Debug("Deferred queue full, dropped oldest event", logging.LogFields{
			"event":          evicted.evt.Name(),
			"correlation_id": evicted.evt.CorrelationID(),
		})
		b.deferredMetrics.RecordDropped(evicted.evt.Name())
	}
	b.deferredMetrics.RecordDeferred(evt.Name())
	b.deferredMetrics.SetDepth(b.deferred.depth())
}

// Drain delivers deferred events on the caller's goroutine, oldest first,
// until the queue is empty or ctx is cancelled. Before- and after-hooks
// already ran when each event was dispatched; Drain runs delivery and its
// containment only. It returns the number of events delivered.
func (b *Bus) Drain(ctx context.Context) int {
	if ctx == nil {
		ctx = context.Background()
	}

	delivered := 0
	for ctx.Err() == nil {
		item := b.deferred.pop()
		if item == nil {
			break
		}
		evt := item.evt
		dctx := event.WithDispatch(ctx, &event.Dispatch{
			Event:         evt,
			CorrelationID: evt.CorrelationID(),
			Mode:          ModeDeferred,
			Values:        evt.Context,
		})
		b.deliverSync(dctx, evt)
		b.deferredMetrics.RecordDrained(evt.Name(), time.Since(item.at))
		delivered++
	}

	b.deferredMetrics.SetDepth(b.deferred.depth())
	return delivered
}

// DeferredDepth returns the number of events waiting in the deferred
// queue.
func (b *Bus) DeferredDepth() int {
	return b.deferred.depth()
}

func (b *Bus) invokeListener(ctx context.Context, entry *registry.Entry, evt *event.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicError(rec)
		}
	}()

	return entry.Listener(ctx, evt)
}

// emitRouter delivers the event robustly to router receivers connected
// under the event's name. Each receiver error is contained on its own.
func (b *Bus) emitRouter(ctx context.Context, evt *event.Event) {
	for _, out := range b.router.EmitEvent(ctx, evt, signal.Anonymous) {
		if out.Err == nil {
			continue
		}
		b.containListenerError(ctx, evt, evt.Name(), 0, out.Err)
	}
}

// containListenerError funnels a delivery error to the on-error hooks,
// logs and counts it. The caller of Dispatch never sees it.
func (b *Bus) containListenerError(ctx context.Context, evt *event.Event, pattern string, priority int, err error) {
	lerr := &errs.ListenerError{Pattern: pattern, Priority: priority, Err: err}
	b.logger.Error("Listener failed", lerr, logging.LogFields{
		"event":          evt.Name(),
		"correlation_id": evt.CorrelationID(),
		"pattern":        pattern,
	})
	trace.SpanFromContext(ctx).RecordError(lerr)
	b.metrics.recordListenerError(pattern)
	b.statsFor(evt.Name()).recordContainedError(ErrorCategoryListener, lerr)
	b.runErrorHooks(ctx, evt, lerr)
	b.invokePoint(ctx, PointOnError, evt)
}

// containHookError logs and counts an isolated hook failure. Hook
// failures never affect the dispatch.
func (b *Bus) containHookError(evt *event.Event, phase string, err error) {
	herr := &errs.HookError{Phase: phase, Err: err}
	b.logger.Error("Hook failed", herr, logging.LogFields{
		"event":          evt.Name(),
		"correlation_id": evt.CorrelationID(),
		"phase":          phase,
	})
	b.metrics.recordHookError(phase)
}

// invokePoint runs the named hook point; each returned failure is
// contained independently.
func (b *Bus) invokePoint(ctx context.Context, point string, evt *event.Event) {
	for _, err := range b.hookReg.Invoke(ctx, point, evt) {
		b.containHookError(evt, point, err)
	}
}

func (b *Bus) applyMiddleware(ctx context.Context, mw middlewareEntry, evt *event.Event) (next *event.Event, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			next, err = nil, panicError(rec)
		}
	}()

	return mw.fn(ctx, evt)
}

func panicError(rec any) error {
	if err, ok := rec.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", rec)
}
