// Package errs defines the sentinel errors and the error taxonomy shared by
// the bus packages. Sentinels cover construction and registration misuse;
// the typed errors classify failures inside a dispatch.
package errs

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrBusRequired       = sterrors.New("runebus: bus is required")
	ErrBusClosed         = sterrors.New("runebus: bus is closed")
	ErrPatternRequired   = sterrors.New("runebus: listener pattern is required")
	ErrListenerRequired  = sterrors.New("runebus: listener function is required")
	ErrReceiverRequired  = sterrors.New("runebus: receiver function is required")
	ErrOwnerRequired     = sterrors.New("runebus: receiver owner is required")
	ErrQueueFull         = sterrors.New("runebus: async queue is full")
	ErrSchedulerClosed   = sterrors.New("runebus: scheduler is closed")
	ErrStoreClosed       = sterrors.New("runebus: event store is closed")
	ErrQueryUnsupported  = sterrors.New("runebus: store does not support queries")
	ErrForwarderRequired = sterrors.New("runebus: forwarder is required")

	ErrPayloadTypeRequired  = sterrors.New("runebus: payload type is required")
	ErrPayloadPointerNeeded = sterrors.New("runebus: payload type must be a pointer")

	ErrHookRequired     = sterrors.New("runebus: hook function is required")
	ErrHookNameRequired = sterrors.New("runebus: hook point and label are required")
	ErrHookExists       = sterrors.New("runebus: hook label is already registered")

	ErrExtensionRequired     = sterrors.New("runebus: extension is required")
	ErrExtensionNameRequired = sterrors.New("runebus: extension name is required")
	ErrExtensionExists       = sterrors.New("runebus: extension name is already loaded")
	ErrServiceNameRequired   = sterrors.New("runebus: service name is required")
	ErrServiceExists         = sterrors.New("runebus: service name is already provided")
	ErrServiceNotFound       = sterrors.New("runebus: service is not registered")
)

// ValidationError reports an event that failed schema validation. Dispatch
// aborts before any hook or listener runs.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("runebus: event %q failed validation: %s", e.Name, e.Reason)
}

// AdmissionError reports an event rejected by the rate limiter. Like
// validation failures it aborts dispatch silently; the two are told apart
// only by log reason and metrics label.
type AdmissionError struct {
	Name string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("runebus: event %q rejected by rate limiter", e.Name)
}

// HookError wraps a failure inside a lifecycle hook. Hook failures are
// isolated and logged; they never abort a dispatch.
type HookError struct {
	Phase string
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("runebus: %s hook failed: %v", e.Phase, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// MiddlewareError wraps a failure inside a middleware function. Middleware
// failures abort the remaining pipeline and surface to the dispatch caller.
type MiddlewareError struct {
	Index int
	Name  string
	Err   error
}

func (e *MiddlewareError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("runebus: middleware %q (index %d) failed: %v", e.Name, e.Index, e.Err)
	}
	return fmt.Sprintf("runebus: middleware at index %d failed: %v", e.Index, e.Err)
}

func (e *MiddlewareError) Unwrap() error { return e.Err }

// ListenerError wraps a failure returned by a listener during delivery. It is
// contained by the pipeline, funneled to on-error hooks, and never re-raised
// to the dispatch caller.
type ListenerError struct {
	Pattern  string
	Priority int
	Err      error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("runebus: listener for %q (priority %d) failed: %v", e.Pattern, e.Priority, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }
