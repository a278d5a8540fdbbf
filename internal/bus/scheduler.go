package bus

import (
	"context"
	"sync"
	"time"

	"github.com/runeforged/runebus/internal/bus/errs"
	"github.com/runeforged/runebus/internal/bus/event"
	"github.com/runeforged/runebus/internal/bus/ids"
	"github.com/runeforged/runebus/internal/bus/logging"
)

// scheduler tracks pending timer-based dispatches so they can be
// cancelled individually or stopped wholesale on Close.
type scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func newScheduler() *scheduler {
	return &scheduler{timers: make(map[string]*time.Timer)}
}

// schedule arms a timer that calls fire after delay, unless cancelled
// first. The returned id identifies the pending dispatch.
func (s *scheduler) schedule(delay time.Duration, fire func(id string)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", errs.ErrSchedulerClosed
	}

	id := ids.CreateULID()
	s.timers[id] = time.AfterFunc(delay, func() {
		if !s.take(id) {
			return
		}
		fire(id)
	})

	return id, nil
}

// take removes the id, reporting whether it was still pending. The timer
// callback uses it to lose the race against cancel and close cleanly.
func (s *scheduler) take(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, ok := s.timers[id]; !ok {
		return false
	}
	delete(s.timers, id)
	return true
}

// cancel stops the pending dispatch. It returns false when the id is
// unknown or the timer already fired.
func (s *scheduler) cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[id]
	if !ok {
		return false
	}
	if !t.Stop() {
		// Already firing; the callback removes the entry itself.
		return false
	}
	delete(s.timers, id)
	return true
}

func (s *scheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.timers)
}

// close stops every pending timer. Armed callbacks that already fired
// find take failing and do nothing.
func (s *scheduler) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Schedule dispatches a fresh event with the given name and payload after
// delay, using the given delivery mode. It returns an id usable with
// CancelScheduled. Context values such as a dispatch correlation id are
// preserved; context cancellation is not, since the dispatch happens
// after the caller has moved on.
func (b *Bus) Schedule(ctx context.Context, delay time.Duration, name string, payload map[string]any, mode string) (string, error) {
	if b.isClosed() {
		return "", errs.ErrBusClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithoutCancel(ctx)

	return b.sched.schedule(delay, func(id string) {
		evt := event.New(name, event.WithPayload(payload))
		if err := b.DispatchEvent(ctx, evt, mode); err != nil {
			b.logger.Error("Scheduled dispatch failed", err, logging.LogFields{
				"event":       name,
				"schedule_id": id,
			})
		}
	})
}

// CancelScheduled stops a pending scheduled dispatch. It returns false
// when the id is unknown or the dispatch already fired.
func (b *Bus) CancelScheduled(id string) bool {
	return b.sched.cancel(id)
}

// ScheduledCount returns the number of dispatches still pending.
func (b *Bus) ScheduledCount() int {
	return b.sched.pending()
}
