package bus

import (
	"sync"
	"time"

	"github.com/runeforged/runebus/internal/bus/config"
	"github.com/runeforged/runebus/internal/bus/event"
)

// deferredItem is one queued event plus the time it was deferred, used to
// report queue wait when it is drained.
type deferredItem struct {
	evt *event.Event
	at  time.Time
}

// deferredQueue is a bounded FIFO of events awaiting an explicit Drain.
// Appending to a full queue evicts the oldest entry.
type deferredQueue struct {
	mu    sync.Mutex
	cap   int
	items []*deferredItem
}

func newDeferredQueue(capacity int) *deferredQueue {
	if capacity <= 0 {
		capacity = config.DefaultDeferredQueueSize
	}
	return &deferredQueue{cap: capacity}
}

// push appends the event and returns the evicted oldest item when the
// queue was full, nil otherwise.
func (q *deferredQueue) push(evt *event.Event) *deferredItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	var evicted *deferredItem
	if len(q.items) >= q.cap {
		evicted = q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
	}
	q.items = append(q.items, &deferredItem{evt: evt, at: time.Now()})
	return evicted
}

// pop removes and returns the oldest item, or nil when the queue is empty.
func (q *deferredQueue) pop() *deferredItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return item
}

func (q *deferredQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}
