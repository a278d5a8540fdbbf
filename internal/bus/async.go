package bus

import (
	"sync"

	"github.com/runeforged/runebus/internal/bus/config"
	"github.com/runeforged/runebus/internal/bus/errs"
	"github.com/runeforged/runebus/internal/bus/logging"
)

// asyncPool runs queued delivery units on a fixed set of workers. Units
// are plain closures so the pipeline decides what a unit does; the pool
// only cares about ordering per queue and panic containment.
type asyncPool struct {
	mu      sync.RWMutex
	queue   chan func()
	wg      sync.WaitGroup
	closed  bool
	logger  logging.ServiceLogger
	metrics *Metrics
}

func newAsyncPool(workers, queueSize int, logger logging.ServiceLogger, metrics *Metrics) *asyncPool {
	if workers <= 0 {
		workers = config.DefaultAsyncWorkers
	}
	if queueSize <= 0 {
		queueSize = config.DefaultAsyncQueueSize
	}

	pool := &asyncPool{
		queue:   make(chan func(), queueSize),
		logger:  logger,
		metrics: metrics,
	}

	pool.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.work()
	}

	return pool
}

func (p *asyncPool) work() {
	defer p.wg.Done()

	for unit := range p.queue {
		p.invoke(unit)
		p.metrics.setAsyncQueueDepth(len(p.queue))
	}
}

func (p *asyncPool) invoke(unit func()) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("Async delivery panicked", panicError(rec), nil)
		}
	}()

	unit()
}

// submit enqueues a delivery unit without blocking. When the queue is full
// the unit is dropped and ErrQueueFull returned.
func (p *asyncPool) submit(unit func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errs.ErrBusClosed
	}

	select {
	case p.queue <- unit:
		p.metrics.setAsyncQueueDepth(len(p.queue))
		return nil
	default:
		p.metrics.recordAsyncDropped()
		return errs.ErrQueueFull
	}
}

func (p *asyncPool) depth() int {
	return len(p.queue)
}

// close stops accepting new units, lets the workers finish everything
// already queued and waits for them to exit.
func (p *asyncPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}
