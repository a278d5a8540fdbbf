// Package ratelimit is the admission gate in front of the dispatch pipeline.
// Events are admitted or rejected per name before any hook or listener runs.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter decides whether a dispatch for the named event is admitted.
type Limiter interface {
	Allow(eventName string) bool
}

// Nop admits every dispatch.
type Nop struct{}

func (Nop) Allow(string) bool { return true }

// PerName keeps one token bucket per event name, created on first use from
// the default rate, with optional per-name overrides. Safe for concurrent
// use.
type PerName struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	overrides map[string]override
	buckets   map[string]*rate.Limiter
}

type override struct {
	limit rate.Limit
	burst int
}

// NewPerName returns a limiter admitting eventsPerSecond with the given
// burst for every name. A non-positive rate admits everything for names
// without an override.
func NewPerName(eventsPerSecond float64, burst int) *PerName {
	return &PerName{
		limit:     rate.Limit(eventsPerSecond),
		burst:     burst,
		overrides: make(map[string]override),
		buckets:   make(map[string]*rate.Limiter),
	}
}

// SetLimit overrides the rate for one event name. It replaces the name's
// bucket, so accumulated tokens are dropped.
func (p *PerName) SetLimit(eventName string, eventsPerSecond float64, burst int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overrides[eventName] = override{limit: rate.Limit(eventsPerSecond), burst: burst}
	delete(p.buckets, eventName)
}

// Allow reports whether one more dispatch of eventName is admitted now.
func (p *PerName) Allow(eventName string) bool {
	p.mu.Lock()
	bucket, ok := p.buckets[eventName]
	if !ok {
		limit, burst := p.limit, p.burst
		if o, ok := p.overrides[eventName]; ok {
			limit, burst = o.limit, o.burst
		}
		if limit <= 0 {
			p.mu.Unlock()
			return true
		}
		bucket = rate.NewLimiter(limit, burst)
		p.buckets[eventName] = bucket
	}
	p.mu.Unlock()
	return bucket.Allow()
}
