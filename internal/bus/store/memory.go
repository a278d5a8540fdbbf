package store

import (
	"context"
	"sync"

	"github.com/runeforged/runebus/internal/bus/errs"
)

const defaultMemoryCapacity = 1024

// Memory keeps the newest records in a bounded in-process buffer, dropping
// the oldest once capacity is reached. Intended for tests and development.
type Memory struct {
	mu     sync.Mutex
	cap    int
	recs   []*Record
	seqs   map[string]uint64
	closed bool
}

// NewMemory returns a buffer holding at most capacity records. A
// non-positive capacity uses the default.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &Memory{cap: capacity, seqs: make(map[string]uint64)}
}

// Save assigns the record's per-name sequence and appends it.
func (m *Memory) Save(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errs.ErrStoreClosed
	}
	m.seqs[rec.Name]++
	rec.Sequence = m.seqs[rec.Name]
	m.recs = append(m.recs, rec)
	if len(m.recs) > m.cap {
		drop := len(m.recs) - m.cap
		n := copy(m.recs, m.recs[drop:])
		clear(m.recs[n:])
		m.recs = m.recs[:n]
	}
	return nil
}

// Query returns the records matching f in insertion order.
func (m *Memory) Query(ctx context.Context, f Filter) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errs.ErrStoreClosed
	}

	var out []*Record
	for _, rec := range m.recs {
		if !f.Matches(rec) {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Len reports the number of buffered records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

// Close marks the store closed; subsequent saves fail.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
