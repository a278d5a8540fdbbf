// Package store persists dispatched events as append-only journal records.
// A record is the serialized snapshot of one admitted dispatch; stores
// assign a per-name sequence, starting at 1, when the record is saved.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/runeforged/runebus/internal/bus/event"
	"github.com/runeforged/runebus/internal/bus/ids"
)

// Record is the persisted form of one dispatched event.
type Record struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Payload       map[string]any `json:"payload,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Mode          string         `json:"mode,omitempty"`

	// Sequence is assigned by the store on save.
	Sequence uint64 `json:"sequence,omitempty"`

	// Integrity columns, populated only by signing stores.
	Hash      string `json:"hash,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`
	ChainHash string `json:"chain_hash,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// FromEvent snapshots an event into a record. Payload and metadata are
// shallow-copied so listener mutations after the persist stage do not alter
// the stored view.
func FromEvent(evt *event.Event, mode string) *Record {
	rec := &Record{
		ID:            ids.CreateULID(),
		Name:          evt.Name(),
		CorrelationID: evt.CorrelationID(),
		Timestamp:     evt.Timestamp(),
		Mode:          mode,
	}
	if len(evt.Payload) > 0 {
		rec.Payload = make(map[string]any, len(evt.Payload))
		for k, v := range evt.Payload {
			rec.Payload[k] = v
		}
	}
	if len(evt.Metadata) > 0 {
		rec.Metadata = make(map[string]any, len(evt.Metadata))
		for k, v := range evt.Metadata {
			rec.Metadata[k] = v
		}
	}
	return rec
}

// Store accepts event records. Implementations must be safe for concurrent
// use; the pipeline treats Save as fire-and-forget apart from logging.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Close() error
}

// Filter selects records for Query. Zero-valued fields match everything.
type Filter struct {
	// Name is an exact event name or a trailing-asterisk prefix pattern.
	Name          string
	CorrelationID string
	// Since is inclusive, Until exclusive.
	Since time.Time
	Until time.Time
	// Limit caps the result count; non-positive means no cap.
	Limit int
}

// Matches reports whether the record passes the filter.
func (f Filter) Matches(rec *Record) bool {
	if f.Name != "" {
		if prefix, ok := strings.CutSuffix(f.Name, "*"); ok {
			if !strings.HasPrefix(rec.Name, prefix) {
				return false
			}
		} else if rec.Name != f.Name {
			return false
		}
	}
	if f.CorrelationID != "" && rec.CorrelationID != f.CorrelationID {
		return false
	}
	if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !rec.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

// Querier is implemented by stores that can read records back, in
// chronological order.
type Querier interface {
	Query(ctx context.Context, f Filter) ([]*Record, error)
}

// Nop discards every record.
type Nop struct{}

func (Nop) Save(context.Context, *Record) error { return nil }
func (Nop) Close() error                        { return nil }
