package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/runeforged/runebus/internal/bus/errs"
	"github.com/runeforged/runebus/internal/bus/jsoncodec"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	seq            INTEGER NOT NULL,
	payload        TEXT NOT NULL,
	metadata       TEXT NOT NULL,
	correlation_id TEXT NOT NULL,
	mode           TEXT NOT NULL,
	timestamp      INTEGER NOT NULL,
	record_hash    TEXT NOT NULL DEFAULT '',
	prev_hash      TEXT NOT NULL DEFAULT '',
	chain_hash     TEXT NOT NULL DEFAULT '',
	signature      TEXT NOT NULL DEFAULT '',
	UNIQUE (name, seq)
);
CREATE INDEX IF NOT EXISTS idx_events_correlation ON events (correlation_id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events (timestamp);
CREATE TABLE IF NOT EXISTS event_seq (
	name     TEXT PRIMARY KEY,
	next_seq INTEGER NOT NULL
);
`

// SQLite journals events in a local database file. Writes are serialized in
// process; the database is opened in WAL mode for concurrent readers. With a
// signer configured every record is hashed, chained to its predecessor per
// event name and signed.
type SQLite struct {
	mu     sync.RWMutex
	db     *sql.DB
	signer *Signer
	closed bool
}

// SQLiteOption configures OpenSQLite.
type SQLiteOption func(*SQLite)

// WithSigner enables the HMAC integrity chain on saved records.
func WithSigner(s *Signer) SQLiteOption {
	return func(st *SQLite) { st.signer = s }
}

// OpenSQLite opens the journal at path, creating the schema if needed.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	st := &SQLite{db: db}
	for _, opt := range opts {
		opt(st)
	}
	return st, nil
}

// Save appends the record to the journal, assigning its per-name sequence.
// The record's Sequence and, with a signer, Hash, PrevHash, ChainHash and
// Signature fields are set on return.
func (s *SQLite) Save(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.ErrStoreClosed
	}

	payloadJSON, err := jsoncodec.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	metadataJSON, err := jsoncodec.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO event_seq (name, next_seq) VALUES (?, 1)", rec.Name,
	); err != nil {
		return fmt.Errorf("init event seq: %w", err)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx,
		"SELECT next_seq FROM event_seq WHERE name = ?", rec.Name,
	).Scan(&seq); err != nil {
		return fmt.Errorf("get event seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE event_seq SET next_seq = next_seq + 1 WHERE name = ?", rec.Name,
	); err != nil {
		return fmt.Errorf("increment event seq: %w", err)
	}
	rec.Sequence = uint64(seq)

	if s.signer != nil {
		rec.Hash = recordHash(rec, payloadJSON, metadataJSON)
		prev := ""
		if rec.Sequence > 1 {
			if err := tx.QueryRowContext(ctx,
				"SELECT chain_hash FROM events WHERE name = ? AND seq = ?",
				rec.Name, seq-1,
			).Scan(&prev); err != nil {
				return fmt.Errorf("load previous record: %w", err)
			}
		}
		rec.PrevHash = prev
		rec.ChainHash = chainHash(prev, rec.Hash)
		rec.Signature = s.signer.Sign(rec.Name, rec.ChainHash)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (
			id, name, seq, payload, metadata, correlation_id, mode, timestamp,
			record_hash, prev_hash, chain_hash, signature
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, seq, string(payloadJSON), string(metadataJSON),
		rec.CorrelationID, rec.Mode, rec.Timestamp.UnixMilli(),
		rec.Hash, rec.PrevHash, rec.ChainHash, rec.Signature,
	); err != nil {
		return fmt.Errorf("append record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Query returns the records matching f in chronological order.
func (s *SQLite) Query(ctx context.Context, f Filter) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errs.ErrStoreClosed
	}

	where := []string{"1=1"}
	var args []any
	if f.Name != "" {
		if prefix, ok := strings.CutSuffix(f.Name, "*"); ok {
			where = append(where, `name LIKE ? ESCAPE '\'`)
			args = append(args, escapeLike(prefix)+"%")
		} else {
			where = append(where, "name = ?")
			args = append(args, f.Name)
		}
	}
	if f.CorrelationID != "" {
		where = append(where, "correlation_id = ?")
		args = append(args, f.CorrelationID)
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, f.Until.UnixMilli())
	}

	query := fmt.Sprintf(`
		SELECT id, name, seq, payload, metadata, correlation_id, mode, timestamp,
		       record_hash, prev_hash, chain_hash, signature
		FROM events WHERE %s ORDER BY id ASC`, strings.Join(where, " AND "))
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// VerifyChain walks every record of name in sequence order and checks the
// integrity chain: contiguous sequences, predecessor linkage, record and
// chain hashes, and signatures. A signer is required.
func (s *SQLite) VerifyChain(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errs.ErrStoreClosed
	}
	if s.signer == nil {
		return fmt.Errorf("verify chain: no signer configured")
	}

	var lastSeq uint64
	prevChain := ""
	for {
		batch, err := s.listAfter(ctx, name, lastSeq, 200)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, rec := range batch {
			if rec.Sequence != lastSeq+1 {
				return fmt.Errorf("sequence gap for %q: expected %d, got %d", name, lastSeq+1, rec.Sequence)
			}
			if rec.PrevHash != prevChain {
				return fmt.Errorf("prev hash mismatch for %q at seq %d", name, rec.Sequence)
			}
			payloadJSON, err := jsoncodec.Marshal(rec.Payload)
			if err != nil {
				return fmt.Errorf("marshal payload at seq %d: %w", rec.Sequence, err)
			}
			metadataJSON, err := jsoncodec.Marshal(rec.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata at seq %d: %w", rec.Sequence, err)
			}
			if got := recordHash(rec, payloadJSON, metadataJSON); got != rec.Hash {
				return fmt.Errorf("record hash mismatch for %q at seq %d", name, rec.Sequence)
			}
			if got := chainHash(prevChain, rec.Hash); got != rec.ChainHash {
				return fmt.Errorf("chain hash mismatch for %q at seq %d", name, rec.Sequence)
			}
			if err := s.signer.Verify(name, rec.ChainHash, rec.Signature); err != nil {
				return fmt.Errorf("at seq %d: %w", rec.Sequence, err)
			}
			prevChain = rec.ChainHash
			lastSeq = rec.Sequence
		}
	}
}

func (s *SQLite) listAfter(ctx context.Context, name string, afterSeq uint64, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, seq, payload, metadata, correlation_id, mode, timestamp,
		       record_hash, prev_hash, chain_hash, signature
		FROM events WHERE name = ? AND seq > ? ORDER BY seq ASC LIMIT ?`,
		name, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (*Record, error) {
	var (
		rec          Record
		seq          int64
		payloadJSON  string
		metadataJSON string
		millis       int64
	)
	if err := rows.Scan(
		&rec.ID, &rec.Name, &seq, &payloadJSON, &metadataJSON,
		&rec.CorrelationID, &rec.Mode, &millis,
		&rec.Hash, &rec.PrevHash, &rec.ChainHash, &rec.Signature,
	); err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}
	rec.Sequence = uint64(seq)
	rec.Timestamp = time.UnixMilli(millis).UTC()
	if err := jsoncodec.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := jsoncodec.Unmarshal([]byte(metadataJSON), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &rec, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Close closes the underlying database; subsequent operations fail.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
