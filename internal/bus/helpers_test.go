package bus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/runeforged/runebus/internal/bus/config"
	"github.com/runeforged/runebus/internal/bus/logging"
	"github.com/runeforged/runebus/internal/bus/store"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() logging.ServiceLogger {
	return logging.NewSlogServiceLogger(newTestSlogLogger())
}

// recordingLogger captures log messages for assertions.
type recordingLogger struct {
	mu       sync.Mutex
	messages []string
	errors   []error
}

func (l *recordingLogger) With(logging.LogFields) logging.ServiceLogger { return l }

func (l *recordingLogger) Debug(msg string, _ logging.LogFields) { l.append(msg, nil) }
func (l *recordingLogger) Info(msg string, _ logging.LogFields)  { l.append(msg, nil) }
func (l *recordingLogger) Trace(msg string, _ logging.LogFields) { l.append(msg, nil) }

func (l *recordingLogger) Error(msg string, err error, _ logging.LogFields) { l.append(msg, err) }

func (l *recordingLogger) append(msg string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
	if err != nil {
		l.errors = append(l.errors, err)
	}
}

func (l *recordingLogger) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	clone := make([]string, len(l.messages))
	copy(clone, l.messages)
	return clone
}

func (l *recordingLogger) Errors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	clone := make([]error, len(l.errors))
	copy(clone, l.errors)
	return clone
}

type testStore struct {
	mu      sync.Mutex
	records []*store.Record
	err     error
	closed  bool
}

func (s *testStore) Save(_ context.Context, rec *store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *testStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *testStore) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *testStore) Records() []*store.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := make([]*store.Record, len(s.records))
	copy(clone, s.records)
	return clone
}

type testForwarder struct {
	mu        sync.Mutex
	forwarded []*store.Record
	err       error
	closed    bool
}

func (f *testForwarder) Forward(_ context.Context, rec *store.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.forwarded = append(f.forwarded, rec)
	return nil
}

func (f *testForwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *testForwarder) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *testForwarder) Forwarded() []*store.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := make([]*store.Record, len(f.forwarded))
	copy(clone, f.forwarded)
	return clone
}

// denyLimiter rejects every event.
type denyLimiter struct{}

func (denyLimiter) Allow(string) bool { return false }

// callRecorder collects invocation labels across goroutines.
type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (c *callRecorder) add(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, label)
}

func (c *callRecorder) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := make([]string, len(c.calls))
	copy(clone, c.calls)
	return clone
}

func (c *callRecorder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// newTestBus builds a bus without store, forwarder or metrics and closes
// it with the test.
func newTestBus(t *testing.T, conf *config.Config, deps Dependencies) *Bus {
	t.Helper()
	if conf == nil {
		conf = &config.Config{}
	}
	b, err := TryNew(conf, newTestLogger(), context.Background(), deps)
	if err != nil {
		t.Fatalf("bus init failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}
