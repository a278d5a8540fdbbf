package bus

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/runeforged/runebus/internal/bus/errs"
	"github.com/runeforged/runebus/internal/bus/jsoncodec"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// DispatchStats aggregates per-event-name dispatch outcomes: attempt and
// failure counts, latency percentiles over a sliding sample window,
// short-term throughput and a resource snapshot.
type DispatchStats struct {
	mu sync.Mutex

	eventName string

	Dispatched          uint64    `json:"dispatched"`
	Failed              uint64    `json:"failed"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastDispatchedAt    time.Time `json:"last_dispatched_at"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Resource   ResourceUsage     `json:"resource"`

	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
	resourceSampler  *resourceTracker
}

// LatencyMetrics summarises recent dispatch durations.
type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

// ThroughputMetrics reports the dispatch rate over the sliding window.
type ThroughputMetrics struct {
	CurrentRPS     float64 `json:"current_rps"`
	WindowSeconds  float64 `json:"window_seconds"`
	EventsInWindow uint64  `json:"events_in_window"`
	TotalEvents    uint64  `json:"total_events"`
}

// ErrorBreakdown counts failures by pipeline stage.
type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	Admission  uint64 `json:"admission"`
	Middleware uint64 `json:"middleware"`
	Listener   uint64 `json:"listener"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

// ErrorCategory labels where in the pipeline a dispatch error originated.
type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryAdmission  ErrorCategory = "admission"
	ErrorCategoryMiddleware ErrorCategory = "middleware"
	ErrorCategoryListener   ErrorCategory = "listener"
	ErrorCategoryOther      ErrorCategory = "other"
)

// ErrorClassifier maps a dispatch error onto an ErrorCategory.
type ErrorClassifier func(error) ErrorCategory

func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var validation *errs.ValidationError
	if errors.As(err, &validation) {
		return ErrorCategoryValidation
	}
	var admission *errs.AdmissionError
	if errors.As(err, &admission) {
		return ErrorCategoryAdmission
	}
	var middleware *errs.MiddlewareError
	if errors.As(err, &middleware) {
		return ErrorCategoryMiddleware
	}
	var listener *errs.ListenerError
	if errors.As(err, &listener) {
		return ErrorCategoryListener
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryOther
	}
	return ErrorCategoryOther
}

func newDispatchStats(name string, sampler *resourceTracker) *DispatchStats {
	return &DispatchStats{
		eventName:        name,
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
		resourceSampler:  sampler,
	}
}

// recordRejection counts a dispatch stopped by validation or admission.
// Rejections never reach the timed part of the pipeline, so they do not
// feed the latency or throughput windows.
func (s *DispatchStats) recordRejection(category ErrorCategory, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Dispatched++
	s.Failed++
	s.Errors.Record(category, err)
}

// recordContainedError counts an error the pipeline swallowed without
// failing the dispatch, such as a listener error.
func (s *DispatchStats) recordContainedError(category ErrorCategory, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Errors.Record(category, err)
}

// record counts an admitted dispatch with its duration and outcome.
func (s *DispatchStats) record(duration time.Duration, err error, classifier ErrorClassifier) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Dispatched++
	if err != nil {
		s.Failed++
	}
	s.TotalProcessingTime += int64(duration)
	s.LastDispatchedAt = time.Now().UTC()

	if s.latencyWindow != nil {
		s.latencyWindow.Add(duration)
		snapshot := s.latencyWindow.Snapshot()
		snapshot.LastNs = int64(duration)
		s.Latency = snapshot
	}

	if s.throughputWindow != nil {
		snapshot := s.throughputWindow.AddAndSnapshot(time.Now())
		s.Throughput.CurrentRPS = snapshot.CurrentRPS
		s.Throughput.WindowSeconds = snapshot.WindowSeconds
		s.Throughput.EventsInWindow = uint64(snapshot.Count)
	}
	s.Throughput.TotalEvents = s.Dispatched

	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	s.Errors.Record(classifier(err), err)

	if s.resourceSampler != nil {
		s.Resource = s.resourceSampler.Snapshot()
	}
}

// EventName returns the name these stats aggregate.
func (s *DispatchStats) EventName() string { return s.eventName }

func (s *DispatchStats) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type Alias DispatchStats
	return jsoncodec.Marshal((*Alias)(s))
}

// Record tallies an error under its category.
func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryValidation:
		e.Validation++
	case ErrorCategoryAdmission:
		e.Admission++
	case ErrorCategoryMiddleware:
		e.Middleware++
	case ErrorCategoryListener:
		e.Listener++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

// statsFor returns the stats bucket for name, creating it on first use.
func (b *Bus) statsFor(name string) *DispatchStats {
	b.statsMu.RLock()
	s, ok := b.stats[name]
	b.statsMu.RUnlock()
	if ok {
		return s
	}

	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	if s, ok := b.stats[name]; ok {
		return s
	}
	s = newDispatchStats(name, b.resources)
	b.stats[name] = s
	return s
}

// Stats returns the per-name dispatch stats. The map is a copy; the stats
// values are live and lock internally.
func (b *Bus) Stats() map[string]*DispatchStats {
	b.statsMu.RLock()
	defer b.statsMu.RUnlock()
	out := make(map[string]*DispatchStats, len(b.stats))
	for name, s := range b.stats {
		out[name] = s
	}
	return out
}

// StatsFor returns the stats for one event name, or nil when the name has
// never been dispatched.
func (b *Bus) StatsFor(name string) *DispatchStats {
	b.statsMu.RLock()
	defer b.statsMu.RUnlock()
	return b.stats[name]
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var out LatencyMetrics
	if lw == nil || lw.filled == 0 {
		return out
	}
	ordered := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		ordered[i] = lw.samples[idx]
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	out.SampleSize = lw.filled
	out.P50Ns = percentile(ordered, 0.50)
	out.P95Ns = percentile(ordered, 0.95)
	out.P99Ns = percentile(ordered, 0.99)
	var sum int64
	for _, v := range ordered {
		sum += v
	}
	out.AverageNs = sum / int64(len(ordered))
	out.LastNs = lw.last
	return out
}

// percentile interpolates linearly between the two nearest ranks of a
// sorted sample.
func percentile(sorted []int64, quantile float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	if quantile <= 0 {
		return sorted[0]
	}
	if quantile >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := quantile * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower] + int64(float64(sorted[upper]-sorted[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	stamps  []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		stamps:  make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	if tw == nil {
		return throughputSnapshot{}
	}
	tw.stamps = append(tw.stamps, now)

	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.stamps) && tw.stamps[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		copy(tw.stamps, tw.stamps[idx:])
		tw.stamps = tw.stamps[:len(tw.stamps)-idx]
	}

	if len(tw.stamps) == 0 {
		return throughputSnapshot{}
	}
	span := now.Sub(tw.stamps[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	return throughputSnapshot{
		Count:         len(tw.stamps),
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(len(tw.stamps)) / span.Seconds(),
	}
}
