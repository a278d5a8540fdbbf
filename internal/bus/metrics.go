package bus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace         = "runebus"
	metricsSubsystemDeferred = "deferred"
)

// Dispatch result labels for the dispatch_total counter.
const (
	resultOK         = "ok"
	resultValidation = "validation"
	resultAdmission  = "admission"
	resultMiddleware = "middleware"
)

// Metrics holds the Prometheus collectors for the dispatch pipeline. A nil
// *Metrics is valid and records nothing, which is how a bus without
// metrics runs.
type Metrics struct {
	mu sync.Mutex

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	listenerErrors   *prometheus.CounterVec
	hookErrors       *prometheus.CounterVec
	asyncQueueDepth  prometheus.Gauge
	asyncDropped     prometheus.Counter

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	registered bool
}

// NewMetrics creates the pipeline collectors. A nil registerer falls back
// to the Prometheus default registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer: registerer,
		gatherer:   gathererFor(registerer),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dispatch_total",
			Help:      "Total number of dispatches by delivery mode and result",
		}, []string{"mode", "result"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Wall-clock duration of admitted dispatches",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 10, 8),
		}, []string{"mode"}),
		listenerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "listener_errors_total",
			Help:      "Total number of contained listener errors by registration pattern",
		}, []string{"pattern"}),
		hookErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "hook_errors_total",
			Help:      "Total number of isolated hook failures by phase",
		}, []string{"phase"}),
		asyncQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "async_queue_depth",
			Help:      "Current number of queued async delivery units",
		}),
		asyncDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "async_dropped_total",
			Help:      "Total number of async delivery units dropped because the queue was full",
		}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.dispatchTotal,
		m.dispatchDuration,
		m.listenerErrors,
		m.hookErrors,
		m.asyncQueueDepth,
		m.asyncDropped,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// Gatherer returns the gatherer matching the registerer, for serving
// /metrics.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.DefaultGatherer
	}
	return m.gatherer
}

func (m *Metrics) recordDispatch(mode, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(mode, result).Inc()
	m.dispatchDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// recordRejection counts a dispatch stopped before the timed pipeline.
func (m *Metrics) recordRejection(mode, result string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(mode, result).Inc()
}

func (m *Metrics) recordListenerError(pattern string) {
	if m == nil {
		return
	}
	m.listenerErrors.WithLabelValues(pattern).Inc()
}

func (m *Metrics) recordHookError(phase string) {
	if m == nil {
		return
	}
	m.hookErrors.WithLabelValues(phase).Inc()
}

func (m *Metrics) setAsyncQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.asyncQueueDepth.Set(float64(depth))
}

func (m *Metrics) recordAsyncDropped() {
	if m == nil {
		return
	}
	m.asyncDropped.Inc()
}

func gathererFor(registerer prometheus.Registerer) prometheus.Gatherer {
	if g, ok := registerer.(prometheus.Gatherer); ok {
		return g
	}
	return prometheus.DefaultGatherer
}

// DeferredMetrics tracks the deferred queue per event name.
type DeferredMetrics struct {
	mu sync.RWMutex

	// Per-name counts
	nameCounts map[string]*DeferredNameMetrics

	// Prometheus collectors
	eventsTotal  *prometheus.CounterVec
	depth        prometheus.Gauge
	drainedTotal *prometheus.CounterVec
	droppedTotal *prometheus.CounterVec
	waitSeconds  *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// DeferredNameMetrics holds deferred-queue metrics for one event name.
type DeferredNameMetrics struct {
	EventsDeferred   uint64    `json:"events_deferred"`
	EventsCurrent    uint64    `json:"events_current"`
	EventsDrained    uint64    `json:"events_drained"`
	EventsDropped    uint64    `json:"events_dropped"`
	OldestDeferredAt time.Time `json:"oldest_deferred_at,omitempty"`
	NewestDeferredAt time.Time `json:"newest_deferred_at,omitempty"`
	AvgWaitSeconds   float64   `json:"avg_wait_seconds"`
	LastUpdatedAt    time.Time `json:"last_updated_at"`
}

// DeferredMetricsSnapshot provides a point-in-time view of the deferred
// queue metrics.
type DeferredMetricsSnapshot struct {
	TotalCurrent int64                           `json:"total_current"`
	TotalDrained uint64                          `json:"total_drained"`
	TotalDropped uint64                          `json:"total_dropped"`
	NameMetrics  map[string]*DeferredNameMetrics `json:"name_metrics"`
	CollectedAt  time.Time                       `json:"collected_at"`
}

// newDeferredCounterVec creates a counter vec in the runebus/deferred namespace.
func newDeferredCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystemDeferred,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// newDeferredHistogramVec creates a histogram vec in the runebus/deferred namespace.
func newDeferredHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystemDeferred,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewDeferredMetrics creates a deferred-queue metrics collector.
func NewDeferredMetrics(registerer prometheus.Registerer) *DeferredMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &DeferredMetrics{
		nameCounts:   make(map[string]*DeferredNameMetrics),
		registerer:   registerer,
		eventsTotal:  newDeferredCounterVec("events_total", "Total number of events appended to the deferred queue", []string{"name"}),
		drainedTotal: newDeferredCounterVec("drained_total", "Total number of deferred events delivered by Drain", []string{"name"}),
		droppedTotal: newDeferredCounterVec("dropped_total", "Total number of deferred events dropped because the queue was full", []string{"name"}),
		waitSeconds:  newDeferredHistogramVec("wait_seconds", "Time events spent in the deferred queue before being drained", []float64{0.001, 0.01, 0.1, 1, 5, 10, 60, 300, 600}, []string{"name"}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystemDeferred,
			Name:      "depth",
			Help:      "Current number of events in the deferred queue",
		}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *DeferredMetrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.eventsTotal,
		m.depth,
		m.drainedTotal,
		m.droppedTotal,
		m.waitSeconds,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordDeferred records an event being appended to the deferred queue.
func (m *DeferredMetrics) RecordDeferred(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := m.getOrCreateNameMetrics(name)
	counts.EventsDeferred++
	counts.EventsCurrent++
	now := time.Now()
	if counts.OldestDeferredAt.IsZero() {
		counts.OldestDeferredAt = now
	}
	counts.NewestDeferredAt = now
	counts.LastUpdatedAt = now

	m.eventsTotal.WithLabelValues(name).Inc()
}

// RecordDrained records a deferred event delivered by Drain, with the time
// it spent queued.
func (m *DeferredMetrics) RecordDrained(name string, waited time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := m.getOrCreateNameMetrics(name)
	counts.EventsDrained++
	if counts.EventsCurrent > 0 {
		counts.EventsCurrent--
	}
	counts.LastUpdatedAt = time.Now()

	// Rolling average over the drained events.
	total := counts.EventsDrained
	counts.AvgWaitSeconds = ((counts.AvgWaitSeconds * float64(total-1)) + waited.Seconds()) / float64(total)

	m.drainedTotal.WithLabelValues(name).Inc()
	m.waitSeconds.WithLabelValues(name).Observe(waited.Seconds())
}

// RecordDropped records a deferred event evicted to make room for a newer
// one.
func (m *DeferredMetrics) RecordDropped(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := m.getOrCreateNameMetrics(name)
	counts.EventsDropped++
	if counts.EventsCurrent > 0 {
		counts.EventsCurrent--
	}
	counts.LastUpdatedAt = time.Now()

	m.droppedTotal.WithLabelValues(name).Inc()
}

// SetDepth sets the queue depth gauge.
func (m *DeferredMetrics) SetDepth(depth int) {
	if m == nil {
		return
	}
	m.depth.Set(float64(depth))
}

// GetSnapshot returns a point-in-time snapshot of all deferred metrics.
func (m *DeferredMetrics) GetSnapshot() DeferredMetricsSnapshot {
	snapshot := DeferredMetricsSnapshot{
		NameMetrics: make(map[string]*DeferredNameMetrics),
		CollectedAt: time.Now(),
	}
	if m == nil {
		return snapshot
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, counts := range m.nameCounts {
		clone := *counts
		snapshot.NameMetrics[name] = &clone
		snapshot.TotalCurrent += int64(counts.EventsCurrent)
		snapshot.TotalDrained += counts.EventsDrained
		snapshot.TotalDropped += counts.EventsDropped
	}

	return snapshot
}

// GetNameMetrics returns the metrics for one event name, or nil.
func (m *DeferredMetrics) GetNameMetrics(name string) *DeferredNameMetrics {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if counts, ok := m.nameCounts[name]; ok {
		clone := *counts
		return &clone
	}
	return nil
}

func (m *DeferredMetrics) getOrCreateNameMetrics(name string) *DeferredNameMetrics {
	if counts, ok := m.nameCounts[name]; ok {
		return counts
	}
	counts := &DeferredNameMetrics{}
	m.nameCounts[name] = counts
	return counts
}

// Reset resets all metrics (useful for testing).
func (m *DeferredMetrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nameCounts = make(map[string]*DeferredNameMetrics)
	m.eventsTotal.Reset()
	m.drainedTotal.Reset()
	m.droppedTotal.Reset()
	m.waitSeconds.Reset()
	m.depth.Set(0)
}
