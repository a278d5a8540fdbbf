package bus

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// ResourceUsage is the coarse process-level view included in stats
// snapshots.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// resourceTracker derives CPU utilisation from the runtime's cumulative
// /sched/cpu:seconds metric between snapshots. One tracker is shared by all
// per-name stats of a bus.
type resourceTracker struct {
	mu             sync.Mutex
	samples        []metrics.Sample
	lastCPUSeconds float64
	lastSampledAt  time.Time
	numCPU         float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: []metrics.Sample{{Name: "/sched/cpu:seconds"}},
		numCPU:  float64(runtime.NumCPU()),
	}
}

// Snapshot samples current usage. CPUPercent is zero on the first call;
// later calls report the utilisation since the previous snapshot.
func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.samples)
	now := time.Now()

	var cpuPercent float64
	if r.samples[0].Value.Kind() == metrics.KindFloat64 {
		cpuSeconds := r.samples[0].Value.Float64()
		if !r.lastSampledAt.IsZero() {
			deltaCPU := cpuSeconds - r.lastCPUSeconds
			deltaWall := now.Sub(r.lastSampledAt).Seconds()
			if deltaWall > 0 && r.numCPU > 0 {
				cpuPercent = (deltaCPU / deltaWall) / r.numCPU * 100
			}
		}
		r.lastCPUSeconds = cpuSeconds
	}
	r.lastSampledAt = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return ResourceUsage{
		CPUPercent:  cpuPercent,
		MemoryBytes: mem.Alloc,
		Goroutines:  runtime.NumGoroutine(),
	}
}
