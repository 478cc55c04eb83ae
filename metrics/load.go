package metrics

import (
	"log/slog"
	"math"
	"net/http"
	rtmetrics "runtime/metrics"
	"sync"
	"time"

	"github.com/yourusername/storeguard/core"
	"github.com/yourusername/storeguard/middleware"
)

// LoadTracker accumulates response outcomes between load samples
type LoadTracker struct {
	mu       sync.Mutex
	requests int64
	errors   int64
	latency  time.Duration
}

// NewLoadTracker creates an empty tracker
func NewLoadTracker() *LoadTracker {
	return &LoadTracker{}
}

// Observe records one finished response. 5xx responses count as errors.
func (t *LoadTracker) Observe(status int, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.requests++
	if status >= http.StatusInternalServerError {
		t.errors++
	}
	t.latency += latency
}

// Drain returns the error rate and mean latency since the last drain and
// starts a new interval.
func (t *LoadTracker) Drain() (errorRate float64, avgLatency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.requests > 0 {
		errorRate = float64(t.errors) / float64(t.requests)
		avgLatency = t.latency / time.Duration(t.requests)
	}
	t.requests, t.errors, t.latency = 0, 0, 0
	return errorRate, avgLatency
}

// Middleware observes every response passing through next
func (t *LoadTracker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := middleware.NewStatusRecorder(w)
		next.ServeHTTP(rec, r)
		t.Observe(rec.Status, time.Since(start))
	})
}

// ResourceSampler reports CPU and memory usage as percentages
type ResourceSampler interface {
	Sample() (cpuPercent, memoryPercent float64)
}

// RuntimeSampler reads process CPU and memory figures from runtime/metrics
type RuntimeSampler struct {
	mu        sync.Mutex
	samples   []rtmetrics.Sample
	lastTotal float64
	lastIdle  float64
}

const (
	cpuTotalMetric   = "/cpu/classes/total:cpu-seconds"
	cpuIdleMetric    = "/cpu/classes/idle:cpu-seconds"
	memTotalMetric   = "/memory/classes/total:bytes"
	heapObjectMetric = "/memory/classes/heap/objects:bytes"
	memLimitMetric   = "/gc/gomemlimit:bytes"
)

// NewRuntimeSampler creates a sampler; the first CPU reading covers process lifetime
func NewRuntimeSampler() *RuntimeSampler {
	return &RuntimeSampler{
		samples: []rtmetrics.Sample{
			{Name: cpuTotalMetric},
			{Name: cpuIdleMetric},
			{Name: memTotalMetric},
			{Name: heapObjectMetric},
			{Name: memLimitMetric},
		},
	}
}

// Sample returns CPU usage since the previous call and current memory usage
func (s *RuntimeSampler) Sample() (cpuPercent, memoryPercent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rtmetrics.Read(s.samples)

	total := floatValue(s.samples[0])
	idle := floatValue(s.samples[1])
	if dTotal := total - s.lastTotal; dTotal > 0 {
		busy := dTotal - (idle - s.lastIdle)
		cpuPercent = clampPercent(100 * busy / dTotal)
	}
	s.lastTotal, s.lastIdle = total, idle

	mapped := uintValue(s.samples[2])
	heap := uintValue(s.samples[3])
	limit := uintValue(s.samples[4])

	// Without a GOMEMLIMIT the limit reads as MaxInt64; fall back to heap share.
	if limit > 0 && limit < math.MaxInt64 {
		memoryPercent = clampPercent(100 * float64(mapped) / float64(limit))
	} else if mapped > 0 {
		memoryPercent = clampPercent(100 * float64(heap) / float64(mapped))
	}
	return cpuPercent, memoryPercent
}

func floatValue(s rtmetrics.Sample) float64 {
	if s.Value.Kind() == rtmetrics.KindFloat64 {
		return s.Value.Float64()
	}
	return 0
}

func uintValue(s rtmetrics.Sample) uint64 {
	if s.Value.Kind() == rtmetrics.KindUint64 {
		return s.Value.Uint64()
	}
	return 0
}

func clampPercent(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// LoadMonitor periodically combines resource usage and traffic outcomes
// into core.LoadMetrics and hands them to a sink, typically an adaptive limiter.
type LoadMonitor struct {
	tracker *LoadTracker
	sampler ResourceSampler
	sink    func(core.LoadMetrics)
	logger  *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewLoadMonitor creates a monitor. A nil sampler uses NewRuntimeSampler.
func NewLoadMonitor(tracker *LoadTracker, sampler ResourceSampler, sink func(core.LoadMetrics), logger *slog.Logger) *LoadMonitor {
	if sampler == nil {
		sampler = NewRuntimeSampler()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LoadMonitor{
		tracker: tracker,
		sampler: sampler,
		sink:    sink,
		logger:  logger,
	}
}

// Sample takes one reading and passes it to the sink
func (m *LoadMonitor) Sample() core.LoadMetrics {
	cpu, mem := m.sampler.Sample()
	errorRate, latency := m.tracker.Drain()

	load := core.LoadMetrics{
		CPUUsage:     cpu,
		MemoryUsage:  mem,
		ErrorRate:    errorRate,
		ResponseTime: latency,
	}
	m.sink(load)
	m.logger.Debug("load sampled",
		"cpu", cpu,
		"memory", mem,
		"error_rate", errorRate,
		"response_time", latency,
	)
	return load
}

// Start samples every interval until Stop is called
func (m *LoadMonitor) Start(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	m.stop, m.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.Sample()
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts sampling and waits for the loop to exit
func (m *LoadMonitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}
