package biz

import (
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"OrderRelay/internal/conf"
	pkglog "OrderRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	EndpointPoll        = "poll"
	EndpointAcknowledge = "acknowledge"

	apiSamplesPerEndpoint = 100
	memoryTrendWindow     = 10
)

// EndpointStats 单个上游接口的延迟统计
type EndpointStats struct {
	Endpoint  string  `json:"endpoint"`
	Samples   int     `json:"samples"`
	AvgMs     float64 `json:"avgMs"`
	MinMs     float64 `json:"minMs"`
	MaxMs     float64 `json:"maxMs"`
	SlowCalls int64   `json:"slowCalls"`
}

type latencyRing struct {
	samples []time.Duration
	next    int
	count   int
	slow    int64
}

// APIResponseMonitor keeps the last 100 latencies per upstream endpoint.
type APIResponseMonitor struct {
	mu        sync.Mutex
	endpoints map[string]*latencyRing
	slow      time.Duration
	metrics   *Metrics
	logger    *pkglog.LogHelper
}

func NewAPIResponseMonitor(c *conf.Compliance, metrics *Metrics, logger log.Logger) *APIResponseMonitor {
	slow := time.Second
	if c != nil && c.SlowResponse > 0 {
		slow = c.SlowResponse
	}
	return &APIResponseMonitor{
		endpoints: make(map[string]*latencyRing),
		slow:      slow,
		metrics:   metrics,
		logger:    pkglog.NewLogHelper(logger),
	}
}

// Record adds one latency sample.
func (m *APIResponseMonitor) Record(endpoint string, d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	r, ok := m.endpoints[endpoint]
	if !ok {
		r = &latencyRing{samples: make([]time.Duration, apiSamplesPerEndpoint)}
		m.endpoints[endpoint] = r
	}
	r.samples[r.next] = d
	r.next = (r.next + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
	isSlow := d > m.slow
	if isSlow {
		r.slow++
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ObserveLatency(endpoint, d)
	}
	if isSlow {
		m.logger.SlowResponse(endpoint, d.Milliseconds(), m.slow.Milliseconds())
	}
}

func (r *latencyRing) stats(endpoint string) EndpointStats {
	s := EndpointStats{Endpoint: endpoint, Samples: r.count, SlowCalls: r.slow}
	if r.count == 0 {
		return s
	}
	var sum time.Duration
	min, max := r.samples[0], r.samples[0]
	for i := 0; i < r.count; i++ {
		v := r.samples[i]
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	s.AvgMs = float64(sum) / float64(r.count) / float64(time.Millisecond)
	s.MinMs = float64(min) / float64(time.Millisecond)
	s.MaxMs = float64(max) / float64(time.Millisecond)
	return s
}

// Stats returns the statistics of one endpoint.
func (m *APIResponseMonitor) Stats(endpoint string) EndpointStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.endpoints[endpoint]; ok {
		return r.stats(endpoint)
	}
	return EndpointStats{Endpoint: endpoint}
}

// All returns every endpoint sorted by name.
func (m *APIResponseMonitor) All() []EndpointStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EndpointStats, 0, len(m.endpoints))
	for name, r := range m.endpoints {
		out = append(out, r.stats(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// AverageMs is the sample-weighted average over all endpoints.
func (m *APIResponseMonitor) AverageMs() float64 {
	var total float64
	var n int
	for _, s := range m.All() {
		total += s.AvgMs * float64(s.Samples)
		n += s.Samples
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// MemorySnapshot 内存采样
type MemorySnapshot struct {
	At         time.Time `json:"at"`
	HeapMB     float64   `json:"heapMb"`
	Goroutines int       `json:"goroutines"`
}

// ResourceMonitor samples process memory and flags a growing trend.
type ResourceMonitor struct {
	mu       sync.Mutex
	samples  []MemorySnapshot
	next     int
	count    int
	last     MemorySnapshot
	leakMB   float64
	readHeap func() uint64
	now      func() time.Time
}

func NewResourceMonitor(c *conf.Compliance) *ResourceMonitor {
	capacity, leak := 50, 50.0
	if c != nil {
		if c.MemorySamples > 0 {
			capacity = c.MemorySamples
		}
		if c.MemoryLeakMB > 0 {
			leak = c.MemoryLeakMB
		}
	}
	return &ResourceMonitor{
		samples:  make([]MemorySnapshot, capacity),
		leakMB:   leak,
		readHeap: readHeapAlloc,
		now:      time.Now,
	}
}

func readHeapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// Sample reads the heap size and stores it. ReadMemStats stops the world,
// so the cycle loop reads Current instead.
func (r *ResourceMonitor) Sample() MemorySnapshot {
	snap := MemorySnapshot{
		At:         r.now(),
		HeapMB:     float64(r.readHeap()) / 1024 / 1024,
		Goroutines: runtime.NumGoroutine(),
	}
	r.mu.Lock()
	r.samples[r.next] = snap
	r.next = (r.next + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
	r.last = snap
	r.mu.Unlock()
	return snap
}

// Current returns the latest sample in MB.
func (r *ResourceMonitor) Current() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last.HeapMB
}

// Trend fits a line over the last samples and returns the growth across them
// in MB. leak is true when that growth reaches the configured threshold.
func (r *ResourceMonitor) Trend() (growthMB float64, leak bool) {
	r.mu.Lock()
	n := r.count
	if n > memoryTrendWindow {
		n = memoryTrendWindow
	}
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		// 按时间顺序取最近 n 个
		idx := (r.next - n + i + len(r.samples)) % len(r.samples)
		ys[i] = r.samples[idx].HeapMB
	}
	r.mu.Unlock()

	if n < 2 {
		return 0, false
	}
	slope := linearSlope(ys)
	growthMB = slope * float64(n-1)
	return growthMB, growthMB >= r.leakMB
}

func linearSlope(ys []float64) float64 {
	n := float64(len(ys))
	var sx, sy, sxy, sxx float64
	for i, y := range ys {
		x := float64(i)
		sx += x
		sy += y
		sxy += x * y
		sxx += x * x
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0
	}
	return (n*sxy - sx*sy) / den
}

// Grade scores the pipeline health; penalties follow the compliance targets
// (99% timing, 100% acknowledgment, 500ms latency, 0.1% errors).
func Grade(timingAccuracy, ackRate, avgLatencyMs, errorRatePct float64) (float64, string) {
	score := 100.0
	if timingAccuracy < 99 {
		score -= (99 - timingAccuracy) * 3
	}
	if ackRate < 100 {
		score -= (100 - ackRate) * 4
	}
	if avgLatencyMs > 500 {
		score -= math.Min(20, (avgLatencyMs-500)/100)
	}
	if errorRatePct > 0.1 {
		score -= math.Min(10, errorRatePct)
	}
	score = math.Max(0, score)

	switch {
	case score >= 95:
		return score, "A"
	case score >= 85:
		return score, "B"
	case score >= 75:
		return score, "C"
	case score >= 65:
		return score, "D"
	}
	return score, "F"
}
