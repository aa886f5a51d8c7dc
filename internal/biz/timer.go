package biz

import (
	"math"
	"sync"
	"time"

	"OrderRelay/internal/model"
)

// DriftTimer keeps cycle start times target apart. Each start is compared to
// the previous one; the signed sum of those drifts is fed back into the next
// delay, at most correctionCap per step.
type DriftTimer struct {
	mu sync.Mutex

	target        time.Duration
	tolerance     time.Duration
	correctionCap time.Duration

	// ring buffer of observed inter-cycle intervals
	samples []time.Duration
	next    int
	count   int

	lastStart   time.Time
	lastDrift   time.Duration
	accumulated time.Duration
}

// NewDriftTimer capacity <= 0 defaults to 50.
func NewDriftTimer(target, tolerance, correctionCap time.Duration, capacity int) *DriftTimer {
	if capacity <= 0 {
		capacity = 50
	}
	return &DriftTimer{
		target:        target,
		tolerance:     tolerance,
		correctionCap: correctionCap,
		samples:       make([]time.Duration, capacity),
	}
}

// RecordExecution registers the start of a cycle and returns the drift of
// this start against the previous one plus the rolling accuracy.
func (t *DriftTimer) RecordExecution(startedAt time.Time) (time.Duration, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lastStart.IsZero() {
		t.lastStart = startedAt
		return 0, t.accuracyLocked()
	}

	interval := startedAt.Sub(t.lastStart)
	t.lastStart = startedAt

	t.samples[t.next] = interval
	t.next = (t.next + 1) % len(t.samples)
	if t.count < len(t.samples) {
		t.count++
	}

	t.lastDrift = interval - t.target
	t.accumulated += t.lastDrift
	// 长时间停顿后不追赶超过一个周期
	if t.accumulated > t.target {
		t.accumulated = t.target
	} else if t.accumulated < -t.target {
		t.accumulated = -t.target
	}
	return t.lastDrift, t.accuracyLocked()
}

// NextDelay returns max(0, target - cycleDuration - correction).
func (t *DriftTimer) NextDelay(cycleDuration time.Duration) time.Duration {
	t.mu.Lock()
	correction := t.accumulated
	t.mu.Unlock()

	if correction > t.correctionCap {
		correction = t.correctionCap
	} else if correction < -t.correctionCap {
		correction = -t.correctionCap
	}

	delay := t.target - cycleDuration - correction
	if delay < 0 {
		return 0
	}
	return delay
}

// accuracyLocked = 100 - |avg-target|/target*100, clamped to [0,100].
func (t *DriftTimer) accuracyLocked() float64 {
	if t.count == 0 || t.target <= 0 {
		return 100
	}
	var sum time.Duration
	for i := 0; i < t.count; i++ {
		sum += t.samples[i]
	}
	avg := float64(sum) / float64(t.count)
	acc := 100 - math.Abs(avg-float64(t.target))/float64(t.target)*100
	return math.Max(0, math.Min(100, acc))
}

// Metrics returns a consistent snapshot.
func (t *DriftTimer) Metrics() model.TimingMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := model.TimingMetrics{
		TargetIntervalMs: t.target.Milliseconds(),
		LastDriftMs:      t.lastDrift.Milliseconds(),
		AccumulatedDrift: t.accumulated.Milliseconds(),
		AccuracyPercent:  t.accuracyLocked(),
		Samples:          t.count,
		WithinTolerance:  absDuration(t.lastDrift) <= t.tolerance,
	}
	if t.count > 0 {
		var sum time.Duration
		for i := 0; i < t.count; i++ {
			sum += t.samples[i]
		}
		m.AverageIntervalMs = float64(sum.Milliseconds()) / float64(t.count)
	}
	return m
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
