package biz

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriftTimer_FirstExecution(t *testing.T) {
	timer := NewDriftTimer(30*time.Second, 100*time.Millisecond, 500*time.Millisecond, 50)

	drift, acc := timer.RecordExecution(time.Now())
	assert.Equal(t, time.Duration(0), drift)
	assert.Equal(t, 100.0, acc)
	assert.Equal(t, 30*time.Second-2*time.Second, timer.NextDelay(2*time.Second))
}

func TestDriftTimer_SimulatedCycles(t *testing.T) {
	target := 30 * time.Second
	timer := NewDriftTimer(target, 100*time.Millisecond, 500*time.Millisecond, 50)
	rnd := rand.New(rand.NewSource(42))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		drift, _ := timer.RecordExecution(start)
		assert.LessOrEqual(t, absDuration(drift), 100*time.Millisecond, "cycle %d", i)

		work := time.Duration(rnd.Int63n(int64(2 * time.Second)))
		delay := timer.NextDelay(work)
		require.Greater(t, delay, time.Duration(0))
		// 调度误差 0~50ms
		lateness := time.Duration(rnd.Int63n(int64(50 * time.Millisecond)))
		start = start.Add(work + delay + lateness)
	}

	m := timer.Metrics()
	assert.Equal(t, 49, m.Samples)
	assert.GreaterOrEqual(t, m.AccuracyPercent, 99.0)
	assert.InDelta(t, float64(target.Milliseconds()), m.AverageIntervalMs, 100)
}

func TestDriftTimer_CorrectionIsCapped(t *testing.T) {
	timer := NewDriftTimer(30*time.Second, 100*time.Millisecond, 500*time.Millisecond, 50)
	start := time.Now()
	timer.RecordExecution(start)
	// 晚了 3 秒
	drift, _ := timer.RecordExecution(start.Add(33 * time.Second))
	assert.Equal(t, 3*time.Second, drift)

	assert.Equal(t, 30*time.Second-time.Second-500*time.Millisecond, timer.NextDelay(time.Second))
}

func TestDriftTimer_AccumulatedBoundedByTarget(t *testing.T) {
	timer := NewDriftTimer(time.Second, 10*time.Millisecond, 500*time.Millisecond, 10)
	start := time.Now()
	timer.RecordExecution(start)
	timer.RecordExecution(start.Add(time.Minute))

	m := timer.Metrics()
	assert.Equal(t, int64(1000), m.AccumulatedDrift)
	assert.Equal(t, 0.0, m.AccuracyPercent)
	assert.False(t, m.WithinTolerance)
}

func TestDriftTimer_NextDelayNeverNegative(t *testing.T) {
	timer := NewDriftTimer(time.Second, 10*time.Millisecond, 500*time.Millisecond, 10)
	assert.Equal(t, time.Duration(0), timer.NextDelay(5*time.Second))
}

func TestDriftTimer_RingBufferCapacity(t *testing.T) {
	timer := NewDriftTimer(time.Second, 10*time.Millisecond, 500*time.Millisecond, 5)
	start := time.Now()
	for i := 0; i < 20; i++ {
		timer.RecordExecution(start.Add(time.Duration(i) * time.Second))
	}
	m := timer.Metrics()
	assert.Equal(t, 5, m.Samples)
	assert.Equal(t, 100.0, m.AccuracyPercent)
	assert.True(t, m.WithinTolerance)
}
