package biz

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRepeatingTask_RunsImmediatelyAndRepeats(t *testing.T) {
	var runs int32
	task := StartRepeatingTask(func() (time.Duration, bool) {
		n := atomic.AddInt32(&runs, 1)
		return time.Millisecond, n < 3
	})

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&runs))
}

func TestRepeatingTask_StopCancelsNextRun(t *testing.T) {
	var runs int32
	first := make(chan struct{})
	task := StartRepeatingTask(func() (time.Duration, bool) {
		if atomic.AddInt32(&runs, 1) == 1 {
			close(first)
		}
		return time.Hour, true
	})

	<-first
	assert.Eventually(t, func() bool {
		task.Stop()
		select {
		case <-task.Done():
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestRepeatingTask_StopDuringRun(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var runs int32
	task := StartRepeatingTask(func() (time.Duration, bool) {
		atomic.AddInt32(&runs, 1)
		close(entered)
		<-release
		return time.Millisecond, true
	})

	<-entered
	assert.True(t, task.Stop(), "run should be in flight")
	close(release)

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed after in-flight run")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestRepeatingTask_OnDoneRunsAfterInFlightRun(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished, cleaned atomic.Bool
	task := StartRepeatingTask(func() (time.Duration, bool) {
		close(entered)
		<-release
		finished.Store(true)
		return time.Hour, true
	})
	task.OnDone(func() {
		// 回调必须在本次执行结束之后
		cleaned.Store(finished.Load())
	})

	<-entered
	assert.True(t, task.Stop())
	assert.False(t, cleaned.Load())
	close(release)

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed after in-flight run")
	}
	assert.True(t, cleaned.Load(), "OnDone must run before Done is closed and after the run")
}

func TestRepeatingTask_OnDoneAfterFinish(t *testing.T) {
	task := StartRepeatingTask(func() (time.Duration, bool) {
		return 0, false
	})
	<-task.Done()

	var calls int32
	task.OnDone(func() { atomic.AddInt32(&calls, 1) })
	task.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
