package biz

import (
	"sync"
	"time"
)

// RepeatingTask runs fn immediately and then again after the delay fn
// returns, until fn reports stop or Stop is called. Stop only cancels the
// next scheduled run; a run in progress completes.
type RepeatingTask struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	running bool
	fn      func() (next time.Duration, again bool)
	onDone  []func()
	done    chan struct{}
}

// StartRepeatingTask 立即在新 goroutine 中执行第一次
func StartRepeatingTask(fn func() (time.Duration, bool)) *RepeatingTask {
	t := &RepeatingTask{fn: fn, done: make(chan struct{})}
	t.mu.Lock()
	t.timer = time.AfterFunc(0, t.fire)
	t.mu.Unlock()
	return t
}

func (t *RepeatingTask) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.mu.Unlock()

	next, again := t.fn()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	if t.stopped || !again {
		t.finishLocked()
		return
	}
	t.timer = time.AfterFunc(next, t.fire)
}

// finishLocked 先执行 OnDone 回调再关闭 done，只执行一次
func (t *RepeatingTask) finishLocked() {
	t.stopped = true
	select {
	case <-t.done:
	default:
		for _, f := range t.onDone {
			f()
		}
		t.onDone = nil
		close(t.done)
	}
}

// OnDone registers f to run once the task has finished, before Done is
// closed. f runs immediately when the task is already finished; it must not
// call back into the task.
func (t *RepeatingTask) OnDone(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		f()
	default:
		t.onDone = append(t.onDone, f)
	}
}

// Stop cancels the next run. It reports whether a run was in flight.
func (t *RepeatingTask) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	inFlight := t.running
	t.stopped = true
	if !inFlight {
		t.finishLocked()
	}
	return inFlight
}

// Done is closed once no further run will happen and none is in flight.
func (t *RepeatingTask) Done() <-chan struct{} {
	return t.done
}
