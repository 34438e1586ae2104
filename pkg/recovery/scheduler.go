package recovery

import (
	"sync"
	"sync/atomic"
	"time"
)

// scheduler runs timer callbacks and tracks them so shutdown can wait for
// in-flight work. Timers never keep the process alive on their own.
type scheduler struct {
	wg sync.WaitGroup
}

// task is a cancellable one-shot or recurring callback.
type task struct {
	cancelled atomic.Bool
	timer     *time.Timer
	stop      chan struct{}
	done      func()
}

// after runs fn once after d unless cancelled first. fn receives its own
// task so it never reads a variable assigned after the timer is armed.
func (sc *scheduler) after(d time.Duration, fn func(*task)) *task {
	t := &task{done: sc.wg.Done}
	sc.wg.Add(1)
	t.timer = time.AfterFunc(d, func() {
		defer sc.wg.Done()
		if t.cancelled.Load() {
			return
		}
		fn(t)
	})
	return t
}

// every runs fn at each interval until cancelled.
func (sc *scheduler) every(interval time.Duration, fn func()) *task {
	t := &task{stop: make(chan struct{})}
	sc.wg.Add(1)
	go func() {
		defer sc.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if t.cancelled.Load() {
					return
				}
				fn()
			case <-t.stop:
				return
			}
		}
	}()
	return t
}

// goTracked runs fn on a tracked goroutine.
func (sc *scheduler) goTracked(fn func()) {
	sc.wg.Add(1)
	go func() {
		defer sc.wg.Done()
		fn()
	}()
}

// wait blocks until every tracked callback has returned.
func (sc *scheduler) wait() {
	sc.wg.Wait()
}

// cancel prevents any further run of the task. Safe on nil and safe to repeat.
func (t *task) cancel() {
	if t == nil || t.cancelled.Swap(true) {
		return
	}
	if t.timer != nil && t.timer.Stop() {
		t.done()
	}
	if t.stop != nil {
		close(t.stop)
	}
}
