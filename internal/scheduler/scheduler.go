// Package scheduler abstracts delayed callbacks so timing-dependent code can
// run against the wall clock in production and a virtual clock in tests.
package scheduler

import (
	"sync"
	"time"
)

// Task is a handle to a scheduled callback.
type Task interface {
	// Cancel stops the callback from running. It reports whether the call
	// prevented the callback; false means it already ran or was cancelled.
	Cancel() bool
}

// Scheduler runs fn once after delay.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) Task
	Now() time.Time
}

// New returns a Scheduler backed by time.AfterFunc. Callbacks run on their
// own goroutines.
func New() Scheduler {
	return systemScheduler{}
}

type systemScheduler struct{}

func (systemScheduler) Schedule(delay time.Duration, fn func()) Task {
	if delay < 0 {
		delay = 0
	}
	return &timerTask{t: time.AfterFunc(delay, fn)}
}

func (systemScheduler) Now() time.Time { return time.Now() }

type timerTask struct {
	once sync.Once
	t    *time.Timer
}

func (t *timerTask) Cancel() bool {
	stopped := false
	t.once.Do(func() { stopped = t.t.Stop() })
	return stopped
}
