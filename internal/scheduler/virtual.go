package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Virtual is a manually advanced clock. Callbacks run synchronously on the
// goroutine calling Advance, never while Virtual's own lock is held, so a
// callback may schedule or cancel further tasks.
type Virtual struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	tasks []*virtualTask
}

// NewVirtual returns a virtual clock starting at a fixed epoch.
func NewVirtual() *Virtual {
	return &Virtual{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

type virtualTask struct {
	v    *Virtual
	at   time.Time
	seq  uint64
	fn   func()
	done bool
}

func (t *virtualTask) Cancel() bool {
	t.v.mu.Lock()
	defer t.v.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	t.v.remove(t)
	return true
}

// Schedule registers fn to run once the clock has advanced by delay.
func (v *Virtual) Schedule(delay time.Duration, fn func()) Task {
	if delay < 0 {
		delay = 0
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	t := &virtualTask{v: v, at: v.now.Add(delay), seq: v.seq, fn: fn}
	v.tasks = append(v.tasks, t)
	return t
}

// Now returns the virtual time.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Pending returns the number of tasks that have not yet run or been cancelled.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.tasks)
}

// Advance moves the clock forward by d, running every task that falls due in
// deadline order (ties in scheduling order). Tasks scheduled by a callback
// run in the same call when their deadline is within the window. A callback
// may itself call Advance; the clock never moves backwards.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.mu.Unlock()

	for {
		v.mu.Lock()
		next := v.nextDue(target)
		if next == nil {
			if target.After(v.now) {
				v.now = target
			}
			v.mu.Unlock()
			return
		}
		next.done = true
		v.remove(next)
		if next.at.After(v.now) {
			v.now = next.at
		}
		v.mu.Unlock()

		next.fn()
	}
}

// RunAll advances until no tasks remain, up to limit steps of at most step
// each. It returns false if tasks are still pending afterwards.
func (v *Virtual) RunAll(step time.Duration, limit int) bool {
	for i := 0; i < limit; i++ {
		if v.Pending() == 0 {
			return true
		}
		v.Advance(step)
	}
	return v.Pending() == 0
}

func (v *Virtual) nextDue(target time.Time) *virtualTask {
	if len(v.tasks) == 0 {
		return nil
	}
	sort.SliceStable(v.tasks, func(i, j int) bool {
		if v.tasks[i].at.Equal(v.tasks[j].at) {
			return v.tasks[i].seq < v.tasks[j].seq
		}
		return v.tasks[i].at.Before(v.tasks[j].at)
	})
	if v.tasks[0].at.After(target) {
		return nil
	}
	return v.tasks[0]
}

func (v *Virtual) remove(t *virtualTask) {
	for i, other := range v.tasks {
		if other == t {
			v.tasks = append(v.tasks[:i], v.tasks[i+1:]...)
			return
		}
	}
}
