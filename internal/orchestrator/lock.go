package orchestrator

import (
	"sync"
	"time"
)

// pendingRun is the single in-flight run. ready closes when the outcome is known; done closes
// when the run has fully ended and the lock is free again.
type pendingRun struct {
	id        string
	taskID    string
	batch     bool
	startedAt time.Time
	cancel    func()

	ready   chan struct{}
	done    chan struct{}
	outcome Outcome
	err     error

	settleOnce  sync.Once
	releaseOnce sync.Once
}

func (r *pendingRun) settle(outcome Outcome, err error) {
	r.settleOnce.Do(func() {
		r.outcome = outcome
		r.err = err
		close(r.ready)
	})
}

// runLock admits one run at a time
type runLock struct {
	mu      sync.Mutex
	current *pendingRun
}

// acquire installs a new run and returns it with owner=true, or returns the in-flight run
func (l *runLock) acquire(id, taskID string, now time.Time, cancel func()) (*pendingRun, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current != nil {
		return l.current, false
	}
	l.current = &pendingRun{
		id:        id,
		taskID:    taskID,
		batch:     taskID == "",
		startedAt: now,
		cancel:    cancel,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	return l.current, true
}

// release frees the lock exactly once for r
func (l *runLock) release(r *pendingRun, cleanup func()) bool {
	released := false
	r.releaseOnce.Do(func() {
		if cleanup != nil {
			cleanup()
		}
		l.mu.Lock()
		if l.current == r {
			l.current = nil
		}
		l.mu.Unlock()
		close(r.done)
		released = true
	})
	return released
}

func (l *runLock) load() *pendingRun {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}
