package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ngenohkevin/questdeck-agent/internal/events"
	"github.com/ngenohkevin/questdeck-agent/internal/quest"
)

// DefaultSlack is the forward jump, in seconds, that triggers StartTime recalibration
const DefaultSlack = 5

// ErrAlreadyMonitored is returned when Start is called twice for the same task
var ErrAlreadyMonitored = errors.New("task is already monitored")

// TaskLister is the ground-truth view the monitor polls
type TaskLister interface {
	ListTasks(ctx context.Context) ([]quest.Task, error)
}

// Recorder receives monitoring measurements
type Recorder interface {
	PollError()
	Recalibrated()
	Monitored(n int)
}

type nopRecorder struct{}

func (nopRecorder) PollError()      {}
func (nopRecorder) Recalibrated()   {}
func (nopRecorder) Monitored(n int) {}

// DoneFunc is called exactly once when monitoring of a task ends, with the last snapshot
type DoneFunc func(last quest.Snapshot, reason string)

// Options tunes the monitor
type Options struct {
	Interval  time.Duration
	Slack     int // zero or negative selects DefaultSlack
	Scheduler Scheduler
	Now       func() time.Time
	Recorder  Recorder
}

type run struct {
	snapshot quest.Snapshot
	stop     func()
	onDone   DoneFunc
	polling  bool
}

// Monitor polls ground truth for monitored tasks and publishes progress snapshots
type Monitor struct {
	source   TaskLister
	bus      *events.Bus
	logger   logrus.FieldLogger
	interval time.Duration
	slack    int
	sched    Scheduler
	now      func() time.Time
	recorder Recorder

	mu   sync.Mutex
	runs map[string]*run
}

// New creates a monitor
func New(source TaskLister, bus *events.Bus, logger logrus.FieldLogger, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.Slack <= 0 {
		opts.Slack = DefaultSlack
	}
	if opts.Scheduler == nil {
		opts.Scheduler = TickerScheduler{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Monitor{
		source:   source,
		bus:      bus,
		logger:   logger.WithField("component", "monitor"),
		interval: opts.Interval,
		slack:    opts.Slack,
		sched:    opts.Scheduler,
		now:      opts.Now,
		recorder: opts.Recorder,
		runs:     make(map[string]*run),
	}
}

// Start begins polling for taskID from the given snapshot. onDone is called once when
// the task completes, disappears, or is cancelled.
func (m *Monitor) Start(taskID string, initial quest.Snapshot, onDone DoneFunc) error {
	key := quest.NormalizeID(taskID)

	m.mu.Lock()
	if _, ok := m.runs[key]; ok {
		m.mu.Unlock()
		return ErrAlreadyMonitored
	}
	initial.TaskID = taskID
	r := &run{snapshot: initial, onDone: onDone}
	m.runs[key] = r
	r.stop = m.sched.Every(m.interval, func() { m.tick(key, r) })
	count := len(m.runs)
	m.mu.Unlock()

	m.recorder.Monitored(count)
	m.bus.Progress(initial)
	m.logger.WithFields(logrus.Fields{
		"task":   taskID,
		"needed": initial.SecondsNeeded,
		"done":   initial.SecondsDone,
	}).Info("monitoring started")
	return nil
}

// Cancel stops monitoring without marking completion. It reports whether the task was monitored.
func (m *Monitor) Cancel(taskID string) bool {
	key := quest.NormalizeID(taskID)

	m.mu.Lock()
	r, ok := m.runs[key]
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.removeLocked(key, r)
	m.mu.Unlock()

	m.finish(r, events.ReasonCancelled)
	return true
}

// CancelAll stops every monitored task
func (m *Monitor) CancelAll() int {
	m.mu.Lock()
	keys := make([]string, 0, len(m.runs))
	for key := range m.runs {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	cancelled := 0
	for _, key := range keys {
		if m.Cancel(key) {
			cancelled++
		}
	}
	return cancelled
}

// Snapshot returns a copy of the live snapshot for taskID
func (m *Monitor) Snapshot(taskID string) (quest.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[quest.NormalizeID(taskID)]
	if !ok {
		return quest.Snapshot{}, false
	}
	return r.snapshot, true
}

// Snapshots returns copies of all live snapshots ordered by task id
func (m *Monitor) Snapshots() []quest.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]quest.Snapshot, 0, len(m.runs))
	for _, r := range m.runs {
		list = append(list, r.snapshot)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].TaskID < list[j].TaskID })
	return list
}

// Active returns the number of monitored tasks
func (m *Monitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func (m *Monitor) tick(key string, r *run) {
	m.mu.Lock()
	if m.runs[key] != r || r.polling {
		m.mu.Unlock()
		return
	}
	r.polling = true
	taskID := r.snapshot.TaskID
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	tasks, err := m.source.ListTasks(ctx)
	cancel()

	m.mu.Lock()
	r.polling = false
	// The run may have been cancelled while the fetch was in flight
	if m.runs[key] != r {
		m.mu.Unlock()
		return
	}

	if err != nil {
		m.mu.Unlock()
		m.recorder.PollError()
		m.logger.WithError(err).WithField("task", taskID).Warn("progress poll failed")
		m.bus.Warning("Progress check for %s failed, retrying: %v", taskID, err)
		return
	}

	task, found := quest.Find(tasks, taskID)
	if !found {
		m.removeLocked(key, r)
		m.mu.Unlock()
		m.logger.WithField("task", taskID).Info("task disappeared from ground truth")
		m.finish(r, events.ReasonDisappeared)
		return
	}

	next, recalibrated := Reconcile(r.snapshot, task.SecondsNeeded, task.SecondsDone, m.now(), m.slack)
	r.snapshot = next

	if task.Completed || task.SecondsDone >= next.SecondsNeeded {
		m.removeLocked(key, r)
		m.mu.Unlock()
		if recalibrated {
			m.recorder.Recalibrated()
		}
		m.bus.Success("Quest %s completed (%d/%d seconds)", taskID, next.SecondsDone, next.SecondsNeeded)
		m.finish(r, events.ReasonCompleted)
		return
	}
	m.mu.Unlock()

	if recalibrated {
		m.recorder.Recalibrated()
		m.logger.WithFields(logrus.Fields{"task": taskID, "done": next.SecondsDone}).Debug("start time recalibrated")
	}
	m.bus.Progress(next)
}

func (m *Monitor) removeLocked(key string, r *run) {
	delete(m.runs, key)
	r.stop()
}

func (m *Monitor) finish(r *run, reason string) {
	m.recorder.Monitored(m.Active())
	m.bus.ProgressCleared(r.snapshot.TaskID, reason)
	if r.onDone != nil {
		r.onDone(r.snapshot, reason)
	}
}
