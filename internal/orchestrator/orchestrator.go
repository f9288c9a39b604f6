package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/timeout"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ngenohkevin/questdeck-agent/internal/activity"
	"github.com/ngenohkevin/questdeck-agent/internal/events"
	"github.com/ngenohkevin/questdeck-agent/internal/history"
	"github.com/ngenohkevin/questdeck-agent/internal/inject"
	"github.com/ngenohkevin/questdeck-agent/internal/monitor"
	"github.com/ngenohkevin/questdeck-agent/internal/quest"
	"github.com/ngenohkevin/questdeck-agent/internal/source"
)

// Deps are the collaborators a run drives
type Deps struct {
	Source   source.Source
	Provider inject.Provider
	Spoofer  *activity.Spoofer
	Monitor  *monitor.Monitor
	Bus      *events.Bus
	History  History
	Recorder Recorder
	Logger   logrus.FieldLogger
}

// Options tunes execution
type Options struct {
	SpoofingSupported bool
	ResponseTimeout   time.Duration
	Now               func() time.Time
}

// Orchestrator serializes quest runs and drives the instant and time-gated paths
type Orchestrator struct {
	source   source.Source
	provider inject.Provider
	spoofer  *activity.Spoofer
	monitor  *monitor.Monitor
	bus      *events.Bus
	history  History
	recorder Recorder
	logger   logrus.FieldLogger

	responseTimeout time.Duration
	now             func() time.Time

	lock    runLock
	machine *Machine
	starts  sync.Map
}

// New creates an orchestrator
func New(deps Deps, opts Options) (*Orchestrator, error) {
	machine, err := NewMachine(opts.SpoofingSupported)
	if err != nil {
		return nil, err
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}

	return &Orchestrator{
		source:          deps.Source,
		provider:        deps.Provider,
		spoofer:         deps.Spoofer,
		monitor:         deps.Monitor,
		bus:             deps.Bus,
		history:         deps.History,
		recorder:        deps.Recorder,
		logger:          deps.Logger.WithField("component", "orchestrator"),
		responseTimeout: opts.ResponseTimeout,
		now:             opts.Now,
		machine:         machine,
	}, nil
}

// Execute runs one quest, or every eligible quest when taskID is empty. While a run is in
// flight no second run starts: the caller instead receives the in-flight run's outcome.
func (o *Orchestrator) Execute(ctx context.Context, taskID string) (Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	run, owner := o.lock.acquire(uuid.New().String(), taskID, o.now(), cancel)
	if !owner {
		o.bus.Info("Quest execution already in progress")
		select {
		case <-run.ready:
			return run.outcome, run.err
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}

	o.recorder.InFlight(true)
	o.machine.Send(EventAcquire)

	outcome, err, handedOff := o.runGuarded(ctx, run)
	run.settle(outcome, err)
	if !handedOff {
		o.release(run)
	}
	return outcome, err
}

// runGuarded converts a panic into an Unknown failure so the lock is still released
func (o *Orchestrator) runGuarded(ctx context.Context, run *pendingRun) (outcome Outcome, err error, handedOff bool) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.WithField("panic", r).Error("quest run panicked")
			_ = o.spoofer.Restore(context.Background())
			o.monitor.Cancel(run.taskID)
			err = quest.NewError(quest.ErrUnknown, run.taskID, fmt.Sprintf("%v", r), nil)
			outcome = o.fail(run.id, quest.Task{ID: run.taskID}, err)
			handedOff = false
		}
	}()

	if run.batch {
		outcome, err = o.runBatch(ctx, run)
		return outcome, err, false
	}

	task, err := o.resolve(ctx, run.taskID)
	if err != nil {
		return o.fail(run.id, quest.Task{ID: run.taskID}, err), err, false
	}

	outcome, err, finished := o.runTask(ctx, run, run.id, task)
	return outcome, err, finished != nil
}

// release frees the run-lock. It runs exactly once per run.
func (o *Orchestrator) release(run *pendingRun) {
	o.lock.release(run, func() {
		o.machine.Send(EventReset)
		o.recorder.InFlight(false)
	})
}

func (o *Orchestrator) resolve(ctx context.Context, taskID string) (quest.Task, error) {
	tasks, err := o.source.ListTasks(ctx)
	if err != nil {
		if errors.Is(err, quest.ErrPollingTransient) {
			return quest.Task{}, quest.NewError(quest.ErrPollingTransient, taskID, "quest list unavailable", err)
		}
		return quest.Task{}, quest.NewError(quest.ErrUnknown, taskID, "failed to load quests", err)
	}

	task, ok := quest.Find(tasks, taskID)
	if !ok {
		return quest.Task{}, quest.NewError(quest.ErrNotFound, taskID, "not in the current quest list", nil)
	}
	return task, nil
}

// runTask dispatches one resolved task. For a time-gated task that is now monitored it returns a
// channel that receives the reason monitoring ended; the lock is then released by the monitor's
// completion unless the run is a batch.
func (o *Orchestrator) runTask(ctx context.Context, run *pendingRun, runID string, task quest.Task) (Outcome, error, <-chan string) {
	name := displayName(task)

	if task.IsComplete() {
		o.machine.Send(EventComplete)
		o.bus.Info("Quest %s is already completed", name)
		return Outcome{
			RunID:         runID,
			TaskID:        task.ID,
			Kind:          task.Kind,
			Success:       true,
			Message:       "already completed",
			SecondsNeeded: task.SecondsNeeded,
			SecondsDone:   task.ClampedDone(),
		}, nil, nil
	}

	switch {
	case task.Kind.IsInstant():
		outcome, err := o.runInstant(ctx, runID, task)
		return outcome, err, nil
	case task.Kind.IsTimeGated():
		return o.runTimed(ctx, run, runID, task)
	default:
		err := quest.NewError(quest.ErrUnknown, task.ID, fmt.Sprintf("unsupported quest kind %q", task.Kind), nil)
		return o.fail(runID, task, err), err, nil
	}
}

func (o *Orchestrator) runInstant(ctx context.Context, runID string, task quest.Task) (Outcome, error) {
	name := displayName(task)
	o.machine.Send(EventRequest)
	o.begin(ctx, runID, task)
	o.bus.Info("Completing video quest %s", name)

	payload, err := inject.BuildPayload(inject.Command{
		Action: inject.ActionCompleteVideo,
		TaskID: task.ID,
		Data:   map[string]int{"secondsNeeded": task.SecondsNeeded},
	})
	if err != nil {
		err = quest.NewError(quest.ErrUnknown, task.ID, "failed to build payload", err)
		return o.fail(runID, task, err), err
	}

	started := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, o.responseTimeout)
	defer cancel()

	t := timeout.New[inject.Result](timeout.Config{DefaultTimeout: o.responseTimeout})
	result, err := t.Execute(reqCtx, o.responseTimeout, func(ctx context.Context) (inject.Result, error) {
		return o.provider.Submit(ctx, payload)
	})

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) || time.Since(started) >= o.responseTimeout {
			err = quest.NewError(quest.ErrTimeout, task.ID, fmt.Sprintf("no confirmation within %s", o.responseTimeout), err)
		} else {
			err = wrap(task.ID, err)
		}
		return o.fail(runID, task, err), err
	}
	if !result.Success {
		msg := result.Message
		if msg == "" {
			msg = "host reported failure"
		}
		err = quest.NewError(quest.ErrInjectionFailed, task.ID, msg, nil)
		return o.fail(runID, task, err), err
	}

	o.machine.Send(EventComplete)
	o.bus.Success("Video quest %s completed", name)
	o.finish(runID, task, history.StatusCompleted, task.SecondsNeeded, "")

	return Outcome{
		RunID:         runID,
		TaskID:        task.ID,
		Kind:          task.Kind,
		Success:       true,
		Message:       result.Message,
		SecondsNeeded: task.SecondsNeeded,
		SecondsDone:   task.SecondsNeeded,
	}, nil
}

func (o *Orchestrator) runTimed(ctx context.Context, run *pendingRun, runID string, task quest.Task) (Outcome, error, <-chan string) {
	name := displayName(task)

	o.begin(ctx, runID, task)
	if !o.machine.Send(EventSpoof) {
		err := quest.NewError(quest.ErrEnvironmentUnsupported, task.ID,
			"time-gated quests work only when the host runs as a native desktop app, not inside a browser", nil)
		return o.fail(runID, task, err), err, nil
	}

	inst, err := o.spoofer.Install(ctx, task)
	if err != nil {
		err = wrap(task.ID, err)
		return o.fail(runID, task, err), err, nil
	}
	o.recorder.SpoofInstalled()
	o.bus.Info("Spoofing %s for quest %s", inst.Record.ExeName, name)

	initial := monitor.InitialSnapshot(task.ID, task.SecondsNeeded, task.SecondsDone, o.now())
	finished := make(chan string, 1)

	o.machine.Send(EventMonitor)
	err = o.monitor.Start(task.ID, initial, func(last quest.Snapshot, reason string) {
		o.monitorDone(run, runID, task, inst, last, reason)
		finished <- reason
	})
	if err != nil {
		o.restore(inst)
		err = quest.NewError(quest.ErrUnknown, task.ID, "failed to start monitoring", err)
		return o.fail(runID, task, err), err, nil
	}
	o.bus.Info("Monitoring progress for %s: %d/%d seconds", name, initial.SecondsDone, initial.SecondsNeeded)

	return Outcome{
		RunID:         runID,
		TaskID:        task.ID,
		Kind:          task.Kind,
		Success:       true,
		Message:       "monitoring started",
		SecondsNeeded: initial.SecondsNeeded,
		SecondsDone:   initial.SecondsDone,
		Monitoring:    true,
	}, nil, finished
}

// monitorDone runs once when monitoring of a time-gated task ends
func (o *Orchestrator) monitorDone(run *pendingRun, runID string, task quest.Task, inst *activity.Installation, last quest.Snapshot, reason string) {
	o.restore(inst)

	switch reason {
	case events.ReasonCompleted:
		o.machine.Send(EventComplete)
		o.finish(runID, task, history.StatusCompleted, last.SecondsDone, "")
	case events.ReasonDisappeared:
		o.machine.Send(EventAbort)
		o.bus.Warning("Quest %s is no longer available, stopped", displayName(task))
		o.finish(runID, task, history.StatusAborted, last.SecondsDone, reason)
	default:
		o.machine.Send(EventAbort)
		o.bus.Warning("Quest %s was cancelled at %d/%d seconds", displayName(task), last.SecondsDone, last.SecondsNeeded)
		o.finish(runID, task, history.StatusAborted, last.SecondsDone, reason)
	}

	if !run.batch {
		o.release(run)
	}
}

func (o *Orchestrator) restore(inst *activity.Installation) {
	ctx, cancel := context.WithTimeout(context.Background(), o.responseTimeout)
	defer cancel()

	if err := inst.Restore(ctx); err != nil {
		o.logger.WithError(err).Warn("failed to restore spoofed activity")
		return
	}
	o.recorder.SpoofRestored()
}

// begin records a started run
func (o *Orchestrator) begin(ctx context.Context, runID string, task quest.Task) {
	o.starts.Store(runID, o.now())
	o.recorder.RunStarted(string(task.Kind))
	if o.history == nil {
		return
	}
	err := o.history.InsertRun(ctx, &history.Run{
		ID:            runID,
		TaskID:        task.ID,
		Kind:          string(task.Kind),
		SecondsNeeded: task.SecondsNeeded,
		SecondsDone:   task.ClampedDone(),
		StartedAt:     o.now().UTC(),
	})
	if err != nil {
		o.logger.WithError(err).Warn("failed to record run")
	}
}

// finish records a terminal run and refreshes stats after success
func (o *Orchestrator) finish(runID string, task quest.Task, status history.Status, secondsDone int, errMsg string) {
	var elapsed time.Duration
	if started, ok := o.starts.LoadAndDelete(runID); ok {
		elapsed = o.now().Sub(started.(time.Time))
	}
	o.recorder.RunFinished(string(task.Kind), string(status), elapsed)
	if o.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.history.FinishRun(ctx, runID, status, secondsDone, errMsg); err != nil && !errors.Is(err, history.ErrRunNotFound) {
		o.logger.WithError(err).Warn("failed to record run result")
	}
	if status == history.StatusCompleted {
		o.refreshStats(ctx)
	}
}

func (o *Orchestrator) refreshStats(ctx context.Context) {
	stats, err := o.history.Stats(ctx)
	if err != nil {
		o.logger.WithError(err).Warn("failed to refresh stats")
		return
	}
	o.bus.Publish(events.Event{Type: events.TypeStats, Data: stats})
}

// fail emits the single failure notice for a task and returns the failed outcome
func (o *Orchestrator) fail(runID string, task quest.Task, err error) Outcome {
	o.machine.Send(EventFail)

	msg := err.Error()
	var execErr *quest.ExecutionError
	if errors.As(err, &execErr) && execErr.Message != "" {
		msg = execErr.Message
		if execErr.Err != nil && execErr.Message != execErr.Err.Error() {
			msg += ": " + execErr.Err.Error()
		}
	}

	o.bus.Error("Quest %s failed (%s): %s", displayName(task), quest.Code(err), msg)
	o.logger.WithError(err).WithField("task", task.ID).Warn("quest run failed")

	if task.Kind != "" {
		o.finish(runID, task, history.StatusFailed, task.ClampedDone(), quest.Code(err))
	}

	return Outcome{
		RunID:         runID,
		TaskID:        task.ID,
		Kind:          task.Kind,
		Success:       false,
		Message:       msg,
		Error:         quest.Code(err),
		SecondsNeeded: task.SecondsNeeded,
		SecondsDone:   task.ClampedDone(),
	}
}

// Cancel stops monitoring taskID, restores spoofed activity and releases the run-lock without success
func (o *Orchestrator) Cancel(taskID string) bool {
	return o.monitor.Cancel(taskID)
}

// Shutdown stops the in-flight run, cancels all monitoring and restores any spoofed activity
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if run := o.lock.load(); run != nil {
		run.cancel()
	}
	o.monitor.CancelAll()
	if err := o.spoofer.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore activity on shutdown: %w", err)
	}
	return nil
}

// Wait blocks until the in-flight run, if any, has fully ended
func (o *Orchestrator) Wait(ctx context.Context) error {
	run := o.lock.load()
	if run == nil {
		return nil
	}
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports the run state and live snapshots
func (o *Orchestrator) Status() Status {
	status := Status{
		State:     o.machine.State(),
		Snapshots: o.monitor.Snapshots(),
	}
	if run := o.lock.load(); run != nil {
		startedAt := run.startedAt
		status.InFlight = true
		status.RunID = run.id
		status.TaskID = run.taskID
		status.Batch = run.batch
		status.StartedAt = &startedAt
	}
	if record, ok := o.spoofer.Active(); ok {
		status.Spoofed = &record
	}
	return status
}

// wrap keeps taxonomy errors and wraps anything else as Unknown
func wrap(taskID string, err error) error {
	if quest.Classify(err) != quest.ErrUnknown {
		return err
	}
	var execErr *quest.ExecutionError
	if errors.As(err, &execErr) {
		return err
	}
	return quest.NewError(quest.ErrUnknown, taskID, err.Error(), err)
}

func displayName(task quest.Task) string {
	if task.ID == "" {
		return "batch"
	}
	if task.OwnerAppName != "" {
		return fmt.Sprintf("%s (%s)", task.ID, task.OwnerAppName)
	}
	return task.ID
}
