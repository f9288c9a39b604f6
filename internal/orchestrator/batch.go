package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ngenohkevin/questdeck-agent/internal/events"
	"github.com/ngenohkevin/questdeck-agent/internal/quest"
)

// Eligible returns the tasks a batch run drives: known kinds that are neither completed nor
// expired, instant kinds first so time-gated ones can run one at a time afterwards.
func Eligible(tasks []quest.Task, now time.Time) []quest.Task {
	var eligible []quest.Task
	for _, t := range tasks {
		if t.IsComplete() || t.IsExpired(now) {
			continue
		}
		if !t.Kind.IsInstant() && !t.Kind.IsTimeGated() {
			continue
		}
		eligible = append(eligible, t)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Kind.IsInstant() && !eligible[j].Kind.IsInstant()
	})
	return eligible
}

// runBatch drives every eligible task in turn and aggregates their outcomes
func (o *Orchestrator) runBatch(ctx context.Context, run *pendingRun) (Outcome, error) {
	tasks, err := o.source.ListTasks(ctx)
	if err != nil {
		err = wrap("", err)
		return o.fail(run.id, quest.Task{}, err), err
	}

	eligible := Eligible(tasks, o.now())
	if len(eligible) == 0 {
		o.machine.Send(EventComplete)
		o.bus.Info("No eligible quests to run")
		return Outcome{RunID: run.id, Success: true, Message: "no eligible quests"}, nil
	}
	o.bus.Info("Running %d eligible quests", len(eligible))

	aggregate := Outcome{RunID: run.id, Success: true}
	for i, task := range eligible {
		if i > 0 {
			o.machine.Send(EventNext)
		}
		if ctx.Err() != nil {
			o.bus.Warning("Batch stopped after %d of %d quests", i, len(eligible))
			aggregate.Success = false
			break
		}

		outcome, err, finished := o.runTask(ctx, run, uuid.New().String(), task)
		if err == nil && finished != nil {
			outcome = o.awaitMonitor(ctx, task, outcome, finished)
		}

		aggregate.Tasks = append(aggregate.Tasks, outcome)
		aggregate.SecondsNeeded += outcome.SecondsNeeded
		aggregate.SecondsDone += outcome.SecondsDone
		if !outcome.Success {
			aggregate.Success = false
		}
	}

	completed := 0
	for _, t := range aggregate.Tasks {
		if t.Success {
			completed++
		}
	}
	aggregate.Message = fmt.Sprintf("%d of %d quests completed", completed, len(eligible))
	return aggregate, nil
}

// awaitMonitor blocks until monitoring of a batch task ends; cancelling ctx cancels monitoring
func (o *Orchestrator) awaitMonitor(ctx context.Context, task quest.Task, outcome Outcome, finished <-chan string) Outcome {
	var reason string
	select {
	case reason = <-finished:
	case <-ctx.Done():
		o.monitor.Cancel(task.ID)
		reason = <-finished
	}

	outcome.Monitoring = false
	outcome.Message = reason
	if reason == events.ReasonCompleted {
		outcome.SecondsDone = outcome.SecondsNeeded
		return outcome
	}
	outcome.Success = false
	return outcome
}
