package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ngenohkevin/questdeck-agent/internal/orchestrator"
)

// parser accepts 5-field expressions and descriptors such as @hourly or @every 30m
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Runner is the part of the orchestrator the scheduler drives
type Runner interface {
	Execute(ctx context.Context, taskID string) (orchestrator.Outcome, error)
	Status() orchestrator.Status
}

// Scheduler runs every eligible quest on a cron schedule
type Scheduler struct {
	runner Runner
	logger logrus.FieldLogger
	expr   string

	cron  *cron.Cron
	entry cron.EntryID

	mu  sync.Mutex
	ctx context.Context
}

// Parse validates a schedule expression
func Parse(expr string) (cron.Schedule, error) {
	schedule, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// New creates a scheduler for expr. It does nothing until Start.
func New(expr string, runner Runner, logger logrus.FieldLogger) (*Scheduler, error) {
	schedule, err := Parse(expr)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		runner: runner,
		logger: logger.WithField("component", "schedule"),
		expr:   expr,
		cron:   cron.New(cron.WithParser(parser)),
		ctx:    context.Background(),
	}
	s.entry = s.cron.Schedule(schedule, cron.FuncJob(func() { s.Trigger() }))
	return s, nil
}

// Start begins firing. ctx bounds the runs it starts.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.WithFields(logrus.Fields{"cron": s.expr, "next": s.Next()}).Info("auto-run scheduled")
}

// Stop stops firing. The returned context is done once a running job returns.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Next returns the next fire time, zero before Start
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Trigger runs one batch unless a run already holds the lock. It reports whether a batch ran.
func (s *Scheduler) Trigger() bool {
	if status := s.runner.Status(); status.InFlight {
		s.logger.WithField("task_id", status.TaskID).Info("skipping auto-run because a run is in flight")
		return false
	}

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}

	outcome, err := s.runner.Execute(ctx, "")
	if err != nil {
		s.logger.WithError(err).Warn("auto-run failed")
		return true
	}
	s.logger.WithField("result", outcome.Message).Info("auto-run finished")
	return true
}
