package server

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ngenohkevin/questdeck-agent/internal/activity"
	"github.com/ngenohkevin/questdeck-agent/internal/events"
	"github.com/ngenohkevin/questdeck-agent/internal/history"
	"github.com/ngenohkevin/questdeck-agent/internal/keys"
	"github.com/ngenohkevin/questdeck-agent/internal/metrics"
	"github.com/ngenohkevin/questdeck-agent/internal/orchestrator"
	"github.com/ngenohkevin/questdeck-agent/internal/process"
	"github.com/ngenohkevin/questdeck-agent/internal/quest"
	"github.com/ngenohkevin/questdeck-agent/internal/source"
)

// Version is reported by /health and /api/info
const Version = "1.0.0"

// Runner executes and tracks quest runs
type Runner interface {
	Execute(ctx context.Context, taskID string) (orchestrator.Outcome, error)
	Cancel(taskID string) bool
	Status() orchestrator.Status
}

// RunHistory reads persisted runs
type RunHistory interface {
	ListRuns(ctx context.Context, limit int) ([]*history.Run, error)
	Stats(ctx context.Context) (*history.Stats, error)
}

// Deps are the components the control endpoint serves. History, Metrics, Bridge, Activity,
// Processes and Keys are optional.
type Deps struct {
	Runner    Runner
	Quests    source.Source
	Bridge    *source.Store
	Bus       *events.Bus
	History   RunHistory
	Metrics   *metrics.Metrics
	Activity  activity.Provider
	Processes *process.Manager
	Keys      *keys.Manager
	Logger    logrus.FieldLogger
}

// QuestList is the quest listing response
type QuestList struct {
	Quests []quest.Task `json:"quests"`
	Total  int          `json:"total"`
}
