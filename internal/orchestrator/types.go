package orchestrator

import (
	"context"
	"time"

	"github.com/ngenohkevin/questdeck-agent/internal/activity"
	"github.com/ngenohkevin/questdeck-agent/internal/history"
	"github.com/ngenohkevin/questdeck-agent/internal/quest"
)

// Outcome is what a caller of Execute observes
type Outcome struct {
	RunID         string     `json:"runId"`
	TaskID        string     `json:"taskId,omitempty"`
	Kind          quest.Kind `json:"taskKind,omitempty"`
	Success       bool       `json:"success"`
	Message       string     `json:"message,omitempty"`
	Error         string     `json:"error,omitempty"`
	SecondsNeeded int        `json:"secondsNeeded"`
	SecondsDone   int        `json:"secondsDone"`
	Monitoring    bool       `json:"monitoring"`
	Tasks         []Outcome  `json:"tasks,omitempty"`
}

// Status describes the orchestrator right now
type Status struct {
	State     string           `json:"state"`
	InFlight  bool             `json:"inFlight"`
	RunID     string           `json:"runId,omitempty"`
	TaskID    string           `json:"taskId,omitempty"`
	Batch     bool             `json:"batch,omitempty"`
	StartedAt *time.Time       `json:"startedAt,omitempty"`
	Snapshots []quest.Snapshot `json:"snapshots"`
	Spoofed   *activity.Record `json:"spoofed,omitempty"`
}

// History records runs
type History interface {
	InsertRun(ctx context.Context, run *history.Run) error
	FinishRun(ctx context.Context, id string, status history.Status, secondsDone int, errMsg string) error
	Stats(ctx context.Context) (*history.Stats, error)
}

// Recorder receives run measurements
type Recorder interface {
	RunStarted(kind string)
	RunFinished(kind, status string, d time.Duration)
	InFlight(held bool)
	SpoofInstalled()
	SpoofRestored()
}

type nopRecorder struct{}

func (nopRecorder) RunStarted(string)                         {}
func (nopRecorder) RunFinished(string, string, time.Duration) {}
func (nopRecorder) InFlight(bool)                             {}
func (nopRecorder) SpoofInstalled()                           {}
func (nopRecorder) SpoofRestored()                            {}
