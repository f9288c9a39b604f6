package history

import "time"

// Status is the terminal or current state of a recorded run
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Run is one recorded execution of a task
type Run struct {
	ID            string     `json:"id"`
	TaskID        string     `json:"taskId"`
	Kind          string     `json:"taskKind"`
	Status        Status     `json:"status"`
	SecondsNeeded int        `json:"secondsNeeded"`
	SecondsDone   int        `json:"secondsDone"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
}

// Stats aggregates recorded runs
type Stats struct {
	Total        int            `json:"total"`
	Completed    int            `json:"completed"`
	Failed       int            `json:"failed"`
	Aborted      int            `json:"aborted"`
	Running      int            `json:"running"`
	ByKind       map[string]int `json:"byKind"`
	TotalSeconds int            `json:"totalSeconds"`
}
