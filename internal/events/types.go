package events

// Type names an event on the bus
type Type string

const (
	TypeLog             Type = "log"
	TypeProgress        Type = "progress"
	TypeProgressCleared Type = "progress-cleared"
	TypeStatus          Type = "status"
	TypeStats           Type = "stats"
)

// Level is the severity of a user-facing log event
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is an immutable value pushed to every subscriber
type Event struct {
	Type      Type   `json:"type"`
	TaskID    string `json:"taskId,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// LogEvent is the user-facing log line contract
type LogEvent struct {
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
	Level     Level  `json:"level"`
}

// Cleared tells observers a snapshot was removed and why
type Cleared struct {
	Reason string `json:"reason"`
}

// Clear reasons
const (
	ReasonCompleted   = "completed"
	ReasonCancelled   = "cancelled"
	ReasonDisappeared = "disappeared"
)
