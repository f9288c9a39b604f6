package inject

import "context"

// Result is the structured response reported by the host after running a payload
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Provider gets a payload executed inside the host application
type Provider interface {
	Name() string
	Submit(ctx context.Context, payload string) (Result, error)
}

// Bridge actions
const (
	ActionDispatch      = "dispatch"
	ActionCompleteVideo = "complete-video"
)

// Command is the envelope evaluated by the in-host bridge
type Command struct {
	Action string `json:"action"`
	TaskID string `json:"taskId,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Target is one debuggable page as listed by the DevTools endpoint
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}
