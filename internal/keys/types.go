package keys

import "time"

// Combo is a named key combination delivered to the host window
type Combo struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
}

// ComboList contains the configured combos
type ComboList struct {
	Combos []Combo `json:"combos"`
	Total  int     `json:"total"`
}

// Result is the outcome of running one combo
type Result struct {
	Name      string        `json:"name"`
	Command   string        `json:"command"`
	Output    string        `json:"output"`
	ExitCode  int           `json:"exit_code"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}
