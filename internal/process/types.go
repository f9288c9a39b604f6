package process

import "time"

// ProcessInfo represents a running process
type ProcessInfo struct {
	PID        int32     `json:"pid"`
	Name       string    `json:"name"`
	Exe        string    `json:"exe"`
	Cmdline    string    `json:"cmdline"`
	CreateTime time.Time `json:"create_time"`
}

// ProcessList contains a list of processes
type ProcessList struct {
	Processes []ProcessInfo `json:"processes"`
	Total     int           `json:"total"`
}
