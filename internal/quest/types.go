package quest

import (
	"strings"
	"time"
)

// Kind identifies how a task is automated
type Kind string

const (
	KindWatchVideo         Kind = "WATCH_VIDEO"
	KindWatchVideoOnMobile Kind = "WATCH_VIDEO_ON_MOBILE"
	KindPlayOnDesktop      Kind = "PLAY_ON_DESKTOP"
	KindStreamOnDesktop    Kind = "STREAM_ON_DESKTOP"
	KindPlayActivity       Kind = "PLAY_ACTIVITY"
)

var kinds = []Kind{
	KindWatchVideo,
	KindWatchVideoOnMobile,
	KindPlayOnDesktop,
	KindStreamOnDesktop,
	KindPlayActivity,
}

// ParseKind accepts the canonical names as well as lower-case or dashed spellings
func ParseKind(s string) (Kind, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	for _, k := range kinds {
		if string(k) == normalized {
			return k, true
		}
	}
	return "", false
}

// IsInstant reports whether the kind completes with a single request/response exchange
func (k Kind) IsInstant() bool {
	return k == KindWatchVideo || k == KindWatchVideoOnMobile
}

// IsTimeGated reports whether the kind needs spoofed activity and progress monitoring
func (k Kind) IsTimeGated() bool {
	return k == KindPlayOnDesktop || k == KindStreamOnDesktop || k == KindPlayActivity
}

// Task is a single automatable unit of work as reported by the ground-truth source
type Task struct {
	ID            string `json:"taskId"`
	Kind          Kind   `json:"taskKind"`
	OwnerAppID    string `json:"ownerAppId"`
	OwnerAppName  string `json:"ownerAppName"`
	SecondsNeeded int    `json:"secondsNeeded"`
	SecondsDone   int    `json:"secondsDone"`
	Completed     bool   `json:"completed"`
	ExpiresAt     *int64 `json:"expiresAt,omitempty"`
}

// ClampedDone returns SecondsDone bounded to [0, SecondsNeeded]
func (t Task) ClampedDone() int {
	return Clamp(t.SecondsDone, t.SecondsNeeded)
}

// IsComplete reports whether the task has an explicit completion flag or,
// for time-gated kinds, has accumulated the required seconds
func (t Task) IsComplete() bool {
	if t.Completed {
		return true
	}
	if t.Kind.IsTimeGated() {
		return t.SecondsDone >= t.SecondsNeeded
	}
	return false
}

// IsExpired reports whether the task expired before now
func (t Task) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && now.UnixMilli() >= *t.ExpiresAt
}

// Clamp bounds done to [0, needed]
func Clamp(done, needed int) int {
	if done < 0 {
		return 0
	}
	if needed >= 0 && done > needed {
		return needed
	}
	return done
}

// NormalizeID lower-cases and trims an id so ids from different providers compare equal
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// SameID compares two ids after normalization
func SameID(a, b string) bool {
	na := NormalizeID(a)
	return na != "" && na == NormalizeID(b)
}

// Find locates a task by id using normalized comparison
func Find(tasks []Task, id string) (Task, bool) {
	for _, t := range tasks {
		if SameID(t.ID, id) {
			return t, true
		}
	}
	return Task{}, false
}

// Snapshot is the orchestrator's current estimate of a monitored task's progress.
// Times are epoch milliseconds.
type Snapshot struct {
	TaskID           string `json:"taskId"`
	SecondsNeeded    int    `json:"secondsNeeded"`
	SecondsDone      int    `json:"secondsDone"`
	StartTime        int64  `json:"startTime"`
	EstimatedEndTime int64  `json:"estimatedEndTime"`
}
