package monitor

import (
	"math"
	"time"

	"github.com/ngenohkevin/questdeck-agent/internal/quest"
)

// InitialSnapshot builds the snapshot a run starts from, assuming progress so far accrued in real time
func InitialSnapshot(taskID string, needed, done int, now time.Time) quest.Snapshot {
	nowMs := now.UnixMilli()
	s := quest.Snapshot{
		TaskID:        taskID,
		SecondsNeeded: needed,
		SecondsDone:   quest.Clamp(done, needed),
		StartTime:     nowMs - int64(quest.Clamp(done, needed))*1000,
	}
	s.EstimatedEndTime = EstimateEnd(s, nowMs)
	return s
}

// Reconcile folds a ground-truth reading into the previous snapshot. Ground truth always
// replaces SecondsDone; a forward jump larger than slack seconds moves StartTime so the
// implied rate is not skewed. It reports whether StartTime was recalibrated.
func Reconcile(prev quest.Snapshot, needed, done int, now time.Time, slack int) (quest.Snapshot, bool) {
	nowMs := now.UnixMilli()
	next := prev
	if needed > 0 {
		next.SecondsNeeded = needed
	}

	recalibrated := false
	if done-prev.SecondsDone > slack {
		next.StartTime = nowMs - int64(done)*1000
		recalibrated = true
	}

	next.SecondsDone = quest.Clamp(done, next.SecondsNeeded)
	next.EstimatedEndTime = EstimateEnd(next, nowMs)
	return next, recalibrated
}

// EstimateEnd projects the completion time in epoch milliseconds. Without a velocity
// signal it assumes one second of progress per elapsed second.
func EstimateEnd(s quest.Snapshot, nowMs int64) int64 {
	remaining := s.SecondsNeeded - s.SecondsDone
	if remaining <= 0 {
		return nowMs
	}

	elapsed := nowMs - s.StartTime
	if s.SecondsDone > 0 && elapsed > 0 {
		rate := float64(s.SecondsDone) / float64(elapsed)
		return nowMs + int64(math.Round(float64(remaining)/rate))
	}
	return nowMs + int64(remaining)*1000
}
