package quest

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, ok := ParseKind("play-on-desktop")
	assert.True(t, ok)
	assert.Equal(t, KindPlayOnDesktop, k)

	k, ok = ParseKind("WATCH_VIDEO")
	assert.True(t, ok)
	assert.Equal(t, KindWatchVideo, k)

	_, ok = ParseKind("CRAFT_ITEM")
	assert.False(t, ok)
}

func TestKindDispatchClasses(t *testing.T) {
	assert.True(t, KindWatchVideo.IsInstant())
	assert.True(t, KindWatchVideoOnMobile.IsInstant())
	assert.False(t, KindPlayOnDesktop.IsInstant())

	assert.True(t, KindPlayOnDesktop.IsTimeGated())
	assert.True(t, KindStreamOnDesktop.IsTimeGated())
	assert.True(t, KindPlayActivity.IsTimeGated())
	assert.False(t, KindWatchVideo.IsTimeGated())
}

func TestTaskUnmarshal_TolerantFields(t *testing.T) {
	payload := `[
		{"taskId": "a", "taskKind": "PLAY_ON_DESKTOP", "ownerAppName": "Game A", "secondsNeeded": 600, "secondsDone": 12},
		{"quest_id": 1234567890123, "type": "watch_video", "progress": "30", "completedAt": "2026-01-01T00:00:00Z"},
		{"questId": " B ", "kind": "stream-on-desktop", "target": 900, "value": 901.7, "expires_at": 1700000000000}
	]`

	var tasks []Task
	require.NoError(t, json.Unmarshal([]byte(payload), &tasks))
	require.Len(t, tasks, 3)

	assert.Equal(t, "a", tasks[0].ID)
	assert.Equal(t, KindPlayOnDesktop, tasks[0].Kind)
	assert.Equal(t, "Game A", tasks[0].OwnerAppName)
	assert.Equal(t, 600, tasks[0].SecondsNeeded)
	assert.Equal(t, 12, tasks[0].SecondsDone)
	assert.False(t, tasks[0].Completed)

	assert.Equal(t, "1234567890123", tasks[1].ID)
	assert.Equal(t, KindWatchVideo, tasks[1].Kind)
	assert.Equal(t, 30, tasks[1].SecondsDone)
	assert.True(t, tasks[1].Completed)

	assert.Equal(t, KindStreamOnDesktop, tasks[2].Kind)
	assert.Equal(t, 901, tasks[2].SecondsDone)
	assert.Equal(t, 900, tasks[2].ClampedDone())
	require.NotNil(t, tasks[2].ExpiresAt)
	assert.Equal(t, int64(1700000000000), *tasks[2].ExpiresAt)
}

func TestTaskUnmarshal_MissingID(t *testing.T) {
	var task Task
	err := json.Unmarshal([]byte(`{"taskKind": "PLAY_ON_DESKTOP"}`), &task)
	assert.Error(t, err)
}

func TestFind_NormalizedMatch(t *testing.T) {
	tasks := []Task{{ID: "Quest-123"}, {ID: "other"}}

	found, ok := Find(tasks, " quest-123 ")
	assert.True(t, ok)
	assert.Equal(t, "Quest-123", found.ID)

	_, ok = Find(tasks, "quest-999")
	assert.False(t, ok)

	assert.False(t, SameID("", ""))
}

func TestTaskCompletion(t *testing.T) {
	timed := Task{Kind: KindPlayOnDesktop, SecondsNeeded: 600, SecondsDone: 599}
	assert.False(t, timed.IsComplete())
	timed.SecondsDone = 600
	assert.True(t, timed.IsComplete())

	video := Task{Kind: KindWatchVideo}
	assert.False(t, video.IsComplete())
	video.Completed = true
	assert.True(t, video.IsComplete())
}

func TestTaskExpiry(t *testing.T) {
	now := time.UnixMilli(2_000)
	past := int64(1_000)
	future := int64(3_000)

	assert.False(t, Task{}.IsExpired(now))
	assert.True(t, Task{ExpiresAt: &past}.IsExpired(now))
	assert.False(t, Task{ExpiresAt: &future}.IsExpired(now))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, Clamp(-5, 10))
	assert.Equal(t, 10, Clamp(15, 10))
	assert.Equal(t, 7, Clamp(7, 10))
}

func TestExecutionError(t *testing.T) {
	cause := fmt.Errorf("provider said no")
	err := NewError(ErrInjectionFailed, "q1", "", cause)

	assert.True(t, errors.Is(err, ErrInjectionFailed))
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "q1")
	assert.Contains(t, err.Error(), "provider said no")

	wrapped := fmt.Errorf("run failed: %w", err)
	assert.Equal(t, ErrInjectionFailed, Classify(wrapped))
	assert.Equal(t, "InjectionFailed", Code(wrapped))
	assert.Equal(t, "Unknown", Code(errors.New("boom")))
	assert.Equal(t, "", Code(nil))
}
