package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngenohkevin/questdeck-agent/internal/quest"
)

func TestStore_EmptyIsTransient(t *testing.T) {
	s := NewStore(0)

	_, err := s.ListTasks(context.Background())
	assert.True(t, errors.Is(err, quest.ErrPollingTransient))
}

func TestStore_UpdateAndList(t *testing.T) {
	s := NewStore(0)
	require.NoError(t, s.UpdateJSON([]byte(`{"quests":[{"id":"q1","taskKind":"PLAY_ON_DESKTOP","secondsNeeded":600,"secondsDone":30}]}`)))

	tasks, err := s.ListTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "q1", tasks[0].ID)

	done, err := s.Progress(context.Background(), "Q1")
	require.NoError(t, err)
	assert.Equal(t, 30, done)

	_, err = s.Progress(context.Background(), "missing")
	assert.True(t, errors.Is(err, quest.ErrNotFound))
}

func TestStore_Staleness(t *testing.T) {
	s := NewStore(time.Minute)
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	s.Update([]quest.Task{{ID: "q1"}})
	_, err := s.ListTasks(context.Background())
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.ListTasks(context.Background())
	assert.True(t, errors.Is(err, quest.ErrPollingTransient))
}

func TestStore_ListReturnsCopy(t *testing.T) {
	s := NewStore(0)
	s.Update([]quest.Task{{ID: "q1", SecondsDone: 1}})

	tasks, _ := s.ListTasks(context.Background())
	tasks[0].SecondsDone = 99

	again, _ := s.ListTasks(context.Background())
	assert.Equal(t, 1, again[0].SecondsDone)
}

func TestDecodeTasks_BadPayload(t *testing.T) {
	_, err := decodeTasks([]byte(`{"nothing": true}`))
	assert.Error(t, err)

	_, err = decodeTasks([]byte(`not json`))
	assert.Error(t, err)
}

func TestHTTP_ListTasks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"questId":"q9","type":"watch_video"}]`))
	}))
	defer srv.Close()

	src := NewHTTP(srv.URL, "secret", time.Second)
	tasks, err := src.ListTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, quest.KindWatchVideo, tasks[0].Kind)
}

func TestHTTP_ErrorStatusIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL, "", time.Second).ListTasks(context.Background())
	assert.True(t, errors.Is(err, quest.ErrPollingTransient))
}

type countingSource struct {
	calls int
}

func (c *countingSource) ListTasks(ctx context.Context) ([]quest.Task, error) {
	c.calls++
	return []quest.Task{{ID: "q1"}}, nil
}

func (c *countingSource) Progress(ctx context.Context, taskID string) (int, error) {
	return 0, nil
}

func TestCached_ListTasks(t *testing.T) {
	inner := &countingSource{}
	c := NewCached(inner, time.Hour)
	defer c.Close()

	_, err := c.ListTasks(context.Background())
	require.NoError(t, err)
	_, err = c.ListTasks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	c.Invalidate()
	_, err = c.ListTasks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}
