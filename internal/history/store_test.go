package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenIsRepeatable(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, s.InsertRun(ctx, &Run{ID: "r1", TaskID: "q", Kind: "WATCH_VIDEO"}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, dir)
	require.NoError(t, err)
	defer s.Close()

	run, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
}

func TestInsertAndFinishRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := &Run{ID: "r1", TaskID: "quest-123", Kind: "PLAY_ON_DESKTOP", SecondsNeeded: 600}
	require.NoError(t, s.InsertRun(ctx, run))
	assert.False(t, run.StartedAt.IsZero())

	require.NoError(t, s.FinishRun(ctx, "r1", StatusCompleted, 600, ""))

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 600, got.SecondsDone)
	assert.Equal(t, 600, got.SecondsNeeded)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.EndedAt)
}

func TestFinishUnknownRun(t *testing.T) {
	s := openTestStore(t)

	err := s.FinishRun(context.Background(), "missing", StatusFailed, 0, "boom")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.InsertRun(ctx, &Run{ID: id, TaskID: "q" + id, Kind: "WATCH_VIDEO", StartedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRun(ctx, &Run{ID: "1", TaskID: "a", Kind: "PLAY_ON_DESKTOP", SecondsNeeded: 600}))
	require.NoError(t, s.FinishRun(ctx, "1", StatusCompleted, 600, ""))
	require.NoError(t, s.InsertRun(ctx, &Run{ID: "2", TaskID: "b", Kind: "WATCH_VIDEO"}))
	require.NoError(t, s.FinishRun(ctx, "2", StatusCompleted, 0, ""))
	require.NoError(t, s.InsertRun(ctx, &Run{ID: "3", TaskID: "c", Kind: "WATCH_VIDEO"}))
	require.NoError(t, s.FinishRun(ctx, "3", StatusFailed, 0, "InjectionFailed"))
	require.NoError(t, s.InsertRun(ctx, &Run{ID: "4", TaskID: "d", Kind: "STREAM_ON_DESKTOP"}))
	require.NoError(t, s.FinishRun(ctx, "4", StatusAborted, 120, ""))
	require.NoError(t, s.InsertRun(ctx, &Run{ID: "5", TaskID: "e", Kind: "PLAY_ACTIVITY"}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Aborted)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 600, stats.TotalSeconds)
	assert.Equal(t, map[string]int{"PLAY_ON_DESKTOP": 1, "WATCH_VIDEO": 1}, stats.ByKind)

	run, err := s.GetRun(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, "InjectionFailed", run.Error)
}
