package keys

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngenohkevin/questdeck-agent/config"
)

func testCombos() map[string]config.KeyCommand {
	return map[string]config.KeyCommand{
		"echo":  {Name: "echo", Command: "echo hello", Description: "prints hello"},
		"fail":  {Name: "fail", Command: "echo oops >&2; exit 3", Description: "fails"},
		"sleep": {Name: "sleep", Command: "sleep 5", Description: "sleeps"},
	}
}

func TestList(t *testing.T) {
	m := NewManager(testCombos())

	list := m.List()
	assert.Equal(t, 3, list.Total)
	assert.Equal(t, "echo", list.Combos[0].Name)
	assert.Equal(t, "sleep", list.Combos[2].Name)
}

func TestGet(t *testing.T) {
	m := NewManager(testCombos())

	c, err := m.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo hello", c.Command)

	_, err = m.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownCombo)
	assert.True(t, m.Exists("fail"))
	assert.False(t, m.Exists("missing"))
}

func TestRun(t *testing.T) {
	m := NewManager(testCombos())

	result, err := m.Run(context.Background(), "echo")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Output, "hello")
}

func TestRunFailure(t *testing.T) {
	m := NewManager(testCombos())

	result, err := m.Run(context.Background(), "fail")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.Output, "oops")
}

func TestRunWithTimeout(t *testing.T) {
	m := NewManager(testCombos())

	result, err := m.RunWithTimeout(context.Background(), "sleep", 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Less(t, result.Duration, 5*time.Second)
}

func TestSequenceStopsAtFirstFailure(t *testing.T) {
	m := NewManager(testCombos())

	results, err := m.Sequence(context.Background(), time.Second, "echo", "fail", "echo")
	assert.Error(t, err)
	assert.Len(t, results, 2)

	_, err = m.Sequence(context.Background(), time.Second, "echo", "missing")
	assert.ErrorIs(t, err, ErrUnknownCombo)
}
