package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_TimeGatedPath(t *testing.T) {
	m, err := NewMachine(true)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, m.State())

	for _, step := range []struct {
		event string
		want  string
	}{
		{EventAcquire, StateAcquiring},
		{EventSpoof, StateSpoofing},
		{EventMonitor, StateMonitoring},
		{EventComplete, StateCompleted},
		{EventReset, StateIdle},
	} {
		assert.True(t, m.Send(step.event), step.event)
		assert.Equal(t, step.want, m.State())
	}
}

func TestMachine_SpoofGuardedByEnvironment(t *testing.T) {
	m, err := NewMachine(false)
	require.NoError(t, err)

	m.Send(EventAcquire)
	assert.False(t, m.Send(EventSpoof))
	assert.Equal(t, StateAcquiring, m.State())

	assert.True(t, m.Send(EventFail))
	assert.Equal(t, StateFailed, m.State())
}

func TestMachine_IgnoresInvalidEvents(t *testing.T) {
	m, err := NewMachine(true)
	require.NoError(t, err)

	assert.False(t, m.Send(EventComplete))
	assert.False(t, m.Send(EventMonitor))
	assert.Equal(t, StateIdle, m.State())

	m.Send(EventAcquire)
	m.Send(EventRequest)
	assert.False(t, m.Send(EventAbort), "instant requests cannot be aborted")
	assert.Equal(t, StateRequesting, m.State())
}

func TestMachine_BatchAdvancesBetweenTasks(t *testing.T) {
	m, err := NewMachine(true)
	require.NoError(t, err)

	m.Send(EventAcquire)
	m.Send(EventRequest)
	m.Send(EventComplete)
	assert.True(t, m.Send(EventNext))
	assert.Equal(t, StateAcquiring, m.State())

	m.Send(EventSpoof)
	m.Send(EventMonitor)
	m.Send(EventAbort)
	assert.Equal(t, StateAborted, m.State())
	assert.True(t, m.Send(EventReset))
	assert.Equal(t, StateIdle, m.State())
}
