package orchestrator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLock_SingleOwner(t *testing.T) {
	var l runLock
	now := time.UnixMilli(1000)

	first, owner := l.acquire("run-1", "quest-1", now, func() {})
	require.True(t, owner)
	assert.False(t, first.batch)

	second, owner := l.acquire("run-2", "quest-2", now, func() {})
	assert.False(t, owner)
	assert.Same(t, first, second)

	assert.Same(t, first, l.load())
}

func TestRunLock_EmptyTaskIsBatch(t *testing.T) {
	var l runLock
	run, owner := l.acquire("run-1", "", time.Now(), func() {})
	require.True(t, owner)
	assert.True(t, run.batch)
}

func TestRunLock_ReleaseOnce(t *testing.T) {
	var l runLock
	run, _ := l.acquire("run-1", "quest-1", time.Now(), func() {})

	cleanups := 0
	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.release(run, func() {
				mu.Lock()
				cleanups++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, cleanups)
	assert.Nil(t, l.load())

	select {
	case <-run.done:
	default:
		t.Fatal("done not closed")
	}

	next, owner := l.acquire("run-2", "quest-1", time.Now(), func() {})
	assert.True(t, owner)
	assert.NotSame(t, run, next)
}

func TestPendingRun_SettleOnce(t *testing.T) {
	var l runLock
	run, _ := l.acquire("run-1", "quest-1", time.Now(), func() {})

	run.settle(Outcome{Message: "first"}, nil)
	run.settle(Outcome{Message: "second"}, nil)

	<-run.ready
	assert.Equal(t, "first", run.outcome.Message)
}
