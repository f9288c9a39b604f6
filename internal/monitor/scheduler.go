package monitor

import (
	"sort"
	"sync"
	"time"
)

// Scheduler runs fn every interval until the returned stop function is called.
// stop must be safe to call from inside fn and more than once.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (stop func())
}

// TickerScheduler drives callbacks from real timers
type TickerScheduler struct{}

// Every starts a ticker goroutine
func (TickerScheduler) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}

// Manual is a scheduler advanced explicitly with Tick
type Manual struct {
	mu      sync.Mutex
	entries map[int]func()
	nextID  int
}

// NewManual creates a manual scheduler
func NewManual() *Manual {
	return &Manual{entries: make(map[int]func())}
}

// Every registers fn to run on each Tick
func (m *Manual) Every(interval time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.entries[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.entries, id)
	}
}

// Tick runs every registered callback once, in registration order
func (m *Manual) Tick() {
	m.mu.Lock()
	ids := make([]int, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	sort.Ints(ids)
	for _, id := range ids {
		m.mu.Lock()
		fn, ok := m.entries[id]
		m.mu.Unlock()
		if ok {
			fn()
		}
	}
}

// Active returns the number of registered callbacks
func (m *Manual) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Clock is a settable time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock starting at t
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
