package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/ngenohkevin/questdeck-agent/internal/quest"
)

// DefaultLogHistory is how many log events the bus keeps for late subscribers
const DefaultLogHistory = 200

// Bus fans events out to subscribers and keeps a bounded log history
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	logs        []LogEvent
	maxLogs     int
	now         func() time.Time
}

// NewBus creates a bus keeping up to maxLogs log events
func NewBus(maxLogs int) *Bus {
	if maxLogs <= 0 {
		maxLogs = DefaultLogHistory
	}
	return &Bus{
		subscribers: make(map[chan Event]struct{}),
		logs:        make([]LogEvent, 0, maxLogs),
		maxLogs:     maxLogs,
		now:         time.Now,
	}
}

// SetClock overrides the timestamp source (for tests)
func (b *Bus) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Publish stamps and broadcasts an event. Slow subscribers miss events rather than block the publisher.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	if e.Timestamp == 0 {
		e.Timestamp = b.now().UnixMilli()
	}
	if e.Type == TypeLog {
		if entry, ok := e.Data.(LogEvent); ok {
			if len(b.logs) >= b.maxLogs {
				b.logs = b.logs[1:]
			}
			b.logs = append(b.logs, entry)
		}
	}
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// Log publishes a user-facing log event
func (b *Bus) Log(level Level, format string, args ...any) {
	b.mu.RLock()
	ts := b.now().UnixMilli()
	b.mu.RUnlock()

	b.Publish(Event{
		Type:      TypeLog,
		Timestamp: ts,
		Data: LogEvent{
			Timestamp: ts,
			Message:   fmt.Sprintf(format, args...),
			Level:     level,
		},
	})
}

func (b *Bus) Info(format string, args ...any)    { b.Log(LevelInfo, format, args...) }
func (b *Bus) Success(format string, args ...any) { b.Log(LevelSuccess, format, args...) }
func (b *Bus) Warning(format string, args ...any) { b.Log(LevelWarning, format, args...) }
func (b *Bus) Error(format string, args ...any)   { b.Log(LevelError, format, args...) }

// Progress publishes a copy of a snapshot
func (b *Bus) Progress(s quest.Snapshot) {
	b.Publish(Event{Type: TypeProgress, TaskID: s.TaskID, Data: s})
}

// ProgressCleared announces that a snapshot no longer exists
func (b *Bus) ProgressCleared(taskID, reason string) {
	b.Publish(Event{Type: TypeProgressCleared, TaskID: taskID, Data: Cleared{Reason: reason}})
}

// Subscribe returns a channel of future events and a function that unsubscribes and closes it
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Logs returns a copy of the retained log history, oldest first
func (b *Bus) Logs() []LogEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	history := make([]LogEvent, len(b.logs))
	copy(history, b.logs)
	return history
}

// SubscriberCount returns the number of live subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
