package source

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ngenohkevin/questdeck-agent/internal/cache"
	"github.com/ngenohkevin/questdeck-agent/internal/quest"
)

// Source is the authoritative view of task progress
type Source interface {
	ListTasks(ctx context.Context) ([]quest.Task, error)
	Progress(ctx context.Context, taskID string) (int, error)
}

// Store holds the task list most recently pushed by the in-host bridge
type Store struct {
	mu         sync.RWMutex
	tasks      []quest.Task
	updatedAt  time.Time
	staleAfter time.Duration
	now        func() time.Time
}

// NewStore creates an empty store. A zero staleAfter disables the staleness check.
func NewStore(staleAfter time.Duration) *Store {
	return &Store{
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Update replaces the task list
func (s *Store) Update(tasks []quest.Task) {
	copied := make([]quest.Task, len(tasks))
	copy(copied, tasks)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = copied
	s.updatedAt = s.now()
}

// UpdateJSON decodes a pushed payload and replaces the task list
func (s *Store) UpdateJSON(data []byte) error {
	tasks, err := decodeTasks(data)
	if err != nil {
		return err
	}
	s.Update(tasks)
	return nil
}

// UpdatedAt returns when the list was last replaced
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// ListTasks returns a copy of the current list
func (s *Store) ListTasks(ctx context.Context) ([]quest.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.updatedAt.IsZero() {
		return nil, fmt.Errorf("no quest list received yet: %w", quest.ErrPollingTransient)
	}
	if s.staleAfter > 0 && s.now().Sub(s.updatedAt) > s.staleAfter {
		return nil, fmt.Errorf("quest list is %s old: %w", s.now().Sub(s.updatedAt).Round(time.Second), quest.ErrPollingTransient)
	}

	tasks := make([]quest.Task, len(s.tasks))
	copy(tasks, s.tasks)
	return tasks, nil
}

// Progress returns the ground-truth seconds for one task
func (s *Store) Progress(ctx context.Context, taskID string) (int, error) {
	tasks, err := s.ListTasks(ctx)
	if err != nil {
		return 0, err
	}
	return progressOf(tasks, taskID)
}

func progressOf(tasks []quest.Task, taskID string) (int, error) {
	task, ok := quest.Find(tasks, taskID)
	if !ok {
		return 0, quest.NewError(quest.ErrNotFound, taskID, "not in ground truth", nil)
	}
	return task.SecondsDone, nil
}

// decodeTasks accepts either a bare array or an object wrapping it
func decodeTasks(data []byte) ([]quest.Task, error) {
	var tasks []quest.Task
	if err := json.Unmarshal(data, &tasks); err == nil {
		return tasks, nil
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode quest list: %w", err)
	}
	for _, key := range []string{"quests", "tasks", "data"} {
		raw, ok := wrapped[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &tasks); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", key, err)
		}
		return tasks, nil
	}
	return nil, fmt.Errorf("quest list payload has no quests, tasks or data field")
}

// Cached serves listings from a short-lived cache. Only the UI uses it; the monitor reads uncached.
type Cached struct {
	inner Source
	cache *cache.Cache[[]quest.Task]
}

// NewCached wraps a source with a listing cache
func NewCached(inner Source, ttl time.Duration) *Cached {
	return &Cached{
		inner: inner,
		cache: cache.New[[]quest.Task](ttl),
	}
}

// ListTasks returns the cached list or fetches it
func (c *Cached) ListTasks(ctx context.Context) ([]quest.Task, error) {
	return c.cache.GetOrSet(cache.KeyQuests, func() ([]quest.Task, error) {
		return c.inner.ListTasks(ctx)
	})
}

// Progress always reads through
func (c *Cached) Progress(ctx context.Context, taskID string) (int, error) {
	return c.inner.Progress(ctx, taskID)
}

// Invalidate drops the cached listing
func (c *Cached) Invalidate() {
	c.cache.Delete(cache.KeyQuests)
}

// Close stops the cache janitor
func (c *Cached) Close() {
	c.cache.Close()
}
