package activity

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ngenohkevin/questdeck-agent/internal/quest"
)

// ChangeType is the notification the host emits when its running games change
const ChangeType = "RUNNING_GAMES_CHANGE"

// ErrAlreadyInstalled is returned when a spoof is requested before the previous one is installed and restored
var ErrAlreadyInstalled = errors.New("a spoofed activity is already installed")

// Change mirrors the host's running-games notification
type Change struct {
	Type    string     `json:"type"`
	Removed []Activity `json:"removed"`
	Added   []Activity `json:"added"`
	Games   []Activity `json:"games"`
}

// Notifier publishes running-games changes to the host
type Notifier interface {
	Publish(ctx context.Context, change Change) error
}

// Record is the installed synthetic activity
type Record struct {
	Activity
	TaskID    string    `json:"taskId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Spoofer swaps the host's running-games provider for a synthetic one and restores it
type Spoofer struct {
	cell     *Cell
	notifier Notifier
	logger   logrus.FieldLogger

	mu      sync.Mutex
	current *Installation
	// busy is set while an install or restore announcement is in flight
	busy bool

	now    func() time.Time
	nextID func() int32
}

// NewSpoofer creates a spoofer operating on cell
func NewSpoofer(cell *Cell, notifier Notifier, logger logrus.FieldLogger) *Spoofer {
	return &Spoofer{
		cell:     cell,
		notifier: notifier,
		logger:   logger.WithField("component", "spoofer"),
		now:      time.Now,
		nextID:   func() int32 { return int32(rand.IntN(30000) + 1000) },
	}
}

// Installation is one install/restore pair. Restore has effect only once.
type Installation struct {
	Record Record

	spoofer  *Spoofer
	original Provider
	real     []Activity
	once     sync.Once
	err      error
}

// Install builds a synthetic record for the task's owning application and makes the host report it.
// The provider is swapped only after the change is announced; a failed announcement changes nothing.
func (s *Spoofer) Install(ctx context.Context, task quest.Task) (*Installation, error) {
	if err := s.claim(); err != nil {
		return nil, err
	}

	inst, err := s.install(ctx, task)

	s.mu.Lock()
	s.busy = false
	if err == nil {
		s.cell.Swap(&Synthetic{record: inst.Record.Activity})
		s.current = inst
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"task": task.ID,
		"pid":  inst.Record.PID,
		"exe":  inst.Record.ExeName,
	}).Info("spoofed activity installed")
	return inst, nil
}

// claim reserves the spoofer for one install
func (s *Spoofer) claim() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil || s.busy {
		return ErrAlreadyInstalled
	}
	s.busy = true
	return nil
}

func (s *Spoofer) install(ctx context.Context, task quest.Task) (*Installation, error) {
	original := s.cell.Load()
	real, err := original.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list running games: %w", err)
	}

	record := s.buildRecord(task)
	change := Change{
		Type:    ChangeType,
		Removed: real,
		Added:   []Activity{record.Activity},
		Games:   []Activity{record.Activity},
	}
	if err := s.notifier.Publish(ctx, change); err != nil {
		return nil, fmt.Errorf("failed to announce spoofed game: %w", err)
	}

	return &Installation{
		Record:   record,
		spoofer:  s,
		original: original,
		real:     real,
	}, nil
}

// Restore reinstates the original provider and announces the change. Later calls return the first result.
func (i *Installation) Restore(ctx context.Context) error {
	i.once.Do(func() {
		i.err = i.spoofer.restore(ctx, i)
	})
	return i.err
}

func (s *Spoofer) restore(ctx context.Context, inst *Installation) error {
	s.mu.Lock()
	s.cell.Swap(inst.original)
	if s.current == inst {
		s.current = nil
	}
	s.busy = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	change := Change{
		Type:    ChangeType,
		Removed: []Activity{inst.Record.Activity},
		Added:   inst.real,
		Games:   inst.real,
	}
	if err := s.notifier.Publish(ctx, change); err != nil {
		s.logger.WithError(err).Warn("restored provider but failed to announce it")
		return fmt.Errorf("failed to announce restored games: %w", err)
	}

	s.logger.WithField("task", inst.Record.TaskID).Info("spoofed activity restored")
	return nil
}

// Restore undoes the current installation, if any
func (s *Spoofer) Restore(ctx context.Context) error {
	s.mu.Lock()
	inst := s.current
	s.mu.Unlock()

	if inst == nil {
		return nil
	}
	return inst.Restore(ctx)
}

// Active returns the installed record
func (s *Spoofer) Active() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return Record{}, false
	}
	return s.current.Record, true
}

var unsafeExeChars = regexp.MustCompile(`[^a-z0-9._-]+`)

func (s *Spoofer) buildRecord(task quest.Task) Record {
	name := strings.TrimSpace(task.OwnerAppName)
	if name == "" {
		name = "game-" + task.OwnerAppID
	}

	stem := unsafeExeChars.ReplaceAllString(strings.ToLower(name), "")
	if stem == "" {
		stem = "game"
	}
	exeName := stem + ".exe"

	now := s.now()
	return Record{
		Activity: Activity{
			PID:       s.nextID(),
			Name:      name,
			ExeName:   exeName,
			ExePath:   "c:/program files/" + stem + "/" + exeName,
			AppID:     task.OwnerAppID,
			Start:     now.UnixMilli(),
			Synthetic: true,
		},
		TaskID:    task.ID,
		CreatedAt: now,
	}
}
