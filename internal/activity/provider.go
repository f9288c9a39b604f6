package activity

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/ngenohkevin/questdeck-agent/internal/process"
)

// Activity is one "running game" entry as the host sees it
type Activity struct {
	PID       int32  `json:"pid"`
	Name      string `json:"name"`
	ExeName   string `json:"exeName"`
	ExePath   string `json:"exePath"`
	AppID     string `json:"id,omitempty"`
	Start     int64  `json:"start"`
	Synthetic bool   `json:"synthetic,omitempty"`
}

// Provider answers the host's "list running games" and "find game by pid" questions
type Provider interface {
	List(ctx context.Context) ([]Activity, error)
	FindByPID(ctx context.Context, pid int32) (Activity, bool)
}

// Cell holds the provider currently answering for the host. Swapping it is how spoofing is installed and undone.
type Cell struct {
	mu     sync.RWMutex
	active Provider
}

// NewCell creates a cell selecting the given provider
func NewCell(p Provider) *Cell {
	return &Cell{active: p}
}

// Load returns the active provider
func (c *Cell) Load() Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Swap installs p and returns the previous provider
func (c *Cell) Swap(p Provider) Provider {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.active
	c.active = p
	return prev
}

// List delegates to the active provider
func (c *Cell) List(ctx context.Context) ([]Activity, error) {
	return c.Load().List(ctx)
}

// FindByPID delegates to the active provider
func (c *Cell) FindByPID(ctx context.Context, pid int32) (Activity, bool) {
	return c.Load().FindByPID(ctx, pid)
}

// GameLister is the slice of the process manager the host provider needs
type GameLister interface {
	Games(ctx context.Context) ([]process.ProcessInfo, error)
}

// HostProvider reports the games actually running on this machine
type HostProvider struct {
	games GameLister
}

// NewHostProvider creates the real provider
func NewHostProvider(games GameLister) *HostProvider {
	return &HostProvider{games: games}
}

// List returns running games
func (h *HostProvider) List(ctx context.Context) ([]Activity, error) {
	procs, err := h.games.Games(ctx)
	if err != nil {
		return nil, err
	}

	activities := make([]Activity, 0, len(procs))
	for _, p := range procs {
		activities = append(activities, Activity{
			PID:     p.PID,
			Name:    p.Name,
			ExeName: filepath.Base(p.Exe),
			ExePath: p.Exe,
			Start:   p.CreateTime.UnixMilli(),
		})
	}
	return activities, nil
}

// FindByPID looks up a running game by pid
func (h *HostProvider) FindByPID(ctx context.Context, pid int32) (Activity, bool) {
	list, err := h.List(ctx)
	if err != nil {
		return Activity{}, false
	}
	for _, a := range list {
		if a.PID == pid {
			return a, true
		}
	}
	return Activity{}, false
}

// Synthetic reports exactly one fabricated game
type Synthetic struct {
	record Activity
}

// List returns the synthetic record
func (s *Synthetic) List(ctx context.Context) ([]Activity, error) {
	return []Activity{s.record}, nil
}

// FindByPID matches only the synthetic pid
func (s *Synthetic) FindByPID(ctx context.Context, pid int32) (Activity, bool) {
	if pid == s.record.PID {
		return s.record, true
	}
	return Activity{}, false
}
