package process

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Manager inspects host processes
type Manager struct {
	// GameExecutables contains lower-cased executable names reported as running games
	GameExecutables map[string]bool
}

// NewManager creates a process manager that recognises the given game executables
func NewManager(gameExecutables []string) *Manager {
	m := &Manager{
		GameExecutables: make(map[string]bool),
	}
	for _, name := range gameExecutables {
		m.AddGame(name)
	}
	return m
}

// List returns all running processes ordered by pid
func (m *Manager) List(ctx context.Context) (*ProcessList, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get processes: %w", err)
	}

	var processes []ProcessInfo
	for _, p := range procs {
		info, err := m.getProcessInfo(ctx, p)
		if err != nil {
			continue
		}
		processes = append(processes, *info)
	}

	sort.Slice(processes, func(i, j int) bool {
		return processes[i].PID < processes[j].PID
	})

	return &ProcessList{
		Processes: processes,
		Total:     len(processes),
	}, nil
}

// Games returns running processes whose executable is a known game
func (m *Manager) Games(ctx context.Context) ([]ProcessInfo, error) {
	if len(m.GameExecutables) == 0 {
		return nil, nil
	}

	list, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	var games []ProcessInfo
	for _, p := range list.Processes {
		if m.IsGame(p.Name) {
			games = append(games, p)
		}
	}
	return games, nil
}

// Get returns information about a specific process
func (m *Manager) Get(ctx context.Context, pid int32) (*ProcessInfo, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("process not found: %w", err)
	}

	return m.getProcessInfo(ctx, p)
}

// FindByName returns the first process whose name matches, ignoring case and extension
func (m *Manager) FindByName(ctx context.Context, name string) (*ProcessInfo, error) {
	want := normalizeName(name)
	if want == "" {
		return nil, fmt.Errorf("process name is required")
	}

	list, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	for i := range list.Processes {
		if normalizeName(list.Processes[i].Name) == want {
			return &list.Processes[i], nil
		}
	}
	return nil, fmt.Errorf("process '%s' is not running", name)
}

// IsGame checks if an executable name is a known game
func (m *Manager) IsGame(name string) bool {
	return m.GameExecutables[normalizeName(name)]
}

// AddGame registers an executable name as a game
func (m *Manager) AddGame(name string) {
	if n := normalizeName(name); n != "" {
		m.GameExecutables[n] = true
	}
}

func (m *Manager) getProcessInfo(ctx context.Context, p *process.Process) (*ProcessInfo, error) {
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return nil, err
	}

	exe, _ := p.ExeWithContext(ctx)
	cmdline, _ := p.CmdlineWithContext(ctx)
	createTime, _ := p.CreateTimeWithContext(ctx)

	return &ProcessInfo{
		PID:        p.Pid,
		Name:       name,
		Exe:        exe,
		Cmdline:    cmdline,
		CreateTime: time.UnixMilli(createTime),
	}, nil
}

func normalizeName(name string) string {
	base := strings.ToLower(strings.TrimSpace(filepath.Base(name)))
	if base == "." {
		return ""
	}
	return strings.TrimSuffix(base, ".exe")
}
