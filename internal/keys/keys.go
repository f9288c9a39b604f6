package keys

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"time"

	"github.com/ngenohkevin/questdeck-agent/config"
)

// ErrUnknownCombo is returned for names missing from the configuration
var ErrUnknownCombo = errors.New("unknown key combo")

// Manager runs configured key combos through the shell
type Manager struct {
	combos map[string]config.KeyCommand
	shell  string
}

// NewManager creates a key combo manager
func NewManager(combos map[string]config.KeyCommand) *Manager {
	return &Manager{
		combos: combos,
		shell:  "sh",
	}
}

// List returns all configured combos sorted by name
func (m *Manager) List() *ComboList {
	list := make([]Combo, 0, len(m.combos))
	for _, c := range m.combos {
		list = append(list, Combo{
			Name:        c.Name,
			Command:     c.Command,
			Description: c.Description,
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	return &ComboList{
		Combos: list,
		Total:  len(list),
	}
}

// Get returns a combo by name
func (m *Manager) Get(name string) (*Combo, error) {
	c, ok := m.combos[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownCombo, name)
	}
	return &Combo{Name: c.Name, Command: c.Command, Description: c.Description}, nil
}

// Exists checks if a combo is configured
func (m *Manager) Exists(name string) bool {
	_, ok := m.combos[name]
	return ok
}

// Run executes a combo by name. A non-zero exit is reported in the result, not as an error.
func (m *Manager) Run(ctx context.Context, name string) (*Result, error) {
	c, ok := m.combos[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownCombo, name)
	}

	startTime := time.Now()

	cmd := exec.CommandContext(ctx, m.shell, "-c", c.Command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &Result{
		Name:      c.Name,
		Command:   c.Command,
		StartedAt: startTime,
		Duration:  time.Since(startTime),
	}

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n"
		}
		output += stderr.String()
	}
	result.Output = output

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		result.Error = err.Error()
		return result, nil
	}

	result.Success = true
	return result, nil
}

// RunWithTimeout executes a combo with its own deadline
func (m *Manager) RunWithTimeout(ctx context.Context, name string, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return m.Run(ctx, name)
}

// Sequence runs combos in order and stops at the first failure
func (m *Manager) Sequence(ctx context.Context, timeout time.Duration, names ...string) ([]*Result, error) {
	results := make([]*Result, 0, len(names))
	for _, name := range names {
		result, err := m.RunWithTimeout(ctx, name, timeout)
		if err != nil {
			return results, err
		}
		results = append(results, result)
		if !result.Success {
			return results, fmt.Errorf("key combo %s exited with code %d: %s", name, result.ExitCode, result.Error)
		}
	}
	return results, nil
}
