package orchestrator

import (
	"fmt"
	"sync"

	"github.com/felixgeelhaar/statekit"
)

// Run states. Idle is both initial and terminal.
const (
	StateIdle       = "idle"
	StateAcquiring  = "acquiring"
	StateRequesting = "requesting"
	StateSpoofing   = "spoofing"
	StateMonitoring = "monitoring"
	StateCompleted  = "completed"
	StateFailed     = "failed"
	StateAborted    = "aborted"
)

// Run events
const (
	EventAcquire  = "acquire"
	EventRequest  = "request"
	EventSpoof    = "spoof"
	EventMonitor  = "monitor"
	EventComplete = "complete"
	EventFail     = "fail"
	EventAbort    = "abort"
	EventNext     = "next"
	EventReset    = "reset"
)

// RunContext carries what the guards need
type RunContext struct {
	SpoofingSupported bool
}

// Machine is the per-process run state machine
type Machine struct {
	mu          sync.Mutex
	interpreter *statekit.Interpreter[RunContext]
}

// NewMachine builds the run state machine. The spoof transition is guarded by spoofingSupported.
func NewMachine(spoofingSupported bool) (*Machine, error) {
	builder := statekit.NewMachine[RunContext]("quest-run").
		WithInitial(statekit.StateID(StateIdle)).
		WithContext(RunContext{SpoofingSupported: spoofingSupported}).
		WithGuard("environmentSupported", func(ctx RunContext, e statekit.Event) bool {
			return ctx.SpoofingSupported
		})

	builder.State(StateIdle).
		On(EventAcquire).Target(StateAcquiring).
		Done()

	builder.State(StateAcquiring).
		On(EventRequest).Target(StateRequesting).
		On(EventSpoof).Target(StateSpoofing).Guard("environmentSupported").
		On(EventComplete).Target(StateCompleted).
		On(EventFail).Target(StateFailed).
		On(EventReset).Target(StateIdle).
		Done()

	builder.State(StateRequesting).
		On(EventComplete).Target(StateCompleted).
		On(EventFail).Target(StateFailed).
		Done()

	builder.State(StateSpoofing).
		On(EventMonitor).Target(StateMonitoring).
		On(EventFail).Target(StateFailed).
		Done()

	builder.State(StateMonitoring).
		On(EventComplete).Target(StateCompleted).
		On(EventAbort).Target(StateAborted).
		On(EventFail).Target(StateFailed).
		Done()

	// Terminal states return to idle, or to acquiring for the next task of a batch
	for _, terminal := range []string{StateCompleted, StateFailed, StateAborted} {
		builder.State(statekit.StateID(terminal)).
			On(EventNext).Target(StateAcquiring).
			On(EventReset).Target(StateIdle).
			Done()
	}

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build run state machine: %w", err)
	}

	interpreter := statekit.NewInterpreter(machine)
	interpreter.Start()

	return &Machine{interpreter: interpreter}, nil
}

// Send delivers an event and reports whether the state changed
func (m *Machine) Send(event string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.interpreter.State().Value
	m.interpreter.Send(statekit.Event{Type: statekit.EventType(event)})
	return m.interpreter.State().Value != before
}

// State returns the current state name
func (m *Machine) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.interpreter.State().Value)
}
