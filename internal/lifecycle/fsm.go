// Package lifecycle implements the per-failure healing state machine.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// Transition table: from -> allowed tos
var validTransitions = map[types.HealingState][]types.HealingState{
	types.StateDetected:   {types.StateClassified},
	types.StateClassified: {types.StateScored, types.StateSkipped},
	types.StateScored:     {types.StateDispatched, types.StateSkipped},
	types.StateDispatched: {types.StateSucceeded, types.StateFailed},
	types.StateSucceeded:  {},
	types.StateFailed:     {},
	types.StateSkipped:    {},
}

// CanTransition checks if moving from one healing state to another is valid.
func CanTransition(from, to types.HealingState) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition returns an error if the transition is invalid.
func Transition(from, to types.HealingState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal returns true if the state is a terminal (final) state.
func IsTerminal(state types.HealingState) bool {
	return state == types.StateSucceeded || state == types.StateFailed || state == types.StateSkipped
}

// Step is one entry in a Machine's audit trail.
type Step struct {
	State types.HealingState `json:"state"`
	At    time.Time          `json:"at"`
	Note  string             `json:"note,omitempty"`
}

// Machine tracks a single failure through the healing states. Not safe for
// concurrent use; each processing pass owns its own Machine.
type Machine struct {
	runID   string
	history []Step
	now     func() time.Time
}

// New returns a Machine in the Detected state.
func New(runID string) *Machine {
	m := &Machine{runID: runID, now: time.Now}
	m.history = append(m.history, Step{State: types.StateDetected, At: m.now()})
	return m
}

// State returns the current state.
func (m *Machine) State() types.HealingState {
	return m.history[len(m.history)-1].State
}

// Advance moves the machine to the given state, recording an optional note.
func (m *Machine) Advance(to types.HealingState, note string) error {
	if err := Transition(m.State(), to); err != nil {
		return fmt.Errorf("run %s: %w", m.runID, err)
	}
	m.history = append(m.history, Step{State: to, At: m.now(), Note: note})
	return nil
}

// Done reports whether the machine has reached a terminal state.
func (m *Machine) Done() bool {
	return IsTerminal(m.State())
}

// History returns a copy of the recorded steps.
func (m *Machine) History() []Step {
	out := make([]Step, len(m.history))
	copy(out, m.history)
	return out
}
