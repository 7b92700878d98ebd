package osc

import (
	"fmt"
	"sync"

	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

// State is a phase of one online schema change.
type State string

const (
	StateInit               State = "INIT"
	StateShadowTableCreated State = "SHADOW_TABLE_CREATED"
	StateDataSyncing        State = "DATA_SYNCING"
	StateValidated          State = "VALIDATED"
	StateSwapping           State = "SWAPPING"
	StateSwapped            State = "SWAPPED"
	StateCleaned            State = "CLEANED"
	StateAborted            State = "ABORTED"
)

// transitions lists every allowed move. ABORTED is reachable from each non-terminal state.
var transitions = map[State][]State{
	StateInit:               {StateShadowTableCreated, StateAborted},
	StateShadowTableCreated: {StateDataSyncing, StateAborted},
	StateDataSyncing:        {StateValidated, StateAborted},
	StateValidated:          {StateSwapping, StateAborted},
	StateSwapping:           {StateSwapped, StateAborted},
	StateSwapped:            {StateCleaned, StateAborted},
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanTransitionTo reports whether s -> next is in the transition table.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Machine tracks the state of one statement's schema change.
type Machine struct {
	mu      sync.Mutex
	target  string
	state   State
	history []State
	onMove  func(from, to State)
}

// NewMachine creates a machine in INIT. onMove, if set, observes every accepted transition.
func NewMachine(target string, onMove func(from, to State)) *Machine {
	return &Machine{target: target, state: StateInit, history: []State{StateInit}, onMove: onMove}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns every state visited, starting with INIT.
func (m *Machine) History() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]State(nil), m.history...)
}

// Transition moves to next or returns a FATAL error when the move is not allowed.
func (m *Machine) Transition(next State) error {
	m.mu.Lock()
	from := m.state
	if !from.CanTransitionTo(next) {
		m.mu.Unlock()
		return exception.NewJobError(moduleName, exception.KindFatal,
			fmt.Sprintf("illegal transition %s -> %s", from, next), nil).WithPhase(string(from)).WithTarget(m.target)
	}
	m.state = next
	m.history = append(m.history, next)
	m.mu.Unlock()

	if m.onMove != nil {
		m.onMove(from, next)
	}
	return nil
}
