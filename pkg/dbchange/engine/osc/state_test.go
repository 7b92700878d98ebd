package osc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

func TestMachine_HappyPath(t *testing.T) {
	var moves []string
	m := NewMachine("orders", func(from, to State) { moves = append(moves, string(from)+">"+string(to)) })

	for _, next := range []State{StateShadowTableCreated, StateDataSyncing, StateValidated, StateSwapping, StateSwapped, StateCleaned} {
		require.NoError(t, m.Transition(next))
	}

	assert.Equal(t, StateCleaned, m.State())
	assert.True(t, m.State().IsTerminal())
	assert.Equal(t, []State{StateInit, StateShadowTableCreated, StateDataSyncing, StateValidated, StateSwapping, StateSwapped, StateCleaned}, m.History())
	assert.Len(t, moves, 6)
	assert.Equal(t, "INIT>SHADOW_TABLE_CREATED", moves[0])
}

func TestMachine_IllegalTransition(t *testing.T) {
	m := NewMachine("orders", nil)

	err := m.Transition(StateSwapping)
	require.Error(t, err)
	je, ok := exception.AsJobError(err)
	require.True(t, ok)
	assert.Equal(t, exception.KindFatal, je.Kind)
	assert.Equal(t, "orders", je.Target)
	assert.Equal(t, StateInit, m.State())
}

func TestMachine_AbortFromEveryActiveState(t *testing.T) {
	for _, s := range []State{StateInit, StateShadowTableCreated, StateDataSyncing, StateValidated, StateSwapping, StateSwapped} {
		assert.True(t, s.CanTransitionTo(StateAborted), s)
	}
	assert.False(t, StateCleaned.CanTransitionTo(StateAborted))
	assert.False(t, StateAborted.CanTransitionTo(StateInit))
	assert.True(t, StateAborted.IsTerminal())
}
