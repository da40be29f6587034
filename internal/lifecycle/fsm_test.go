package lifecycle

import (
	"testing"

	"github.com/dwsmith1983/pipemedic/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from  types.HealingState
		to    types.HealingState
		valid bool
	}{
		{types.StateDetected, types.StateClassified, true},
		{types.StateDetected, types.StateDispatched, false},
		{types.StateClassified, types.StateScored, true},
		{types.StateClassified, types.StateSkipped, true},
		{types.StateClassified, types.StateDispatched, false},
		{types.StateScored, types.StateDispatched, true},
		{types.StateScored, types.StateSkipped, true},
		{types.StateScored, types.StateSucceeded, false},
		{types.StateDispatched, types.StateSucceeded, true},
		{types.StateDispatched, types.StateFailed, true},
		{types.StateDispatched, types.StateSkipped, false},
		{types.StateSucceeded, types.StateDispatched, false},
		{types.StateFailed, types.StateDetected, false},
		{types.StateSkipped, types.StateScored, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.valid, CanTransition(tt.from, tt.to))
			err := Transition(tt.from, tt.to)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(types.StateSucceeded))
	assert.True(t, IsTerminal(types.StateFailed))
	assert.True(t, IsTerminal(types.StateSkipped))
	assert.False(t, IsTerminal(types.StateDetected))
	assert.False(t, IsTerminal(types.StateDispatched))
}

func TestMachine_HappyPath(t *testing.T) {
	m := New("run-1")
	assert.Equal(t, types.StateDetected, m.State())

	require.NoError(t, m.Advance(types.StateClassified, "missing_dependency"))
	require.NoError(t, m.Advance(types.StateScored, "0.85"))
	require.NoError(t, m.Advance(types.StateDispatched, ""))
	require.NoError(t, m.Advance(types.StateSucceeded, ""))

	assert.True(t, m.Done())
	hist := m.History()
	require.Len(t, hist, 5)
	assert.Equal(t, "missing_dependency", hist[1].Note)
}

func TestMachine_RejectsInvalidStep(t *testing.T) {
	m := New("run-2")
	err := m.Advance(types.StateSucceeded, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run-2")
	assert.Equal(t, types.StateDetected, m.State())
}
