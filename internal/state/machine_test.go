package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineLifecycle(t *testing.T) {
	var seen []Transition
	m := NewMachine(func(tr Transition) { seen = append(seen, tr) })

	assert.Equal(t, StateIdle, m.CurrentState())
	require.NoError(t, m.Trigger(EventStart))
	require.NoError(t, m.Trigger(EventActivate))
	assert.True(t, m.Is(StateActive))
	require.NoError(t, m.Trigger(EventStop))
	require.NoError(t, m.Trigger(EventStopped))
	assert.Equal(t, StateIdle, m.CurrentState())

	require.Len(t, seen, 4)
	assert.Equal(t, Transition{From: StateIdle, To: StateStarting, Event: EventStart, At: seen[0].At}, seen[0])
	assert.Equal(t, StateIdle, seen[3].To)
}

func TestMachineSinceTracksLastTransition(t *testing.T) {
	m := NewMachine(nil)
	created := m.Since()
	require.False(t, created.IsZero())

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, m.Trigger(EventStart))
	assert.True(t, m.Since().After(created))

	entered := m.Since()
	assert.Error(t, m.Trigger(EventStopped))
	assert.Equal(t, entered, m.Since(), "rejected event keeps the timestamp")
}

func TestMachineAbortAndFatal(t *testing.T) {
	m := NewMachine(nil)

	require.NoError(t, m.Trigger(EventStart))
	require.NoError(t, m.Trigger(EventAbort))
	assert.Equal(t, StateIdle, m.CurrentState())

	require.NoError(t, m.Trigger(EventStart))
	require.NoError(t, m.Trigger(EventActivate))
	require.NoError(t, m.Trigger(EventFatal))
	assert.Equal(t, StateIdle, m.CurrentState())
}

func TestMachineRejectsInvalidEvents(t *testing.T) {
	m := NewMachine(nil)

	assert.False(t, m.CanTransition(EventActivate))
	assert.Error(t, m.Trigger(EventActivate))
	assert.Error(t, m.Trigger(EventFatal))
	assert.Equal(t, StateIdle, m.CurrentState())
}
