package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_LifecycleTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []State
		wantErr bool
	}{
		{
			name: "plain connect",
			path: []State{Connecting, Open},
		},
		{
			name: "first connect with pairing",
			path: []State{Connecting, AwaitingPairing, Open},
		},
		{
			name: "drop and reconnect",
			path: []State{Connecting, Open, Reconnecting, Open},
		},
		{
			name: "dial failure goes straight to reconnecting",
			path: []State{Connecting, Reconnecting, Connecting, Open},
		},
		{
			name: "reconnect gives up",
			path: []State{Connecting, Open, Reconnecting, Closed},
		},
		{
			name:    "idle cannot open directly",
			path:    []State{Open},
			wantErr: true,
		},
		{
			name:    "open cannot re-pair",
			path:    []State{Connecting, Open, AwaitingPairing},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine("t1", nil)
			var err error
			for _, next := range tt.path {
				err = m.To(next, "test")
				if err != nil {
					break
				}
			}
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.path[len(tt.path)-1], m.State())
			}
		})
	}
}

func TestMachine_ClosedIsTerminal(t *testing.T) {
	m := NewMachine("t1", nil)
	require.NoError(t, m.To(Connecting, CauseStart))
	require.NoError(t, m.To(Closed, CauseStop))

	for _, next := range []State{Connecting, Open, Reconnecting, Closed} {
		err := m.To(next, "test")
		assert.ErrorIs(t, err, ErrTerminal)
	}
	assert.Equal(t, Closed, m.State())
}

func TestMachine_AnyStateMayClose(t *testing.T) {
	paths := [][]State{
		{},
		{Connecting},
		{Connecting, AwaitingPairing},
		{Connecting, Open},
		{Connecting, Open, Reconnecting},
	}
	for _, path := range paths {
		m := NewMachine("t1", nil)
		for _, next := range path {
			require.NoError(t, m.To(next, "test"))
		}
		assert.NoError(t, m.To(Closed, CauseStop))
	}
}

func TestMachine_NotifiesEveryTransition(t *testing.T) {
	type change struct {
		old, next State
		cause     string
	}
	var seen []change
	m := NewMachine("t1", func(old, next State, cause string) {
		seen = append(seen, change{old, next, cause})
	})

	require.NoError(t, m.To(Connecting, CauseStart))
	require.NoError(t, m.To(Open, CauseHandshakeOK))
	require.NoError(t, m.To(Reconnecting, CauseTransportLost))
	require.NoError(t, m.To(Closed, CauseRetriesExhausted))

	require.Len(t, seen, 4)
	assert.Equal(t, change{Idle, Connecting, CauseStart}, seen[0])
	assert.Equal(t, change{Connecting, Open, CauseHandshakeOK}, seen[1])
	assert.Equal(t, change{Open, Reconnecting, CauseTransportLost}, seen[2])
	assert.Equal(t, change{Reconnecting, Closed, CauseRetriesExhausted}, seen[3])
}

func TestMachine_AttemptCounter(t *testing.T) {
	m := NewMachine("t1", nil)
	assert.Equal(t, 0, m.Attempts())
	assert.Equal(t, 1, m.IncAttempts())
	assert.Equal(t, 2, m.IncAttempts())
	m.ResetAttempts()
	assert.Equal(t, 0, m.Attempts())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "awaiting_pairing", AwaitingPairing.String())
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "unknown", State(99).String())
}
