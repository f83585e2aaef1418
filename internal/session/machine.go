// Package session models the per-tenant connection lifecycle as an explicit
// state machine. Transitions are serialized per tenant; every transition is
// reported through a notify callback so the supervisor can publish a
// connection.update event.
package session

import (
	"fmt"
	"sync"
	"time"
)

type State int

const (
	Idle State = iota
	Connecting
	AwaitingPairing
	Open
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case AwaitingPairing:
		return "awaiting_pairing"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Common transition causes carried on connection.update events.
const (
	CauseStart            = "start"
	CauseHandshakeOK      = "handshake_ok"
	CauseNoCredential     = "no_credential"
	CausePaired           = "paired"
	CauseTransportLost    = "transport_lost"
	CauseReconnected      = "reconnected"
	CauseRetriesExhausted = "retries_exhausted"
	CauseAuthRevoked      = "auth_revoked"
	CauseStop             = "stop"
)

// valid lists the allowed transitions. Closed is terminal and absent as a
// source; any state may move to Closed on an explicit stop or terminal cause.
var valid = map[State][]State{
	Idle:            {Connecting},
	Connecting:      {Open, AwaitingPairing, Reconnecting},
	AwaitingPairing: {Open, Reconnecting},
	Open:            {Reconnecting},
	Reconnecting:    {Connecting, Open},
}

// ErrTerminal is returned when a transition is requested on a Closed machine.
var ErrTerminal = fmt.Errorf("session is closed")

// NotifyFunc observes every transition. It must not block: it is invoked
// while the machine lock is held so that per-tenant update order is
// preserved.
type NotifyFunc func(old, next State, cause string)

// Machine is the per-tenant session state machine.
type Machine struct {
	mu           sync.Mutex
	tenantID     string
	state        State
	attempts     int
	lastActivity time.Time
	notify       NotifyFunc
}

func NewMachine(tenantID string, notify NotifyFunc) *Machine {
	return &Machine{
		tenantID:     tenantID,
		state:        Idle,
		lastActivity: time.Now(),
		notify:       notify,
	}
}

// To transitions the machine to next. It fails on a Closed machine and on
// transitions outside the lifecycle table; a transition to Closed is allowed
// from any non-terminal state.
func (m *Machine) To(next State, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Closed {
		return ErrTerminal
	}
	if next != Closed && !allowed(m.state, next) {
		return fmt.Errorf("invalid transition %s -> %s", m.state, next)
	}

	old := m.state
	m.state = next
	m.lastActivity = time.Now()
	if m.notify != nil {
		m.notify(old, next, cause)
	}
	return nil
}

func allowed(from, to State) bool {
	for _, s := range valid[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) TenantID() string { return m.tenantID }

// Touch records transport activity for the health surface.
func (m *Machine) Touch() {
	m.mu.Lock()
	m.lastActivity = time.Now()
	m.mu.Unlock()
}

func (m *Machine) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// Attempts returns the reconnect attempt counter.
func (m *Machine) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// IncAttempts bumps the reconnect counter and returns the new value.
func (m *Machine) IncAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	return m.attempts
}

// ResetAttempts clears the reconnect counter after a successful handshake.
func (m *Machine) ResetAttempts() {
	m.mu.Lock()
	m.attempts = 0
	m.mu.Unlock()
}
