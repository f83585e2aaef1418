// Package transport abstracts the connection to the external messaging
// network. The wire protocol itself is owned by the network's session
// gateway; frames cross this boundary as opaque envelopes.
package transport

import (
	"context"
	"errors"

	"github.com/nexwire/chatgate/internal/model"
)

type FrameKind string

const (
	FrameMessage FrameKind = "message"
	FrameQRCode  FrameKind = "qr"
	FramePaired  FrameKind = "paired"
)

// Frame is one inbound protocol frame.
type Frame struct {
	Kind        FrameKind
	From        string
	Body        []byte
	Code        string             // qr frames
	Credentials *model.Credentials // paired frames
}

// Conn is a live session connection. It is exclusively owned by the tenant's
// supervisor.
type Conn interface {
	// Frames returns the inbound frame stream. The channel is closed when
	// the transport dies; Err reports the cause afterwards.
	Frames() <-chan Frame

	// Send delivers one outbound message and blocks until the transport
	// acknowledges it or ctx expires.
	Send(ctx context.Context, m model.OutboundMessage) error

	// Err returns the cause of transport death, nil before it.
	Err() error

	Close() error
}

// Dialer opens connections. Dialing with nil credentials puts the session in
// pairing mode: the connection emits qr frames followed by a paired frame
// carrying the new credential blob.
type Dialer interface {
	Dial(ctx context.Context, tenantID string, creds *model.Credentials) (Conn, error)
}

// TerminalError marks causes that must not be retried: credential revoked,
// tenant banned. Everything else is treated as transient.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return "terminal: " + e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err so IsTerminal reports true for it.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// IsTerminal reports whether err carries a terminal classification.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}
