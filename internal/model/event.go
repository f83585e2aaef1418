package model

import "time"

type EventKind string

const (
	EventConnectionUpdate   EventKind = "connection.update"
	EventMessageInbound     EventKind = "message.inbound"
	EventMessageOutboundAck EventKind = "message.outbound.ack"
	EventQRCodeUpdate       EventKind = "qrcode.update"
	EventDeliveryFailed     EventKind = "delivery.failed"
)

func (k EventKind) String() string { return string(k) }

// Event is published on the internal bus and fanned out to sinks.
// Immutable once published.
type Event struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenant_id"`
	Kind     EventKind `json:"kind"`
	Payload  any       `json:"payload"`
	At       time.Time `json:"at"`
}

// ConnectionUpdate is the payload of connection.update events.
type ConnectionUpdate struct {
	Old   string `json:"old"`
	New   string `json:"new"`
	Cause string `json:"cause,omitempty"`
}

// InboundMessage is the payload of message.inbound events.
type InboundMessage struct {
	From string `json:"from"`
	Body []byte `json:"body"`
}

// OutboundAck is the payload of message.outbound.ack events.
type OutboundAck struct {
	MessageID      string `json:"message_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Status         string `json:"status"` // sent | failed
	Attempts       int    `json:"attempts"`
	Error          string `json:"error,omitempty"`
}

const (
	AckSent   = "sent"
	AckFailed = "failed"
)

// PairingCode is the payload of qrcode.update events.
type PairingCode struct {
	Code string `json:"code"`
}

// DeliveryFailure is the payload of delivery.failed events, emitted when a
// sink delivery exhausts its retry budget. Never re-dispatched to sinks.
type DeliveryFailure struct {
	EventID  string `json:"event_id"`
	Target   string `json:"target"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}
