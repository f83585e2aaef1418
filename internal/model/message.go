package model

import "time"

// OutboundMessage is one application-level send request. It is created on
// submission, consumed exactly once by the supervisor drain loop and
// terminally marked sent or failed via a message.outbound.ack event.
type OutboundMessage struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	To             string    `json:"to"`
	Body           []byte    `json:"body"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	Attempts       int       `json:"attempts"`
}
