package model

import "time"

// Credentials is the opaque session-resume blob handed out by the external
// network on pairing. The core never inspects it; it is persisted so a
// restart can reconnect without re-pairing.
type Credentials struct {
	TenantID  string    `json:"tenant_id"`
	Blob      []byte    `json:"blob"`
	UpdatedAt time.Time `json:"updated_at"`
}
