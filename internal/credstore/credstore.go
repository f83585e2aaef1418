// Package credstore persists the per-tenant session-resume credential blob.
// The blob is written on pairing and on clean shutdown so a process restart
// reconnects without re-pairing.
package credstore

import (
	"context"

	"github.com/nexwire/chatgate/internal/model"
)

// Store is the credential persistence contract. Load returns (nil, nil) when
// no credential exists for the tenant.
type Store interface {
	Load(ctx context.Context, tenantID string) (*model.Credentials, error)
	Save(ctx context.Context, creds *model.Credentials) error
	Delete(ctx context.Context, tenantID string) error
}
