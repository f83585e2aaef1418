package credstore

import (
	"context"
	"sync"

	"github.com/nexwire/chatgate/internal/model"
)

// MemoryStore keeps credentials in memory. Used in tests and in dev mode
// when no MySQL DSN is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*model.Credentials
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]*model.Credentials)}
}

func (s *MemoryStore) Load(_ context.Context, tenantID string) (*model.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[tenantID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) Save(_ context.Context, creds *model.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *creds
	s.creds[creds.TenantID] = &cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, tenantID)
	return nil
}

var _ Store = (*MemoryStore)(nil)
