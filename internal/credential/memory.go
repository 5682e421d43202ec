package credential

import (
	"context"
	"sync"
)

// MemoryStore keeps credentials in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	cred Credential
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(ctx context.Context) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, nil
}

func (s *MemoryStore) Set(ctx context.Context, token, tenant string) error {
	s.mu.Lock()
	s.cred.Token = token
	s.cred.Tenant = tenant
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SetToken(ctx context.Context, token string) error {
	s.mu.Lock()
	s.cred.Token = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SetTenant(ctx context.Context, tenant string) error {
	s.mu.Lock()
	s.cred.Tenant = tenant
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.cred.Token = ""
	s.cred.Tenant = ""
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ClearToken(ctx context.Context, expected string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if expected == "" || s.cred.Token != expected {
		return false, nil
	}
	s.cred.Token = ""
	return true, nil
}

func (s *MemoryStore) SetSuperAdminToken(ctx context.Context, token string) error {
	s.mu.Lock()
	s.cred.SuperAdminToken = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ClearSuperAdminToken(ctx context.Context) error {
	return s.SetSuperAdminToken(ctx, "")
}

var _ Store = (*MemoryStore)(nil)
