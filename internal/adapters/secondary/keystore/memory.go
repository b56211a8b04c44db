package keystore

import (
	"context"
	"sync"

	"github.com/sufield/credo/internal/core/ports"
)

// MemoryStore keeps the CA bundle in process memory. Used by tests and by
// throwaway development deployments where CA persistence is undesirable.
type MemoryStore struct {
	mu     sync.RWMutex
	bundle *ports.CABundle
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// LoadCA implements ports.SecureKeyStore.
func (s *MemoryStore) LoadCA(ctx context.Context) (*ports.CABundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bundle == nil {
		return nil, ports.ErrCANotFound
	}
	return s.bundle, nil
}

// SaveCA implements ports.SecureKeyStore.
func (s *MemoryStore) SaveCA(ctx context.Context, bundle *ports.CABundle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundle = bundle
	return nil
}
