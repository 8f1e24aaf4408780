package account

import (
	"context"
	"sync"
)

// MemStore is an in-memory implementation of the [Store] interface. It is the
// default backend and carries no durability guarantee: all accounts vanish on
// process restart.
type MemStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewMemStore creates a new MemStore.
func NewMemStore() *MemStore {
	return &MemStore{accounts: make(map[string]*Account)}
}

// Get retrieves an account by ID.
func (s *MemStore) Get(_ context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Return a copy to prevent the caller from mutating the stored record.
	return s.accounts[id].Clone(), nil
}

// Set stores an account.
func (s *MemStore) Set(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a.Clone()
	return nil
}

// All returns every stored account.
func (s *MemStore) All(_ context.Context) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, a.Clone())
	}
	return accounts, nil
}

// Close is a no-op for MemStore.
func (s *MemStore) Close() error { return nil }
