package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process AccountStore for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
	now      func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]Account),
		now:      time.Now,
	}
}

// LookupAccount implements AccountStore.
func (s *MemoryStore) LookupAccount(_ context.Context, subject string) (*Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[subject]
	if !ok {
		return nil, false, nil
	}
	return &account, true, nil
}

// CreateAccount implements AccountStore.
func (s *MemoryStore) CreateAccount(_ context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.Subject]; ok {
		return ErrAccountExists
	}
	stored := *account
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}
	s.accounts[account.Subject] = stored
	return nil
}

// Len returns the number of stored accounts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}
