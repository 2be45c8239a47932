package store

import (
	"context"
	"sync"
)

// Memory is a volatile in-process account store.
type Memory struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{accounts: make(map[string]*Account)}
}

func (m *Memory) Get(ctx context.Context, username string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[username]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (m *Memory) Create(ctx context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.Username]; ok {
		return ErrExists
	}
	m.accounts[a.Username] = a
	return nil
}
