// Package prefs provides small string key-value stores used to persist application state.
// Every put replaces the value of the key atomically: readers see the old or the new value, never a mix.
package prefs

import (
	"context"
	"sync"
)

// Store ...
type Store interface {
	// GetString returns the value of key, and false if it was never written.
	GetString(ctx context.Context, key string) (string, bool, error)
	PutString(ctx context.Context, key, value string) error
}

// MemoryStore keeps values for the lifetime of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore ...
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]string{}}
}

// GetString ...
func (s *MemoryStore) GetString(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// PutString ...
func (s *MemoryStore) PutString(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
