package secrets

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store safe for concurrent use. Intended for
// tests and local development; production deployments use the SQLite-backed
// store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory secret store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get returns the value stored under name, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[name]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Set stores value under name.
func (s *MemoryStore) Set(_ context.Context, name string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
	return nil
}

// Remove deletes the value stored under name.
func (s *MemoryStore) Remove(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[name]; !ok {
		return ErrNotFound
	}
	delete(s.values, name)
	return nil
}
