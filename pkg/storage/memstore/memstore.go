// Package memstore provides an in-memory storage.Store. It keeps the same
// semantics as the durable backends but nothing survives a restart; it is
// meant for tests and for callers that explicitly opt out of persistence.
package memstore

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"goflare.io/satchel/pkg/storage"
)

// Store is an in-memory storage.Store.
type Store struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{items: make(map[string][]byte)}
}

// Get returns the value for key, or storage.ErrKeyNotFound.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.items[string(key)]
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set stores a copy of value under key.
func (s *Store) Set(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.items[string(key)] = stored
	return nil
}

// Delete removes key. Absent keys are ignored.
func (s *Store) Delete(ctx context.Context, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, string(key))
	return nil
}

// Scan visits keys with the given prefix in lexicographic order.
func (s *Store) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()

	sort.Strings(keys)

	for _, k := range keys {
		s.mu.RLock()
		value, ok := s.items[k]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		if err := fn([]byte(k), value); err != nil {
			return err
		}
	}
	return nil
}

// DropPrefix removes every key with the given prefix.
func (s *Store) DropPrefix(ctx context.Context, prefix []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.items {
		if bytes.HasPrefix([]byte(k), prefix) {
			delete(s.items, k)
		}
	}
	return nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
