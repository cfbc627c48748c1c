// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-stepup.
//
// go-stepup is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store with per-entry TTL.
// This is intended for development and testing only.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	ttl     time.Duration
}

type memoryEntry struct {
	value     []byte
	createdAt time.Time
}

// NewMemoryStore creates a new in-memory session store with a default
// TTL of 30 minutes.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithTTL(30 * time.Minute)
}

// NewMemoryStoreWithTTL creates a new in-memory session store with a
// custom TTL. A zero TTL disables expiration.
func NewMemoryStoreWithTTL(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		ttl:     ttl,
	}
}

// Put stores a value, overwriting any prior value under the key.
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	s.entries[key] = &memoryEntry{value: v, createdAt: time.Now()}
	return nil
}

// Get retrieves a value by key.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok || s.expired(entry) {
		return nil, ErrKeyNotFound
	}
	v := make([]byte, len(entry.value))
	copy(v, entry.value)
	return v, nil
}

// Pull retrieves a value and deletes it atomically.
func (s *MemoryStore) Pull(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	delete(s.entries, key)
	if s.expired(entry) {
		return nil, ErrKeyNotFound
	}
	return entry.value, nil
}

// Forget deletes a value by key.
func (s *MemoryStore) Forget(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Count returns the number of entries in the store.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear removes all entries from the store.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*memoryEntry)
}

// Cleanup removes expired entries and returns the count removed.
func (s *MemoryStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if s.expired(entry) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) expired(entry *memoryEntry) bool {
	return s.ttl > 0 && time.Since(entry.createdAt) > s.ttl
}

var _ Store = (*MemoryStore)(nil)
