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

package user

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Store defines the interface for user persistence.
type Store interface {
	// Create creates a new user.
	Create(ctx context.Context, username, displayName string) (*User, error)

	// GetByID retrieves a user by their ID.
	GetByID(ctx context.Context, id []byte) (*User, error)

	// GetByUsername retrieves a user by their username.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// Update saves changes to a user.
	Update(ctx context.Context, user *User) error

	// Delete removes a user by their ID.
	Delete(ctx context.Context, id []byte) error

	// List returns all users.
	List(ctx context.Context) ([]*User, error)

	// Count returns the number of users.
	Count(ctx context.Context) (int, error)
}

// MemoryStore is an in-memory implementation of Store. This is intended
// for development and testing only.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*User
	byName map[string]string
}

// NewMemoryStore creates a new in-memory user store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*User),
		byName: make(map[string]string),
	}
}

// Create creates a new user with a random 16 byte user handle.
func (s *MemoryStore) Create(ctx context.Context, username, displayName string) (*User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return nil, ErrInvalidUsername
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[username]; exists {
		return nil, ErrUserAlreadyExists
	}

	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	u := &User{
		ID:          id,
		Username:    username,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
		Enabled:     true,
	}

	key := hex.EncodeToString(id)
	s.byID[key] = u
	s.byName[username] = key

	return u, nil
}

// GetByID retrieves a user by their ID.
func (s *MemoryStore) GetByID(ctx context.Context, id []byte) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[hex.EncodeToString(id)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// GetByUsername retrieves a user by their username.
func (s *MemoryStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.byName[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, ErrUserNotFound
	}
	return s.byID[key], nil
}

// Update saves changes to a user.
func (s *MemoryStore) Update(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hex.EncodeToString(user.ID)
	existing, ok := s.byID[key]
	if !ok {
		return ErrUserNotFound
	}

	if existing.Username != user.Username {
		if _, taken := s.byName[user.Username]; taken {
			return ErrUserAlreadyExists
		}
		delete(s.byName, existing.Username)
		s.byName[user.Username] = key
	}

	s.byID[key] = user
	return nil
}

// Delete removes a user by their ID.
func (s *MemoryStore) Delete(ctx context.Context, id []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hex.EncodeToString(id)
	u, ok := s.byID[key]
	if !ok {
		return ErrUserNotFound
	}

	delete(s.byID, key)
	delete(s.byName, u.Username)
	return nil
}

// List returns all users.
func (s *MemoryStore) List(ctx context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*User, 0, len(s.byID))
	for _, u := range s.byID {
		users = append(users, u)
	}
	return users, nil
}

// Count returns the number of users.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

var _ Store = (*MemoryStore)(nil)
