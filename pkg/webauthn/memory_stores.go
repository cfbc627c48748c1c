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

package webauthn

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/go-webauthn/webauthn/webauthn"
)

// DefaultUser is a minimal User implementation for development and testing.
// Applications integrate their own user model through the User interface.
type DefaultUser struct {
	id          []byte
	username    string
	displayName string
	credentials []*Credential
}

// NewDefaultUser creates a new DefaultUser with the given parameters.
func NewDefaultUser(id []byte, username, displayName string) *DefaultUser {
	return &DefaultUser{
		id:          id,
		username:    username,
		displayName: displayName,
	}
}

// WebAuthnID returns the user's WebAuthn ID (user handle).
func (u *DefaultUser) WebAuthnID() []byte {
	return u.id
}

// WebAuthnName returns the user's username.
func (u *DefaultUser) WebAuthnName() string {
	return u.username
}

// WebAuthnDisplayName returns the user's display name.
func (u *DefaultUser) WebAuthnDisplayName() string {
	if u.displayName == "" {
		return u.username
	}
	return u.displayName
}

// WebAuthnCredentials returns the user's registered credentials.
func (u *DefaultUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.credentials))
	for i, c := range u.credentials {
		creds[i] = c.ToWebAuthn()
	}
	return creds
}

// AddCredential adds a new credential to the user.
func (u *DefaultUser) AddCredential(cred *Credential) {
	u.credentials = append(u.credentials, cred)
}

// UpdateCredential updates an existing credential.
func (u *DefaultUser) UpdateCredential(cred *Credential) {
	for i, c := range u.credentials {
		if string(c.ID) == string(cred.ID) {
			u.credentials[i] = cred
			return
		}
	}
}

// Credentials returns the user's credentials.
func (u *DefaultUser) Credentials() []*Credential {
	return u.credentials
}

// MemoryUserStore is an in-memory implementation of UserStore.
// This is intended for development and testing only.
type MemoryUserStore struct {
	mu   sync.RWMutex
	byID map[string]User
}

// NewMemoryUserStore creates a new in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID: make(map[string]User),
	}
}

// GetByID retrieves a user by their WebAuthn ID.
func (s *MemoryUserStore) GetByID(ctx context.Context, userID []byte) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[hex.EncodeToString(userID)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Save persists changes to a user, creating it if absent.
func (s *MemoryUserStore) Save(ctx context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[hex.EncodeToString(user.WebAuthnID())] = user
	return nil
}

// Count returns the number of users in the store.
func (s *MemoryUserStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// MemoryCredentialStore is an in-memory implementation of CredentialStore.
// This is intended for development and testing only.
type MemoryCredentialStore struct {
	mu       sync.RWMutex
	byID     map[string]*Credential
	byUserID map[string][]*Credential
	idToUser map[string]string
}

// NewMemoryCredentialStore creates a new in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		byID:     make(map[string]*Credential),
		byUserID: make(map[string][]*Credential),
		idToUser: make(map[string]string),
	}
}

// Save stores a new credential.
func (s *MemoryCredentialStore) Save(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	credKey := hex.EncodeToString(cred.ID)
	userKey := hex.EncodeToString(cred.UserID)

	if _, ok := s.byID[credKey]; ok {
		return ErrCredentialAlreadyExists
	}

	s.byID[credKey] = cred
	s.byUserID[userKey] = append(s.byUserID[userKey], cred)
	s.idToUser[credKey] = userKey

	return nil
}

// GetByUserID retrieves all credentials for a user in registration order.
func (s *MemoryCredentialStore) GetByUserID(ctx context.Context, userID []byte) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	creds, ok := s.byUserID[hex.EncodeToString(userID)]
	if !ok {
		return []*Credential{}, nil
	}

	result := make([]*Credential, len(creds))
	copy(result, creds)
	return result, nil
}

// GetByCredentialID retrieves a credential by its raw ID.
func (s *MemoryCredentialStore) GetByCredentialID(ctx context.Context, credID []byte) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.byID[hex.EncodeToString(credID)]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return cred, nil
}

// Update updates an existing credential.
func (s *MemoryCredentialStore) Update(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	credKey := hex.EncodeToString(cred.ID)
	if _, ok := s.byID[credKey]; !ok {
		return ErrCredentialNotFound
	}

	s.byID[credKey] = cred

	userKey := hex.EncodeToString(cred.UserID)
	creds := s.byUserID[userKey]
	for i, c := range creds {
		if hex.EncodeToString(c.ID) == credKey {
			creds[i] = cred
			break
		}
	}

	return nil
}

// Delete removes a credential by its raw ID.
func (s *MemoryCredentialStore) Delete(ctx context.Context, credID []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	credKey := hex.EncodeToString(credID)
	userKey, ok := s.idToUser[credKey]
	if !ok {
		return ErrCredentialNotFound
	}

	delete(s.byID, credKey)
	delete(s.idToUser, credKey)

	creds := s.byUserID[userKey]
	for i, c := range creds {
		if hex.EncodeToString(c.ID) == credKey {
			s.byUserID[userKey] = append(creds[:i], creds[i+1:]...)
			break
		}
	}

	return nil
}

// DeleteByUserID removes all credentials for a user.
func (s *MemoryCredentialStore) DeleteByUserID(ctx context.Context, userID []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userKey := hex.EncodeToString(userID)
	creds, ok := s.byUserID[userKey]
	if !ok {
		return nil
	}

	for _, cred := range creds {
		credKey := hex.EncodeToString(cred.ID)
		delete(s.byID, credKey)
		delete(s.idToUser, credKey)
	}

	delete(s.byUserID, userKey)
	return nil
}

// Count returns the total number of credentials in the store.
func (s *MemoryCredentialStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

var (
	_ User            = (*DefaultUser)(nil)
	_ UserStore       = (*MemoryUserStore)(nil)
	_ CredentialStore = (*MemoryCredentialStore)(nil)
)
