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
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-stepup/pkg/webauthn"
)

// WebAuthnStore adapts a user.Store to the webauthn.UserStore interface so
// the ceremony engine can load and persist users without knowing the
// account model.
type WebAuthnStore struct {
	store Store
}

// NewWebAuthnStore creates the adapter.
func NewWebAuthnStore(store Store) *WebAuthnStore {
	return &WebAuthnStore{store: store}
}

// GetByID retrieves a user by their WebAuthn user handle.
func (s *WebAuthnStore) GetByID(ctx context.Context, userID []byte) (webauthn.User, error) {
	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, webauthn.ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// Save persists changes to a user.
func (s *WebAuthnStore) Save(ctx context.Context, wu webauthn.User) error {
	u, ok := wu.(*User)
	if !ok {
		return fmt.Errorf("unexpected user type %T", wu)
	}
	return s.store.Update(ctx, u)
}

var _ webauthn.UserStore = (*WebAuthnStore)(nil)
