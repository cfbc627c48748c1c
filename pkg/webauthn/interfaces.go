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
)

// UserStore is the interface applications implement for user persistence.
// This interface is intentionally minimal - applications bring their own
// user model.
type UserStore interface {
	// GetByID retrieves a user by their WebAuthn ID (user handle).
	// Returns ErrUserNotFound if the user does not exist.
	GetByID(ctx context.Context, userID []byte) (User, error)

	// Save persists changes to an existing user (credentials, timestamps).
	Save(ctx context.Context, user User) error
}

// CredentialStore manages WebAuthn credential persistence. The raw
// credential ID is the unique key: lookup by credential ID alone must work
// without knowing the owning user in advance, since userless (passkey
// autofill) login identifies the user from the credential.
type CredentialStore interface {
	// Save stores a new credential.
	// Returns ErrCredentialAlreadyExists on a duplicate credential ID.
	Save(ctx context.Context, cred *Credential) error

	// GetByUserID retrieves all credentials for a user in registration order.
	// Returns an empty slice if the user has no credentials.
	GetByUserID(ctx context.Context, userID []byte) ([]*Credential, error)

	// GetByCredentialID retrieves a credential by its raw credential ID.
	// Returns ErrCredentialNotFound if the credential does not exist.
	GetByCredentialID(ctx context.Context, credID []byte) (*Credential, error)

	// Update updates an existing credential (sign counter, last used).
	// The write must be atomic per credential; a half-written serialized
	// source must never be observable.
	// Returns ErrCredentialNotFound if the credential does not exist.
	Update(ctx context.Context, cred *Credential) error

	// Delete removes a credential by its raw credential ID. Deletion is
	// immediate; it revokes the credential.
	// Returns ErrCredentialNotFound if the credential does not exist.
	Delete(ctx context.Context, credID []byte) error

	// DeleteByUserID removes all credentials for a user.
	DeleteByUserID(ctx context.Context, userID []byte) error
}
