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

// Package user provides the account model for go-stepup. A user carries a
// password hash, enrolled authenticator-app secrets, a sealed recovery code
// set, and registered WebAuthn credentials.
package user

import (
	"time"

	"github.com/jeremyhahn/go-stepup/pkg/totp"
	"github.com/jeremyhahn/go-stepup/pkg/webauthn"
)

// User represents an account subject to multi-factor and step-up
// authentication. Implements the webauthn.User interface.
type User struct {
	// ID is the unique identifier for the user (WebAuthn user handle).
	ID []byte `json:"id"`

	// Username is the user's username (unique, typically email).
	Username string `json:"username"`

	// DisplayName is the human-readable name for display.
	DisplayName string `json:"display_name"`

	// PasswordHash is the argon2id hash of the user's password.
	PasswordHash string `json:"password_hash,omitempty"`

	// TOTPCredentials are the user's enrolled authenticator-app secrets.
	TOTPCredentials []*totp.Credential `json:"totp_credentials,omitempty"`

	// RecoveryCodes is the sealed (encrypted at rest) recovery code set.
	RecoveryCodes []byte `json:"recovery_codes,omitempty"`

	// Credentials are the WebAuthn credentials registered for this user.
	Credentials []*webauthn.Credential `json:"credentials,omitempty"`

	// CreatedAt is when the user was created.
	CreatedAt time.Time `json:"created_at"`

	// LastLoginAt is the last successful login time.
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`

	// Enabled indicates if the user account is active.
	Enabled bool `json:"enabled"`
}

// HasTOTP reports whether the user has at least one enrolled
// authenticator-app secret.
func (u *User) HasTOTP() bool {
	return len(u.TOTPCredentials) > 0
}

// HasWebAuthn reports whether the user has at least one registered
// WebAuthn credential.
func (u *User) HasWebAuthn() bool {
	return len(u.Credentials) > 0
}

// HasRecoveryCodes reports whether the user holds a sealed recovery code set.
func (u *User) HasRecoveryCodes() bool {
	return len(u.RecoveryCodes) > 0
}

// HasPassword reports whether the user has a password set.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// AddTOTPCredential appends an enrolled authenticator-app secret.
func (u *User) AddTOTPCredential(cred *totp.Credential) {
	u.TOTPCredentials = append(u.TOTPCredentials, cred)
}

// RemoveTOTPCredential removes an enrolled secret by its enrollment ID.
// Returns true if a secret was removed.
func (u *User) RemoveTOTPCredential(id string) bool {
	for i, cred := range u.TOTPCredentials {
		if cred.ID == id {
			u.TOTPCredentials = append(u.TOTPCredentials[:i], u.TOTPCredentials[i+1:]...)
			return true
		}
	}
	return false
}
