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
	"bytes"

	gowebauthn "github.com/go-webauthn/webauthn/webauthn"

	"github.com/jeremyhahn/go-stepup/pkg/webauthn"
)

// WebAuthnID returns the user's WebAuthn ID (user handle).
func (u *User) WebAuthnID() []byte {
	return u.ID
}

// WebAuthnName returns the user's username.
func (u *User) WebAuthnName() string {
	return u.Username
}

// WebAuthnDisplayName returns the user's display name.
func (u *User) WebAuthnDisplayName() string {
	if u.DisplayName == "" {
		return u.Username
	}
	return u.DisplayName
}

// WebAuthnCredentials returns the user's credentials in the go-webauthn
// library's format.
func (u *User) WebAuthnCredentials() []gowebauthn.Credential {
	creds := make([]gowebauthn.Credential, len(u.Credentials))
	for i, c := range u.Credentials {
		creds[i] = c.ToWebAuthn()
	}
	return creds
}

// AddCredential adds a new WebAuthn credential to the user.
func (u *User) AddCredential(cred *webauthn.Credential) {
	u.Credentials = append(u.Credentials, cred)
}

// UpdateCredential updates an existing credential in place, matched by its
// raw credential ID.
func (u *User) UpdateCredential(cred *webauthn.Credential) {
	for i, c := range u.Credentials {
		if bytes.Equal(c.ID, cred.ID) {
			u.Credentials[i] = cred
			return
		}
	}
}

// RemoveCredential removes a WebAuthn credential by its raw ID.
// Returns true if a credential was removed.
func (u *User) RemoveCredential(credID []byte) bool {
	for i, c := range u.Credentials {
		if bytes.Equal(c.ID, credID) {
			u.Credentials = append(u.Credentials[:i], u.Credentials[i+1:]...)
			return true
		}
	}
	return false
}

var _ webauthn.User = (*User)(nil)
