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
	"encoding/json"
	"errors"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/jeremyhahn/go-stepup/pkg/session"
)

// Purpose identifies the ceremony a pending challenge was issued for.
// Each purpose owns one session slot: issuing a new challenge for a purpose
// overwrites any prior one; there is no multi-challenge queue.
type Purpose string

const (
	// PurposeRegister is standard security key registration.
	PurposeRegister Purpose = "register"

	// PurposeRegisterPasskey is passkey (resident credential) registration.
	PurposeRegisterPasskey Purpose = "register-passkey"

	// PurposeLogin is primary-credential login.
	PurposeLogin Purpose = "login"

	// PurposeMFA is the login-time second-factor challenge.
	PurposeMFA Purpose = "mfa"

	// PurposeSudo is step-up re-authentication before sensitive actions.
	PurposeSudo Purpose = "sudo"
)

// ChallengeStore persists pending ceremony state (the issued options) in
// the per-user session between the begin and finish requests of a ceremony.
// Consumption is read-once: a challenge can never validate twice.
type ChallengeStore struct {
	sess *session.Context
}

// NewChallengeStore creates a challenge store over the given session context.
func NewChallengeStore(sess *session.Context) *ChallengeStore {
	return &ChallengeStore{sess: sess}
}

// Store saves the pending ceremony state for the purpose, overwriting any
// prior pending challenge for that purpose.
func (s *ChallengeStore) Store(ctx context.Context, purpose Purpose, data *webauthn.SessionData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return WrapError("store challenge", err)
	}
	return s.sess.Put(ctx, s.key(purpose), raw)
}

// Consume retrieves and deletes the pending ceremony state for the purpose.
// Returns ErrNoChallenge if none is pending, including when a prior
// verification attempt already consumed it.
func (s *ChallengeStore) Consume(ctx context.Context, purpose Purpose) (*webauthn.SessionData, error) {
	raw, err := s.sess.Pull(ctx, s.key(purpose))
	if err != nil {
		if errors.Is(err, session.ErrKeyNotFound) {
			return nil, NewError("consume challenge", ErrNoChallenge)
		}
		return nil, WrapError("consume challenge", err)
	}
	var data webauthn.SessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, WrapError("consume challenge", err)
	}
	return &data, nil
}

// Forget discards any pending challenge for the purpose.
func (s *ChallengeStore) Forget(ctx context.Context, purpose Purpose) error {
	return s.sess.Forget(ctx, s.key(purpose))
}

func (s *ChallengeStore) key(purpose Purpose) string {
	return "challenge." + string(purpose)
}
