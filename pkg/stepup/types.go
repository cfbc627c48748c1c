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

package stepup

import (
	"context"

	"github.com/jeremyhahn/go-stepup/pkg/user"
)

// Mode identifies how a challenge is answered.
type Mode string

const (
	// ModeApp answers with an authenticator-app (TOTP) code.
	ModeApp Mode = "app"

	// ModeWebAuthn answers with a WebAuthn assertion.
	ModeWebAuthn Mode = "webauthn"

	// ModeRecovery answers with a single-use recovery code. Only valid for
	// MFA challenges, never for step-up re-authentication.
	ModeRecovery Mode = "recovery"

	// ModePassword answers with the account password. Only valid for
	// step-up re-authentication.
	ModePassword Mode = "password"
)

// Proof carries the user's answer to a challenge. Exactly one field is
// consulted, selected by the active mode.
type Proof struct {
	// Code is the authenticator-app or recovery code.
	Code string

	// Password is the account password, for ModePassword.
	Password string

	// WebAuthnResponse is the raw assertion response JSON from the
	// browser, for ModeWebAuthn.
	WebAuthnResponse []byte
}

// ChallengeState is the session-scoped state of an in-flight challenge.
type ChallengeState struct {
	// UserID identifies the challenged user. Set only after the first
	// authentication factor has already succeeded.
	UserID []byte `json:"user_id"`

	// Remember carries the login form's remember-me flag through the
	// challenge so the caller can honor it at finalization.
	Remember bool `json:"remember,omitempty"`

	// Mode is the currently selected challenge mode.
	Mode Mode `json:"mode"`

	// Alternates are the available modes other than the current one.
	Alternates []Mode `json:"alternates,omitempty"`

	// Error is the user-facing message from the last failed attempt.
	Error string `json:"error,omitempty"`

	// WebAuthnFailed marks the last failure as assertion-specific so the
	// caller can offer a differentiated retry.
	WebAuthnFailed bool `json:"webauthn_failed,omitempty"`

	// Confirmed is set once the challenge has been answered. Never stored:
	// confirmation replaces the challenge state with a durable marker.
	Confirmed bool `json:"-"`

	// Token is the signed token issued at confirmation, when the challenge
	// was constructed with a token issuer. Never stored.
	Token string `json:"-"`
}

// Strategy supplies the factor-specific behavior of a challenge. The same
// machine drives both the MFA and the step-up (sudo) flows; only the
// strategy differs.
type Strategy interface {
	// AvailableModes returns the ordered modes the user may answer with.
	AvailableModes(u *user.User) []Mode

	// Validate checks the proof for the given mode. Validation failures the
	// user may retry are reported with the package sentinel errors or a
	// ceremony error; anything else is treated as fatal.
	Validate(ctx context.Context, u *user.User, mode Mode, proof Proof) error

	// OnSuccess records the durable outcome of a confirmed challenge.
	OnSuccess(ctx context.Context, u *user.User, state *ChallengeState) error
}

// ModePolicy chooses the initially presented mode from the available set.
// The returned mode need not be in the set; the challenge machine
// substitutes an available one when it is not.
type ModePolicy func(available []Mode) Mode

// DefaultModePolicy prefers the authenticator app, then WebAuthn, then
// whatever the strategy offers first.
func DefaultModePolicy(available []Mode) Mode {
	for _, preferred := range []Mode{ModeApp, ModeWebAuthn} {
		for _, mode := range available {
			if mode == preferred {
				return mode
			}
		}
	}
	if len(available) > 0 {
		return available[0]
	}
	return ""
}

func containsMode(modes []Mode, mode Mode) bool {
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}

func alternatesOf(available []Mode, current Mode) []Mode {
	alternates := make([]Mode, 0, len(available))
	for _, m := range available {
		if m != current {
			alternates = append(alternates, m)
		}
	}
	return alternates
}
