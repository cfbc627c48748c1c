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

package rest

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/jeremyhahn/go-stepup/pkg/stepup"
	"github.com/jeremyhahn/go-stepup/pkg/user"
	"github.com/jeremyhahn/go-stepup/pkg/webauthn"
)

// CreateUserRequest is the request body for account creation.
type CreateUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Password    string `json:"password,omitempty"`
}

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Remember bool   `json:"remember,omitempty"`
}

// LoginResponse is the response for login and challenge confirmation.
type LoginResponse struct {
	Authenticated bool               `json:"authenticated"`
	MFARequired   bool               `json:"mfa_required,omitempty"`
	Challenge     *ChallengeResponse `json:"challenge,omitempty"`
	Token         string             `json:"token,omitempty"`
	User          *UserResponse      `json:"user,omitempty"`
}

// ChallengeResponse is the client view of an in-flight challenge.
type ChallengeResponse struct {
	UserID         string        `json:"user_id"`
	Mode           stepup.Mode   `json:"mode"`
	Alternates     []stepup.Mode `json:"alternates,omitempty"`
	Error          string        `json:"error,omitempty"`
	WebAuthnFailed bool          `json:"webauthn_failed,omitempty"`
	Remember       bool          `json:"remember,omitempty"`
}

// SelectModeRequest is the request body for switching challenge modes.
type SelectModeRequest struct {
	Mode stepup.Mode `json:"mode"`
}

// ConfirmRequest is the request body for answering a challenge. Exactly
// one proof field should be set, matching the selected mode.
type ConfirmRequest struct {
	Code     string `json:"code,omitempty"`
	Password string `json:"password,omitempty"`

	// Response is the raw WebAuthn assertion response from the browser.
	Response json.RawMessage `json:"response,omitempty"`
}

// UserResponse is the client view of an account.
type UserResponse struct {
	ID               string `json:"id"`
	Username         string `json:"username"`
	DisplayName      string `json:"display_name"`
	HasPassword      bool   `json:"has_password"`
	HasTOTP          bool   `json:"has_totp"`
	HasWebAuthn      bool   `json:"has_webauthn"`
	HasRecoveryCodes bool   `json:"has_recovery_codes"`
}

// SudoStatusResponse reports the step-up window state.
type SudoStatusResponse struct {
	Active           bool  `json:"active"`
	RemainingSeconds int64 `json:"remaining_seconds,omitempty"`
}

// BeginRegistrationRequest is the request body for starting credential
// registration.
type BeginRegistrationRequest struct {
	// Passkey selects the passkey ceremony profile.
	Passkey bool `json:"passkey,omitempty"`
}

// FinishRegistrationRequest is the request body for completing credential
// registration.
type FinishRegistrationRequest struct {
	// Name is the user-chosen label for the new credential.
	Name string `json:"name,omitempty"`

	// Passkey must match the profile registration began with.
	Passkey bool `json:"passkey,omitempty"`

	// Response is the raw attestation response from the browser.
	Response json.RawMessage `json:"response"`
}

// CredentialResponse is the client view of a registered credential.
type CredentialResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	Passkey    bool       `json:"passkey"`
	SignCount  uint32     `json:"sign_count"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// RenameCredentialRequest is the request body for relabeling a credential.
type RenameCredentialRequest struct {
	Name string `json:"name"`
}

// TOTPEnrollResponse carries the provisioning material for a pending
// authenticator-app enrollment. The secret is shown exactly once.
type TOTPEnrollResponse struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// TOTPConfirmRequest is the request body for confirming an enrollment.
type TOTPConfirmRequest struct {
	Code string `json:"code"`
}

// TOTPConfirmResponse reports a completed enrollment. RecoveryCodes is
// populated when confirming the enrollment also provisioned the user's
// first recovery code set.
type TOTPConfirmResponse struct {
	User          *UserResponse `json:"user"`
	RecoveryCodes []string      `json:"recovery_codes,omitempty"`
}

// RecoveryCodesResponse carries a freshly generated recovery code set.
// The codes are shown exactly once; only the sealed blob is stored.
type RecoveryCodesResponse struct {
	Codes []string `json:"codes"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// ErrorResponse is the response format for errors.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	Code       int    `json:"code"`
	RetryAfter int64  `json:"retry_after_seconds,omitempty"`
}

func challengeResponse(state *stepup.ChallengeState) *ChallengeResponse {
	return &ChallengeResponse{
		UserID:         base64.RawURLEncoding.EncodeToString(state.UserID),
		Mode:           state.Mode,
		Alternates:     state.Alternates,
		Error:          state.Error,
		WebAuthnFailed: state.WebAuthnFailed,
		Remember:       state.Remember,
	}
}

func userResponse(u *user.User) *UserResponse {
	return &UserResponse{
		ID:               base64.RawURLEncoding.EncodeToString(u.ID),
		Username:         u.Username,
		DisplayName:      u.DisplayName,
		HasPassword:      u.HasPassword(),
		HasTOTP:          u.HasTOTP(),
		HasWebAuthn:      u.HasWebAuthn(),
		HasRecoveryCodes: u.HasRecoveryCodes(),
	}
}

func credentialResponse(cred *webauthn.Credential) *CredentialResponse {
	resp := &CredentialResponse{
		ID:        base64.RawURLEncoding.EncodeToString(cred.ID),
		Name:      cred.Name,
		Passkey:   cred.IsPasskey,
		SignCount: cred.Authenticator.SignCount,
		CreatedAt: cred.CreatedAt,
	}
	if !cred.LastUsedAt.IsZero() {
		used := cred.LastUsedAt
		resp.LastUsedAt = &used
	}
	return resp
}
