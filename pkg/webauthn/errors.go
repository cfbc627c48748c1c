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
	"errors"
	"fmt"
)

// Sentinel errors for WebAuthn ceremony operations. Callers branch on these
// with errors.Is; the wrapped detail is for operators (logs), never for end
// users, to avoid credential-enumeration leakage.
var (
	// ErrAttestationFailed is returned when a registration ceremony fails
	// cryptographic or semantic validation (challenge mismatch, origin
	// mismatch, untrusted attestation format, malformed response).
	ErrAttestationFailed = errors.New("attestation verification failed")

	// ErrAssertionFailed is returned when a login ceremony fails
	// cryptographic validation against the stored credential.
	ErrAssertionFailed = errors.New("assertion verification failed")

	// ErrResponseMismatch is returned when the client sent a response
	// shaped as the wrong ceremony type. This indicates a client or
	// integration bug, not a user-input problem.
	ErrResponseMismatch = errors.New("response is not of the expected ceremony type")

	// ErrWrongUserHandle is returned when a registration ceremony's stored
	// user handle does not match the authenticated user. Never silently
	// corrected; doing so would allow credential confusion across accounts.
	ErrWrongUserHandle = errors.New("ceremony user handle does not match the authenticated user")

	// ErrKeyNotFound is returned when no stored credential matches the
	// asserted credential ID, or the matched credential has no owning user.
	ErrKeyNotFound = errors.New("authentication key not found")

	// ErrPasskeyRequired is returned when the matched credential is not a
	// passkey but the flow requires one.
	ErrPasskeyRequired = errors.New("credential is not a passkey")

	// ErrNoChallenge is returned when a verification is attempted without a
	// pending ceremony challenge for the purpose, including a second
	// attempt against an already-consumed challenge.
	ErrNoChallenge = errors.New("no pending ceremony challenge")

	// ErrUserNotFound is returned when a user cannot be found.
	ErrUserNotFound = errors.New("user not found")

	// ErrCredentialAlreadyExists is returned when attempting to register a
	// duplicate credential ID.
	ErrCredentialAlreadyExists = errors.New("credential already exists")

	// ErrCredentialNotFound is returned when a credential cannot be found
	// by its external credential ID.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrNoCredentials is returned when a user has no registered credentials.
	ErrNoCredentials = errors.New("user has no registered credentials")

	// ErrNotConfigured is returned when the engine is not properly configured.
	ErrNotConfigured = errors.New("webauthn engine not configured")
)

// CeremonyError wraps a ceremony failure with the failing operation and the
// underlying validation detail.
type CeremonyError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *CeremonyError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *CeremonyError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *CeremonyError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new CeremonyError with the given operation and error.
func NewError(op string, err error) error {
	return &CeremonyError{
		Op:  op,
		Err: err,
	}
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, err)
}

// failCeremony chains a sentinel onto the underlying validation failure so
// that errors.Is matches the sentinel while Unwrap preserves the detail for
// operator logging.
func failCeremony(op string, sentinel, cause error) error {
	return &CeremonyError{Op: op, Err: fmt.Errorf("%w: %w", sentinel, cause)}
}

// IsAttestationFailed returns true if the error indicates a failed registration ceremony.
func IsAttestationFailed(err error) bool {
	return errors.Is(err, ErrAttestationFailed)
}

// IsAssertionFailed returns true if the error indicates a failed login ceremony.
func IsAssertionFailed(err error) bool {
	return errors.Is(err, ErrAssertionFailed)
}

// IsKeyNotFound returns true if the error indicates no matching credential.
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsPasskeyRequired returns true if the error indicates a non-passkey
// credential was used where a passkey is required.
func IsPasskeyRequired(err error) bool {
	return errors.Is(err, ErrPasskeyRequired)
}

// IsNoChallenge returns true if the error indicates a missing or already
// consumed ceremony challenge.
func IsNoChallenge(err error) bool {
	return errors.Is(err, ErrNoChallenge)
}

// IsUserNotFound returns true if the error indicates a user was not found.
func IsUserNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

// IsCredentialNotFound returns true if the error indicates a credential was not found.
func IsCredentialNotFound(err error) bool {
	return errors.Is(err, ErrCredentialNotFound)
}
