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
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-stepup/pkg/webauthn"
)

var (
	// ErrInvalidCode indicates the submitted authenticator-app code did not
	// match any of the user's enrolled secrets. Recoverable.
	ErrInvalidCode = errors.New("invalid authentication code")

	// ErrInvalidRecoveryCode indicates the submitted recovery code did not
	// match any code in the user's set. Recoverable.
	ErrInvalidRecoveryCode = errors.New("invalid recovery code")

	// ErrInvalidPassword indicates the submitted password did not match the
	// user's stored hash. Recoverable.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrNoPendingUser indicates a challenge operation was invoked without a
	// pending challenged user in the session. This is a caller integration
	// bug, not a user input failure, and is never stored in the challenge
	// error slot.
	ErrNoPendingUser = errors.New("no pending challenge user in session")

	// ErrModeUnavailable indicates the requested mode is not among the
	// modes available to the challenged user.
	ErrModeUnavailable = errors.New("authentication mode not available")
)

// ThrottledError is returned when confirmation attempts exceed the rate
// limit. The throttled attempt itself consumes nothing from the budget.
type ThrottledError struct {
	// RetryAfter is how long until the next attempt becomes available.
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter)
}

// IsThrottled returns true if the error indicates rate limiting.
func IsThrottled(err error) bool {
	var throttled *ThrottledError
	return errors.As(err, &throttled)
}

// recoverable reports whether a validation failure should be recorded in
// the challenge error slot and leave the machine retryable. Everything
// else propagates to the caller as a fatal error.
func recoverable(err error) bool {
	if errors.Is(err, ErrInvalidCode) ||
		errors.Is(err, ErrInvalidRecoveryCode) ||
		errors.Is(err, ErrInvalidPassword) ||
		errors.Is(err, ErrModeUnavailable) {
		return true
	}
	var ceremony *webauthn.CeremonyError
	return errors.As(err, &ceremony)
}
