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

// Package stepup implements the MFA and sudo (step-up re-authentication)
// challenge flows on top of the WebAuthn ceremony engine and the TOTP and
// recovery code validators.
//
// Both flows are driven by the same Challenge machine; a Strategy supplies
// what differs between them. The MFA strategy offers authenticator-app
// codes, WebAuthn assertions and recovery codes, and promotes the
// challenged user into a durable session confirmation marker. The sudo
// strategy offers authenticator-app codes, WebAuthn assertions and the
// account password, never recovery codes, and activates a sliding
// re-authentication window on success.
//
// A challenge opens only for a user that has already passed a primary
// authentication factor:
//
//	state, err := mfa.Begin(ctx, userID, remember)
//	...
//	state, err = mfa.Confirm(ctx, stepup.Proof{Code: submitted})
//	if state.Confirmed {
//		// finalize the login
//	}
//
// Proof validation runs inside a minimum-duration pad so success and
// failure are not distinguishable by response time, and confirmation
// attempts may be throttled with a ratelimit.AttemptLimiter.
package stepup
