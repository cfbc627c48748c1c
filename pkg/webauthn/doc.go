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

// Package webauthn implements the WebAuthn ceremony engine for go-stepup.
//
// The engine builds ceremony options and verifies client responses for four
// flows: security key registration, passkey registration, authentication
// against a known user's allow-list, and userless (passkey autofill)
// authentication with an empty allow-list. Passkey ceremonies use a separate
// profile with platform attachment, required user verification, required
// resident keys, and a longer timeout.
//
// Challenge state between the begin and finish halves of a ceremony is held
// in a session-scoped ChallengeStore. A stored challenge is single-use: it is
// consumed (read and deleted) before verification, so a failed attempt cannot
// be retried against the same challenge.
//
// Basic usage:
//
//	engine, err := webauthn.NewEngine(webauthn.EngineParams{
//		Config: &webauthn.Config{
//			RPID:          "example.com",
//			RPDisplayName: "Example",
//			RPOrigins:     []string{"https://example.com"},
//		},
//		UserStore:       users,
//		CredentialStore: creds,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	options, sd, err := engine.BeginAttestation(ctx, user, webauthn.AttestationParams{})
//	// send options to the client, store sd in the session...
//	cred, err := engine.FinishAttestation(ctx, user, sd, responseBody,
//		webauthn.RegistrationMetadata{Name: "YubiKey 5"})
//
// Persistence is abstracted behind the UserStore and CredentialStore
// interfaces. In-memory implementations are provided for development and
// testing.
package webauthn
