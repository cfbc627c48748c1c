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
	"testing"

	"github.com/descope/virtualwebauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRelyingParty(cfg *Config) virtualwebauthn.RelyingParty {
	return virtualwebauthn.RelyingParty{
		Name:   cfg.RPDisplayName,
		ID:     cfg.RPID,
		Origin: cfg.RPOrigins[0],
	}
}

// TestIntegration_RegistrationAndLogin tests the complete registration and
// login ceremonies using a virtual authenticator.
func TestIntegration_RegistrationAndLogin(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, nil)
	cfg := engine.Config()

	rp := testRelyingParty(cfg)
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	user := NewDefaultUser([]byte("user-1"), "alice@example.com", "Alice")
	require.NoError(t, engine.Users().Save(ctx, user))

	// === REGISTRATION ===

	options, sd, err := engine.BeginAttestation(ctx, user, AttestationParams{})
	require.NoError(t, err)
	require.NotNil(t, options)

	assert.Equal(t, cfg.RPID, options.Response.RelyingParty.ID)
	assert.Equal(t, cfg.RPDisplayName, options.Response.RelyingParty.Name)
	assert.Equal(t, "alice@example.com", options.Response.User.Name)
	assert.NotEmpty(t, options.Response.Challenge)

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)

	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)

	attestationResponse := virtualwebauthn.CreateAttestationResponse(rp, authenticator, credential, *parsedOptions)

	cred, err := engine.FinishAttestation(ctx, user, sd, []byte(attestationResponse), RegistrationMetadata{
		Name: "virtual key",
	})
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "virtual key", cred.Name)
	assert.False(t, cred.IsPasskey)

	authenticator.AddCredential(credential)

	creds, err := engine.ListCredentials(ctx, user.WebAuthnID())
	require.NoError(t, err)
	assert.Len(t, creds, 1)

	// === LOGIN ===

	loginOptions, loginSD, err := engine.BeginAssertion(ctx, user, false)
	require.NoError(t, err)
	require.NotNil(t, loginOptions)

	assert.NotEmpty(t, loginOptions.Response.Challenge)
	assert.Equal(t, cfg.RPID, loginOptions.Response.RelyingPartyID)
	assert.Len(t, loginOptions.Response.AllowedCredentials, 1)

	loginOptionsJSON, err := json.Marshal(loginOptions.Response)
	require.NoError(t, err)

	parsedLoginOptions, err := virtualwebauthn.ParseAssertionOptions(string(loginOptionsJSON))
	require.NoError(t, err)

	assertionResponse := virtualwebauthn.CreateAssertionResponse(rp, authenticator, credential, *parsedLoginOptions)

	used, err := engine.FinishAssertion(ctx, user, loginSD, []byte(assertionResponse), false)
	require.NoError(t, err)
	assert.Equal(t, cred.ID, used.ID)
	assert.False(t, used.LastUsedAt.IsZero())
}

// TestIntegration_PasskeyFlow registers a passkey and authenticates through
// a passkey-gated assertion.
func TestIntegration_PasskeyFlow(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, nil)
	cfg := engine.Config()

	rp := testRelyingParty(cfg)
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	user := NewDefaultUser([]byte("user-passkey"), "passkey@example.com", "Passkey User")
	require.NoError(t, engine.Users().Save(ctx, user))

	options, sd, err := engine.BeginAttestation(ctx, user, AttestationParams{Passkey: true})
	require.NoError(t, err)

	// The passkey profile demands a resident, user-verified credential
	selection := options.Response.AuthenticatorSelection
	assert.Equal(t, "platform", string(selection.AuthenticatorAttachment))
	assert.Equal(t, "required", string(selection.ResidentKey))
	assert.Equal(t, "required", string(selection.UserVerification))

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)

	attestationResponse := virtualwebauthn.CreateAttestationResponse(rp, authenticator, credential, *parsedOptions)

	cred, err := engine.FinishAttestation(ctx, user, sd, []byte(attestationResponse), RegistrationMetadata{
		Name:    "iCloud passkey",
		Passkey: true,
	})
	require.NoError(t, err)
	assert.True(t, cred.IsPasskey)

	authenticator.AddCredential(credential)

	loginOptions, loginSD, err := engine.BeginAssertion(ctx, user, true)
	require.NoError(t, err)

	loginOptionsJSON, _ := json.Marshal(loginOptions.Response)
	parsedLoginOptions, err := virtualwebauthn.ParseAssertionOptions(string(loginOptionsJSON))
	require.NoError(t, err)

	assertionResponse := virtualwebauthn.CreateAssertionResponse(rp, authenticator, credential, *parsedLoginOptions)

	used, err := engine.FinishAssertion(ctx, user, loginSD, []byte(assertionResponse), true)
	require.NoError(t, err)
	assert.True(t, used.IsPasskey)
}

// TestIntegration_DiscoverableLogin tests userless (passkey autofill) login:
// no user context, empty allow-list, owner resolved from the asserted
// credential's user handle.
func TestIntegration_DiscoverableLogin(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, nil)
	cfg := engine.Config()

	rp := testRelyingParty(cfg)
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	user := NewDefaultUser([]byte("user-disc"), "disc@example.com", "Discoverable User")
	require.NoError(t, engine.Users().Save(ctx, user))

	// Register through the passkey profile
	options, sd, err := engine.BeginAttestation(ctx, user, AttestationParams{Passkey: true})
	require.NoError(t, err)

	optionsJSON, _ := json.Marshal(options.Response)
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)

	attestationResponse := virtualwebauthn.CreateAttestationResponse(rp, authenticator, credential, *parsedOptions)
	_, err = engine.FinishAttestation(ctx, user, sd, []byte(attestationResponse), RegistrationMetadata{Passkey: true})
	require.NoError(t, err)

	// Userless login: empty allow-list
	loginOptions, loginSD, err := engine.BeginAssertion(ctx, nil, false)
	require.NoError(t, err)
	assert.Empty(t, loginOptions.Response.AllowedCredentials)

	loginOptionsJSON, _ := json.Marshal(loginOptions.Response)
	parsedLoginOptions, err := virtualwebauthn.ParseAssertionOptions(string(loginOptionsJSON))
	require.NoError(t, err)

	// The discoverable credential carries the user handle
	discoverableAuth := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: user.WebAuthnID(),
	})
	discoverableAuth.AddCredential(credential)

	assertionResponse := virtualwebauthn.CreateAssertionResponse(rp, discoverableAuth, credential, *parsedLoginOptions)

	used, err := engine.FinishAssertion(ctx, nil, loginSD, []byte(assertionResponse), true)
	require.NoError(t, err)
	assert.Equal(t, user.WebAuthnID(), used.UserID)
}

// TestIntegration_MultipleCredentials registers two authenticators for one
// user and logs in with each.
func TestIntegration_MultipleCredentials(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, nil)
	cfg := engine.Config()
	rp := testRelyingParty(cfg)

	user := NewDefaultUser([]byte("user-multi"), "multi@example.com", "Multi Cred User")
	require.NoError(t, engine.Users().Save(ctx, user))

	authenticator1 := virtualwebauthn.NewAuthenticator()
	credential1 := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	authenticator2 := virtualwebauthn.NewAuthenticator()
	credential2 := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	register := func(authenticator *virtualwebauthn.Authenticator, credential *virtualwebauthn.Credential, name string) {
		options, sd, err := engine.BeginAttestation(ctx, user, AttestationParams{})
		require.NoError(t, err)

		optionsJSON, _ := json.Marshal(options.Response)
		parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
		require.NoError(t, err)

		attestationResponse := virtualwebauthn.CreateAttestationResponse(rp, *authenticator, *credential, *parsedOptions)
		_, err = engine.FinishAttestation(ctx, user, sd, []byte(attestationResponse), RegistrationMetadata{Name: name})
		require.NoError(t, err)
		authenticator.AddCredential(*credential)
	}

	login := func(authenticator *virtualwebauthn.Authenticator, credential *virtualwebauthn.Credential) {
		options, sd, err := engine.BeginAssertion(ctx, user, false)
		require.NoError(t, err)

		optionsJSON, _ := json.Marshal(options.Response)
		parsedOptions, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
		require.NoError(t, err)

		assertionResponse := virtualwebauthn.CreateAssertionResponse(rp, *authenticator, *credential, *parsedOptions)
		_, err = engine.FinishAssertion(ctx, user, sd, []byte(assertionResponse), false)
		require.NoError(t, err)
	}

	register(&authenticator1, &credential1, "first key")

	// The second registration must exclude the first credential
	options, sd, err := engine.BeginAttestation(ctx, user, AttestationParams{})
	require.NoError(t, err)
	assert.Len(t, options.Response.CredentialExcludeList, 1)

	optionsJSON, _ := json.Marshal(options.Response)
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)
	attestationResponse := virtualwebauthn.CreateAttestationResponse(rp, authenticator2, credential2, *parsedOptions)
	_, err = engine.FinishAttestation(ctx, user, sd, []byte(attestationResponse), RegistrationMetadata{Name: "second key"})
	require.NoError(t, err)
	authenticator2.AddCredential(credential2)

	creds, err := engine.ListCredentials(ctx, user.WebAuthnID())
	require.NoError(t, err)
	assert.Len(t, creds, 2)

	login(&authenticator1, &credential1)
	login(&authenticator2, &credential2)
}

// TestIntegration_SignCount verifies the stored counter tracks the
// authenticator's counter across successive logins.
func TestIntegration_SignCount(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, nil)
	cfg := engine.Config()
	rp := testRelyingParty(cfg)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	user := NewDefaultUser([]byte("user-count"), "count@example.com", "Count User")
	require.NoError(t, engine.Users().Save(ctx, user))

	options, sd, err := engine.BeginAttestation(ctx, user, AttestationParams{})
	require.NoError(t, err)
	optionsJSON, _ := json.Marshal(options.Response)
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)
	attestationResponse := virtualwebauthn.CreateAttestationResponse(rp, authenticator, credential, *parsedOptions)
	_, err = engine.FinishAttestation(ctx, user, sd, []byte(attestationResponse), RegistrationMetadata{})
	require.NoError(t, err)
	authenticator.AddCredential(credential)

	creds, err := engine.ListCredentials(ctx, user.WebAuthnID())
	require.NoError(t, err)
	assert.Equal(t, uint32(0), creds[0].Authenticator.SignCount)

	numLogins := 3
	for i := 0; i < numLogins; i++ {
		credential.Counter++

		loginOptions, loginSD, err := engine.BeginAssertion(ctx, user, false)
		require.NoError(t, err)
		loginOptionsJSON, _ := json.Marshal(loginOptions.Response)
		parsedLoginOptions, err := virtualwebauthn.ParseAssertionOptions(string(loginOptionsJSON))
		require.NoError(t, err)
		assertionResponse := virtualwebauthn.CreateAssertionResponse(rp, authenticator, credential, *parsedLoginOptions)

		_, err = engine.FinishAssertion(ctx, user, loginSD, []byte(assertionResponse), false)
		require.NoError(t, err)
	}

	creds, err = engine.ListCredentials(ctx, user.WebAuthnID())
	require.NoError(t, err)
	assert.Equal(t, uint32(numLogins), creds[0].Authenticator.SignCount)
}
