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
	"fmt"
	"net/http"
	"testing"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-stepup/pkg/events"
	"github.com/jeremyhahn/go-stepup/pkg/stepup"
	"github.com/jeremyhahn/go-stepup/pkg/totp"
	"github.com/jeremyhahn/go-stepup/pkg/webauthn"
)

func TestSudo_InactiveByDefault(t *testing.T) {
	f := newRestFixture(t)
	f.loginAlice(t)

	resp, payload := f.do(t, http.MethodGet, "/api/v1/sudo", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status := decode[SudoStatusResponse](t, payload)
	assert.False(t, status.Active)
	assert.Zero(t, status.RemainingSeconds)
}

func TestSudo_RequiresAuthentication(t *testing.T) {
	f := newRestFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/api/v1/sudo", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSudo_ConfirmActivatesWindow(t *testing.T) {
	f := newRestFixture(t)
	f.loginAlice(t)

	resp, payload := f.do(t, http.MethodPost, "/api/v1/sudo/begin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decode[ChallengeResponse](t, payload)
	assert.Equal(t, stepup.ModeApp, state.Mode)
	assert.NotContains(t, state.Alternates, stepup.ModeRecovery)
	assert.Contains(t, state.Alternates, stepup.ModePassword)

	resp, payload = f.do(t, http.MethodPost, "/api/v1/sudo/confirm", ConfirmRequest{
		Code: f.currentCode(t, f.totpCred),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[SudoStatusResponse](t, payload)
	assert.True(t, status.Active)
	assert.InDelta(t, int64(stepup.DefaultSudoWindow.Seconds()), status.RemainingSeconds, 5)

	assert.Len(t, f.sink.Named(events.SudoActivated), 1)
}

func TestSudo_PasswordMode(t *testing.T) {
	f := newRestFixture(t)
	f.loginAlice(t)

	resp, _ := f.do(t, http.MethodPost, "/api/v1/sudo/begin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, payload := f.do(t, http.MethodPost, "/api/v1/sudo/mode", SelectModeRequest{
		Mode: stepup.ModePassword,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decode[ChallengeResponse](t, payload)
	assert.Equal(t, stepup.ModePassword, state.Mode)

	resp, payload = f.do(t, http.MethodPost, "/api/v1/sudo/confirm", ConfirmRequest{
		Password: "wrong",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	failed := decode[ChallengeResponse](t, payload)
	assert.Equal(t, "invalid password", failed.Error)

	resp, payload = f.do(t, http.MethodPost, "/api/v1/sudo/confirm", ConfirmRequest{
		Password: testPassword,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[SudoStatusResponse](t, payload)
	assert.True(t, status.Active)
}

func TestSudo_RecoveryModeRejected(t *testing.T) {
	f := newRestFixture(t)
	f.loginAlice(t)

	resp, _ := f.do(t, http.MethodPost, "/api/v1/sudo/begin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/sudo/mode", SelectModeRequest{
		Mode: stepup.ModeRecovery,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSudo_Deactivate(t *testing.T) {
	f := newRestFixture(t)
	f.loginAlice(t)
	f.activateSudo(t)

	resp, _ := f.do(t, http.MethodDelete, "/api/v1/sudo", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, payload := f.do(t, http.MethodGet, "/api/v1/sudo", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[SudoStatusResponse](t, payload)
	assert.False(t, status.Active)
}

// activateSudo confirms a step-up challenge with the authenticator app.
func (f *restFixture) activateSudo(t *testing.T) {
	t.Helper()

	resp, _ := f.do(t, http.MethodPost, "/api/v1/sudo/begin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/sudo/confirm", ConfirmRequest{
		Code: f.currentCode(t, f.totpCred),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSudoGate_BlocksWithoutWindow(t *testing.T) {
	f := newRestFixture(t)
	f.loginAlice(t)

	resp, payload := f.do(t, http.MethodPost, "/api/v1/recovery/regenerate", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	failed := decode[ErrorResponse](t, payload)
	assert.Equal(t, "step-up confirmation required", failed.Error)
}

func TestRecoveryRegenerate(t *testing.T) {
	f := newRestFixture(t)
	f.loginAlice(t)
	f.activateSudo(t)

	resp, payload := f.do(t, http.MethodPost, "/api/v1/recovery/regenerate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	regenerated := decode[RecoveryCodesResponse](t, payload)
	require.Len(t, regenerated.Codes, 4)
	assert.NotEqual(t, f.codes, regenerated.Codes)

	assert.Len(t, f.sink.Named(events.RecoveryCodesRegenerated), 1)
}

func TestTOTPDelete_SudoGated(t *testing.T) {
	f := newRestFixture(t)
	f.loginAlice(t)

	path := fmt.Sprintf("/api/v1/totp/%s", f.totpCred.ID)

	resp, _ := f.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	f.activateSudo(t)

	resp, _ = f.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, payload := f.do(t, http.MethodGet, "/api/v1/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[UserResponse](t, payload)
	assert.False(t, me.HasTOTP)

	resp, _ = f.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Len(t, f.sink.Named(events.TOTPRemoved), 1)
}

func TestTOTPEnrollment(t *testing.T) {
	f := newRestFixture(t)
	f.createAndLogin(t, "bob@example.com")

	resp, payload := f.do(t, http.MethodPost, "/api/v1/totp/enroll", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	enrolled := decode[TOTPEnrollResponse](t, payload)
	require.NotEmpty(t, enrolled.Secret)
	assert.Contains(t, enrolled.URL, "otpauth://")

	// A wrong code keeps the enrollment pending
	resp, _ = f.do(t, http.MethodPost, "/api/v1/totp/confirm", TOTPConfirmRequest{Code: "000000"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	code := f.currentCode(t, &totp.Credential{Secret: enrolled.Secret})

	resp, payload = f.do(t, http.MethodPost, "/api/v1/totp/confirm", TOTPConfirmRequest{Code: code})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	confirmed := decode[TOTPConfirmResponse](t, payload)
	require.NotNil(t, confirmed.User)
	assert.True(t, confirmed.User.HasTOTP)
	assert.True(t, confirmed.User.HasRecoveryCodes)

	// First factor enrollment provisions the recovery code set
	require.Len(t, confirmed.RecoveryCodes, 4)

	// The pending enrollment was consumed
	resp, _ = f.do(t, http.MethodPost, "/api/v1/totp/confirm", TOTPConfirmRequest{Code: code})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	assert.Len(t, f.sink.Named(events.TOTPEnrolled), 1)
}

func TestWebAuthnRegistrationAndManagement(t *testing.T) {
	f := newRestFixture(t)
	f.createAndLogin(t, "bob@example.com")

	mock, err := webauthn.NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	resp, payload := f.do(t, http.MethodPost, "/api/v1/webauthn/register/begin",
		BeginRegistrationRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	options := decode[protocol.CredentialCreation](t, payload)
	attestation, err := mock.AttestationResponse([]byte(options.Response.Challenge), testOrigin)
	require.NoError(t, err)

	resp, payload = f.do(t, http.MethodPost, "/api/v1/webauthn/register/finish",
		FinishRegistrationRequest{Name: "yubikey", Response: attestation})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decode[CredentialResponse](t, payload)
	assert.Equal(t, "yubikey", created.Name)
	assert.False(t, created.Passkey)

	resp, payload = f.do(t, http.MethodGet, "/api/v1/webauthn/credentials", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decode[[]*CredentialResponse](t, payload)
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	// Rename needs no sudo window
	resp, _ = f.do(t, http.MethodPatch, "/api/v1/webauthn/credentials/"+created.ID,
		RenameCredentialRequest{Name: "backup key"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, payload = f.do(t, http.MethodGet, "/api/v1/webauthn/credentials", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed = decode[[]*CredentialResponse](t, payload)
	require.Len(t, listed, 1)
	assert.Equal(t, "backup key", listed[0].Name)

	// Deletion is sudo gated
	resp, _ = f.do(t, http.MethodDelete, "/api/v1/webauthn/credentials/"+created.ID, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	assert.Len(t, f.sink.Named(events.CredentialRegistered), 1)
}

func TestWebAuthnRegistration_ConsumedChallenge(t *testing.T) {
	f := newRestFixture(t)
	f.createAndLogin(t, "bob@example.com")

	mock, err := webauthn.NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	resp, payload := f.do(t, http.MethodPost, "/api/v1/webauthn/register/begin",
		BeginRegistrationRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	options := decode[protocol.CredentialCreation](t, payload)
	attestation, err := mock.AttestationResponse([]byte(options.Response.Challenge), testOrigin)
	require.NoError(t, err)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/webauthn/register/finish",
		FinishRegistrationRequest{Name: "yubikey", Response: attestation})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Replaying the same ceremony fails: the challenge is gone
	resp, _ = f.do(t, http.MethodPost, "/api/v1/webauthn/register/finish",
		FinishRegistrationRequest{Name: "yubikey", Response: attestation})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPasskeyLogin(t *testing.T) {
	f := newRestFixture(t)
	f.createAndLogin(t, "bob@example.com")

	mock, err := webauthn.NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	// Register through the passkey profile
	resp, payload := f.do(t, http.MethodPost, "/api/v1/webauthn/register/begin",
		BeginRegistrationRequest{Passkey: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	options := decode[protocol.CredentialCreation](t, payload)
	attestation, err := mock.AttestationResponse([]byte(options.Response.Challenge), testOrigin)
	require.NoError(t, err)

	resp, payload = f.do(t, http.MethodPost, "/api/v1/webauthn/register/finish",
		FinishRegistrationRequest{Name: "passkey", Passkey: true, Response: attestation})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[CredentialResponse](t, payload)
	assert.True(t, created.Passkey)

	resp, payload = f.do(t, http.MethodGet, "/api/v1/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[UserResponse](t, payload)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/logout", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Userless login with the discoverable credential
	resp, payload = f.do(t, http.MethodPost, "/api/v1/login/passkey/begin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assertionOptions := decode[protocol.CredentialAssertion](t, payload)
	assert.Empty(t, assertionOptions.Response.AllowedCredentials)

	userID, err := base64.RawURLEncoding.DecodeString(me.ID)
	require.NoError(t, err)
	assertion, err := mock.AssertionResponse([]byte(assertionOptions.Response.Challenge), userID, testOrigin)
	require.NoError(t, err)

	resp, payload = f.doRaw(t, http.MethodPost, "/api/v1/login/passkey/finish", assertion)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	login := decode[LoginResponse](t, payload)
	assert.True(t, login.Authenticated)
	require.NotNil(t, login.User)
	assert.Equal(t, "bob@example.com", login.User.Username)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/me", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPasskeyLogin_NoPendingChallenge(t *testing.T) {
	f := newRestFixture(t)

	resp, _ := f.doRaw(t, http.MethodPost, "/api/v1/login/passkey/finish", []byte("{}"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
