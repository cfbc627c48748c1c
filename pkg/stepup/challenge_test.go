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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-stepup/pkg/events"
	"github.com/jeremyhahn/go-stepup/pkg/ratelimit"
	"github.com/jeremyhahn/go-stepup/pkg/webauthn"
)

// wrongCode returns a six digit string that is not the current code.
func wrongCode(current string) string {
	if current == "000000" {
		return "111111"
	}
	return "000000"
}

func TestNewChallenge_RequiresDependencies(t *testing.T) {
	f := newFixture(t)

	_, err := NewChallenge(ChallengeParams{})
	assert.ErrorContains(t, err, "strategy is required")

	_, err = NewChallenge(ChallengeParams{Strategy: f.mfa})
	assert.ErrorContains(t, err, "session context is required")

	_, err = NewChallenge(ChallengeParams{Strategy: f.mfa, Session: f.mfaSess})
	assert.ErrorContains(t, err, "user store is required")
}

func TestChallenge_BeginPrefersApp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	state, err := f.mfaChallenge.Begin(ctx, f.user.ID, true)
	require.NoError(t, err)

	assert.Equal(t, ModeApp, state.Mode)
	assert.Equal(t, f.user.ID, state.UserID)
	assert.True(t, state.Remember)
	assert.Equal(t, []Mode{ModeRecovery}, state.Alternates)
	assert.Len(t, f.sink.Named(events.MFAChallenged), 1)
}

func TestChallenge_StateWithoutBegin(t *testing.T) {
	f := newFixture(t)

	_, err := f.mfaChallenge.State(context.Background())
	assert.ErrorIs(t, err, ErrNoPendingUser)

	_, err = f.mfaChallenge.Confirm(context.Background(), Proof{Code: "123456"})
	assert.ErrorIs(t, err, ErrNoPendingUser)
}

func TestChallenge_SelectMode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mfaChallenge.Begin(ctx, f.user.ID, false)
	require.NoError(t, err)

	// A failed attempt leaves an error in the slot.
	_, err = f.mfaChallenge.Confirm(ctx, Proof{Code: wrongCode(f.currentCode(t))})
	require.ErrorIs(t, err, ErrInvalidCode)
	state, err := f.mfaChallenge.State(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, state.Error)

	// Switching modes clears it.
	state, err = f.mfaChallenge.SelectMode(ctx, ModeRecovery)
	require.NoError(t, err)
	assert.Equal(t, ModeRecovery, state.Mode)
	assert.Empty(t, state.Error)
	assert.False(t, state.WebAuthnFailed)
	assert.Equal(t, []Mode{ModeApp}, state.Alternates)

	// Modes the user does not have are refused.
	_, err = f.mfaChallenge.SelectMode(ctx, ModePassword)
	assert.ErrorIs(t, err, ErrModeUnavailable)
}

func TestChallenge_ConfirmTOTP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mfaChallenge.Begin(ctx, f.user.ID, false)
	require.NoError(t, err)

	state, err := f.mfaChallenge.Confirm(ctx, Proof{Code: f.currentCode(t)})
	require.NoError(t, err)
	assert.True(t, state.Confirmed)
	assert.Empty(t, state.Error)

	// The challenge state is replaced by the durable marker.
	_, err = f.mfaChallenge.State(ctx)
	assert.ErrorIs(t, err, ErrNoPendingUser)
	confirmed, err := f.mfa.ConfirmedUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, confirmed)

	// The matched credential is stamped at the frozen validation time.
	u := f.reload(t)
	assert.Equal(t, f.clock.Now().UTC(), u.TOTPCredentials[0].LastUsedAt)

	assert.Len(t, f.sink.Named(events.TOTPUsed), 1)
	assert.Len(t, f.sink.Named(events.MFAConfirmed), 1)
}

func TestChallenge_ConfirmWrongCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mfaChallenge.Begin(ctx, f.user.ID, false)
	require.NoError(t, err)

	state, err := f.mfaChallenge.Confirm(ctx, Proof{Code: wrongCode(f.currentCode(t))})
	require.ErrorIs(t, err, ErrInvalidCode)
	assert.False(t, state.Confirmed)
	assert.Equal(t, ErrInvalidCode.Error(), state.Error)

	// The machine stays retryable in the same mode.
	state, err = f.mfaChallenge.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeApp, state.Mode)

	confirmed, err := f.mfa.ConfirmedUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, confirmed)
	assert.Empty(t, f.sink.Named(events.MFAConfirmed))

	// A correct code afterwards still succeeds.
	state, err = f.mfaChallenge.Confirm(ctx, Proof{Code: f.currentCode(t)})
	require.NoError(t, err)
	assert.True(t, state.Confirmed)
}

func TestChallenge_Throttled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	limiter := ratelimit.New(&ratelimit.Config{
		Enabled:  true,
		Attempts: 2,
		Window:   time.Minute,
	})
	t.Cleanup(limiter.Stop)

	challenge, err := NewChallenge(ChallengeParams{
		Strategy:  f.mfa,
		Session:   f.mfaSess,
		Users:     f.users,
		Limiter:   limiter,
		Pad:       time.Millisecond,
		EventSink: f.sink,
		Clock:     f.clock.Now,
	})
	require.NoError(t, err)

	_, err = challenge.Begin(ctx, f.user.ID, false)
	require.NoError(t, err)

	bad := Proof{Code: wrongCode(f.currentCode(t))}
	_, err = challenge.Confirm(ctx, bad)
	require.ErrorIs(t, err, ErrInvalidCode)
	_, err = challenge.Confirm(ctx, bad)
	require.ErrorIs(t, err, ErrInvalidCode)

	_, err = challenge.Confirm(ctx, bad)
	require.True(t, IsThrottled(err))
	var throttled *ThrottledError
	require.ErrorAs(t, err, &throttled)
	assert.Greater(t, throttled.RetryAfter, time.Duration(0))

	// The throttled attempt did not touch the error slot.
	state, err := challenge.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, ErrInvalidCode.Error(), state.Error)
}

func TestChallenge_RecoverySingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mfaChallenge.Begin(ctx, f.user.ID, false)
	require.NoError(t, err)
	_, err = f.mfaChallenge.SelectMode(ctx, ModeRecovery)
	require.NoError(t, err)

	used := f.codes[1]
	state, err := f.mfaChallenge.Confirm(ctx, Proof{Code: used})
	require.NoError(t, err)
	assert.True(t, state.Confirmed)
	assert.Len(t, f.sink.Named(events.RecoveryCodeReplaced), 1)

	// The set keeps its size, the used code is replaced in position and
	// the other codes survive untouched.
	u := f.reload(t)
	codes, err := f.sealer.Open(u.RecoveryCodes)
	require.NoError(t, err)
	require.Len(t, codes, 4)
	assert.NotEqual(t, used, codes[1])
	assert.Equal(t, f.codes[0], codes[0])
	assert.Equal(t, f.codes[2], codes[2])
	assert.Equal(t, f.codes[3], codes[3])

	// The consumed code is spent.
	require.NoError(t, f.mfa.ClearConfirmed(ctx))
	_, err = f.mfaChallenge.Begin(ctx, f.user.ID, false)
	require.NoError(t, err)
	_, err = f.mfaChallenge.SelectMode(ctx, ModeRecovery)
	require.NoError(t, err)
	_, err = f.mfaChallenge.Confirm(ctx, Proof{Code: used})
	assert.ErrorIs(t, err, ErrInvalidRecoveryCode)
}

func TestChallenge_WebAuthnMode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mock := f.registerKey(t)

	state, err := f.mfaChallenge.Begin(ctx, f.user.ID, false)
	require.NoError(t, err)
	assert.Equal(t, ModeApp, state.Mode)
	assert.Equal(t, []Mode{ModeWebAuthn, ModeRecovery}, state.Alternates)

	_, err = f.mfaChallenge.SelectMode(ctx, ModeWebAuthn)
	require.NoError(t, err)

	options, err := f.mfa.BeginAssertion(ctx, f.user)
	require.NoError(t, err)
	body, err := mock.AssertionResponse(
		challengeBytes(t, options.Response.Challenge.String()), f.user.ID, testOrigin)
	require.NoError(t, err)

	state, err = f.mfaChallenge.Confirm(ctx, Proof{WebAuthnResponse: body})
	require.NoError(t, err)
	assert.True(t, state.Confirmed)
	assert.Len(t, f.sink.Named(events.CredentialUsed), 1)
	assert.Len(t, f.sink.Named(events.MFAConfirmed), 1)
}

func TestChallenge_WebAuthnFailureConsumesChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mock := f.registerKey(t)

	_, err := f.mfaChallenge.Begin(ctx, f.user.ID, false)
	require.NoError(t, err)
	_, err = f.mfaChallenge.SelectMode(ctx, ModeWebAuthn)
	require.NoError(t, err)

	options, err := f.mfa.BeginAssertion(ctx, f.user)
	require.NoError(t, err)
	challenge := challengeBytes(t, options.Response.Challenge.String())

	// A malformed response fails but still consumes the pending challenge.
	state, err := f.mfaChallenge.Confirm(ctx, Proof{WebAuthnResponse: []byte("{}")})
	require.Error(t, err)
	assert.True(t, state.WebAuthnFailed)
	assert.Equal(t, "security key verification failed", state.Error)

	// A now-valid response cannot be replayed against the consumed options.
	body, err := mock.AssertionResponse(challenge, f.user.ID, testOrigin)
	require.NoError(t, err)
	_, err = f.mfaChallenge.Confirm(ctx, Proof{WebAuthnResponse: body})
	require.Error(t, err)
	assert.True(t, webauthn.IsNoChallenge(err))
}

func TestChallenge_ConfirmIssuesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i + 1)
	}
	issuer, err := NewTokenIssuer(TokenIssuerParams{SigningKey: secret, Clock: f.clock.Now})
	require.NoError(t, err)

	challenge, err := NewChallenge(ChallengeParams{
		Strategy:    f.mfa,
		Session:     f.mfaSess,
		Users:       f.users,
		Pad:         time.Millisecond,
		EventSink:   f.sink,
		TokenIssuer: issuer,
		Clock:       f.clock.Now,
	})
	require.NoError(t, err)

	_, err = challenge.Begin(ctx, f.user.ID, false)
	require.NoError(t, err)
	state, err := challenge.Confirm(ctx, Proof{Code: f.currentCode(t)})
	require.NoError(t, err)
	require.NotEmpty(t, state.Token)

	claims, err := issuer.Verify(state.Token)
	require.NoError(t, err)
	subject, err := Subject(claims)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, subject)
}

func TestChallenge_BeginReplacesPrior(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mfaChallenge.Begin(ctx, f.user.ID, false)
	require.NoError(t, err)
	_, err = f.mfaChallenge.SelectMode(ctx, ModeRecovery)
	require.NoError(t, err)

	state, err := f.mfaChallenge.Begin(ctx, f.user.ID, true)
	require.NoError(t, err)
	assert.Equal(t, ModeApp, state.Mode)
	assert.True(t, state.Remember)
}

func TestChallenge_Abandon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mfaChallenge.Begin(ctx, f.user.ID, false)
	require.NoError(t, err)
	require.NoError(t, f.mfaChallenge.Abandon(ctx))

	_, err = f.mfaChallenge.State(ctx)
	assert.ErrorIs(t, err, ErrNoPendingUser)
}

func TestChallenge_RecoveryBlobStaysSealed(t *testing.T) {
	f := newFixture(t)

	// The persisted blob never contains a plaintext code.
	u := f.reload(t)
	for _, code := range f.codes {
		assert.NotContains(t, string(u.RecoveryCodes), code)
	}
}
