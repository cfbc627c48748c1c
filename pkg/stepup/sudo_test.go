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
	"github.com/jeremyhahn/go-stepup/pkg/user"
)

func TestSudo_InactiveByDefault(t *testing.T) {
	f := newFixture(t)

	active, err := f.sudo.IsActive(context.Background())
	require.NoError(t, err)
	assert.False(t, active)

	remaining, err := f.sudo.Remaining(context.Background())
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestSudo_ActivateAndExpire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.sudo.Activate(ctx))

	active, err := f.sudo.IsActive(ctx)
	require.NoError(t, err)
	assert.True(t, active)

	f.clock.Advance(2*time.Hour + time.Minute)
	active, err = f.sudo.IsActive(ctx)
	require.NoError(t, err)
	assert.False(t, active)
}

// Re-activating inside the window slides it forward rather than stacking:
// activation at T0 and again at T0+30m keeps sudo active at T0+2h29m and
// expires it by T0+2h31m.
func TestSudo_ReactivationExtendsWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.sudo.Activate(ctx))

	f.clock.Advance(30 * time.Minute)
	require.NoError(t, f.sudo.Activate(ctx))

	f.clock.Advance(time.Hour + 59*time.Minute) // T0 + 2h29m
	active, err := f.sudo.IsActive(ctx)
	require.NoError(t, err)
	assert.True(t, active)

	f.clock.Advance(2 * time.Minute) // T0 + 2h31m
	active, err = f.sudo.IsActive(ctx)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestSudo_Deactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.sudo.Activate(ctx))
	require.NoError(t, f.sudo.Deactivate(ctx))

	active, err := f.sudo.IsActive(ctx)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestSudo_Remaining(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.sudo.Activate(ctx))
	f.clock.Advance(30 * time.Minute)

	remaining, err := f.sudo.Remaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, remaining)
}

func TestSudoStrategy_AvailableModes(t *testing.T) {
	f := newFixture(t)

	// TOTP and password enrolled, no security key.
	assert.Equal(t, []Mode{ModeApp, ModePassword}, f.sudoStrategy.AvailableModes(f.user))

	f.registerKey(t)
	assert.Equal(t, []Mode{ModeApp, ModeWebAuthn, ModePassword},
		f.sudoStrategy.AvailableModes(f.user))

	// A user with no factors at all falls back to password alone.
	bare := &user.User{ID: []byte("bare"), Username: "bare@example.com", PasswordHash: f.user.PasswordHash}
	assert.Equal(t, []Mode{ModePassword}, f.sudoStrategy.AvailableModes(bare))
}

// A policy naming recovery must never surface it for step-up; the caller
// receives password instead.
func TestSudoChallenge_RecoveryNeverOffered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	recoveryFirst := func(available []Mode) Mode { return ModeRecovery }
	challenge, err := NewChallenge(ChallengeParams{
		Strategy:  f.sudoStrategy,
		Session:   f.sudoSess,
		Users:     f.users,
		Policy:    recoveryFirst,
		Pad:       time.Millisecond,
		EventSink: f.sink,
		Clock:     f.clock.Now,
	})
	require.NoError(t, err)

	state, err := challenge.Begin(ctx, f.user.ID, false)
	require.NoError(t, err)
	assert.Equal(t, ModePassword, state.Mode)
	assert.NotContains(t, state.Alternates, ModeRecovery)

	_, err = challenge.SelectMode(ctx, ModeRecovery)
	assert.ErrorIs(t, err, ErrModeUnavailable)
}

func TestSudoStrategy_RejectsRecoveryProof(t *testing.T) {
	f := newFixture(t)

	err := f.sudoStrategy.Validate(context.Background(), f.user, ModeRecovery, Proof{Code: f.codes[0]})
	assert.ErrorIs(t, err, ErrModeUnavailable)
}

func TestSudoChallenge_ConfirmPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sudoChallenge.Begin(ctx, f.user.ID, false)
	require.NoError(t, err)
	_, err = f.sudoChallenge.SelectMode(ctx, ModePassword)
	require.NoError(t, err)

	state, err := f.sudoChallenge.Confirm(ctx, Proof{Password: "not the password"})
	require.ErrorIs(t, err, ErrInvalidPassword)
	assert.Equal(t, ErrInvalidPassword.Error(), state.Error)

	state, err = f.sudoChallenge.Confirm(ctx, Proof{Password: testPassword})
	require.NoError(t, err)
	assert.True(t, state.Confirmed)

	active, err := f.sudo.IsActive(ctx)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Len(t, f.sink.Named(events.SudoActivated), 1)
}

func TestSudoChallenge_ConfirmTOTP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	state, err := f.sudoChallenge.Begin(ctx, f.user.ID, false)
	require.NoError(t, err)
	assert.Equal(t, ModeApp, state.Mode)

	state, err = f.sudoChallenge.Confirm(ctx, Proof{Code: f.currentCode(t)})
	require.NoError(t, err)
	assert.True(t, state.Confirmed)

	active, err := f.sudo.IsActive(ctx)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestSudoChallenge_ConfirmWebAuthn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mock := f.registerKey(t)

	_, err := f.sudoChallenge.Begin(ctx, f.user.ID, false)
	require.NoError(t, err)
	_, err = f.sudoChallenge.SelectMode(ctx, ModeWebAuthn)
	require.NoError(t, err)

	options, err := f.sudoStrategy.BeginAssertion(ctx, f.user)
	require.NoError(t, err)
	body, err := mock.AssertionResponse(
		challengeBytes(t, options.Response.Challenge.String()), f.user.ID, testOrigin)
	require.NoError(t, err)

	state, err := f.sudoChallenge.Confirm(ctx, Proof{WebAuthnResponse: body})
	require.NoError(t, err)
	assert.True(t, state.Confirmed)

	active, err := f.sudo.IsActive(ctx)
	require.NoError(t, err)
	assert.True(t, active)
}

// Confirming sudo while it is already active is an extension, not a no-op.
func TestSudoChallenge_ConfirmWhileActiveExtends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.sudo.Activate(ctx))
	f.clock.Advance(time.Hour)

	_, err := f.sudoChallenge.Begin(ctx, f.user.ID, false)
	require.NoError(t, err)
	_, err = f.sudoChallenge.Confirm(ctx, Proof{Code: f.currentCode(t)})
	require.NoError(t, err)

	remaining, err := f.sudo.Remaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, remaining)
}

func TestNewSudo_RequiresSession(t *testing.T) {
	_, err := NewSudo(SudoParams{})
	assert.ErrorContains(t, err, "session context is required")
}
