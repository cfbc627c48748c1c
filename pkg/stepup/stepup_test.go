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
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-stepup/pkg/events"
	"github.com/jeremyhahn/go-stepup/pkg/recovery"
	"github.com/jeremyhahn/go-stepup/pkg/session"
	"github.com/jeremyhahn/go-stepup/pkg/totp"
	"github.com/jeremyhahn/go-stepup/pkg/user"
	"github.com/jeremyhahn/go-stepup/pkg/webauthn"
)

const (
	testRPID     = "example.com"
	testOrigin   = "https://example.com"
	testPassword = "correct horse battery staple"
)

// fakeClock is a mutable frozen time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fixture wires a full challenge stack over in-memory stores: one user
// with a password, an enrolled TOTP secret, four recovery codes, and the
// MFA and sudo flows sharing a single session store under separate
// namespaces.
type fixture struct {
	clock      *fakeClock
	users      *user.MemoryStore
	sessions   *session.MemoryStore
	engine     *webauthn.Engine
	totp       *totp.Validator
	sealer     *recovery.Sealer
	sink       *events.MemorySink
	user       *user.User
	codes      []string
	totpCredID string

	mfaSess       *session.Context
	mfaChallenges *webauthn.ChallengeStore
	mfa           *MFAStrategy
	mfaChallenge  *Challenge

	sudoSess       *session.Context
	sudoChallenges *webauthn.ChallengeStore
	sudo           *Sudo
	sudoStrategy   *SudoStrategy
	sudoChallenge  *Challenge
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		clock:    newFakeClock(),
		users:    user.NewMemoryStore(),
		sessions: session.NewMemoryStore(),
		sink:     events.NewMemorySink(),
	}

	var err error
	f.totp, err = totp.NewValidator(totp.ValidatorParams{Clock: f.clock.Now})
	require.NoError(t, err)

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	f.sealer, err = recovery.NewSealer(key)
	require.NoError(t, err)

	f.engine, err = webauthn.NewEngine(webauthn.EngineParams{
		Config: &webauthn.Config{
			RPID:          testRPID,
			RPDisplayName: "Example Corp",
			RPOrigins:     []string{testOrigin},
		},
		UserStore:       user.NewWebAuthnStore(f.users),
		CredentialStore: webauthn.NewMemoryCredentialStore(),
		EventSink:       f.sink,
		Clock:           f.clock.Now,
	})
	require.NoError(t, err)

	f.user, err = f.users.Create(ctx, "alice@example.com", "Alice Example")
	require.NoError(t, err)

	f.user.PasswordHash, err = user.HashPassword(testPassword)
	require.NoError(t, err)

	totpCred, _, err := f.totp.Enroll(totp.EnrollParams{
		Issuer:      "Example Corp",
		AccountName: f.user.Username,
	})
	require.NoError(t, err)
	f.user.AddTOTPCredential(totpCred)
	f.totpCredID = totpCred.ID

	f.codes, err = recovery.Generate(4)
	require.NoError(t, err)
	f.user.RecoveryCodes, err = f.sealer.Seal(f.codes)
	require.NoError(t, err)

	require.NoError(t, f.users.Update(ctx, f.user))

	f.mfaSess = session.NewContext(f.sessions, "mfa")
	f.mfaChallenges = webauthn.NewChallengeStore(f.mfaSess)
	f.mfa, err = NewMFAStrategy(MFAParams{
		TOTP:       f.totp,
		Engine:     f.engine,
		Challenges: f.mfaChallenges,
		Users:      f.users,
		Sealer:     f.sealer,
		Session:    f.mfaSess,
		EventSink:  f.sink,
		Clock:      f.clock.Now,
	})
	require.NoError(t, err)
	f.mfaChallenge, err = NewChallenge(ChallengeParams{
		Strategy:        f.mfa,
		Session:         f.mfaSess,
		Users:           f.users,
		Pad:             time.Millisecond,
		EventSink:       f.sink,
		ChallengedEvent: events.MFAChallenged,
		Clock:           f.clock.Now,
	})
	require.NoError(t, err)

	f.sudoSess = session.NewContext(f.sessions, "sudo")
	f.sudoChallenges = webauthn.NewChallengeStore(f.sudoSess)
	f.sudo, err = NewSudo(SudoParams{Session: f.sudoSess, Clock: f.clock.Now})
	require.NoError(t, err)
	f.sudoStrategy, err = NewSudoStrategy(SudoStrategyParams{
		TOTP:       f.totp,
		Engine:     f.engine,
		Challenges: f.sudoChallenges,
		Users:      f.users,
		Sudo:       f.sudo,
		EventSink:  f.sink,
		Clock:      f.clock.Now,
	})
	require.NoError(t, err)
	f.sudoChallenge, err = NewChallenge(ChallengeParams{
		Strategy:  f.sudoStrategy,
		Session:   f.sudoSess,
		Users:     f.users,
		Pad:       time.Millisecond,
		EventSink: f.sink,
		Clock:     f.clock.Now,
	})
	require.NoError(t, err)

	return f
}

// currentCode computes the valid authenticator-app code at the fixture's
// frozen time.
func (f *fixture) currentCode(t *testing.T) string {
	t.Helper()
	code, err := f.totp.GenerateCode(f.user.TOTPCredentials[0])
	require.NoError(t, err)
	return code
}

// reload refreshes the fixture's user from the store.
func (f *fixture) reload(t *testing.T) *user.User {
	t.Helper()
	u, err := f.users.GetByID(context.Background(), f.user.ID)
	require.NoError(t, err)
	f.user = u
	return u
}

// challengeBytes decodes the challenge from stored session data.
func challengeBytes(t *testing.T, challenge string) []byte {
	t.Helper()
	b, err := base64.RawURLEncoding.DecodeString(challenge)
	require.NoError(t, err)
	return b
}

// registerKey registers a mock WebAuthn credential for the fixture user.
func (f *fixture) registerKey(t *testing.T) *webauthn.MockAuthenticator {
	t.Helper()
	ctx := context.Background()

	mock, err := webauthn.NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	_, sd, err := f.engine.BeginAttestation(ctx, f.user, webauthn.AttestationParams{})
	require.NoError(t, err)
	body, err := mock.AttestationResponse(challengeBytes(t, sd.Challenge), testOrigin)
	require.NoError(t, err)
	_, err = f.engine.FinishAttestation(ctx, f.user, sd, body, webauthn.RegistrationMetadata{Name: "test key"})
	require.NoError(t, err)

	f.reload(t)
	return mock
}
