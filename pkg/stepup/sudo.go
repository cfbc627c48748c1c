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
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jeremyhahn/go-stepup/pkg/events"
	"github.com/jeremyhahn/go-stepup/pkg/session"
	"github.com/jeremyhahn/go-stepup/pkg/totp"
	"github.com/jeremyhahn/go-stepup/pkg/user"
	"github.com/jeremyhahn/go-stepup/pkg/webauthn"
)

// DefaultSudoWindow is how long a step-up confirmation stays active.
const DefaultSudoWindow = 2 * time.Hour

// sudoKey is the session key the last-confirmed-at timestamp lives under.
const sudoKey = "confirmed_at"

// Sudo tracks the session's step-up re-authentication window. Activation
// overwrites the timestamp, so re-confirming while already active slides
// the window forward rather than stacking.
type Sudo struct {
	sess   *session.Context
	window time.Duration
	now    func() time.Time
}

// SudoParams contains dependencies for creating a Sudo tracker.
type SudoParams struct {
	// Session is the namespaced session context the timestamp lives in.
	// Required.
	Session *session.Context

	// Window is how long a confirmation stays active. Defaults to
	// DefaultSudoWindow.
	Window time.Duration

	// Clock overrides the time source. Intended for tests.
	Clock func() time.Time
}

// NewSudo creates a sudo window tracker.
func NewSudo(params SudoParams) (*Sudo, error) {
	if params.Session == nil {
		return nil, fmt.Errorf("session context is required")
	}
	if params.Window == 0 {
		params.Window = DefaultSudoWindow
	}
	if params.Clock == nil {
		params.Clock = time.Now
	}
	return &Sudo{
		sess:   params.Session,
		window: params.Window,
		now:    params.Clock,
	}, nil
}

// Activate records a step-up confirmation at the current time. Calling it
// while sudo is already active extends the window.
func (s *Sudo) Activate(ctx context.Context) error {
	return s.sess.PutJSON(ctx, sudoKey, s.now().Unix())
}

// IsActive reports whether the session is inside the step-up window.
func (s *Sudo) IsActive(ctx context.Context) (bool, error) {
	confirmedAt, ok, err := s.confirmedAt(ctx)
	if err != nil || !ok {
		return false, err
	}
	return !s.now().After(confirmedAt.Add(s.window)), nil
}

// Remaining returns how much of the step-up window is left, or zero when
// sudo is not active.
func (s *Sudo) Remaining(ctx context.Context) (time.Duration, error) {
	confirmedAt, ok, err := s.confirmedAt(ctx)
	if err != nil || !ok {
		return 0, err
	}
	remaining := confirmedAt.Add(s.window).Sub(s.now())
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// Deactivate clears the step-up window, typically at logout.
func (s *Sudo) Deactivate(ctx context.Context) error {
	return s.sess.Forget(ctx, sudoKey)
}

func (s *Sudo) confirmedAt(ctx context.Context) (time.Time, bool, error) {
	var unix int64
	if err := s.sess.GetJSON(ctx, sudoKey, &unix); err != nil {
		if errors.Is(err, session.ErrKeyNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return time.Unix(unix, 0), true, nil
}

// SudoStrategy drives step-up re-authentication before sensitive account
// actions. Password is a valid answer; recovery codes never are, even
// when an injected mode policy names them.
type SudoStrategy struct {
	factors  factorSet
	sudo     *Sudo
	features Features
	now      func() time.Time
}

// SudoStrategyParams contains dependencies for creating a SudoStrategy.
type SudoStrategyParams struct {
	// TOTP validates authenticator-app codes. Required.
	TOTP *totp.Validator

	// Engine finishes WebAuthn assertions. Required.
	Engine *webauthn.Engine

	// Challenges stores the pending assertion challenge under the sudo
	// purpose. Required.
	Challenges *webauthn.ChallengeStore

	// Users persists factor usage stamps. Required.
	Users user.Store

	// Sudo is the window tracker activated on success. Required.
	Sudo *Sudo

	// EventSink receives domain events. Defaults to events.NoopSink.
	EventSink events.Sink

	// Features toggles the optional factors. Defaults to all enabled.
	Features *Features

	// Clock overrides the time source. Intended for tests.
	Clock func() time.Time
}

// NewSudoStrategy creates the step-up challenge strategy.
func NewSudoStrategy(params SudoStrategyParams) (*SudoStrategy, error) {
	if params.TOTP == nil {
		return nil, fmt.Errorf("totp validator is required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("webauthn engine is required")
	}
	if params.Challenges == nil {
		return nil, fmt.Errorf("challenge store is required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if params.Sudo == nil {
		return nil, fmt.Errorf("sudo tracker is required")
	}
	if params.EventSink == nil {
		params.EventSink = events.NoopSink{}
	}
	features := DefaultFeatures()
	if params.Features != nil {
		features = *params.Features
	}
	if params.Clock == nil {
		params.Clock = time.Now
	}
	return &SudoStrategy{
		factors: factorSet{
			totp:       params.TOTP,
			engine:     params.Engine,
			challenges: params.Challenges,
			users:      params.Users,
			sink:       params.EventSink,
			now:        params.Clock,
		},
		sudo:     params.Sudo,
		features: features,
		now:      params.Clock,
	}, nil
}

// AvailableModes returns the user's step-up modes. Recovery is never
// among them; password is offered whenever the account has one, and is
// the sole mode for users with no enrolled factors.
func (s *SudoStrategy) AvailableModes(u *user.User) []Mode {
	var modes []Mode
	if s.features.App && u.HasTOTP() {
		modes = append(modes, ModeApp)
	}
	if s.features.WebAuthn && u.HasWebAuthn() {
		modes = append(modes, ModeWebAuthn)
	}
	if u.HasPassword() {
		modes = append(modes, ModePassword)
	}
	return modes
}

// Validate dispatches the proof to the factor validator for the mode.
// Recovery codes are rejected outright.
func (s *SudoStrategy) Validate(ctx context.Context, u *user.User, mode Mode, proof Proof) error {
	switch mode {
	case ModeApp:
		return s.factors.validateTOTP(ctx, u, proof.Code)
	case ModeWebAuthn:
		return s.factors.validateAssertion(ctx, u, webauthn.PurposeSudo, proof.WebAuthnResponse)
	case ModePassword:
		ok, err := user.VerifyPassword(proof.Password, u.PasswordHash)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidPassword
		}
		return nil
	default:
		return fmt.Errorf("mode %q: %w", mode, ErrModeUnavailable)
	}
}

// OnSuccess activates (or extends) the step-up window and emits
// sudo.activated.
func (s *SudoStrategy) OnSuccess(ctx context.Context, u *user.User, state *ChallengeState) error {
	if err := s.sudo.Activate(ctx); err != nil {
		return err
	}
	s.factors.sink.Emit(ctx, events.Event{
		Name:     events.SudoActivated,
		UserID:   u.ID,
		At:       s.now().UTC(),
		Metadata: map[string]string{"mode": string(state.Mode)},
	})
	return nil
}

// BeginAssertion issues assertion options for the WebAuthn mode and stores
// the pending challenge under the sudo purpose, replacing any prior one.
func (s *SudoStrategy) BeginAssertion(ctx context.Context, u *user.User) (*protocol.CredentialAssertion, error) {
	options, sd, err := s.factors.engine.BeginAssertion(ctx, u, false)
	if err != nil {
		return nil, err
	}
	if err := s.factors.challenges.Store(ctx, webauthn.PurposeSudo, sd); err != nil {
		return nil, err
	}
	return options, nil
}

var _ Strategy = (*SudoStrategy)(nil)
