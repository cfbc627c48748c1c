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
	"github.com/jeremyhahn/go-stepup/pkg/recovery"
	"github.com/jeremyhahn/go-stepup/pkg/session"
	"github.com/jeremyhahn/go-stepup/pkg/totp"
	"github.com/jeremyhahn/go-stepup/pkg/user"
	"github.com/jeremyhahn/go-stepup/pkg/webauthn"
)

// confirmedKey is the session key the durable confirmation marker lives
// under once an MFA challenge succeeds.
const confirmedKey = "confirmed"

// Features toggles which optional factors a flow offers. Factors a user
// has not enrolled are withheld regardless of the toggle.
type Features struct {
	// App offers authenticator-app codes.
	App bool `yaml:"app" json:"app" mapstructure:"app"`

	// WebAuthn offers security keys and passkeys.
	WebAuthn bool `yaml:"webauthn" json:"webauthn" mapstructure:"webauthn"`
}

// DefaultFeatures enables every factor.
func DefaultFeatures() Features {
	return Features{App: true, WebAuthn: true}
}

// MFAStrategy drives the login-time second-factor challenge. Recovery
// codes are always offered as the terminal fallback; a successful
// confirmation writes a durable "MFA confirmed" marker into the session.
type MFAStrategy struct {
	factors  factorSet
	sealer   *recovery.Sealer
	sess     *session.Context
	features Features
	now      func() time.Time
}

// MFAParams contains dependencies for creating an MFAStrategy.
type MFAParams struct {
	// TOTP validates authenticator-app codes. Required.
	TOTP *totp.Validator

	// Engine finishes WebAuthn assertions. Required.
	Engine *webauthn.Engine

	// Challenges stores the pending assertion challenge under the MFA
	// purpose. Required.
	Challenges *webauthn.ChallengeStore

	// Users persists factor usage stamps and replaced recovery codes.
	// Required.
	Users user.Store

	// Sealer opens and reseals the user's recovery code blob. Required.
	Sealer *recovery.Sealer

	// Session is the namespaced session context the confirmation marker
	// lives in. Required.
	Session *session.Context

	// EventSink receives domain events. Defaults to events.NoopSink.
	EventSink events.Sink

	// Features toggles the optional factors. Defaults to all enabled.
	Features *Features

	// Clock overrides the time source. Intended for tests.
	Clock func() time.Time
}

// NewMFAStrategy creates the MFA challenge strategy.
func NewMFAStrategy(params MFAParams) (*MFAStrategy, error) {
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
	if params.Sealer == nil {
		return nil, fmt.Errorf("recovery sealer is required")
	}
	if params.Session == nil {
		return nil, fmt.Errorf("session context is required")
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
	return &MFAStrategy{
		factors: factorSet{
			totp:       params.TOTP,
			engine:     params.Engine,
			challenges: params.Challenges,
			users:      params.Users,
			sink:       params.EventSink,
			now:        params.Clock,
		},
		sealer:   params.Sealer,
		sess:     params.Session,
		features: features,
		now:      params.Clock,
	}, nil
}

// AvailableModes returns the modes the user may answer with, in
// presentation order. Recovery is always last.
func (s *MFAStrategy) AvailableModes(u *user.User) []Mode {
	var modes []Mode
	if s.features.App && u.HasTOTP() {
		modes = append(modes, ModeApp)
	}
	if s.features.WebAuthn && u.HasWebAuthn() {
		modes = append(modes, ModeWebAuthn)
	}
	return append(modes, ModeRecovery)
}

// Validate dispatches the proof to the factor validator for the mode.
func (s *MFAStrategy) Validate(ctx context.Context, u *user.User, mode Mode, proof Proof) error {
	switch mode {
	case ModeApp:
		return s.factors.validateTOTP(ctx, u, proof.Code)
	case ModeRecovery:
		return s.factors.validateRecovery(ctx, u, s.sealer, proof.Code)
	case ModeWebAuthn:
		return s.factors.validateAssertion(ctx, u, webauthn.PurposeMFA, proof.WebAuthnResponse)
	default:
		return fmt.Errorf("mode %q: %w", mode, ErrModeUnavailable)
	}
}

// OnSuccess promotes the challenged user into the durable confirmation
// marker and emits mfa.confirmed.
func (s *MFAStrategy) OnSuccess(ctx context.Context, u *user.User, state *ChallengeState) error {
	if err := s.sess.Put(ctx, confirmedKey, u.ID); err != nil {
		return err
	}
	s.factors.sink.Emit(ctx, events.Event{
		Name:     events.MFAConfirmed,
		UserID:   u.ID,
		At:       s.now().UTC(),
		Metadata: map[string]string{"mode": string(state.Mode)},
	})
	return nil
}

// BeginAssertion issues assertion options for the WebAuthn mode and stores
// the pending challenge under the MFA purpose, replacing any prior one.
func (s *MFAStrategy) BeginAssertion(ctx context.Context, u *user.User) (*protocol.CredentialAssertion, error) {
	options, sd, err := s.factors.engine.BeginAssertion(ctx, u, false)
	if err != nil {
		return nil, err
	}
	if err := s.factors.challenges.Store(ctx, webauthn.PurposeMFA, sd); err != nil {
		return nil, err
	}
	return options, nil
}

// ConfirmedUser returns the ID of the user this session has confirmed MFA
// for, or nil when none has.
func (s *MFAStrategy) ConfirmedUser(ctx context.Context) ([]byte, error) {
	id, err := s.sess.Get(ctx, confirmedKey)
	if err != nil {
		if errors.Is(err, session.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return id, nil
}

// ClearConfirmed removes the confirmation marker, typically at logout.
func (s *MFAStrategy) ClearConfirmed(ctx context.Context) error {
	return s.sess.Forget(ctx, confirmedKey)
}

var _ Strategy = (*MFAStrategy)(nil)
