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
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-stepup/pkg/events"
	"github.com/jeremyhahn/go-stepup/pkg/ratelimit"
	"github.com/jeremyhahn/go-stepup/pkg/session"
	"github.com/jeremyhahn/go-stepup/pkg/user"
)

// stateKey is the session key the in-flight challenge state lives under,
// inside the challenge's namespaced session context.
const stateKey = "challenge"

// Challenge drives a proof-of-presence challenge through mode selection and
// confirmation. The factor-specific behavior is supplied by a Strategy; the
// library instantiates the machine twice, once for MFA and once for sudo.
type Challenge struct {
	strategy  Strategy
	sess      *session.Context
	users     user.Store
	limiter   *ratelimit.AttemptLimiter
	policy    ModePolicy
	pad       time.Duration
	sink      events.Sink
	beganWith string
	issuer    *TokenIssuer
	now       func() time.Time
}

// ChallengeParams contains dependencies for creating a Challenge.
type ChallengeParams struct {
	// Strategy supplies the factor-specific behavior. Required.
	Strategy Strategy

	// Session is the namespaced session context the challenge state lives
	// in. Each flow gets its own namespace. Required.
	Session *session.Context

	// Users looks up the challenged user. Required.
	Users user.Store

	// Limiter throttles confirmation attempts. Optional.
	Limiter *ratelimit.AttemptLimiter

	// Policy picks the initially presented mode. Defaults to
	// DefaultModePolicy.
	Policy ModePolicy

	// Pad is the minimum proof validation duration. Defaults to
	// DefaultValidationPad.
	Pad time.Duration

	// EventSink receives domain events. Defaults to events.NoopSink.
	EventSink events.Sink

	// ChallengedEvent, when set, is emitted each time a challenge begins.
	ChallengedEvent string

	// TokenIssuer, when set, signs a token for the confirmed user.
	TokenIssuer *TokenIssuer

	// Clock overrides the time source. Intended for tests.
	Clock func() time.Time
}

// NewChallenge creates a challenge machine.
func NewChallenge(params ChallengeParams) (*Challenge, error) {
	if params.Strategy == nil {
		return nil, fmt.Errorf("strategy is required")
	}
	if params.Session == nil {
		return nil, fmt.Errorf("session context is required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if params.Policy == nil {
		params.Policy = DefaultModePolicy
	}
	if params.Pad == 0 {
		params.Pad = DefaultValidationPad
	}
	if params.EventSink == nil {
		params.EventSink = events.NoopSink{}
	}
	if params.Clock == nil {
		params.Clock = time.Now
	}
	return &Challenge{
		strategy:  params.Strategy,
		sess:      params.Session,
		users:     params.Users,
		limiter:   params.Limiter,
		policy:    params.Policy,
		pad:       params.Pad,
		sink:      params.EventSink,
		beganWith: params.ChallengedEvent,
		issuer:    params.TokenIssuer,
		now:       params.Clock,
	}, nil
}

// Begin opens a challenge for the user, choosing the initial mode from the
// policy. The user must already have passed a primary authentication
// factor; this flow never re-validates it. An existing challenge for the
// same session is replaced.
func (c *Challenge) Begin(ctx context.Context, userID []byte, remember bool) (*ChallengeState, error) {
	u, err := c.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	available := c.strategy.AvailableModes(u)
	if len(available) == 0 {
		return nil, fmt.Errorf("user %s: %w", u.Username, ErrModeUnavailable)
	}

	mode := c.policy(available)
	if !containsMode(available, mode) {
		// An injected policy may name a mode the strategy refuses, such as
		// recovery for sudo. Substitute password when offered, otherwise
		// the strategy's first choice.
		if mode == ModeRecovery && containsMode(available, ModePassword) {
			mode = ModePassword
		} else {
			mode = available[0]
		}
	}

	state := &ChallengeState{
		UserID:     u.ID,
		Remember:   remember,
		Mode:       mode,
		Alternates: alternatesOf(available, mode),
	}
	if err := c.sess.PutJSON(ctx, stateKey, state); err != nil {
		return nil, err
	}

	if c.beganWith != "" {
		c.sink.Emit(ctx, events.Event{
			Name:   c.beganWith,
			UserID: u.ID,
			At:     c.now().UTC(),
		})
	}
	return state, nil
}

// State returns the in-flight challenge state. ErrNoPendingUser when no
// challenge is open in this session.
func (c *Challenge) State(ctx context.Context) (*ChallengeState, error) {
	var state ChallengeState
	if err := c.sess.GetJSON(ctx, stateKey, &state); err != nil {
		if errors.Is(err, session.ErrKeyNotFound) {
			return nil, ErrNoPendingUser
		}
		return nil, err
	}
	if len(state.UserID) == 0 {
		return nil, ErrNoPendingUser
	}
	return &state, nil
}

// SelectMode switches the challenge to another available mode, clearing
// any prior error. Switching is allowed any number of times before
// confirmation.
func (c *Challenge) SelectMode(ctx context.Context, mode Mode) (*ChallengeState, error) {
	state, err := c.State(ctx)
	if err != nil {
		return nil, err
	}
	u, err := c.users.GetByID(ctx, state.UserID)
	if err != nil {
		return nil, err
	}

	available := c.strategy.AvailableModes(u)
	if !containsMode(available, mode) {
		return nil, fmt.Errorf("mode %q: %w", mode, ErrModeUnavailable)
	}

	state.Mode = mode
	state.Alternates = alternatesOf(available, mode)
	state.Error = ""
	state.WebAuthnFailed = false
	if err := c.sess.PutJSON(ctx, stateKey, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Confirm validates the proof against the active mode. On success the
// challenge state is cleared, the strategy records its durable outcome,
// and the returned state has Confirmed set. Validation failures leave the
// machine retryable with the failure recorded in the state's error slot;
// the error is also returned so callers can branch without string
// matching. Throttled attempts return a ThrottledError and consume
// nothing.
func (c *Challenge) Confirm(ctx context.Context, proof Proof) (*ChallengeState, error) {
	state, err := c.State(ctx)
	if err != nil {
		return nil, err
	}
	u, err := c.users.GetByID(ctx, state.UserID)
	if err != nil {
		return nil, err
	}

	key := c.attemptKey(state.UserID)
	if c.limiter != nil {
		if retryAfter, ok := c.limiter.Allow(key); !ok {
			return state, &ThrottledError{RetryAfter: retryAfter}
		}
	}

	mode := state.Mode
	err = PadTo(ctx, c.pad, func() error {
		return c.strategy.Validate(ctx, u, mode, proof)
	})
	if err != nil {
		if !recoverable(err) {
			return nil, err
		}
		state.Error = failureMessage(mode, err)
		state.WebAuthnFailed = mode == ModeWebAuthn
		if putErr := c.sess.PutJSON(ctx, stateKey, state); putErr != nil {
			return nil, putErr
		}
		return state, err
	}

	if c.limiter != nil {
		c.limiter.Reset(key)
	}
	if err := c.strategy.OnSuccess(ctx, u, state); err != nil {
		return nil, err
	}
	if err := c.sess.Forget(ctx, stateKey); err != nil {
		return nil, err
	}

	state.Error = ""
	state.WebAuthnFailed = false
	state.Confirmed = true
	if c.issuer != nil {
		token, err := c.issuer.Issue(u)
		if err != nil {
			return nil, err
		}
		state.Token = token
	}
	return state, nil
}

// Abandon discards the in-flight challenge, if any.
func (c *Challenge) Abandon(ctx context.Context) error {
	return c.sess.Forget(ctx, stateKey)
}

func (c *Challenge) attemptKey(userID []byte) string {
	return c.sess.Key(hex.EncodeToString(userID))
}

// failureMessage maps a validation failure to the user-facing message
// stored in the challenge error slot. Ceremony failures are deliberately
// collapsed to a generic message; the detailed reason stays in the
// returned error chain for operators.
func failureMessage(mode Mode, err error) string {
	switch {
	case errors.Is(err, ErrInvalidCode):
		return ErrInvalidCode.Error()
	case errors.Is(err, ErrInvalidRecoveryCode):
		return ErrInvalidRecoveryCode.Error()
	case errors.Is(err, ErrInvalidPassword):
		return ErrInvalidPassword.Error()
	case mode == ModeWebAuthn:
		return "security key verification failed"
	default:
		return "verification failed"
	}
}
