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
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jeremyhahn/go-stepup/pkg/events"
	"github.com/jeremyhahn/go-stepup/pkg/session"
	"github.com/jeremyhahn/go-stepup/pkg/stepup"
	"github.com/jeremyhahn/go-stepup/pkg/user"
	"github.com/jeremyhahn/go-stepup/pkg/webauthn"
)

// Session key for the authenticated user within the auth namespace.
const authUserKey = "user_id"

// Session key for a pending TOTP enrollment within the enroll namespace.
const enrollTOTPKey = "totp"

// mfaFlow bundles the per-session MFA challenge machine with its strategy.
type mfaFlow struct {
	challenge *stepup.Challenge
	strategy  *stepup.MFAStrategy
}

// sudoFlow bundles the per-session step-up challenge machine with its
// strategy and window tracker.
type sudoFlow struct {
	challenge *stepup.Challenge
	strategy  *stepup.SudoStrategy
	sudo      *stepup.Sudo
}

// namespace returns a session context scoped to one flow of one browser
// session. Challenge state, confirmation markers, and pending WebAuthn
// challenges of different flows never collide.
func (s *Server) namespace(sid, flow string) *session.Context {
	return session.NewContext(s.config.Sessions, sid+"."+flow)
}

// authSession holds the durable authenticated-user marker.
func (s *Server) authSession(sid string) *session.Context {
	return s.namespace(sid, "auth")
}

// enrollSession holds pending TOTP enrollments awaiting a first valid code.
func (s *Server) enrollSession(sid string) *session.Context {
	return s.namespace(sid, "enroll")
}

// loginChallenges stores pending primary-login assertion challenges.
func (s *Server) loginChallenges(sid string) *webauthn.ChallengeStore {
	return webauthn.NewChallengeStore(s.namespace(sid, "login"))
}

// registerChallenges stores pending registration challenges.
func (s *Server) registerChallenges(sid string) *webauthn.ChallengeStore {
	return webauthn.NewChallengeStore(s.namespace(sid, "register"))
}

func (s *Server) mfaFlowFor(sid string) (*mfaFlow, error) {
	sess := s.namespace(sid, "mfa")

	strategy, err := stepup.NewMFAStrategy(stepup.MFAParams{
		TOTP:       s.config.TOTP,
		Engine:     s.config.Engine,
		Challenges: webauthn.NewChallengeStore(sess),
		Users:      s.config.Users,
		Sealer:     s.config.Sealer,
		Session:    sess,
		EventSink:  s.events,
		Features:   s.config.Features,
	})
	if err != nil {
		return nil, fmt.Errorf("mfa strategy: %w", err)
	}

	challenge, err := stepup.NewChallenge(stepup.ChallengeParams{
		Strategy:        strategy,
		Session:         sess,
		Users:           s.config.Users,
		Limiter:         s.config.Limiter,
		Pad:             s.config.Pad,
		EventSink:       s.events,
		ChallengedEvent: events.MFAChallenged,
		TokenIssuer:     s.config.Issuer,
	})
	if err != nil {
		return nil, fmt.Errorf("mfa challenge: %w", err)
	}

	return &mfaFlow{challenge: challenge, strategy: strategy}, nil
}

func (s *Server) sudoFlowFor(sid string) (*sudoFlow, error) {
	sess := s.namespace(sid, "sudo")

	sudo, err := stepup.NewSudo(stepup.SudoParams{
		Session: sess,
		Window:  s.config.SudoWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("sudo tracker: %w", err)
	}

	strategy, err := stepup.NewSudoStrategy(stepup.SudoStrategyParams{
		TOTP:       s.config.TOTP,
		Engine:     s.config.Engine,
		Challenges: webauthn.NewChallengeStore(sess),
		Users:      s.config.Users,
		Sudo:       sudo,
		EventSink:  s.events,
		Features:   s.config.Features,
	})
	if err != nil {
		return nil, fmt.Errorf("sudo strategy: %w", err)
	}

	challenge, err := stepup.NewChallenge(stepup.ChallengeParams{
		Strategy:  strategy,
		Session:   sess,
		Users:     s.config.Users,
		Limiter:   s.config.Limiter,
		Pad:       s.config.Pad,
		EventSink: s.events,
	})
	if err != nil {
		return nil, fmt.Errorf("sudo challenge: %w", err)
	}

	return &sudoFlow{challenge: challenge, strategy: strategy, sudo: sudo}, nil
}

// finalizeLogin promotes a verified user to the authenticated session and
// stamps the login time.
func (s *Server) finalizeLogin(ctx context.Context, sid string, u *user.User) error {
	if err := s.authSession(sid).Put(ctx, authUserKey, u.ID); err != nil {
		return fmt.Errorf("store authenticated user: %w", err)
	}

	now := time.Now().UTC()
	u.LastLoginAt = &now
	if err := s.config.Users.Update(ctx, u); err != nil {
		return fmt.Errorf("stamp last login: %w", err)
	}

	return nil
}

// currentUser loads the authenticated user bound to the request, resolved
// by AuthenticationMiddleware.
func (s *Server) currentUser(r *http.Request) (*user.User, error) {
	id, ok := userIDFromContext(r.Context())
	if !ok {
		return nil, ErrUnauthorized
	}
	return s.config.Users.GetByID(r.Context(), id)
}
