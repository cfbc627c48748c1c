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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/jeremyhahn/go-stepup/pkg/metrics"
	"github.com/jeremyhahn/go-stepup/pkg/user"
	"github.com/jeremyhahn/go-stepup/pkg/webauthn"
)

// CreateUserHandler handles POST /api/v1/users.
func (s *Server) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "invalid request body", http.StatusBadRequest)
		return
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Username
	}

	u, err := s.config.Users.Create(r.Context(), req.Username, displayName)
	if err != nil {
		handleError(w, err)
		return
	}

	if req.Password != "" {
		hash, err := user.HashPassword(req.Password)
		if err != nil {
			handleError(w, err)
			return
		}
		u.PasswordHash = hash
		if err := s.config.Users.Update(r.Context(), u); err != nil {
			handleError(w, err)
			return
		}
	}

	writeJSON(w, userResponse(u), http.StatusCreated)
}

// LoginHandler handles POST /api/v1/login. A successful password check
// either authenticates the session directly or, when the user has second
// factors enrolled, opens an MFA challenge that must be confirmed before
// the session becomes authenticated.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionIDFromContext(r.Context())

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "invalid request body", http.StatusBadRequest)
		return
	}

	u, err := s.config.Users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			writeErrorWithMessage(w, ErrUnauthorized,
				"invalid username or password", http.StatusUnauthorized)
			return
		}
		handleError(w, err)
		return
	}

	if !u.Enabled {
		writeErrorWithMessage(w, ErrUnauthorized, "account disabled", http.StatusForbidden)
		return
	}

	ok, err := user.VerifyPassword(req.Password, u.PasswordHash)
	if err != nil || !ok {
		writeErrorWithMessage(w, ErrUnauthorized,
			"invalid username or password", http.StatusUnauthorized)
		return
	}

	if u.HasTOTP() || u.HasWebAuthn() {
		flow, err := s.mfaFlowFor(sid)
		if err != nil {
			handleError(w, err)
			return
		}
		state, err := flow.challenge.Begin(r.Context(), u.ID, req.Remember)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, LoginResponse{
			MFARequired: true,
			Challenge:   challengeResponse(state),
		}, http.StatusOK)
		return
	}

	if err := s.finalizeLogin(r.Context(), sid, u); err != nil {
		handleError(w, err)
		return
	}

	resp := LoginResponse{Authenticated: true, User: userResponse(u)}
	if s.config.Issuer != nil {
		token, err := s.config.Issuer.Issue(u)
		if err != nil {
			handleError(w, err)
			return
		}
		resp.Token = token
	}

	writeJSON(w, resp, http.StatusOK)
}

// BeginPasskeyLoginHandler handles POST /api/v1/login/passkey/begin. The
// assertion options carry an empty allow-list so the browser offers any
// discoverable credential for this relying party.
func (s *Server) BeginPasskeyLoginHandler(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionIDFromContext(r.Context())

	options, sd, err := s.config.Engine.BeginAssertion(r.Context(), nil, true)
	if err != nil {
		handleError(w, err)
		return
	}

	if err := s.loginChallenges(sid).Store(r.Context(), webauthn.PurposeLogin, sd); err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, options, http.StatusOK)
}

// FinishPasskeyLoginHandler handles POST /api/v1/login/passkey/finish.
// The pending challenge is consumed whether or not verification succeeds.
func (s *Server) FinishPasskeyLoginHandler(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionIDFromContext(r.Context())
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "invalid request body", http.StatusBadRequest)
		return
	}

	sd, err := s.loginChallenges(sid).Consume(r.Context(), webauthn.PurposeLogin)
	if err != nil {
		handleError(w, err)
		return
	}

	cred, err := s.config.Engine.FinishAssertion(r.Context(), nil, sd, body, true)
	if err != nil {
		metrics.RecordCeremony(metrics.CeremonyAssertion, metrics.StatusError, time.Since(start).Seconds())
		handleError(w, err)
		return
	}
	metrics.RecordCeremony(metrics.CeremonyAssertion, metrics.StatusSuccess, time.Since(start).Seconds())

	u, err := s.config.Users.GetByID(r.Context(), cred.UserID)
	if err != nil {
		handleError(w, err)
		return
	}

	if !u.Enabled {
		writeErrorWithMessage(w, ErrUnauthorized, "account disabled", http.StatusForbidden)
		return
	}

	if err := s.finalizeLogin(r.Context(), sid, u); err != nil {
		handleError(w, err)
		return
	}

	resp := LoginResponse{Authenticated: true, User: userResponse(u)}
	if s.config.Issuer != nil {
		token, err := s.config.Issuer.Issue(u)
		if err != nil {
			handleError(w, err)
			return
		}
		resp.Token = token
	}

	writeJSON(w, resp, http.StatusOK)
}

// CurrentUserHandler handles GET /api/v1/me.
func (s *Server) CurrentUserHandler(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, userResponse(u), http.StatusOK)
}

// LogoutHandler handles POST /api/v1/logout. Besides the authenticated
// marker it clears the MFA confirmation and any active sudo window.
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionIDFromContext(r.Context())

	if err := s.authSession(sid).Forget(r.Context(), authUserKey); err != nil {
		handleError(w, err)
		return
	}

	if flow, err := s.mfaFlowFor(sid); err == nil {
		if err := flow.strategy.ClearConfirmed(r.Context()); err != nil {
			s.logger.Errorf("clear mfa confirmation: %v", err)
		}
	}
	if flow, err := s.sudoFlowFor(sid); err == nil {
		if err := flow.sudo.Deactivate(r.Context()); err != nil {
			s.logger.Errorf("deactivate sudo: %v", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
