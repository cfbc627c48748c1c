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
	"net/http"

	"github.com/jeremyhahn/go-stepup/pkg/metrics"
	"github.com/jeremyhahn/go-stepup/pkg/stepup"
)

// MFAStateHandler handles GET /api/v1/mfa.
func (s *Server) MFAStateHandler(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionIDFromContext(r.Context())

	flow, err := s.mfaFlowFor(sid)
	if err != nil {
		handleError(w, err)
		return
	}

	state, err := flow.challenge.State(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, challengeResponse(state), http.StatusOK)
}

// MFASelectModeHandler handles POST /api/v1/mfa/mode.
func (s *Server) MFASelectModeHandler(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionIDFromContext(r.Context())

	var req SelectModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "invalid request body", http.StatusBadRequest)
		return
	}

	flow, err := s.mfaFlowFor(sid)
	if err != nil {
		handleError(w, err)
		return
	}

	state, err := flow.challenge.SelectMode(r.Context(), req.Mode)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, challengeResponse(state), http.StatusOK)
}

// MFAWebAuthnOptionsHandler handles POST /api/v1/mfa/webauthn/options. It
// issues assertion options for the challenged user and stores the pending
// challenge for the confirmation step.
func (s *Server) MFAWebAuthnOptionsHandler(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionIDFromContext(r.Context())

	flow, err := s.mfaFlowFor(sid)
	if err != nil {
		handleError(w, err)
		return
	}

	state, err := flow.challenge.State(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	u, err := s.config.Users.GetByID(r.Context(), state.UserID)
	if err != nil {
		handleError(w, err)
		return
	}

	options, err := flow.strategy.BeginAssertion(r.Context(), u)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, options, http.StatusOK)
}

// MFAConfirmHandler handles POST /api/v1/mfa/confirm. A confirmed
// challenge authenticates the session; a failed retryable attempt returns
// the updated challenge state.
func (s *Server) MFAConfirmHandler(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionIDFromContext(r.Context())

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "invalid request body", http.StatusBadRequest)
		return
	}

	flow, err := s.mfaFlowFor(sid)
	if err != nil {
		handleError(w, err)
		return
	}

	state, err := flow.challenge.Confirm(r.Context(), stepup.Proof{
		Code:             req.Code,
		WebAuthnResponse: req.Response,
	})
	if err != nil {
		if stepup.IsThrottled(err) {
			metrics.RecordThrottled(metrics.FlowMFA)
			handleError(w, err)
			return
		}
		if state != nil {
			metrics.RecordChallenge(metrics.FlowMFA, string(state.Mode), metrics.StatusError)
			writeJSON(w, challengeResponse(state), http.StatusUnprocessableEntity)
			return
		}
		handleError(w, err)
		return
	}
	metrics.RecordChallenge(metrics.FlowMFA, string(state.Mode), metrics.StatusSuccess)

	u, err := s.config.Users.GetByID(r.Context(), state.UserID)
	if err != nil {
		handleError(w, err)
		return
	}

	if err := s.finalizeLogin(r.Context(), sid, u); err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, LoginResponse{
		Authenticated: true,
		Token:         state.Token,
		User:          userResponse(u),
	}, http.StatusOK)
}

// MFAAbandonHandler handles DELETE /api/v1/mfa.
func (s *Server) MFAAbandonHandler(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionIDFromContext(r.Context())

	flow, err := s.mfaFlowFor(sid)
	if err != nil {
		handleError(w, err)
		return
	}

	if err := flow.challenge.Abandon(r.Context()); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
