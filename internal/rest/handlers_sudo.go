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

// SudoStatusHandler handles GET /api/v1/sudo.
func (s *Server) SudoStatusHandler(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionIDFromContext(r.Context())

	flow, err := s.sudoFlowFor(sid)
	if err != nil {
		handleError(w, err)
		return
	}

	active, err := flow.sudo.IsActive(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	resp := SudoStatusResponse{Active: active}
	if active {
		remaining, err := flow.sudo.Remaining(r.Context())
		if err != nil {
			handleError(w, err)
			return
		}
		resp.RemainingSeconds = int64(remaining.Seconds())
	}

	writeJSON(w, resp, http.StatusOK)
}

// SudoBeginHandler handles POST /api/v1/sudo/begin. It opens a step-up
// challenge for the authenticated user.
func (s *Server) SudoBeginHandler(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionIDFromContext(r.Context())

	u, err := s.currentUser(r)
	if err != nil {
		handleError(w, err)
		return
	}

	flow, err := s.sudoFlowFor(sid)
	if err != nil {
		handleError(w, err)
		return
	}

	state, err := flow.challenge.Begin(r.Context(), u.ID, false)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, challengeResponse(state), http.StatusOK)
}

// SudoSelectModeHandler handles POST /api/v1/sudo/mode.
func (s *Server) SudoSelectModeHandler(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionIDFromContext(r.Context())

	var req SelectModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "invalid request body", http.StatusBadRequest)
		return
	}

	flow, err := s.sudoFlowFor(sid)
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

// SudoWebAuthnOptionsHandler handles POST /api/v1/sudo/webauthn/options.
func (s *Server) SudoWebAuthnOptionsHandler(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionIDFromContext(r.Context())

	u, err := s.currentUser(r)
	if err != nil {
		handleError(w, err)
		return
	}

	flow, err := s.sudoFlowFor(sid)
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

// SudoConfirmHandler handles POST /api/v1/sudo/confirm. Success activates
// the sliding step-up window; re-confirmation extends it.
func (s *Server) SudoConfirmHandler(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionIDFromContext(r.Context())

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "invalid request body", http.StatusBadRequest)
		return
	}

	flow, err := s.sudoFlowFor(sid)
	if err != nil {
		handleError(w, err)
		return
	}

	state, err := flow.challenge.Confirm(r.Context(), stepup.Proof{
		Code:             req.Code,
		Password:         req.Password,
		WebAuthnResponse: req.Response,
	})
	if err != nil {
		if stepup.IsThrottled(err) {
			metrics.RecordThrottled(metrics.FlowSudo)
			handleError(w, err)
			return
		}
		if state != nil {
			metrics.RecordChallenge(metrics.FlowSudo, string(state.Mode), metrics.StatusError)
			writeJSON(w, challengeResponse(state), http.StatusUnprocessableEntity)
			return
		}
		handleError(w, err)
		return
	}
	metrics.RecordChallenge(metrics.FlowSudo, string(state.Mode), metrics.StatusSuccess)

	remaining, err := flow.sudo.Remaining(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, SudoStatusResponse{
		Active:           true,
		RemainingSeconds: int64(remaining.Seconds()),
	}, http.StatusOK)
}

// SudoDeactivateHandler handles DELETE /api/v1/sudo. It closes the window
// and abandons any in-flight step-up challenge.
func (s *Server) SudoDeactivateHandler(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionIDFromContext(r.Context())

	flow, err := s.sudoFlowFor(sid)
	if err != nil {
		handleError(w, err)
		return
	}

	if err := flow.challenge.Abandon(r.Context()); err != nil {
		handleError(w, err)
		return
	}
	if err := flow.sudo.Deactivate(r.Context()); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
