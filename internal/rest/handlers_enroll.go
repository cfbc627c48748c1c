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
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-stepup/pkg/events"
	"github.com/jeremyhahn/go-stepup/pkg/recovery"
	"github.com/jeremyhahn/go-stepup/pkg/session"
	"github.com/jeremyhahn/go-stepup/pkg/stepup"
	"github.com/jeremyhahn/go-stepup/pkg/totp"
)

// TOTPEnrollHandler handles POST /api/v1/totp/enroll. The generated
// secret stays pending in the session until a first valid code confirms
// the authenticator actually holds it.
func (s *Server) TOTPEnrollHandler(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionIDFromContext(r.Context())

	u, err := s.currentUser(r)
	if err != nil {
		handleError(w, err)
		return
	}

	cred, url, err := s.config.TOTP.Enroll(totp.EnrollParams{
		Issuer:      s.config.TOTPIssuer,
		AccountName: u.Username,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	if err := s.enrollSession(sid).PutJSON(r.Context(), enrollTOTPKey, cred); err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, TOTPEnrollResponse{
		ID:     cred.ID,
		Secret: cred.Secret,
		URL:    url,
	}, http.StatusOK)
}

// TOTPConfirmHandler handles POST /api/v1/totp/confirm. A wrong code
// leaves the pending enrollment in place for retry. Confirming the first
// enrollment also provisions the user's recovery code set.
func (s *Server) TOTPConfirmHandler(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionIDFromContext(r.Context())

	var req TOTPConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "invalid request body", http.StatusBadRequest)
		return
	}

	u, err := s.currentUser(r)
	if err != nil {
		handleError(w, err)
		return
	}

	enroll := s.enrollSession(sid)

	var pending totp.Credential
	if err := enroll.GetJSON(r.Context(), enrollTOTPKey, &pending); err != nil {
		if errors.Is(err, session.ErrKeyNotFound) {
			handleError(w, ErrNoPendingEnrollment)
			return
		}
		handleError(w, err)
		return
	}

	matched, err := s.config.TOTP.Validate(req.Code, []*totp.Credential{&pending})
	if err != nil {
		handleError(w, err)
		return
	}
	if matched == nil {
		writeError(w, stepup.ErrInvalidCode, http.StatusUnprocessableEntity)
		return
	}

	resp := TOTPConfirmResponse{}

	firstFactor := !u.HasRecoveryCodes()
	if firstFactor {
		codes, err := recovery.Generate(s.config.RecoverySetSize)
		if err != nil {
			handleError(w, err)
			return
		}
		blob, err := s.config.Sealer.Seal(codes)
		if err != nil {
			handleError(w, err)
			return
		}
		u.RecoveryCodes = blob
		resp.RecoveryCodes = codes
	}

	u.AddTOTPCredential(&pending)
	if err := s.config.Users.Update(r.Context(), u); err != nil {
		handleError(w, err)
		return
	}

	if err := enroll.Forget(r.Context(), enrollTOTPKey); err != nil {
		s.logger.Errorf("forget pending enrollment: %v", err)
	}

	s.events.Emit(r.Context(), events.Event{
		Name:     events.TOTPEnrolled,
		UserID:   u.ID,
		At:       time.Now().UTC(),
		Metadata: map[string]string{"totp_credential_id": pending.ID},
	})
	if firstFactor {
		s.events.Emit(r.Context(), events.Event{
			Name:   events.RecoveryCodesRegenerated,
			UserID: u.ID,
			At:     time.Now().UTC(),
		})
	}

	resp.User = userResponse(u)
	writeJSON(w, resp, http.StatusOK)
}

// TOTPDeleteHandler handles DELETE /api/v1/totp/{id}. Mounted behind the
// sudo gate.
func (s *Server) TOTPDeleteHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeErrorWithMessage(w, ErrInvalidRequest, "invalid enrollment id", http.StatusBadRequest)
		return
	}

	u, err := s.currentUser(r)
	if err != nil {
		handleError(w, err)
		return
	}

	if !u.RemoveTOTPCredential(id) {
		handleError(w, ErrTOTPNotFound)
		return
	}
	if err := s.config.Users.Update(r.Context(), u); err != nil {
		handleError(w, err)
		return
	}

	s.events.Emit(r.Context(), events.Event{
		Name:     events.TOTPRemoved,
		UserID:   u.ID,
		At:       time.Now().UTC(),
		Metadata: map[string]string{"totp_credential_id": id},
	})

	w.WriteHeader(http.StatusNoContent)
}

// RecoveryRegenerateHandler handles POST /api/v1/recovery/regenerate.
// Mounted behind the sudo gate. The previous set is discarded; the new
// codes are shown exactly once.
func (s *Server) RecoveryRegenerateHandler(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		handleError(w, err)
		return
	}

	codes, err := recovery.Generate(s.config.RecoverySetSize)
	if err != nil {
		handleError(w, err)
		return
	}

	blob, err := s.config.Sealer.Seal(codes)
	if err != nil {
		handleError(w, err)
		return
	}

	u.RecoveryCodes = blob
	if err := s.config.Users.Update(r.Context(), u); err != nil {
		handleError(w, err)
		return
	}

	s.events.Emit(r.Context(), events.Event{
		Name:   events.RecoveryCodesRegenerated,
		UserID: u.ID,
		At:     time.Now().UTC(),
	})

	writeJSON(w, RecoveryCodesResponse{Codes: codes}, http.StatusOK)
}
