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
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-stepup/pkg/metrics"
	"github.com/jeremyhahn/go-stepup/pkg/webauthn"
)

func registrationPurpose(passkey bool) webauthn.Purpose {
	if passkey {
		return webauthn.PurposeRegisterPasskey
	}
	return webauthn.PurposeRegister
}

// credentialIDFromURL decodes the {id} path parameter.
func credentialIDFromURL(r *http.Request) ([]byte, error) {
	id, err := base64.RawURLEncoding.DecodeString(chi.URLParam(r, "id"))
	if err != nil || len(id) == 0 {
		return nil, ErrInvalidRequest
	}
	return id, nil
}

// BeginRegistrationHandler handles POST /api/v1/webauthn/register/begin.
func (s *Server) BeginRegistrationHandler(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionIDFromContext(r.Context())

	var req BeginRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "invalid request body", http.StatusBadRequest)
		return
	}

	u, err := s.currentUser(r)
	if err != nil {
		handleError(w, err)
		return
	}

	options, sd, err := s.config.Engine.BeginAttestation(r.Context(), u, webauthn.AttestationParams{
		Passkey: req.Passkey,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	store := s.registerChallenges(sid)
	if err := store.Store(r.Context(), registrationPurpose(req.Passkey), sd); err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, options, http.StatusOK)
}

// FinishRegistrationHandler handles POST /api/v1/webauthn/register/finish.
func (s *Server) FinishRegistrationHandler(w http.ResponseWriter, r *http.Request) {
	sid, _ := sessionIDFromContext(r.Context())
	start := time.Now()

	var req FinishRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "invalid request body", http.StatusBadRequest)
		return
	}

	u, err := s.currentUser(r)
	if err != nil {
		handleError(w, err)
		return
	}

	store := s.registerChallenges(sid)
	sd, err := store.Consume(r.Context(), registrationPurpose(req.Passkey))
	if err != nil {
		handleError(w, err)
		return
	}

	cred, err := s.config.Engine.FinishAttestation(r.Context(), u, sd, req.Response,
		webauthn.RegistrationMetadata{
			Name:    req.Name,
			Passkey: req.Passkey,
		})
	if err != nil {
		metrics.RecordCeremony(metrics.CeremonyAttestation, metrics.StatusError, time.Since(start).Seconds())
		handleError(w, err)
		return
	}
	metrics.RecordCeremony(metrics.CeremonyAttestation, metrics.StatusSuccess, time.Since(start).Seconds())

	writeJSON(w, credentialResponse(cred), http.StatusCreated)
}

// ListCredentialsHandler handles GET /api/v1/webauthn/credentials.
func (s *Server) ListCredentialsHandler(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		handleError(w, err)
		return
	}

	creds, err := s.config.Engine.ListCredentials(r.Context(), u.ID)
	if err != nil {
		handleError(w, err)
		return
	}

	resp := make([]*CredentialResponse, 0, len(creds))
	for _, cred := range creds {
		resp = append(resp, credentialResponse(cred))
	}

	writeJSON(w, resp, http.StatusOK)
}

// RenameCredentialHandler handles PATCH /api/v1/webauthn/credentials/{id}.
func (s *Server) RenameCredentialHandler(w http.ResponseWriter, r *http.Request) {
	credID, err := credentialIDFromURL(r)
	if err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "invalid credential id", http.StatusBadRequest)
		return
	}

	var req RenameCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeErrorWithMessage(w, ErrInvalidRequest, "name is required", http.StatusBadRequest)
		return
	}

	u, err := s.currentUser(r)
	if err != nil {
		handleError(w, err)
		return
	}

	if err := s.requireCredentialOwner(r, credID, u.ID); err != nil {
		handleError(w, err)
		return
	}

	if err := s.config.Engine.RenameCredential(r.Context(), credID, req.Name); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteCredentialHandler handles DELETE /api/v1/webauthn/credentials/{id}.
// Mounted behind the sudo gate.
func (s *Server) DeleteCredentialHandler(w http.ResponseWriter, r *http.Request) {
	credID, err := credentialIDFromURL(r)
	if err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "invalid credential id", http.StatusBadRequest)
		return
	}

	u, err := s.currentUser(r)
	if err != nil {
		handleError(w, err)
		return
	}

	if err := s.requireCredentialOwner(r, credID, u.ID); err != nil {
		handleError(w, err)
		return
	}

	if err := s.config.Engine.DeleteCredential(r.Context(), credID); err != nil {
		handleError(w, err)
		return
	}

	if u.RemoveCredential(credID) {
		if err := s.config.Users.Update(r.Context(), u); err != nil {
			handleError(w, err)
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// requireCredentialOwner rejects operations on credentials the user does
// not own without revealing whether the credential exists.
func (s *Server) requireCredentialOwner(r *http.Request, credID, userID []byte) error {
	cred, err := s.config.Engine.Credentials().GetByCredentialID(r.Context(), credID)
	if err != nil {
		return err
	}
	if !bytes.Equal(cred.UserID, userID) {
		return webauthn.ErrCredentialNotFound
	}
	return nil
}
