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
	"fmt"
	"log"
	"net/http"

	"github.com/jeremyhahn/go-stepup/pkg/stepup"
	"github.com/jeremyhahn/go-stepup/pkg/user"
	"github.com/jeremyhahn/go-stepup/pkg/webauthn"
)

// Common errors
var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrSudoRequired        = errors.New("step-up confirmation required")
	ErrNoPendingChallenge  = errors.New("no pending challenge")
	ErrNoPendingEnrollment = errors.New("no pending enrollment")
	ErrTOTPNotFound        = errors.New("authenticator app enrollment not found")
	ErrInternalError       = errors.New("internal server error")
)

// writeError writes an error response to the client.
func writeError(w http.ResponseWriter, err error, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error: err.Error(),
		Code:  statusCode,
	}

	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		log.Printf("Failed to encode error response: %v", encErr)
	}
}

// writeErrorWithMessage writes an error response with a custom message.
func writeErrorWithMessage(w http.ResponseWriter, err error, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:   err.Error(),
		Message: message,
		Code:    statusCode,
	}

	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		log.Printf("Failed to encode error response: %v", encErr)
	}
}

// mapErrorToStatusCode maps domain errors to HTTP status codes.
func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, user.ErrUserNotFound),
		webauthn.IsUserNotFound(err),
		webauthn.IsCredentialNotFound(err),
		webauthn.IsKeyNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, user.ErrUserAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, stepup.ErrInvalidCode),
		errors.Is(err, stepup.ErrInvalidRecoveryCode),
		errors.Is(err, stepup.ErrInvalidPassword):
		return http.StatusUnprocessableEntity
	case errors.Is(err, stepup.ErrNoPendingUser),
		errors.Is(err, ErrNoPendingChallenge),
		errors.Is(err, ErrNoPendingEnrollment):
		return http.StatusConflict
	case errors.Is(err, ErrTOTPNotFound):
		return http.StatusNotFound
	case errors.Is(err, stepup.ErrModeUnavailable),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, user.ErrInvalidUsername),
		webauthn.IsNoChallenge(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrSudoRequired):
		return http.StatusForbidden
	case webauthn.IsAttestationFailed(err),
		webauthn.IsAssertionFailed(err),
		webauthn.IsPasskeyRequired(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// handleError maps the error to a status code and writes the response.
// Throttled errors additionally carry a Retry-After header.
func handleError(w http.ResponseWriter, err error) {
	var throttled *stepup.ThrottledError
	if errors.As(err, &throttled) {
		retryAfter := int64(throttled.RetryAfter.Seconds()) + 1
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		w.WriteHeader(http.StatusTooManyRequests)
		resp := ErrorResponse{
			Error:      err.Error(),
			Code:       http.StatusTooManyRequests,
			RetryAfter: retryAfter,
		}
		if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
			log.Printf("Failed to encode error response: %v", encErr)
		}
		return
	}

	writeError(w, err, mapErrorToStatusCode(err))
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}
