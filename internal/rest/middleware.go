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
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/jeremyhahn/go-stepup/pkg/session"
)

type contextKey string

const (
	sessionIDContextKey contextKey = "stepup.session_id"
	userIDContextKey    contextKey = "stepup.user_id"
)

// sessionIDFromContext returns the browser session ID bound by
// SessionMiddleware.
func sessionIDFromContext(ctx context.Context) (string, bool) {
	sid, ok := ctx.Value(sessionIDContextKey).(string)
	return sid, ok
}

// userIDFromContext returns the authenticated user ID bound by
// AuthenticationMiddleware.
func userIDFromContext(ctx context.Context) ([]byte, bool) {
	id, ok := ctx.Value(userIDContextKey).([]byte)
	return id, ok
}

// newSessionID generates a random browser session identifier.
func newSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write ensures WriteHeader is called.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// SessionMiddleware binds each request to a browser session. A missing or
// empty cookie gets a fresh random session ID set on the response.
func (s *Server) SessionMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var sid string
			if cookie, err := r.Cookie(s.cookieName); err == nil && cookie.Value != "" {
				sid = cookie.Value
			} else {
				fresh, err := newSessionID()
				if err != nil {
					writeError(w, ErrInternalError, http.StatusInternalServerError)
					return
				}
				sid = fresh
				http.SetCookie(w, &http.Cookie{
					Name:     s.cookieName,
					Value:    sid,
					Path:     "/",
					HttpOnly: true,
					Secure:   s.secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := context.WithValue(r.Context(), sessionIDContextKey, sid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AuthenticationMiddleware requires an authenticated session. The user ID
// stored at login is bound to the request context.
func (s *Server) AuthenticationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid, ok := sessionIDFromContext(r.Context())
			if !ok {
				writeError(w, ErrUnauthorized, http.StatusUnauthorized)
				return
			}

			id, err := s.authSession(sid).Get(r.Context(), authUserKey)
			if err != nil {
				if errors.Is(err, session.ErrKeyNotFound) {
					writeErrorWithMessage(w, ErrUnauthorized, "login required", http.StatusUnauthorized)
					return
				}
				s.logger.Errorf("auth session lookup: %v", err)
				writeError(w, ErrInternalError, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SudoGateMiddleware requires an active step-up window. Handlers behind
// this gate perform destructive factor management.
func (s *Server) SudoGateMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid, ok := sessionIDFromContext(r.Context())
			if !ok {
				writeError(w, ErrUnauthorized, http.StatusUnauthorized)
				return
			}

			flow, err := s.sudoFlowFor(sid)
			if err != nil {
				s.logger.Errorf("sudo flow: %v", err)
				writeError(w, ErrInternalError, http.StatusInternalServerError)
				return
			}

			active, err := flow.sudo.IsActive(r.Context())
			if err != nil {
				s.logger.Errorf("sudo status: %v", err)
				writeError(w, ErrInternalError, http.StatusInternalServerError)
				return
			}
			if !active {
				writeErrorWithMessage(w, ErrSudoRequired,
					"confirm your identity to continue", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LoggingMiddleware logs HTTP requests using the configured logger.
func (s *Server) LoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			s.logger.Info("Request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration", time.Since(start).String())
		})
	}
}

// RecoveryMiddleware recovers from panics and returns a 500 error.
func (s *Server) RecoveryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					s.logger.Errorf("panic recovered: %s %s: %v", r.Method, r.URL.Path, err)
					writeErrorWithMessage(w, ErrInternalError,
						"An unexpected error occurred", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
