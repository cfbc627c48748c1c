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

// Package rest implements the reference HTTP server for go-stepup. It
// binds the WebAuthn ceremony engine and the MFA and step-up challenge
// machines to cookie-scoped sessions and exposes them over a chi router.
package rest

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-stepup/pkg/events"
	"github.com/jeremyhahn/go-stepup/pkg/logging"
	"github.com/jeremyhahn/go-stepup/pkg/metrics"
	"github.com/jeremyhahn/go-stepup/pkg/ratelimit"
	"github.com/jeremyhahn/go-stepup/pkg/recovery"
	"github.com/jeremyhahn/go-stepup/pkg/session"
	"github.com/jeremyhahn/go-stepup/pkg/stepup"
	"github.com/jeremyhahn/go-stepup/pkg/totp"
	"github.com/jeremyhahn/go-stepup/pkg/user"
	"github.com/jeremyhahn/go-stepup/pkg/webauthn"
)

// DefaultCookieName is the session cookie name when none is configured.
const DefaultCookieName = "stepup_session"

// Config holds the REST server configuration.
type Config struct {
	// Host is the interface to bind (default: all interfaces).
	Host string

	// Port is the HTTP port to listen on (default: 8443).
	Port int

	// TLSConfig enables HTTPS when set.
	TLSConfig *tls.Config

	// CookieName is the session cookie name (default: stepup_session).
	CookieName string

	// Version is the API version string.
	Version string

	// Users is the account store (required).
	Users user.Store

	// Engine is the WebAuthn ceremony engine (required).
	Engine *webauthn.Engine

	// TOTP validates and enrolls authenticator-app secrets (required).
	TOTP *totp.Validator

	// TOTPIssuer is the service name shown in authenticator apps.
	TOTPIssuer string

	// Sealer encrypts recovery code sets at rest (required).
	Sealer *recovery.Sealer

	// RecoverySetSize is the number of codes per generated set.
	RecoverySetSize int

	// Sessions is the shared session store (required).
	Sessions session.Store

	// Limiter throttles challenge confirmation attempts (optional).
	Limiter *ratelimit.AttemptLimiter

	// Issuer signs tokens at login finalization (optional).
	Issuer *stepup.TokenIssuer

	// Features toggles the optional MFA factors.
	Features *stepup.Features

	// SudoWindow is the step-up validity window.
	SudoWindow time.Duration

	// Pad is the minimum challenge validation duration.
	Pad time.Duration

	// Events receives domain events (optional).
	Events events.Sink

	// Logger is the server logger (optional).
	Logger *logging.Logger

	// MetricsPath exposes Prometheus metrics when set (e.g. "/metrics").
	MetricsPath string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration
}

// Server is the REST API server.
type Server struct {
	server     *http.Server
	config     *Config
	logger     *logging.Logger
	events     events.Sink
	cookieName string
	secure     bool
	port       int
}

// NewServer creates a new REST API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("webauthn engine is required")
	}
	if cfg.TOTP == nil {
		return nil, fmt.Errorf("totp validator is required")
	}
	if cfg.Sealer == nil {
		return nil, fmt.Errorf("recovery sealer is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}

	// Set defaults
	if cfg.Port == 0 {
		cfg.Port = 8443
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.TOTPIssuer == "" {
		cfg.TOTPIssuer = "go-stepup"
	}
	if cfg.RecoverySetSize == 0 {
		cfg.RecoverySetSize = recovery.DefaultSetSize
	}
	if cfg.SudoWindow == 0 {
		cfg.SudoWindow = stepup.DefaultSudoWindow
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	log := cfg.Logger
	if log == nil {
		log = logging.DefaultLogger()
	}
	sink := cfg.Events
	if sink == nil {
		sink = events.NoopSink{}
	}

	server := &Server{
		config:     cfg,
		logger:     log,
		events:     sink,
		cookieName: cfg.CookieName,
		secure:     cfg.TLSConfig != nil,
		port:       cfg.Port,
	}

	router := server.setupRouter()

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		TLSConfig:    cfg.TLSConfig,
	}

	return server, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.RecoveryMiddleware())
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.HTTPMiddleware)

	r.Get("/healthz", s.HealthHandler)
	r.Head("/healthz", s.HealthHandler)

	if s.config.MetricsPath != "" {
		r.Method(http.MethodGet, s.config.MetricsPath, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.SessionMiddleware())

		// Account creation and login
		r.Post("/users", s.CreateUserHandler)
		r.Post("/login", s.LoginHandler)
		r.Post("/login/passkey/begin", s.BeginPasskeyLoginHandler)
		r.Post("/login/passkey/finish", s.FinishPasskeyLoginHandler)

		// MFA challenge (pending user, not yet authenticated)
		r.Get("/mfa", s.MFAStateHandler)
		r.Post("/mfa/mode", s.MFASelectModeHandler)
		r.Post("/mfa/webauthn/options", s.MFAWebAuthnOptionsHandler)
		r.Post("/mfa/confirm", s.MFAConfirmHandler)
		r.Delete("/mfa", s.MFAAbandonHandler)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(s.AuthenticationMiddleware())

			r.Get("/me", s.CurrentUserHandler)
			r.Post("/logout", s.LogoutHandler)

			// Step-up (sudo) challenge
			r.Get("/sudo", s.SudoStatusHandler)
			r.Post("/sudo/begin", s.SudoBeginHandler)
			r.Post("/sudo/mode", s.SudoSelectModeHandler)
			r.Post("/sudo/webauthn/options", s.SudoWebAuthnOptionsHandler)
			r.Post("/sudo/confirm", s.SudoConfirmHandler)
			r.Delete("/sudo", s.SudoDeactivateHandler)

			// WebAuthn credential management
			r.Post("/webauthn/register/begin", s.BeginRegistrationHandler)
			r.Post("/webauthn/register/finish", s.FinishRegistrationHandler)
			r.Get("/webauthn/credentials", s.ListCredentialsHandler)
			r.Patch("/webauthn/credentials/{id}", s.RenameCredentialHandler)

			// TOTP enrollment
			r.Post("/totp/enroll", s.TOTPEnrollHandler)
			r.Post("/totp/confirm", s.TOTPConfirmHandler)

			// Destructive factor management requires an active sudo window
			r.Group(func(r chi.Router) {
				r.Use(s.SudoGateMiddleware())

				r.Delete("/webauthn/credentials/{id}", s.DeleteCredentialHandler)
				r.Delete("/totp/{id}", s.TOTPDeleteHandler)
				r.Post("/recovery/regenerate", s.RecoveryRegenerateHandler)
			})
		})
	})

	return r
}

// Start starts the REST API server.
func (s *Server) Start() error {
	if s.config.TLSConfig != nil {
		s.logger.Info("Starting HTTPS server", "port", s.port)

		if err := s.server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTPS server: %w", err)
		}
	} else {
		s.logger.Info("Starting HTTP server", "port", s.port)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	return nil
}

// Stop gracefully stops the REST API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Errorf("failed to shutdown server: %v", err)
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	return s.port
}

// Handler returns the configured router, for mounting in tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// HealthHandler reports server liveness.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{Status: "ok", Version: s.config.Version}, http.StatusOK)
}
