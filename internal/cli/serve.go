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

package cli

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-stepup/internal/config"
	"github.com/jeremyhahn/go-stepup/internal/rest"
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

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authentication REST server",
	Long: `Starts the REST server with the configured WebAuthn relying
party, MFA factors, and step-up window. State is held in memory; every
restart starts from an empty user store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

// loadConfig resolves the configuration path and loads the file. The
// STEPUP_CONFIG environment variable overrides the --config flag.
func loadConfig() (*config.Config, error) {
	path := configFile
	if envConfig := os.Getenv("STEPUP_CONFIG"); envConfig != "" {
		path = envConfig
	}
	return config.Load(path)
}

func serve(cfg *config.Config) error {
	logger := logging.NewLogger(debug || cfg.Logging.Level == "debug")

	sealKey, err := cfg.RecoverySealKey()
	if err != nil {
		return err
	}
	sealer, err := recovery.NewSealer(sealKey)
	if err != nil {
		return err
	}

	totpValidator, err := totp.NewValidator(totp.ValidatorParams{Config: cfg.TOTP})
	if err != nil {
		return err
	}

	users := user.NewMemoryStore()
	sink := events.NewLogSink(logger)

	engine, err := webauthn.NewEngine(webauthn.EngineParams{
		Config:          &cfg.WebAuthn,
		UserStore:       user.NewWebAuthnStore(users),
		CredentialStore: webauthn.NewMemoryCredentialStore(),
		EventSink:       sink,
	})
	if err != nil {
		return err
	}

	limiter := ratelimit.New(&cfg.RateLimit)
	defer limiter.Stop()

	var issuer *stepup.TokenIssuer
	tokenSecret, err := cfg.TokenSecret()
	if err != nil {
		return err
	}
	if len(tokenSecret) > 0 {
		issuer, err = stepup.NewTokenIssuer(stepup.TokenIssuerParams{
			SigningKey: tokenSecret,
			Issuer:     cfg.Token.Issuer,
			Audience:   cfg.Token.Audience,
			TTL:        cfg.Token.TTL,
		})
		if err != nil {
			return err
		}
	}

	var tlsConfig *tls.Config
	if cfg.Server.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		if err != nil {
			return fmt.Errorf("load TLS key pair: %w", err)
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metrics.Enable()
		metricsPath = cfg.Metrics.Path

		collector := metrics.NewResourceCollector(context.Background(), 30*time.Second)
		collector.Start()
		defer collector.Stop()
	}

	server, err := rest.NewServer(&rest.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		TLSConfig:       tlsConfig,
		CookieName:      cfg.Session.CookieName,
		Version:         Version,
		Users:           users,
		Engine:          engine,
		TOTP:            totpValidator,
		Sealer:          sealer,
		RecoverySetSize: cfg.Recovery.SetSize,
		Sessions:        session.NewMemoryStoreWithTTL(cfg.Session.TTL),
		Limiter:         limiter,
		Issuer:          issuer,
		Features:        &cfg.MFA,
		SudoWindow:      cfg.Sudo.Window,
		Pad:             cfg.Challenge.Pad,
		Events:          sink,
		Logger:          logger,
		MetricsPath:     metricsPath,
	})
	if err != nil {
		return err
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	logger.Info("Server started",
		"rp_id", cfg.WebAuthn.RPID,
		"port", cfg.Server.Port)

	select {
	case <-shutdownCtx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return err
	}

	timeout, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return server.Stop(timeout)
}
