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

// Package config loads the reference server configuration from a YAML
// file with environment variable overrides.
package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-stepup/pkg/ratelimit"
	"github.com/jeremyhahn/go-stepup/pkg/stepup"
	"github.com/jeremyhahn/go-stepup/pkg/totp"
	"github.com/jeremyhahn/go-stepup/pkg/webauthn"
)

// Config represents the complete server configuration
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	WebAuthn  webauthn.Config  `yaml:"webauthn"`
	TOTP      totp.Config      `yaml:"totp"`
	MFA       stepup.Features  `yaml:"mfa"`
	Sudo      SudoConfig       `yaml:"sudo"`
	Challenge ChallengeConfig  `yaml:"challenge"`
	Recovery  RecoveryConfig   `yaml:"recovery"`
	Token     TokenConfig      `yaml:"token"`
	Session   SessionConfig    `yaml:"session"`
	RateLimit ratelimit.Config `yaml:"ratelimit"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

// ServerConfig contains server-level settings
type ServerConfig struct {
	Host string    `yaml:"host"`
	Port int       `yaml:"port"`
	TLS  TLSConfig `yaml:"tls"`
}

// TLSConfig controls TLS settings for the reference server
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SudoConfig controls the step-up re-authentication window
type SudoConfig struct {
	Window time.Duration `yaml:"window"`
}

// ChallengeConfig controls challenge machine behavior shared by the MFA
// and sudo flows
type ChallengeConfig struct {
	// Pad is the minimum proof validation duration.
	Pad time.Duration `yaml:"pad"`
}

// RecoveryConfig controls recovery code generation and at-rest sealing
type RecoveryConfig struct {
	// SealKey is the hex-encoded 32-byte AES key sealing recovery code
	// blobs at rest.
	SealKey string `yaml:"seal_key"`

	// SetSize is the number of codes in a user's set.
	SetSize int `yaml:"set_size"`
}

// TokenConfig controls the post-confirmation token issuer
type TokenConfig struct {
	// Secret is the hex-encoded HMAC signing secret (32 bytes minimum).
	// Leave empty to disable token issuance.
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	Audience []string      `yaml:"audience"`
	TTL      time.Duration `yaml:"ttl"`
}

// SessionConfig controls the in-memory session store
type SessionConfig struct {
	// TTL is how long idle session entries survive.
	TTL time.Duration `yaml:"ttl"`

	// CookieName is the session cookie the reference server issues.
	CookieName string `yaml:"cookie_name"`
}

// MetricsConfig controls the metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration the server runs with when no file is
// provided.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8443,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		MFA:  stepup.DefaultFeatures(),
		Sudo: SudoConfig{Window: stepup.DefaultSudoWindow},
		Challenge: ChallengeConfig{
			Pad: stepup.DefaultValidationPad,
		},
		Recovery: RecoveryConfig{SetSize: 8},
		Token: TokenConfig{
			Issuer: "go-stepup",
			TTL:    time.Hour,
		},
		Session: SessionConfig{
			TTL:        24 * time.Hour,
			CookieName: "stepup_session",
		},
		RateLimit: ratelimit.Config{
			Enabled:  true,
			Attempts: 5,
			Window:   time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
	return cfg
}

// Load reads configuration from a YAML file over the defaults and applies
// environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - Config file path is provided by admin/user
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("STEPUP_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portValue := os.Getenv("STEPUP_PORT"); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port < 1 || port > 65535 {
			log.Printf("Warning: invalid STEPUP_PORT value %q, using default %d",
				portValue, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}

	if level := os.Getenv("STEPUP_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("STEPUP_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	if rpID := os.Getenv("STEPUP_RP_ID"); rpID != "" {
		cfg.WebAuthn.RPID = rpID
	}
	if origins := os.Getenv("STEPUP_RP_ORIGINS"); origins != "" {
		cfg.WebAuthn.RPOrigins = strings.Split(origins, ",")
	}

	if key := os.Getenv("STEPUP_RECOVERY_SEAL_KEY"); key != "" {
		cfg.Recovery.SealKey = key
	}
	if secret := os.Getenv("STEPUP_TOKEN_SECRET"); secret != "" {
		cfg.Token.Secret = secret
	}

	if window := os.Getenv("STEPUP_SUDO_WINDOW"); window != "" {
		d, err := time.ParseDuration(window)
		if err != nil {
			log.Printf("Warning: invalid STEPUP_SUDO_WINDOW value %q, using default %s",
				window, cfg.Sudo.Window)
		} else {
			cfg.Sudo.Window = d
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}

	if err := c.WebAuthn.Validate(); err != nil {
		return fmt.Errorf("webauthn: %w", err)
	}

	if c.Recovery.SealKey == "" {
		return fmt.Errorf("recovery seal_key must be specified")
	}
	if _, err := c.RecoverySealKey(); err != nil {
		return err
	}
	if c.Recovery.SetSize < 1 {
		return fmt.Errorf("recovery set_size must be positive")
	}

	if c.Token.Secret != "" {
		if _, err := c.TokenSecret(); err != nil {
			return err
		}
	}

	if c.Sudo.Window <= 0 {
		return fmt.Errorf("sudo window must be positive")
	}

	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return fmt.Errorf("metrics path must be specified when metrics are enabled")
	}

	return nil
}

// RecoverySealKey decodes the configured recovery seal key.
func (c *Config) RecoverySealKey() ([]byte, error) {
	key, err := hex.DecodeString(c.Recovery.SealKey)
	if err != nil {
		return nil, fmt.Errorf("recovery seal_key must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("recovery seal_key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// TokenSecret decodes the configured token signing secret.
func (c *Config) TokenSecret() ([]byte, error) {
	secret, err := hex.DecodeString(c.Token.Secret)
	if err != nil {
		return nil, fmt.Errorf("token secret must be hex encoded: %w", err)
	}
	if len(secret) < 32 {
		return nil, fmt.Errorf("token secret must decode to at least 32 bytes, got %d", len(secret))
	}
	return secret, nil
}
