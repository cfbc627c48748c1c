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

package webauthn

import (
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		RPID:          "example.com",
		RPDisplayName: "Example Corp",
		RPOrigins:     []string{"https://example.com"},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid minimal config",
			mutate: func(c *Config) {},
		},
		{
			name: "missing RPID",
			mutate: func(c *Config) {
				c.RPID = ""
			},
			wantErr: "RPID is required",
		},
		{
			name: "missing display name",
			mutate: func(c *Config) {
				c.RPDisplayName = ""
			},
			wantErr: "RPDisplayName is required",
		},
		{
			name: "missing origins",
			mutate: func(c *Config) {
				c.RPOrigins = nil
			},
			wantErr: "at least one RPOrigin is required",
		},
		{
			name: "invalid user verification",
			mutate: func(c *Config) {
				c.UserVerification = "mandatory"
			},
			wantErr: "invalid user verification",
		},
		{
			name: "invalid attestation preference",
			mutate: func(c *Config) {
				c.AttestationPreference = "full"
			},
			wantErr: "invalid attestation preference",
		},
		{
			name: "invalid resident key requirement",
			mutate: func(c *Config) {
				c.ResidentKeyRequirement = "always"
			},
			wantErr: "invalid resident key requirement",
		},
		{
			name: "invalid authenticator attachment",
			mutate: func(c *Config) {
				c.AuthenticatorAttachment = "usb"
			},
			wantErr: "invalid authenticator attachment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_SetDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.SetDefaults()

	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, 300*time.Second, cfg.PasskeyTimeout)
	assert.Equal(t, "preferred", cfg.UserVerification)
	assert.Equal(t, "none", cfg.AttestationPreference)
	assert.Equal(t, "preferred", cfg.ResidentKeyRequirement)
}

func TestConfig_SetDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := validConfig()
	cfg.Timeout = 30 * time.Second
	cfg.UserVerification = "required"
	cfg.SetDefaults()

	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, "required", cfg.UserVerification)
}

func TestConfig_ToWebAuthnConfig(t *testing.T) {
	cfg := validConfig()
	cfg.UserVerification = "required"
	cfg.AttestationPreference = "direct"
	cfg.ResidentKeyRequirement = "discouraged"
	cfg.AuthenticatorAttachment = "cross-platform"
	cfg.SetDefaults()

	wcfg := cfg.ToWebAuthnConfig()

	assert.Equal(t, "example.com", wcfg.RPID)
	assert.Equal(t, "Example Corp", wcfg.RPDisplayName)
	assert.Equal(t, []string{"https://example.com"}, wcfg.RPOrigins)
	assert.Equal(t, protocol.PreferDirectAttestation, wcfg.AttestationPreference)
	assert.Equal(t, protocol.VerificationRequired, wcfg.AuthenticatorSelection.UserVerification)
	assert.Equal(t, protocol.ResidentKeyRequirementDiscouraged, wcfg.AuthenticatorSelection.ResidentKey)
	assert.Equal(t, protocol.CrossPlatform, wcfg.AuthenticatorSelection.AuthenticatorAttachment)
	assert.True(t, wcfg.Timeouts.Login.Enforce)
	assert.Equal(t, 60*time.Second, wcfg.Timeouts.Login.Timeout)
	assert.Equal(t, 60*time.Second, wcfg.Timeouts.Registration.Timeout)
}

// The passkey profile is fixed regardless of the standard ceremony settings:
// platform attachment, required resident key, required user verification, and
// the longer passkey timeout.
func TestConfig_ToPasskeyWebAuthnConfig(t *testing.T) {
	cfg := validConfig()
	cfg.UserVerification = "discouraged"
	cfg.ResidentKeyRequirement = "discouraged"
	cfg.AuthenticatorAttachment = "cross-platform"
	cfg.SetDefaults()

	wcfg := cfg.ToPasskeyWebAuthnConfig()

	assert.Equal(t, protocol.Platform, wcfg.AuthenticatorSelection.AuthenticatorAttachment)
	assert.Equal(t, protocol.ResidentKeyRequirementRequired, wcfg.AuthenticatorSelection.ResidentKey)
	assert.Equal(t, protocol.VerificationRequired, wcfg.AuthenticatorSelection.UserVerification)
	assert.True(t, wcfg.Timeouts.Login.Enforce)
	assert.Equal(t, 300*time.Second, wcfg.Timeouts.Login.Timeout)
	assert.Equal(t, 300*time.Second, wcfg.Timeouts.Registration.Timeout)
}
