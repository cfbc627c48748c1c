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

// Package totp validates and enrolls authenticator-app (RFC 6238) codes.
// A user may hold several enrolled secrets; validation checks the submitted
// code against each in enrollment order and reports the first match.
package totp

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Credential is one enrolled authenticator-app secret.
type Credential struct {
	// ID uniquely identifies this enrollment.
	ID string `json:"id"`

	// Secret is the shared base32-encoded TOTP secret.
	Secret string `json:"secret"`

	// Issuer is the service name shown in the authenticator app.
	Issuer string `json:"issuer"`

	// AccountName is the account label shown in the authenticator app.
	AccountName string `json:"account_name"`

	// CreatedAt is when the secret was enrolled.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when a code from this secret last validated.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// Config configures code generation and validation parameters. The zero
// value selects the authenticator-app defaults (30 second period, 6 digits,
// SHA-1, one period of clock skew).
type Config struct {
	// Period is the code rotation interval in seconds. Default: 30.
	Period uint `yaml:"period" json:"period" mapstructure:"period"`

	// Skew is the number of adjacent periods accepted on either side.
	// Default: 1.
	Skew uint `yaml:"skew" json:"skew" mapstructure:"skew"`

	// Digits is the code length. Default: 6.
	Digits int `yaml:"digits" json:"digits" mapstructure:"digits"`

	// SecretSize is the generated secret length in bytes. Default: 20.
	SecretSize uint `yaml:"secret_size" json:"secret_size" mapstructure:"secret_size"`
}

// SetDefaults sets default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.Period == 0 {
		c.Period = 30
	}
	if c.Skew == 0 {
		c.Skew = 1
	}
	if c.Digits == 0 {
		c.Digits = 6
	}
	if c.SecretSize == 0 {
		c.SecretSize = 20
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Digits != 0 && c.Digits != 6 && c.Digits != 8 {
		return fmt.Errorf("invalid digits: %d", c.Digits)
	}
	return nil
}

// Validator checks submitted codes against enrolled secrets.
type Validator struct {
	config Config
	now    func() time.Time
}

// ValidatorParams contains dependencies for creating a Validator.
type ValidatorParams struct {
	// Config holds the code parameters. Defaults are applied.
	Config Config

	// Clock overrides the time source. Defaults to time.Now. Intended for tests.
	Clock func() time.Time
}

// NewValidator creates a TOTP validator.
func NewValidator(params ValidatorParams) (*Validator, error) {
	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, err
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &Validator{config: params.Config, now: now}, nil
}

// Validate checks the code against each credential in order and returns the
// first credential the code is valid for, or nil if none match. The caller
// is responsible for stamping LastUsedAt on the returned credential and for
// rate limiting attempts.
func (v *Validator) Validate(code string, creds []*Credential) (*Credential, error) {
	opts := v.validateOpts()
	for _, cred := range creds {
		valid, err := totp.ValidateCustom(code, cred.Secret, v.now().UTC(), opts)
		if err != nil {
			return nil, fmt.Errorf("totp validation: %w", err)
		}
		if valid {
			return cred, nil
		}
	}
	return nil, nil
}

// GenerateCode computes the current code for a credential. Intended for
// tests and enrollment confirmation screens.
func (v *Validator) GenerateCode(cred *Credential) (string, error) {
	return totp.GenerateCodeCustom(cred.Secret, v.now().UTC(), v.validateOpts())
}

func (v *Validator) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    v.config.Period,
		Skew:      v.config.Skew,
		Digits:    otp.Digits(v.config.Digits),
		Algorithm: otp.AlgorithmSHA1,
	}
}

// EnrollParams describes a new authenticator-app enrollment.
type EnrollParams struct {
	// Issuer is the service name shown in the authenticator app.
	Issuer string

	// AccountName is the account label, typically the user's email.
	AccountName string
}

// Enroll generates a fresh secret and returns the credential along with the
// otpauth:// provisioning URL to render as a QR code. The credential is not
// persisted; callers store it after the user confirms a first valid code.
func (v *Validator) Enroll(params EnrollParams) (*Credential, string, error) {
	if params.Issuer == "" {
		return nil, "", fmt.Errorf("issuer is required")
	}
	if params.AccountName == "" {
		return nil, "", fmt.Errorf("account name is required")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      params.Issuer,
		AccountName: params.AccountName,
		Period:      v.config.Period,
		SecretSize:  v.config.SecretSize,
		Digits:      otp.Digits(v.config.Digits),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, "", fmt.Errorf("totp enrollment: %w", err)
	}

	cred := &Credential{
		ID:          uuid.New().String(),
		Secret:      key.Secret(),
		Issuer:      params.Issuer,
		AccountName: params.AccountName,
		CreatedAt:   v.now().UTC(),
	}
	return cred, key.URL(), nil
}
