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

package stepup

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jeremyhahn/go-stepup/pkg/user"
)

// TokenIssuer signs tokens for users that have completed a challenge, for
// callers that finalize a full login from the MFA flow.
type TokenIssuer struct {
	signingKey crypto.PrivateKey
	verifyKey  any
	method     jwt.SigningMethod
	issuer     string
	audience   []string
	ttl        time.Duration
	keyID      string
	now        func() time.Time
}

// TokenIssuerParams contains configuration for the token issuer.
type TokenIssuerParams struct {
	// SigningKey signs tokens. ECDSA, Ed25519 and RSA private keys and
	// raw HMAC secrets ([]byte) are supported; the signing algorithm is
	// derived from the key type. Required.
	SigningKey crypto.PrivateKey

	// Issuer is the iss claim. Defaults to "go-stepup".
	Issuer string

	// Audience is the aud claim. Defaults to ["go-stepup"].
	Audience []string

	// TTL is how long tokens are valid. Defaults to 1 hour.
	TTL time.Duration

	// KeyID sets the kid header. Optional.
	KeyID string

	// Clock overrides the time source. Intended for tests.
	Clock func() time.Time
}

// NewTokenIssuer creates a token issuer.
func NewTokenIssuer(params TokenIssuerParams) (*TokenIssuer, error) {
	if params.SigningKey == nil {
		return nil, fmt.Errorf("signing key is required")
	}
	method, verifyKey, err := signingMethodFor(params.SigningKey)
	if err != nil {
		return nil, err
	}
	if params.Issuer == "" {
		params.Issuer = "go-stepup"
	}
	if len(params.Audience) == 0 {
		params.Audience = []string{"go-stepup"}
	}
	if params.TTL == 0 {
		params.TTL = time.Hour
	}
	if params.Clock == nil {
		params.Clock = time.Now
	}
	return &TokenIssuer{
		signingKey: params.SigningKey,
		verifyKey:  verifyKey,
		method:     method,
		issuer:     params.Issuer,
		audience:   params.Audience,
		ttl:        params.TTL,
		keyID:      params.KeyID,
		now:        params.Clock,
	}, nil
}

// Issue signs a token for the user. The subject is the base64url-encoded
// user handle, matching the WebAuthn user entity encoding.
func (t *TokenIssuer) Issue(u *user.User) (string, error) {
	now := t.now().UTC()
	claims := jwt.MapClaims{
		"iss":      t.issuer,
		"aud":      t.audience,
		"sub":      base64.RawURLEncoding.EncodeToString(u.ID),
		"iat":      now.Unix(),
		"nbf":      now.Unix(),
		"exp":      now.Add(t.ttl).Unix(),
		"username": u.Username,
		"name":     u.DisplayName,
	}

	token := jwt.NewWithClaims(t.method, claims)
	if t.keyID != "" {
		token.Header["kid"] = t.keyID
	}
	return token.SignedString(t.signingKey)
}

// Verify parses and validates a token and returns its claims.
func (t *TokenIssuer) Verify(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString,
		func(*jwt.Token) (any, error) { return t.verifyKey, nil },
		jwt.WithValidMethods([]string{t.method.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience(t.audience[0]),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return t.now() }),
	)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}
	return claims, nil
}

// Subject extracts the user handle from a verified token's sub claim.
func Subject(claims jwt.MapClaims) ([]byte, error) {
	sub, err := claims.GetSubject()
	if err != nil {
		return nil, err
	}
	return base64.RawURLEncoding.DecodeString(sub)
}

func signingMethodFor(key crypto.PrivateKey) (jwt.SigningMethod, any, error) {
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return jwt.SigningMethodES256, k.Public(), nil
		case elliptic.P384():
			return jwt.SigningMethodES384, k.Public(), nil
		case elliptic.P521():
			return jwt.SigningMethodES512, k.Public(), nil
		default:
			return nil, nil, fmt.Errorf("unsupported ecdsa curve %s", k.Curve.Params().Name)
		}
	case ed25519.PrivateKey:
		return jwt.SigningMethodEdDSA, k.Public(), nil
	case *rsa.PrivateKey:
		return jwt.SigningMethodRS256, k.Public(), nil
	case []byte:
		if len(k) < 32 {
			return nil, nil, fmt.Errorf("hmac secret must be at least 32 bytes")
		}
		return jwt.SigningMethodHS256, k, nil
	default:
		return nil, nil, fmt.Errorf("unsupported signing key type %T", key)
	}
}
