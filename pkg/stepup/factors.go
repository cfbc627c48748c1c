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
	"context"
	"time"

	"github.com/jeremyhahn/go-stepup/pkg/events"
	"github.com/jeremyhahn/go-stepup/pkg/recovery"
	"github.com/jeremyhahn/go-stepup/pkg/totp"
	"github.com/jeremyhahn/go-stepup/pkg/user"
	"github.com/jeremyhahn/go-stepup/pkg/webauthn"
)

// factorSet holds the proof validators shared by the MFA and sudo
// strategies.
type factorSet struct {
	totp       *totp.Validator
	engine     *webauthn.Engine
	challenges *webauthn.ChallengeStore
	users      user.Store
	sink       events.Sink
	now        func() time.Time
}

// validateTOTP checks the code against every enrolled secret in enrollment
// order. A match stamps the matched credential's LastUsedAt and emits
// totp.used.
func (f *factorSet) validateTOTP(ctx context.Context, u *user.User, code string) error {
	cred, err := f.totp.Validate(code, u.TOTPCredentials)
	if err != nil {
		return err
	}
	if cred == nil {
		return ErrInvalidCode
	}

	cred.LastUsedAt = f.now().UTC()
	if err := f.users.Update(ctx, u); err != nil {
		return err
	}
	f.sink.Emit(ctx, events.Event{
		Name:     events.TOTPUsed,
		UserID:   u.ID,
		At:       f.now().UTC(),
		Metadata: map[string]string{"totp_credential_id": cred.ID},
	})
	return nil
}

// validateRecovery checks the code against the user's sealed recovery code
// set. A match replaces the code in place with a freshly generated one and
// emits recovery_code.replaced. The set size never changes and the whole
// sealed blob is swapped in a single user update.
func (f *factorSet) validateRecovery(ctx context.Context, u *user.User, sealer *recovery.Sealer, code string) error {
	if !u.HasRecoveryCodes() {
		return ErrInvalidRecoveryCode
	}
	codes, err := sealer.Open(u.RecoveryCodes)
	if err != nil {
		return err
	}

	replaced, matched, err := recovery.Consume(codes, code)
	if err != nil {
		return err
	}
	if !matched {
		return ErrInvalidRecoveryCode
	}

	blob, err := sealer.Seal(replaced)
	if err != nil {
		return err
	}
	u.RecoveryCodes = blob
	if err := f.users.Update(ctx, u); err != nil {
		return err
	}
	f.sink.Emit(ctx, events.Event{
		Name:   events.RecoveryCodeReplaced,
		UserID: u.ID,
		At:     f.now().UTC(),
	})
	return nil
}

// validateAssertion finishes a WebAuthn assertion against the pending
// challenge for the purpose. The challenge is consumed before validation
// runs, so a failed attempt cannot be replayed against the same options.
func (f *factorSet) validateAssertion(ctx context.Context, u *user.User, purpose webauthn.Purpose, response []byte) error {
	sd, err := f.challenges.Consume(ctx, purpose)
	if err != nil {
		return err
	}
	_, err = f.engine.FinishAssertion(ctx, u, sd, response, false)
	return err
}
