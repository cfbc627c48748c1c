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
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/jeremyhahn/go-stepup/pkg/events"
)

// Engine builds WebAuthn ceremony options and verifies client ceremony
// responses for four scenarios: registering a security key, registering a
// passkey, authenticating with a known user's allow-list, and userless
// (passkey autofill) authentication with an empty allow-list.
//
// The engine does no locking and owns no challenge storage; callers store
// the returned session data (see ChallengeStore) and must consume it
// read-once per verification attempt.
type Engine struct {
	standard   *webauthn.WebAuthn
	passkey    *webauthn.WebAuthn
	config     *Config
	users      UserStore
	creds      CredentialStore
	events     events.Sink
	now        func() time.Time
	configured bool
}

// EngineParams contains dependencies for creating a ceremony engine.
type EngineParams struct {
	// Config is the WebAuthn configuration (required).
	Config *Config

	// UserStore is the user persistence layer (required).
	UserStore UserStore

	// CredentialStore is the credential persistence layer (required).
	CredentialStore CredentialStore

	// EventSink receives domain events. Defaults to a no-op sink.
	EventSink events.Sink

	// Clock overrides the time source. Defaults to time.Now. Intended for tests.
	Clock func() time.Time
}

// NewEngine creates a new WebAuthn ceremony engine with the provided
// dependencies.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.UserStore == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if params.CredentialStore == nil {
		return nil, fmt.Errorf("credential store is required")
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	standard, err := webauthn.New(params.Config.ToWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn instance: %w", err)
	}
	passkey, err := webauthn.New(params.Config.ToPasskeyWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create passkey webauthn instance: %w", err)
	}

	sink := params.EventSink
	if sink == nil {
		sink = events.NoopSink{}
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}

	return &Engine{
		standard:   standard,
		passkey:    passkey,
		config:     params.Config,
		users:      params.UserStore,
		creds:      params.CredentialStore,
		events:     sink,
		now:        now,
		configured: true,
	}, nil
}

// AttestationParams controls option building for a registration ceremony.
type AttestationParams struct {
	// Passkey selects the passkey ceremony profile (platform attachment,
	// required user verification, required resident key, longer timeout).
	Passkey bool

	// ExcludeCredentialIDs removes specific credential IDs from the
	// exclude-credentials list, so key-upgrade flows can re-register an
	// authenticator without colliding with its own prior registration.
	ExcludeCredentialIDs [][]byte
}

// BeginAttestation builds registration ceremony options for the user. The
// exclude list is the user's existing credential IDs minus any explicitly
// excluded ones. The returned session data must be stored by the caller;
// the engine does not touch session storage.
func (e *Engine) BeginAttestation(ctx context.Context, user User, params AttestationParams) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	if !e.configured {
		return nil, nil, ErrNotConfigured
	}

	existing, err := e.creds.GetByUserID(ctx, user.WebAuthnID())
	if err != nil {
		return nil, nil, WrapError("get credentials", err)
	}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(existing))
	for _, cred := range existing {
		if containsID(params.ExcludeCredentialIDs, cred.ID) {
			continue
		}
		exclusions = append(exclusions, cred.Descriptor())
	}

	options, sd, err := e.instance(params.Passkey).BeginRegistration(user,
		webauthn.WithExclusions(exclusions),
	)
	if err != nil {
		return nil, nil, WrapError("begin attestation", err)
	}

	return options, sd, nil
}

// RegistrationMetadata carries caller-supplied attributes for the
// credential created by FinishAttestation.
type RegistrationMetadata struct {
	// Name is the human-readable label for the new credential.
	Name string

	// Passkey must match the AttestationParams the ceremony began with; it
	// selects the ceremony profile and marks the stored credential.
	Passkey bool
}

// FinishAttestation verifies a registration ceremony response against the
// previously issued options and persists the resulting credential.
//
// The stored session's user handle must equal the authenticated user's
// handle; a mismatch is fatal (ErrWrongUserHandle), never corrected. A
// response of the wrong ceremony type fails with ErrResponseMismatch. Any
// cryptographic or semantic validation failure surfaces as
// ErrAttestationFailed wrapping the library's reason.
func (e *Engine) FinishAttestation(ctx context.Context, user User, sd *webauthn.SessionData, response []byte, meta RegistrationMetadata) (*Credential, error) {
	if !e.configured {
		return nil, ErrNotConfigured
	}
	if sd == nil {
		return nil, NewError("finish attestation", ErrNoChallenge)
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, failCeremony("finish attestation", ErrResponseMismatch, err)
	}

	if !bytes.Equal(sd.UserID, user.WebAuthnID()) {
		return nil, NewError("finish attestation", ErrWrongUserHandle)
	}

	wc, err := e.instance(meta.Passkey).CreateCredential(user, *sd, parsed)
	if err != nil {
		return nil, failCeremony("finish attestation", ErrAttestationFailed, err)
	}

	cred := FromWebAuthnCredential(user.WebAuthnID(), wc)
	cred.Name = meta.Name
	cred.IsPasskey = meta.Passkey
	cred.CreatedAt = e.now().UTC()

	if err := e.creds.Save(ctx, cred); err != nil {
		return nil, WrapError("save credential", err)
	}
	user.AddCredential(cred)
	if err := e.users.Save(ctx, user); err != nil {
		return nil, WrapError("save user", err)
	}

	e.events.Emit(ctx, events.Event{
		Name:     events.CredentialRegistered,
		UserID:   user.WebAuthnID(),
		At:       e.now().UTC(),
		Metadata: map[string]string{"name": cred.Name, "passkey": fmt.Sprintf("%t", cred.IsPasskey)},
	})

	return cred, nil
}

// BeginAssertion builds authentication ceremony options. With a user, the
// allow-credentials list is the user's registered credential IDs; with a
// nil user (userless passkey autofill) the allow-list is empty and user
// verification is always required.
func (e *Engine) BeginAssertion(ctx context.Context, user User, requireUserVerification bool) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	if !e.configured {
		return nil, nil, ErrNotConfigured
	}

	if user == nil {
		options, sd, err := e.standard.BeginDiscoverableLogin(
			webauthn.WithUserVerification(protocol.VerificationRequired),
		)
		if err != nil {
			return nil, nil, WrapError("begin assertion", err)
		}
		return options, sd, nil
	}

	existing, err := e.creds.GetByUserID(ctx, user.WebAuthnID())
	if err != nil {
		return nil, nil, WrapError("get credentials", err)
	}
	if len(existing) == 0 {
		return nil, nil, NewError("begin assertion", ErrNoCredentials)
	}

	var opts []webauthn.LoginOption
	if requireUserVerification {
		opts = append(opts, webauthn.WithUserVerification(protocol.VerificationRequired))
	}

	options, sd, err := e.standard.BeginLogin(user, opts...)
	if err != nil {
		return nil, nil, WrapError("begin assertion", err)
	}
	return options, sd, nil
}

// FinishAssertion verifies an authentication ceremony response.
//
// Lookup is by the response's raw credential ID alone, scoped to user only
// when one is provided, so userless login works without prior user context.
// When requirePasskey is set, a matched non-passkey credential fails with
// ErrPasskeyRequired before any cryptographic validation. On success the
// stored credential's signature counter and last-used timestamp are
// persisted (the counter never decreases) with the original raw credential
// ID left untouched, since the validator's returned source can re-encode
// the ID and break future lookups. Returns the matched stored credential.
func (e *Engine) FinishAssertion(ctx context.Context, user User, sd *webauthn.SessionData, response []byte, requirePasskey bool) (*Credential, error) {
	if !e.configured {
		return nil, ErrNotConfigured
	}
	if sd == nil {
		return nil, NewError("finish assertion", ErrNoChallenge)
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, failCeremony("finish assertion", ErrResponseMismatch, err)
	}

	stored, err := e.creds.GetByCredentialID(ctx, parsed.RawID)
	if err != nil {
		return nil, failCeremony("finish assertion", ErrKeyNotFound, err)
	}
	if user != nil && !bytes.Equal(stored.UserID, user.WebAuthnID()) {
		return nil, NewError("finish assertion", ErrKeyNotFound)
	}

	owner, err := e.users.GetByID(ctx, stored.UserID)
	if err != nil {
		// A credential without an owning user is unusable.
		return nil, failCeremony("finish assertion", ErrKeyNotFound, err)
	}

	if requirePasskey && !stored.IsPasskey {
		return nil, NewError("finish assertion", ErrPasskeyRequired)
	}

	var validated *webauthn.Credential
	if user == nil {
		validated, err = e.standard.ValidateDiscoverableLogin(e.discoverableHandler(owner), *sd, parsed)
	} else {
		validated, err = e.standard.ValidateLogin(owner, *sd, parsed)
	}
	if err != nil {
		return nil, failCeremony("finish assertion", ErrAssertionFailed, err)
	}

	// Counter regression is the library's clone check; the stored counter
	// itself only ever moves forward.
	if validated.Authenticator.SignCount > stored.Authenticator.SignCount {
		stored.Authenticator.SignCount = validated.Authenticator.SignCount
	}
	stored.Authenticator.CloneWarning = validated.Authenticator.CloneWarning
	stored.Flags.BackupState = validated.Flags.BackupState
	stored.LastUsedAt = e.now().UTC()

	if err := e.creds.Update(ctx, stored); err != nil {
		return nil, WrapError("update credential", err)
	}
	owner.UpdateCredential(stored)
	if err := e.users.Save(ctx, owner); err != nil {
		return nil, WrapError("save user", err)
	}

	e.events.Emit(ctx, events.Event{
		Name:     events.CredentialUsed,
		UserID:   stored.UserID,
		At:       e.now().UTC(),
		Metadata: map[string]string{"name": stored.Name},
	})

	return stored, nil
}

// HasCredentials reports whether the user has any registered credentials.
func (e *Engine) HasCredentials(ctx context.Context, userID []byte) (bool, error) {
	if !e.configured {
		return false, ErrNotConfigured
	}
	if userID == nil {
		return false, nil
	}
	creds, err := e.creds.GetByUserID(ctx, userID)
	if err != nil {
		return false, WrapError("get credentials", err)
	}
	return len(creds) > 0, nil
}

// ListCredentials retrieves all credentials for a user.
func (e *Engine) ListCredentials(ctx context.Context, userID []byte) ([]*Credential, error) {
	if !e.configured {
		return nil, ErrNotConfigured
	}
	return e.creds.GetByUserID(ctx, userID)
}

// RenameCredential changes the human-readable label of a credential.
func (e *Engine) RenameCredential(ctx context.Context, credID []byte, name string) error {
	if !e.configured {
		return ErrNotConfigured
	}
	cred, err := e.creds.GetByCredentialID(ctx, credID)
	if err != nil {
		return WrapError("rename credential", err)
	}
	cred.Name = name
	return e.creds.Update(ctx, cred)
}

// DeleteCredential revokes a credential immediately.
func (e *Engine) DeleteCredential(ctx context.Context, credID []byte) error {
	if !e.configured {
		return ErrNotConfigured
	}
	cred, err := e.creds.GetByCredentialID(ctx, credID)
	if err != nil {
		return WrapError("delete credential", err)
	}
	if err := e.creds.Delete(ctx, credID); err != nil {
		return WrapError("delete credential", err)
	}
	e.events.Emit(ctx, events.Event{
		Name:     events.CredentialRemoved,
		UserID:   cred.UserID,
		At:       e.now().UTC(),
		Metadata: map[string]string{"name": cred.Name},
	})
	return nil
}

// Config returns the engine configuration.
func (e *Engine) Config() *Config {
	return e.config
}

// Credentials returns the credential store.
func (e *Engine) Credentials() CredentialStore {
	return e.creds
}

// Users returns the user store.
func (e *Engine) Users() UserStore {
	return e.users
}

func (e *Engine) instance(passkey bool) *webauthn.WebAuthn {
	if passkey {
		return e.passkey
	}
	return e.standard
}

// discoverableHandler returns the owner already resolved from the stored
// credential; the library calls it with the asserted rawID and user handle.
func (e *Engine) discoverableHandler(owner User) webauthn.DiscoverableUserHandler {
	return func(rawID, userHandle []byte) (webauthn.User, error) {
		if !bytes.Equal(owner.WebAuthnID(), userHandle) {
			return nil, ErrWrongUserHandle
		}
		return owner, nil
	}
}

func containsID(ids [][]byte, id []byte) bool {
	for _, candidate := range ids {
		if bytes.Equal(candidate, id) {
			return true
		}
	}
	return false
}
