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

// Package events defines the fire-and-forget domain event side channel.
// Emission never blocks the calling flow and its result is never inspected;
// consumers (audit trails, notification mailers, UI toasts) subscribe by
// providing a Sink implementation at wiring time.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/jeremyhahn/go-stepup/pkg/logging"
)

// Domain event names emitted by the authentication core.
const (
	// CredentialRegistered is emitted when a WebAuthn credential is created.
	CredentialRegistered = "credential.registered"

	// CredentialUsed is emitted on every successful assertion.
	CredentialUsed = "credential.used"

	// CredentialRemoved is emitted when a credential is revoked.
	CredentialRemoved = "credential.removed"

	// TOTPUsed is emitted when an authenticator-app code is accepted.
	TOTPUsed = "totp.used"

	// TOTPEnrolled is emitted when a new authenticator-app secret is
	// confirmed with a first valid code.
	TOTPEnrolled = "totp.enrolled"

	// TOTPRemoved is emitted when an authenticator-app secret is revoked.
	TOTPRemoved = "totp.removed"

	// RecoveryCodeReplaced is emitted when a recovery code is consumed
	// and replaced with a freshly generated one.
	RecoveryCodeReplaced = "recovery_code.replaced"

	// RecoveryCodesRegenerated is emitted when the full code set is reissued.
	RecoveryCodesRegenerated = "recovery_codes.regenerated"

	// MFAChallenged is emitted when a second-factor challenge is presented.
	MFAChallenged = "mfa.challenged"

	// MFAConfirmed is emitted when a second-factor challenge succeeds.
	MFAConfirmed = "mfa.confirmed"

	// SudoActivated is emitted when step-up re-authentication succeeds.
	SudoActivated = "sudo.activated"
)

// Event is a named domain event with optional per-event metadata.
type Event struct {
	// Name is one of the event name constants above.
	Name string `json:"name"`

	// UserID is the WebAuthn user handle of the affected user, if any.
	UserID []byte `json:"user_id,omitempty"`

	// At is when the event occurred.
	At time.Time `json:"at"`

	// Metadata carries event-specific string attributes (credential name,
	// challenge mode, etc.). Never include secret material here.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Sink receives domain events. Implementations must not block; slow
// consumers should buffer internally.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoopSink discards all events.
type NoopSink struct{}

// Emit discards the event.
func (NoopSink) Emit(ctx context.Context, event Event) {}

// LogSink writes events to the logger at info level.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a sink that logs each event.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &LogSink{logger: logger}
}

// Emit logs the event name and metadata.
func (s *LogSink) Emit(ctx context.Context, event Event) {
	s.logger.Info("domain event", "event", event.Name, "at", event.At)
}

// MemorySink records events in memory. Intended for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an in-memory event sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit records the event.
func (s *MemorySink) Emit(ctx context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of the recorded events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Named returns the recorded events matching the given name.
func (s *MemorySink) Named(name string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Clear removes all recorded events.
func (s *MemorySink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
