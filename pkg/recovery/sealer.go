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

package recovery

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for sealed recovery code blobs.
var (
	// ErrInvalidKeySize is returned when the sealing key is not 32 bytes.
	ErrInvalidKeySize = errors.New("sealing key must be 32 bytes")

	// ErrMalformedBlob is returned when a sealed blob cannot be opened,
	// whether truncated, tampered with, or sealed under a different key.
	ErrMalformedBlob = errors.New("malformed recovery code blob")
)

// Sealer encrypts recovery code sets at rest with AES-256-GCM.
//
// Blob format: [nonce(12)][ciphertext+tag]. The nonce is random per seal,
// so sealing the same set twice yields different blobs.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a sealer from a 32 byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("recovery sealer: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("recovery sealer: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts the code set into an opaque blob.
func (s *Sealer) Seal(codes []string) ([]byte, error) {
	plaintext, err := json.Marshal(codes)
	if err != nil {
		return nil, fmt.Errorf("seal recovery codes: %w", err)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal recovery codes: %w", err)
	}

	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal.
func (s *Sealer) Open(blob []byte) ([]string, error) {
	if len(blob) < s.aead.NonceSize() {
		return nil, ErrMalformedBlob
	}

	nonce := blob[:s.aead.NonceSize()]
	ciphertext := blob[s.aead.NonceSize():]

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrMalformedBlob
	}

	var codes []string
	if err := json.Unmarshal(plaintext, &codes); err != nil {
		return nil, ErrMalformedBlob
	}
	return codes, nil
}
