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

// Package recovery generates and consumes single-use recovery codes. The
// code set has a fixed size for the lifetime of the account: consuming a
// code replaces it in place with a freshly generated one, so the set size
// never reveals how many codes have been spent.
package recovery

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"strings"
)

// DefaultSetSize is the number of codes issued per user.
const DefaultSetSize = 8

// codeAlphabet excludes visually ambiguous characters (0/O, 1/I/l).
const codeAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

// groupLength is the length of each half of a formatted code.
const groupLength = 10

// NewCode generates a single recovery code of the form
// "xxxxxxxxxx-xxxxxxxxxx".
func NewCode() (string, error) {
	var sb strings.Builder
	for group := 0; group < 2; group++ {
		if group > 0 {
			sb.WriteByte('-')
		}
		buf := make([]byte, groupLength)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("recovery code generation: %w", err)
		}
		for _, b := range buf {
			sb.WriteByte(codeAlphabet[int(b)%len(codeAlphabet)])
		}
	}
	return sb.String(), nil
}

// Generate creates a fresh set of n recovery codes. A non-positive n yields
// DefaultSetSize codes.
func Generate(n int) ([]string, error) {
	if n <= 0 {
		n = DefaultSetSize
	}
	codes := make([]string, n)
	for i := range codes {
		code, err := NewCode()
		if err != nil {
			return nil, err
		}
		codes[i] = code
	}
	return codes, nil
}

// Consume looks for the submitted code in the set. On a match it replaces
// the spent code in position with a freshly generated one and returns the
// updated set. The returned bool reports whether the code matched.
//
// Every code in the set is compared in constant time and the scan never
// exits early, so response timing does not reveal which position matched.
func Consume(codes []string, submitted string) ([]string, bool, error) {
	matched := -1
	submittedBytes := []byte(submitted)
	for i, code := range codes {
		if equalConstantTime([]byte(code), submittedBytes) && matched < 0 {
			matched = i
		}
	}
	if matched < 0 {
		return codes, false, nil
	}

	replacement, err := NewCode()
	if err != nil {
		return codes, false, err
	}

	updated := make([]string, len(codes))
	copy(updated, codes)
	updated[matched] = replacement
	return updated, true, nil
}

// equalConstantTime compares two byte slices without leaking the position
// of the first difference. Length is not secret here; codes have a fixed
// format and only the content must stay timing-safe.
func equalConstantTime(a, b []byte) bool {
	if len(a) != len(b) {
		// Burn a comparison anyway so set scans stay even
		subtle.ConstantTimeCompare(a, a)
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
