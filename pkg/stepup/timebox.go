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
)

// DefaultValidationPad is the minimum duration a proof validation takes,
// so that success and failure are not distinguishable by response time.
const DefaultValidationPad = 300 * time.Millisecond

// PadTo runs fn and sleeps out the remainder of min before returning its
// error. A canceled context cuts the pad short; fn itself always runs to
// completion.
func PadTo(ctx context.Context, min time.Duration, fn func() error) error {
	start := time.Now()
	err := fn()

	remaining := min - time.Since(start)
	if remaining <= 0 {
		return err
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		if err == nil {
			return ctx.Err()
		}
	}
	return err
}
