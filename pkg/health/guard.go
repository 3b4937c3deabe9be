// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keyproof.
//
// go-keyproof is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package health

import (
	"context"
	"fmt"
)

// GuardCheckName is the readiness check name used for the replay guard.
const GuardCheckName = "replay_guard"

// Counter reports the number of consumed nonces held by a replay guard.
type Counter interface {
	Count() (int, error)
}

// GuardCheck reports the replay guard unhealthy once it fails or is closed.
// Consumed nonces are never expired, so when warnAt is positive the check
// turns degraded at that many entries.
func GuardCheck(guard Counter, warnAt int) CheckFunc {
	return func(ctx context.Context) CheckResult {
		n, err := guard.Count()
		if err != nil {
			return CheckResult{
				Name:    GuardCheckName,
				Status:  StatusUnhealthy,
				Message: "replay guard unavailable",
				Error:   err.Error(),
			}
		}
		if warnAt > 0 && n >= warnAt {
			return CheckResult{
				Name:    GuardCheckName,
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%d consumed nonces (warning threshold %d)", n, warnAt),
			}
		}
		return CheckResult{
			Name:    GuardCheckName,
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%d consumed nonces", n),
		}
	}
}
