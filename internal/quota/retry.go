// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package quota

import (
	"context"
	"errors"

	"github.com/tomtom215/tracegate/internal/metrics"
)

// withRetry runs fn up to maxAttempts times, retrying only on ErrConflict.
// Conflicts are expected under concurrent producers; anything else returns
// immediately. The caller's fn re-reads fresh state on every attempt, so a
// retry never double-counts.
func withRetry(ctx context.Context, maxAttempts int, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		metrics.LedgerConflicts.Inc()
	}

	metrics.LedgerRetryExhausted.Inc()
	return err
}
