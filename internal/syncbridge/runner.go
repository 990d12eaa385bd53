// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package syncbridge

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/tracegate/internal/logging"
	"github.com/tomtom215/tracegate/internal/models"
)

// Runner periodically runs full sync passes. It implements suture.Service
// and is managed by the supervisor tree.
type Runner struct {
	bridge   *Bridge
	interval time.Duration
}

// NewRunner creates a periodic runner. An interval of zero disables it;
// Serve then blocks until the context is canceled.
func NewRunner(bridge *Bridge, interval time.Duration) *Runner {
	return &Runner{bridge: bridge, interval: interval}
}

// Serve runs the periodic sync loop until the context is canceled.
func (r *Runner) Serve(ctx context.Context) error {
	if r.interval <= 0 {
		logging.Info().
			Str("component", "syncbridge").
			Msg("Periodic sync disabled, on-demand only")
		<-ctx.Done()
		return ctx.Err()
	}

	logging.Info().
		Str("component", "syncbridge").
		Dur("interval", r.interval).
		Msg("Periodic sync runner started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.bridge.SyncAll(ctx); err != nil {
				// An unreachable archive is a transient condition, not a
				// reason to crash the service and trip the supervisor.
				if errors.Is(err, models.ErrStoreUnavailable) {
					logging.Warn().
						Str("component", "syncbridge").
						Err(err).
						Msg("Periodic sync skipped, archive unavailable")
					continue
				}
				logging.Error().
					Str("component", "syncbridge").
					Err(err).
					Msg("Periodic sync failed")
			}
		}
	}
}

// String names the service in supervisor logs.
func (r *Runner) String() string {
	return "sync-runner"
}
