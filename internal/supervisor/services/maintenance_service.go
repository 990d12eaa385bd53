// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package services

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/tracegate/internal/logging"
)

// MaintenanceService periodically runs Badger value-log garbage collection
// on the ephemeral store. TTL expiry marks entries dead; GC reclaims the
// disk space they occupied.
type MaintenanceService struct {
	db       *badger.DB
	interval time.Duration
}

// NewMaintenanceService creates a GC service for the given database.
func NewMaintenanceService(db *badger.DB, interval time.Duration) *MaintenanceService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &MaintenanceService{db: db, interval: interval}
}

// Serve implements suture.Service.
func (m *MaintenanceService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// Each call rewrites at most one value log file; loop until
			// there is nothing left to reclaim.
			for {
				err := m.db.RunValueLogGC(0.5)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						logging.Debug().
							Str("component", "maintenance").
							Err(err).
							Msg("Value log GC pass ended")
					}
					break
				}
			}
		}
	}
}

// String names the service in supervisor logs.
func (m *MaintenanceService) String() string {
	return "ephemeral-maintenance"
}
