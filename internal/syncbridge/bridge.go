// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

// Package syncbridge mirrors the ephemeral log window into the durable
// archive.
//
// A sync pass is clear-then-reimport for its scope: delete the scope's
// archived rows, then re-insert everything currently live in the ephemeral
// store. The archive's (timestamp, message, system) uniqueness makes the
// reimport idempotent. Individual insert failures are skipped and counted,
// never fatal; only a fully unreachable archive aborts a pass.
package syncbridge

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/tracegate/internal/logging"
	"github.com/tomtom215/tracegate/internal/metrics"
	"github.com/tomtom215/tracegate/internal/models"
)

// EventSource is the slice of the ephemeral store the bridge reads from.
type EventSource interface {
	ListAll(ctx context.Context) ([]models.LogEvent, error)
	ListByTrace(ctx context.Context, traceID string) ([]models.LogEvent, error)
	ListByUser(ctx context.Context, userID string) ([]models.LogEvent, error)
}

// ArchiveWriter is the slice of the archive the bridge writes to.
type ArchiveWriter interface {
	InsertEvent(ctx context.Context, event *models.LogEvent) (bool, error)
	DeleteAll(ctx context.Context) (int64, error)
	DeleteByTrace(ctx context.Context, traceID string) (int64, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	Ping(ctx context.Context) error
}

// Bridge copies ephemeral events into the archive.
type Bridge struct {
	source  EventSource
	archive ArchiveWriter
	workers int
}

// New creates a Bridge with the given insert concurrency.
func New(source EventSource, archive ArchiveWriter, workers int) *Bridge {
	if workers <= 0 {
		workers = 4
	}
	return &Bridge{source: source, archive: archive, workers: workers}
}

// SyncAll mirrors the entire ephemeral window into the archive.
func (b *Bridge) SyncAll(ctx context.Context) (*models.SyncResult, error) {
	return b.run(ctx, "all",
		func(ctx context.Context) ([]models.LogEvent, error) { return b.source.ListAll(ctx) },
		func(ctx context.Context) (int64, error) { return b.archive.DeleteAll(ctx) },
	)
}

// SyncByTrace mirrors one trace's events into the archive.
func (b *Bridge) SyncByTrace(ctx context.Context, traceID string) (*models.SyncResult, error) {
	return b.run(ctx, "trace",
		func(ctx context.Context) ([]models.LogEvent, error) { return b.source.ListByTrace(ctx, traceID) },
		func(ctx context.Context) (int64, error) { return b.archive.DeleteByTrace(ctx, traceID) },
	)
}

// SyncByUser mirrors one user's events into the archive.
func (b *Bridge) SyncByUser(ctx context.Context, userID string) (*models.SyncResult, error) {
	return b.run(ctx, "user",
		func(ctx context.Context) ([]models.LogEvent, error) { return b.source.ListByUser(ctx, userID) },
		func(ctx context.Context) (int64, error) { return b.archive.DeleteByUser(ctx, userID) },
	)
}

func (b *Bridge) run(
	ctx context.Context,
	scope string,
	list func(context.Context) ([]models.LogEvent, error),
	clear func(context.Context) (int64, error),
) (*models.SyncResult, error) {
	start := time.Now()
	defer func() {
		metrics.SyncDuration.WithLabelValues(scope).Observe(time.Since(start).Seconds())
	}()

	// A dead archive aborts the pass before anything is cleared.
	if err := b.archive.Ping(ctx); err != nil {
		metrics.SyncRuns.WithLabelValues(scope, "error").Inc()
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	events, err := list(ctx)
	if err != nil {
		metrics.SyncRuns.WithLabelValues(scope, "error").Inc()
		return nil, fmt.Errorf("list ephemeral events: %w", err)
	}

	deleted, err := clear(ctx)
	if err != nil {
		metrics.SyncRuns.WithLabelValues(scope, "error").Inc()
		return nil, fmt.Errorf("clear archive scope: %w", err)
	}

	var synced, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i := range events {
		event := &events[i]
		g.Go(func() error {
			inserted, err := b.archive.InsertEvent(gctx, event)
			if err != nil {
				// Skip and count; one bad row must not abort the pass.
				skipped.Add(1)
				logging.Debug().
					Str("component", "syncbridge").
					Str("trace_id", event.TraceID).
					Err(err).
					Msg("Skipped event during sync")
				return nil
			}
			if inserted {
				synced.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.SyncRuns.WithLabelValues(scope, "error").Inc()
		return nil, err
	}

	result := &models.SyncResult{
		TotalSynced:  int(synced.Load()),
		DeletedCount: int(deleted),
		SkippedCount: int(skipped.Load()),
	}

	metrics.SyncRuns.WithLabelValues(scope, "success").Inc()
	metrics.SyncedEvents.Add(float64(result.TotalSynced))
	metrics.SyncSkippedEvents.Add(float64(result.SkippedCount))

	logging.Info().
		Str("component", "syncbridge").
		Str("scope", scope).
		Int("synced", result.TotalSynced).
		Int("deleted", result.DeletedCount).
		Int("skipped", result.SkippedCount).
		Dur("elapsed", time.Since(start)).
		Msg("Sync pass complete")

	return result, nil
}
