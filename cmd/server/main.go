// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

// Package main is the entry point for the Tracegate server.
//
// Tracegate sits between log producers (browser bundles, backend services,
// background workers, manual tooling) and a strictly budgeted log store. It
// admits or rejects every prospective log write against a shared monthly
// budget, suppresses duplicate floods, and serves correlated per-trace views
// that merge a TTL-bound live window with a durable archive.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered defaults -> config.yaml -> environment
//  2. Ephemeral store: BadgerDB with TTL-expiring log entries
//  3. Quota ledger + deduplicator: shared Badger instance, transactional state
//  4. Archive: DuckDB durable tier (optional; ingestion survives without it)
//  5. Correlator + insight analyzer: merged read path
//  6. Sync bridge: periodic and on-demand archive reconciliation
//  7. HTTP server: chi REST API under /api/v1 plus /metrics
//
// Background services run under a suture supervision tree with three layers
// (storage maintenance, sync, API) so a crashing sync pass never takes down
// the ingest path.
//
// # Configuration
//
// Key environment variables (see internal/config for the full set):
//   - HTTP_PORT: listen port (default 8440)
//   - BADGER_PATH / EPHEMERAL_TTL: live window location and retention
//   - DUCKDB_PATH: archive location (empty = in-memory)
//   - MONTHLY_BUDGET, WINDOW_MS: shared quota shape
//   - DUPLICATE_WINDOW_MS, MAX_DUPLICATES: duplicate suppression
//   - SYNC_INTERVAL: periodic archive sync (0 disables)
//   - LOG_LEVEL, LOG_FORMAT: logging
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: the HTTP
// server drains in-flight requests, the supervisor stops background
// services, and both stores are closed (DuckDB checkpoints on close).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/tracegate/internal/api"
	"github.com/tomtom215/tracegate/internal/archive"
	"github.com/tomtom215/tracegate/internal/config"
	"github.com/tomtom215/tracegate/internal/correlate"
	"github.com/tomtom215/tracegate/internal/dedup"
	"github.com/tomtom215/tracegate/internal/ephemeral"
	"github.com/tomtom215/tracegate/internal/insight"
	"github.com/tomtom215/tracegate/internal/logging"
	"github.com/tomtom215/tracegate/internal/quota"
	"github.com/tomtom215/tracegate/internal/supervisor"
	"github.com/tomtom215/tracegate/internal/supervisor/services"
	"github.com/tomtom215/tracegate/internal/syncbridge"
)

func main() {
	// Load configuration first to get logging settings.
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Int64("monthly_budget", cfg.Quota.MonthlyBudget).
		Dur("window", cfg.Quota.Window).
		Dur("ephemeral_ttl", cfg.Ephemeral.TTL).
		Str("archive_path", cfg.Database.Path).
		Msg("Starting Tracegate")

	// Ephemeral store. The quota ledger and deduplicator share its Badger
	// instance so admission state and log entries live in one place.
	store, err := ephemeral.Open(ephemeral.Options{
		Path:     cfg.Ephemeral.Path,
		TTL:      cfg.Ephemeral.TTL,
		InMemory: cfg.Ephemeral.InMemory,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open ephemeral store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing ephemeral store")
		}
	}()

	ledger := quota.NewBadgerLedger(store.DB())
	deduplicator := dedup.New(store.DB(), dedup.Config{
		Window:           cfg.Dedup.Window,
		MaxDuplicates:    cfg.Dedup.MaxDuplicates,
		CleanupBatch:     cfg.Dedup.CleanupBatch,
		MessagePrefixLen: cfg.Dedup.MessagePrefixLen,
	})
	arbiter := quota.NewArbiter(ledger, deduplicator, cfg.Quota)

	// Durable archive. A broken archive degrades correlation depth and
	// sync; it never blocks ingestion, so failure here is not fatal.
	var (
		archiveReader correlate.ArchiveReader
		archiveStatus api.ArchiveStatus
		syncService   api.SyncService
		archiveDB     *archive.DB
	)
	archiveDB, err = archive.New(&cfg.Database)
	if err != nil {
		logging.Error().Err(err).Msg("Archive unavailable, running ephemeral-only")
		archiveDB = nil
	} else {
		archiveReader = archiveDB
		archiveStatus = archiveDB
		defer func() {
			if err := archiveDB.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing archive")
			}
		}()
	}

	correlator := correlate.New(store, archiveReader, correlate.Options{
		SearchLimit:      cfg.API.SearchLimit,
		RecentTraceFloor: cfg.API.RecentTraceFloor,
		RecentTraceLimit: cfg.API.RecentTraceLimit,
	})
	analyzer := insight.New(cfg.Insight)

	// Supervision tree: storage maintenance, sync, API.
	tree := supervisor.NewTree(slog.New(logging.NewSlogHandler()), supervisor.DefaultTreeConfig())
	tree.AddStorageService(services.NewMaintenanceService(store.DB(), 5*time.Minute))

	if archiveDB != nil {
		bridge := syncbridge.New(store, archiveDB, cfg.Sync.Workers)
		syncService = bridge
		tree.AddSyncService(syncbridge.NewRunner(bridge, cfg.Sync.Interval))
	}

	handler := api.NewHandler(arbiter, store, correlator, analyzer, syncService, archiveStatus, cfg)
	router := api.NewRouter(handler, cfg.Security)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       120 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain until the supervisor has fully stopped.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Tracegate stopped gracefully")
}
