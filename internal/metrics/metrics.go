// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

// Package metrics provides Prometheus instrumentation for the admission
// pipeline, the backing stores, and the HTTP API. All collectors register
// on the default registry via promauto.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Admission Metrics
	AdmissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_decisions_total",
			Help: "Total admission decisions by system and outcome",
		},
		[]string{"system", "outcome"}, // outcome: allowed, duplicate, budget_exhausted, global_rate_limited, system_rate_limited, degraded
	)

	AdmissionCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "admission_check_duration_seconds",
			Help:    "Duration of a full admission check (dedup + quota)",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)

	DedupSuppressions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_suppressions_total",
			Help: "Total events suppressed as duplicates",
		},
		[]string{"system"},
	)

	DedupCleanupDeletions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_cleanup_deletions_total",
			Help: "Total expired fingerprints removed by cleanup sweeps",
		},
	)

	BorrowGrants = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_borrow_grants_total",
			Help: "Total quota units borrowed from sibling system headroom",
		},
		[]string{"system"},
	)

	LedgerConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quota_ledger_conflicts_total",
			Help: "Total optimistic-concurrency conflicts on the quota ledger",
		},
	)

	LedgerRetryExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quota_ledger_retry_exhausted_total",
			Help: "Total ledger updates abandoned after exhausting retries",
		},
	)

	AdmissionFailOpen = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "admission_fail_open_total",
			Help: "Total admissions granted because the ledger was unavailable",
		},
	)

	// Store Metrics
	EphemeralOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ephemeral_operation_duration_seconds",
			Help:    "Duration of ephemeral store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ArchiveQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_query_duration_seconds",
			Help:    "Duration of archive (DuckDB) queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ArchiveQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_query_errors_total",
			Help: "Total archive query errors",
		},
		[]string{"operation"},
	)

	ArchiveBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_breaker_open",
			Help: "1 when the archive circuit breaker is open, 0 otherwise",
		},
	)

	// Sync Metrics
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Total archive sync passes by scope and result",
		},
		[]string{"scope", "result"}, // scope: all, trace, user; result: success, error
	)

	SyncedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_events_total",
			Help: "Total events copied to the archive by sync passes",
		},
	)

	SyncSkippedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_skipped_events_total",
			Help: "Total events skipped during sync due to insert failures",
		},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of archive sync passes in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"scope"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)
)

// RecordAdmission records one admission decision outcome for a system.
func RecordAdmission(system, outcome string) {
	AdmissionDecisions.WithLabelValues(system, outcome).Inc()
}

// RecordEphemeralOp observes the duration of one ephemeral store operation.
func RecordEphemeralOp(operation string, start time.Time) {
	EphemeralOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordArchiveQuery observes the duration of one archive query and counts
// the error if it failed.
func RecordArchiveQuery(operation string, start time.Time, err error) {
	ArchiveQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		ArchiveQueryErrors.WithLabelValues(operation).Inc()
	}
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordAPIRequest records one completed API request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	code := strconv.Itoa(statusCode)
	APIRequestsTotal.WithLabelValues(method, endpoint, code).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
