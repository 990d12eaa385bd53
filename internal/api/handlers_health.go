// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package api

import (
	"context"
	"net/http"
	"time"
)

// healthComponent reports one backing store's status.
type healthComponent struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// healthReport is the aggregate health payload.
type healthReport struct {
	Status         string                     `json:"status"`
	Components     map[string]healthComponent `json:"components"`
	ArchivedEvents *int64                     `json:"archived_events,omitempty"`
}

// HealthLive handles GET /api/v1/health/live. The process answering at all
// is the liveness signal.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "alive"})
}

// HealthReady handles GET /api/v1/health/ready. The service is ready as
// long as the embedded ephemeral store serves; a degraded archive only
// degrades correlation depth, it does not block ingestion.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	report := h.checkHealth(r.Context())
	rw.Success(report)
}

// Health handles GET /api/v1/health with component detail.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	report := h.checkHealth(r.Context())

	if h.archive != nil && report.Components["archive"].Status == "ok" {
		if count, err := h.archive.CountAll(r.Context()); err == nil {
			report.ArchivedEvents = &count
		}
	}
	rw.Success(report)
}

func (h *Handler) checkHealth(ctx context.Context) healthReport {
	report := healthReport{
		Status: "ok",
		Components: map[string]healthComponent{
			"ephemeral": {Status: "ok"},
		},
	}

	if h.archive == nil {
		report.Components["archive"] = healthComponent{Status: "disabled"}
		return report
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.archive.Ping(pingCtx); err != nil {
		report.Status = "degraded"
		report.Components["archive"] = healthComponent{Status: "unavailable", Detail: err.Error()}
	} else {
		report.Components["archive"] = healthComponent{Status: "ok"}
	}
	return report
}

// Config handles GET /api/v1/config: the effective non-secret limits and
// thresholds producers need to behave well.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	q := h.cfg.Quota
	rw.Success(map[string]interface{}{
		"quota": map[string]interface{}{
			"monthly_budget":    q.MonthlyBudget,
			"window_ms":         q.Window.Milliseconds(),
			"split_browser":     q.SplitBrowser,
			"split_backend":     q.SplitBackend,
			"split_worker":      q.SplitWorker,
			"min_system_limit":  q.MinSystemLimit,
			"borrow_cap":        q.BorrowCap,
			"budget_soft_limit": q.BudgetSoftLimit,
			"critical_prefix":   q.CriticalPrefix,
		},
		"dedup": map[string]interface{}{
			"window_ms":      h.cfg.Dedup.Window.Milliseconds(),
			"max_duplicates": h.cfg.Dedup.MaxDuplicates,
		},
		"ephemeral": map[string]interface{}{
			"ttl_ms": h.cfg.Ephemeral.TTL.Milliseconds(),
		},
		"insight": map[string]interface{}{
			"slow_trace_ms":   h.cfg.Insight.SlowTraceMS,
			"error_rate":      h.cfg.Insight.ErrorRate,
			"bottleneck_ms":   h.cfg.Insight.BottleneckMS,
			"bottleneck_logs": h.cfg.Insight.BottleneckLogs,
		},
		"sync": map[string]interface{}{
			"interval_ms": h.cfg.Sync.Interval.Milliseconds(),
		},
		"api": map[string]interface{}{
			"search_limit":       h.cfg.API.SearchLimit,
			"recent_trace_limit": h.cfg.API.RecentTraceLimit,
		},
	})
}
