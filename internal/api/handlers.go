// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tracegate/internal/config"
	"github.com/tomtom215/tracegate/internal/correlate"
	"github.com/tomtom215/tracegate/internal/logging"
	"github.com/tomtom215/tracegate/internal/models"
	"github.com/tomtom215/tracegate/internal/validation"
)

// AdmissionController decides whether log writes are admitted.
type AdmissionController interface {
	CheckAndAdmit(ctx context.Context, event *models.LogEvent) models.AdmissionDecision
	Snapshot(ctx context.Context) (*models.QuotaState, error)
}

// LogStore is the slice of the ephemeral store the handlers need.
type LogStore interface {
	Append(ctx context.Context, event *models.LogEvent) error
	PurgeTrace(ctx context.Context, traceID string) (int, error)
}

// TraceReader answers correlation queries across both log tiers.
type TraceReader interface {
	Correlate(ctx context.Context, traceID string, opts correlate.CorrelateOptions) (*models.TraceBundle, error)
	SearchLogs(ctx context.Context, query correlate.SearchQuery) ([]models.LogEvent, error)
	RecentTraces(ctx context.Context, opts correlate.RecentOptions) ([]models.TraceSummary, error)
}

// InsightAnalyzer derives insights from a trace bundle.
type InsightAnalyzer interface {
	Analyze(bundle *models.TraceBundle) *models.Insight
}

// SyncService triggers archive sync passes.
type SyncService interface {
	SyncAll(ctx context.Context) (*models.SyncResult, error)
	SyncByTrace(ctx context.Context, traceID string) (*models.SyncResult, error)
	SyncByUser(ctx context.Context, userID string) (*models.SyncResult, error)
}

// ArchiveStatus exposes archive health for readiness checks.
type ArchiveStatus interface {
	Ping(ctx context.Context) error
	CountAll(ctx context.Context) (int64, error)
}

// Handler holds the services behind the HTTP surface.
type Handler struct {
	arbiter AdmissionController
	store   LogStore
	traces  TraceReader
	insight InsightAnalyzer
	sync    SyncService
	archive ArchiveStatus
	cfg     *config.Config

	now func() time.Time
}

// NewHandler creates the API handler. archive may be nil when the durable
// tier is disabled; sync endpoints then report the archive unavailable.
func NewHandler(
	arbiter AdmissionController,
	store LogStore,
	traces TraceReader,
	insight InsightAnalyzer,
	syncSvc SyncService,
	archive ArchiveStatus,
	cfg *config.Config,
) *Handler {
	return &Handler{
		arbiter: arbiter,
		store:   store,
		traces:  traces,
		insight: insight,
		sync:    syncSvc,
		archive: archive,
		cfg:     cfg,
		now:     time.Now,
	}
}

// maxBodyBytes caps request bodies; log payloads are small by contract.
const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// CheckAdmission handles POST /api/v1/admission. It runs the full
// admission pipeline against a probe event built from the fingerprint and
// returns the decision without storing anything.
func (h *Handler) CheckAdmission(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req AdmissionRequest
	if err := decodeBody(w, r, &req); err != nil {
		rw.BadRequest("invalid JSON body: " + err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	level, _ := models.NormalizeLevel(req.Level)
	system, _ := models.NormalizeSystem(req.System)
	probe := &models.LogEvent{
		TraceID:   req.TraceID,
		System:    system,
		Level:     level,
		Message:   req.MessageFingerprint,
		Timestamp: h.now().UnixMilli(),
	}

	decision := h.arbiter.CheckAndAdmit(r.Context(), probe)
	rw.Success(decision)
}

// Ingest handles POST /api/v1/logs: admission check followed by append.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req IngestRequest
	if err := decodeBody(w, r, &req); err != nil {
		rw.BadRequest("invalid JSON body: " + err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	event := req.toEvent(r, h.now())
	ctx := logging.ContextWithTraceID(r.Context(), event.TraceID)

	decision := h.arbiter.CheckAndAdmit(ctx, event)
	if !decision.Allowed {
		if decision.Reason == models.ReasonDuplicate {
			// Suppression is an expected outcome, not a client error.
			rw.Success(IngestResponse{
				Accepted: false,
				Reason:   decision.Reason,
				TraceID:  event.TraceID,
			})
			return
		}
		rw.TooManyRequests("log write rejected", IngestResponse{
			Accepted:      false,
			Reason:        decision.Reason,
			TraceID:       event.TraceID,
			RateLimitInfo: &decision.Info,
		})
		return
	}

	if err := h.store.Append(ctx, event); err != nil {
		rw.StoreError(err)
		return
	}

	resp := IngestResponse{
		Accepted:      true,
		TraceID:       event.TraceID,
		EventID:       event.ID,
		RateLimitInfo: &decision.Info,
	}
	if !decision.Info.Degraded {
		remaining := decision.Info.SystemLimit - decision.Info.SystemCurrent
		if remaining < 0 {
			remaining = 0
		}
		resp.RemainingQuota = &remaining
	}
	rw.Created(resp)
}

// RecentTraces handles GET /api/v1/traces/recent.
func (h *Handler) RecentTraces(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	opts := correlate.RecentOptions{
		Since: queryInt64(r, "since"),
		Limit: queryInt(r, "limit"),
	}
	if raw := r.URL.Query().Get("system"); raw != "" {
		sys, ok := models.NormalizeSystem(raw)
		if !ok {
			rw.BadRequest("unknown system: " + raw)
			return
		}
		opts.System = sys
	}

	summaries, err := h.traces.RecentTraces(r.Context(), opts)
	if err != nil {
		rw.StoreError(err)
		return
	}
	rw.SuccessWithCount(summaries, len(summaries))
}

// TraceBundle handles GET /api/v1/traces/{traceID}.
func (h *Handler) TraceBundle(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	traceID := chi.URLParam(r, "traceID")

	bundle, err := h.traces.Correlate(r.Context(), traceID, correlate.CorrelateOptions{
		IncludeArchive: queryBool(r, "include_archive"),
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			rw.NotFound("trace not found: " + traceID)
			return
		}
		rw.StoreError(err)
		return
	}
	rw.Success(bundle)
}

// TraceInsights handles GET /api/v1/traces/{traceID}/insights. Insights
// always look at the full picture, so the archive is merged in unless the
// client opts out explicitly.
func (h *Handler) TraceInsights(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	traceID := chi.URLParam(r, "traceID")

	includeArchive := true
	if r.URL.Query().Has("include_archive") {
		includeArchive = queryBool(r, "include_archive")
	}

	bundle, err := h.traces.Correlate(r.Context(), traceID, correlate.CorrelateOptions{
		IncludeArchive: includeArchive,
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			rw.NotFound("trace not found: " + traceID)
			return
		}
		rw.StoreError(err)
		return
	}
	rw.Success(h.insight.Analyze(bundle))
}

// SearchLogs handles GET /api/v1/logs/search.
func (h *Handler) SearchLogs(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	q := r.URL.Query()

	query := correlate.SearchQuery{
		Text:    q.Get("q"),
		TraceID: q.Get("trace_id"),
		UserID:  q.Get("user_id"),
		From:    queryInt64(r, "since"),
		To:      queryInt64(r, "until"),
		Limit:   queryInt(r, "limit"),
	}
	if raw := q.Get("system"); raw != "" {
		sys, ok := models.NormalizeSystem(raw)
		if !ok {
			rw.BadRequest("unknown system: " + raw)
			return
		}
		query.System = sys
	}
	if raw := q.Get("level"); raw != "" {
		level, ok := models.NormalizeLevel(raw)
		if !ok {
			rw.BadRequest("unknown level: " + raw)
			return
		}
		query.Level = level
	}

	results, err := h.traces.SearchLogs(r.Context(), query)
	if err != nil {
		rw.StoreError(err)
		return
	}
	rw.SuccessWithCount(results, len(results))
}

// PurgeTrace handles DELETE /api/v1/traces/{traceID}. Only the ephemeral
// window is purged; archived copies are removed via scoped sync.
func (h *Handler) PurgeTrace(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	traceID := chi.URLParam(r, "traceID")

	purged, err := h.store.PurgeTrace(r.Context(), traceID)
	if err != nil {
		rw.StoreError(err)
		return
	}
	rw.Success(map[string]interface{}{
		"trace_id": traceID,
		"purged":   purged,
	})
}

// QuotaStatus handles GET /api/v1/quota.
func (h *Handler) QuotaStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	state, err := h.arbiter.Snapshot(r.Context())
	if err != nil {
		rw.StoreError(err)
		return
	}
	rw.Success(state)
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func queryInt64(r *http.Request, key string) int64 {
	v, err := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func queryBool(r *http.Request, key string) bool {
	switch r.URL.Query().Get(key) {
	case "1", "true", "yes":
		return true
	}
	return false
}
