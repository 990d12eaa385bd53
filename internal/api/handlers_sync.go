// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/tracegate/internal/models"
)

// SyncAll handles POST /api/v1/sync: full clear-then-reimport of the
// ephemeral window into the archive.
func (h *Handler) SyncAll(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, func(ctx context.Context) (*models.SyncResult, error) {
		return h.sync.SyncAll(ctx)
	})
}

// SyncByTrace handles POST /api/v1/sync/trace/{traceID}.
func (h *Handler) SyncByTrace(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceID")
	h.runSync(w, r, func(ctx context.Context) (*models.SyncResult, error) {
		return h.sync.SyncByTrace(ctx, traceID)
	})
}

// SyncByUser handles POST /api/v1/sync/user/{userID}.
func (h *Handler) SyncByUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	h.runSync(w, r, func(ctx context.Context) (*models.SyncResult, error) {
		return h.sync.SyncByUser(ctx, userID)
	})
}

func (h *Handler) runSync(w http.ResponseWriter, r *http.Request, fn func(context.Context) (*models.SyncResult, error)) {
	rw := NewResponseWriter(w, r)
	if h.sync == nil {
		rw.ServiceUnavailable("archive sync is not configured")
		return
	}

	result, err := fn(r.Context())
	if err != nil {
		if errors.Is(err, models.ErrStoreUnavailable) {
			rw.ServiceUnavailable("archive unreachable, nothing was modified")
			return
		}
		rw.StoreError(err)
		return
	}
	rw.Success(result)
}
