// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/tomtom215/tracegate/internal/correlate"
	"github.com/tomtom215/tracegate/internal/logging"
	"github.com/tomtom215/tracegate/internal/models"
)

// ExportTrace handles GET /api/v1/traces/{traceID}/export. The full merged
// bundle is streamed as zstd-compressed NDJSON, one event per line, suitable
// for offline analysis tooling. The envelope is skipped on purpose: the
// payload is a file download, not an API object.
func (h *Handler) ExportTrace(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceID")

	bundle, err := h.traces.Correlate(r.Context(), traceID, correlate.CorrelateOptions{
		IncludeArchive: true,
	})
	if err != nil {
		rw := NewResponseWriter(w, r)
		if errors.Is(err, models.ErrNotFound) {
			rw.NotFound("trace not found: " + traceID)
			return
		}
		rw.StoreError(err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Encoding", "zstd")
	w.Header().Set("Content-Disposition", `attachment; filename="`+traceID+`.ndjson.zst"`)

	zw, err := zstd.NewWriter(w)
	if err != nil {
		NewResponseWriter(w, r).InternalError("failed to initialize compressor")
		return
	}

	enc := json.NewEncoder(zw)
	for i := range bundle.Events {
		if err := enc.Encode(&bundle.Events[i]); err != nil {
			// Headers are gone; all we can do is log and stop the stream.
			logging.CtxErr(r.Context(), err).
				Str("trace_id", traceID).
				Msg("Trace export stream aborted")
			_ = zw.Close()
			return
		}
	}

	if err := zw.Close(); err != nil {
		logging.CtxErr(r.Context(), err).
			Str("trace_id", traceID).
			Msg("Trace export flush failed")
	}
}
