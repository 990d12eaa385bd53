// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/tomtom215/tracegate/internal/logging"
	"github.com/tomtom215/tracegate/internal/models"
)

// AdmissionRequest asks whether one prospective log write would be admitted.
// The fingerprint is the message text (or a stable prefix of it); it feeds
// the duplicate check without requiring the full payload up front.
type AdmissionRequest struct {
	System             string `json:"system" validate:"required,oneof=browser backend worker manual"`
	MessageFingerprint string `json:"message_fingerprint" validate:"required,max=10000"`
	Level              string `json:"level,omitempty" validate:"omitempty,oneof=debug info warn warning error"`
	TraceID            string `json:"trace_id,omitempty" validate:"omitempty,max=128,excludesall=:"`
}

// IngestRequest is one log event submitted by a producer. Trace and user
// IDs may not contain ':', which delimits segments in storage keys.
type IngestRequest struct {
	TraceID   string                 `json:"trace_id,omitempty" validate:"omitempty,max=128,excludesall=:"`
	UserID    string                 `json:"user_id,omitempty" validate:"omitempty,max=128,excludesall=:"`
	System    string                 `json:"system,omitempty"`
	Level     string                 `json:"level" validate:"required,oneof=debug info warn warning error"`
	Message   string                 `json:"message" validate:"required,max=10000"`
	Timestamp int64                  `json:"timestamp,omitempty" validate:"omitempty,gte=0"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Stack     string                 `json:"stack,omitempty"`
}

// IngestResponse reports the outcome of one ingestion attempt. A suppressed
// duplicate is a successful request with Accepted false; producers need no
// retry logic for it.
type IngestResponse struct {
	Accepted       bool                  `json:"accepted"`
	Reason         models.RejectReason   `json:"reason,omitempty"`
	TraceID        string                `json:"trace_id"`
	EventID        string                `json:"event_id,omitempty"`
	RemainingQuota *int64                `json:"remaining_quota,omitempty"`
	RateLimitInfo  *models.RateLimitInfo `json:"rate_limit_info,omitempty"`
}

// detectSystem infers the producer class from request metadata when the
// payload omits it. Browser bundles send an Origin header; workers identify
// themselves in the User-Agent; anything else is treated as a backend
// producer rather than rejected.
func detectSystem(r *http.Request, explicit string) models.System {
	if explicit != "" {
		if sys, ok := models.NormalizeSystem(explicit); ok {
			return sys
		}
	}
	if r.Header.Get("Origin") != "" {
		return models.SystemBrowser
	}
	if strings.Contains(strings.ToLower(r.Header.Get("User-Agent")), "worker") {
		return models.SystemWorker
	}
	if explicit != "" {
		// Unknown but explicit values fall back to manual accounting.
		return models.SystemManual
	}
	return models.SystemBackend
}

// toEvent converts a validated ingest request into a LogEvent, filling in
// the trace ID, event ID and timestamp when the producer left them out.
func (req *IngestRequest) toEvent(r *http.Request, now time.Time) *models.LogEvent {
	traceID := strings.TrimSpace(req.TraceID)
	if traceID == "" {
		traceID = logging.GenerateTraceID()
	}

	level, _ := models.NormalizeLevel(req.Level)

	ts := req.Timestamp
	if ts <= 0 {
		ts = now.UnixMilli()
	}

	return &models.LogEvent{
		ID:        logging.GenerateRequestID(),
		TraceID:   traceID,
		UserID:    strings.TrimSpace(req.UserID),
		System:    detectSystem(r, req.System),
		Level:     level,
		Message:   req.Message,
		Timestamp: ts,
		Context:   req.Context,
		Stack:     req.Stack,
	}
}
