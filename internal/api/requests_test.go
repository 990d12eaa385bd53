// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tomtom215/tracegate/internal/models"
)

func TestDetectSystem(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		origin   string
		ua       string
		want     models.System
	}{
		{"explicit wins", "worker", "https://app.example.com", "", models.SystemWorker},
		{"origin implies browser", "", "https://app.example.com", "Mozilla/5.0", models.SystemBrowser},
		{"worker user agent", "", "", "tracegate-worker/1.2", models.SystemWorker},
		{"default backend", "", "", "Go-http-client/2.0", models.SystemBackend},
		{"unknown explicit falls to manual", "mainframe", "", "", models.SystemManual},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/v1/logs", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if tt.ua != "" {
				r.Header.Set("User-Agent", tt.ua)
			}
			if got := detectSystem(r, tt.explicit); got != tt.want {
				t.Errorf("detectSystem() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestToEventFillsDefaults(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	r := httptest.NewRequest("POST", "/api/v1/logs", nil)

	req := &IngestRequest{Level: "warning", Message: "slow query"}
	event := req.toEvent(r, now)

	if event.TraceID == "" {
		t.Error("expected a synthesized trace ID")
	}
	if event.ID == "" {
		t.Error("expected a generated event ID")
	}
	if event.Timestamp != now.UnixMilli() {
		t.Errorf("expected timestamp %d, got %d", now.UnixMilli(), event.Timestamp)
	}
	if event.Level != models.LevelWarn {
		t.Errorf("expected warning alias to normalize, got %s", event.Level)
	}
}

func TestToEventKeepsProducerValues(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/v1/logs", nil)

	req := &IngestRequest{
		TraceID:   "trace-abc",
		UserID:    "alice",
		Level:     "error",
		Message:   "boom",
		Timestamp: 123456,
	}
	event := req.toEvent(r, time.Now())

	if event.TraceID != "trace-abc" || event.UserID != "alice" || event.Timestamp != 123456 {
		t.Errorf("producer values overwritten: %+v", event)
	}
}
