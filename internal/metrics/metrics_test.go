// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRecordAdmission(t *testing.T) {
	before := counterValue(t, AdmissionDecisions.WithLabelValues("browser", "allowed"))

	RecordAdmission("browser", "allowed")
	RecordAdmission("browser", "allowed")

	after := counterValue(t, AdmissionDecisions.WithLabelValues("browser", "allowed"))
	if after-before != 2 {
		t.Errorf("expected counter delta 2, got %f", after-before)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	before := counterValue(t, APIRequestsTotal.WithLabelValues("POST", "/api/v1/logs", "202"))

	RecordAPIRequest("POST", "/api/v1/logs", 202, 15*time.Millisecond)

	after := counterValue(t, APIRequestsTotal.WithLabelValues("POST", "/api/v1/logs", "202"))
	if after-before != 1 {
		t.Errorf("expected counter delta 1, got %f", after-before)
	}
}

func TestRecordArchiveQueryCountsErrors(t *testing.T) {
	before := counterValue(t, ArchiveQueryErrors.WithLabelValues("insert"))

	RecordArchiveQuery("insert", time.Now(), nil)
	after := counterValue(t, ArchiveQueryErrors.WithLabelValues("insert"))
	if after != before {
		t.Errorf("nil error should not count, got delta %f", after-before)
	}

	RecordArchiveQuery("insert", time.Now(), errTest)
	after = counterValue(t, ArchiveQueryErrors.WithLabelValues("insert"))
	if after-before != 1 {
		t.Errorf("expected error counter delta 1, got %f", after-before)
	}
}

type testError struct{}

func (testError) Error() string { return "test error" }

var errTest = testError{}
