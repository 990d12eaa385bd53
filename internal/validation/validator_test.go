// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package validation

import (
	"strings"
	"testing"
)

type ingestProbe struct {
	TraceID string `validate:"required,max=128"`
	Level   string `validate:"omitempty,oneof=debug info warn warning error"`
	Message string `validate:"required,max=10000"`
}

func TestValidateStructPasses(t *testing.T) {
	req := ingestProbe{TraceID: "trace-abc", Level: "error", Message: "boom"}
	if err := ValidateStruct(&req); err != nil {
		t.Errorf("expected valid struct, got: %v", err)
	}
}

func TestValidateStructRequired(t *testing.T) {
	req := ingestProbe{Level: "info", Message: "hello"}
	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("expected validation error for missing TraceID")
	}
	if len(err.Errors()) != 1 {
		t.Fatalf("expected 1 error, got %d", len(err.Errors()))
	}
	if err.Errors()[0].Field() != "TraceID" {
		t.Errorf("expected TraceID failure, got %s", err.Errors()[0].Field())
	}
	if !strings.Contains(err.Error(), "TraceID is required") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestValidateStructOneOf(t *testing.T) {
	req := ingestProbe{TraceID: "trace-abc", Level: "fatal", Message: "x"}
	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("expected validation error for bad level")
	}
	if !strings.Contains(err.Error(), "must be one of") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestToAPIErrorMultipleFields(t *testing.T) {
	req := ingestProbe{Level: "nope"}
	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("expected validation errors")
	}

	apiErr := err.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %s", apiErr.Code)
	}
	fields, ok := apiErr.Details["fields"].([]map[string]interface{})
	if !ok {
		t.Fatalf("expected fields detail, got %T", apiErr.Details["fields"])
	}
	if len(fields) < 2 {
		t.Errorf("expected at least 2 field errors, got %d", len(fields))
	}
}

func TestGetValidatorSingleton(t *testing.T) {
	if GetValidator() != GetValidator() {
		t.Error("expected the same validator instance")
	}
}
