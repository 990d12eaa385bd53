// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

// Package models defines the core data types shared across Tracegate:
// log events, quota state, fingerprints, trace bundles, and insights.
//
// System and Level are closed enums. Producer input is normalized at the
// boundary (NormalizeSystem, NormalizeLevel) so that unknown values never
// propagate past the API layer as untyped strings.
package models

import (
	"fmt"
	"strings"
)

// System identifies the producer class that emitted a log event.
// It partitions the shared write quota.
type System string

// Known producer systems.
const (
	SystemBrowser System = "browser"
	SystemBackend System = "backend"
	SystemWorker  System = "worker"
	SystemManual  System = "manual"
)

// Systems lists all known system categories in a stable order.
var Systems = []System{SystemBrowser, SystemBackend, SystemWorker, SystemManual}

// Valid reports whether s is a known system category.
func (s System) Valid() bool {
	switch s {
	case SystemBrowser, SystemBackend, SystemWorker, SystemManual:
		return true
	}
	return false
}

// NormalizeSystem maps producer-supplied input onto a known System.
// Unknown or empty values fall back to SystemManual; callers that can
// infer a better default from request metadata should do so before calling.
// The bool result reports whether the input was already a known value.
func NormalizeSystem(raw string) (System, bool) {
	s := System(strings.ToLower(strings.TrimSpace(raw)))
	if s.Valid() {
		return s, true
	}
	return SystemManual, false
}

// Level is the severity of a log event.
type Level string

// Known log levels.
const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Valid reports whether l is a known log level.
func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// IsIssue reports whether the level indicates a problem (warn or error).
func (l Level) IsIssue() bool {
	return l == LevelWarn || l == LevelError
}

// NormalizeLevel maps producer-supplied input onto a known Level.
// "warning" is accepted as an alias for "warn"; anything else unknown
// normalizes to info. The bool result reports whether the input was
// recognized.
func NormalizeLevel(raw string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	}
	return LevelInfo, false
}

// LogEvent is one emitted log line. Events are immutable once created;
// they are removed only by the ephemeral store's TTL or an explicit purge.
//
// ID is producer-assigned and unique within a producer only. Cross-producer
// deduplication therefore keys on (Timestamp, Message, System), never on ID.
type LogEvent struct {
	// ID is the producer-assigned event ID.
	ID string `json:"id"`

	// TraceID correlates all events belonging to one logical request.
	// Always present; synthesized at the boundary when the producer
	// did not supply one.
	TraceID string `json:"trace_id" validate:"required"`

	// UserID is the acting user, or "system" when no user is associated.
	UserID string `json:"user_id,omitempty"`

	// System is the producer class that emitted the event.
	System System `json:"system"`

	// Level is the event severity.
	Level Level `json:"level"`

	// Message is the log text.
	Message string `json:"message"`

	// Timestamp is epoch milliseconds from the producer's clock.
	// Always present; the Correlator orders events by this field.
	Timestamp int64 `json:"timestamp"`

	// Context is an optional opaque structured payload.
	Context map[string]interface{} `json:"context,omitempty"`

	// Stack is an optional stack trace.
	Stack string `json:"stack,omitempty"`
}

// UserSystem is the UserID value used when no user is associated.
const UserSystem = "system"

// DedupKey returns the cross-source deduplication key for the event.
// The same logical event re-synced under a different ID produces the
// same key.
func (e *LogEvent) DedupKey() string {
	return fmt.Sprintf("%d|%s|%s", e.Timestamp, e.Message, e.System)
}

// EffectiveUserID returns UserID, or UserSystem when unset.
func (e *LogEvent) EffectiveUserID() string {
	if e.UserID == "" {
		return UserSystem
	}
	return e.UserID
}
