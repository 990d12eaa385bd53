// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package models

// TimeSpan describes the chronological extent of a trace bundle.
// All values are epoch milliseconds except Duration, which is a span
// in milliseconds.
type TimeSpan struct {
	Start    int64 `json:"start"`
	End      int64 `json:"end"`
	Duration int64 `json:"duration"`
}

// TraceSummaryCounts tallies a bundle's events per system and per level.
type TraceSummaryCounts struct {
	BySystem     map[System]int `json:"by_system"`
	ByLevel      map[Level]int  `json:"by_level"`
	ErrorCount   int            `json:"error_count"`
	WarningCount int            `json:"warning_count"`
}

// TraceBundle is the Correlator's output for one trace: the merged,
// deduplicated, chronologically ordered event set with aggregates.
// Bundles are derived per query and never persisted; the caller owns
// the value and no shared mutable state is retained.
type TraceBundle struct {
	TraceID string `json:"trace_id"`

	// Events in ascending timestamp order, deduplicated by
	// (timestamp, message, system).
	Events []LogEvent `json:"events"`

	// Systems in first-seen order. This ordering drives the insight
	// analyzer's system flow.
	Systems []System `json:"systems"`

	TimeSpan TimeSpan           `json:"time_span"`
	Summary  TraceSummaryCounts `json:"summary"`
}

// TraceSummary is one row of a recent-traces listing.
type TraceSummary struct {
	TraceID   string   `json:"trace_id"`
	Systems   []System `json:"systems"`
	LogCount  int      `json:"log_count"`
	FirstSeen int64    `json:"first_seen"`
	LastSeen  int64    `json:"last_seen"`
	HasErrors bool     `json:"has_errors"`
}

// IssueSeverity grades a detected performance issue.
type IssueSeverity string

// Severity grades for performance issues.
const (
	SeverityMedium IssueSeverity = "medium"
	SeverityHigh   IssueSeverity = "high"
)

// ErrorChain is a contiguous or near-contiguous run of warn/error events
// forming one failure narrative.
type ErrorChain struct {
	// Pattern is a short human-readable description, derived from the
	// first member's message.
	Pattern string     `json:"pattern"`
	Events  []LogEvent `json:"events"`
}

// PerformanceIssue is one triggered performance heuristic.
type PerformanceIssue struct {
	// Kind is the rule identifier: slow_trace_duration, high_error_rate
	// or system_bottleneck.
	Kind     string        `json:"kind"`
	Severity IssueSeverity `json:"severity"`
	Detail   string        `json:"detail"`

	// System is set for per-system rules such as system_bottleneck.
	System System `json:"system,omitempty"`
}

// SystemFlowStep describes one system's participation in a trace, in
// first-seen order.
type SystemFlowStep struct {
	System   System `json:"system"`
	FirstLog int64  `json:"first_log"`
	LastLog  int64  `json:"last_log"`
	Duration int64  `json:"duration"`
	LogCount int    `json:"log_count"`
}

// Insight is derived from a TraceBundle on demand and never persisted.
type Insight struct {
	TraceID           string             `json:"trace_id"`
	ErrorChains       []ErrorChain       `json:"error_chains"`
	PerformanceIssues []PerformanceIssue `json:"performance_issues"`
	SystemFlow        []SystemFlowStep   `json:"system_flow"`
}

// SyncResult reports the outcome of an archive sync pass. Individual
// insert failures are skipped and reflected in the counts rather than
// aborting the pass.
type SyncResult struct {
	TotalSynced  int `json:"total_synced"`
	DeletedCount int `json:"deleted_count"`
	SkippedCount int `json:"skipped_count,omitempty"`
}
