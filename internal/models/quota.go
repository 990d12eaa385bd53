// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package models

// WindowCounter tracks admissions for one system (or the global pool)
// inside the current rate window.
type WindowCounter struct {
	// Current is the number of events admitted in this window.
	Current int64 `json:"current"`

	// Limit is the base per-window limit derived from the monthly budget split.
	Limit int64 `json:"limit"`

	// Borrowed is the number of extra units granted from sibling headroom
	// in this window. Effective limit is Limit+Borrowed. Reset on rollover.
	Borrowed int64 `json:"borrowed"`

	// WindowResetAt is the epoch-millisecond deadline after which the
	// window rolls over (Current and Borrowed reset to zero).
	WindowResetAt int64 `json:"window_reset_at"`
}

// Remaining returns the headroom left in the window, never negative.
func (w *WindowCounter) Remaining() int64 {
	r := w.Limit + w.Borrowed - w.Current
	if r < 0 {
		return 0
	}
	return r
}

// QuotaState is the shared admission-control ledger document. One logical
// instance exists per deployment; all producers read and increment it
// through the quota.Ledger's atomic update, and only the rollover logic
// resets counters.
type QuotaState struct {
	// Systems holds per-system window counters. Manual events are
	// accounted under the backend bucket, so only browser, backend and
	// worker appear here.
	Systems map[System]*WindowCounter `json:"systems"`

	// Global caps total admissions per window across all systems.
	Global WindowCounter `json:"global"`

	// WritesBySystem counts admissions per system in the current monthly cycle.
	WritesBySystem map[System]int64 `json:"writes_by_system"`

	// MonthResetAt is the epoch-millisecond deadline of the monthly cycle.
	MonthResetAt int64 `json:"month_reset_at"`
}

// MonthlyTotal returns total admissions in the current monthly cycle.
func (q *QuotaState) MonthlyTotal() int64 {
	var total int64
	for _, n := range q.WritesBySystem {
		total += n
	}
	return total
}

// RejectReason explains why an admission request was denied.
type RejectReason string

// Admission rejection reasons. These are expected outcomes returned to the
// producer, not errors.
const (
	ReasonDuplicate         RejectReason = "duplicate"
	ReasonBudgetExhausted   RejectReason = "budget_exhausted"
	ReasonGlobalRateLimited RejectReason = "global_rate_limited"
	ReasonSystemRateLimited RejectReason = "system_rate_limited"
)

// RateLimitInfo is the quota snapshot returned with every admission
// decision so producers can back off intelligently.
type RateLimitInfo struct {
	SystemCurrent    int64 `json:"system_current"`
	SystemLimit      int64 `json:"system_limit"`
	GlobalCurrent    int64 `json:"global_current"`
	GlobalLimit      int64 `json:"global_limit"`
	MonthlyRemaining int64 `json:"monthly_remaining"`

	// Degraded is set when the ledger was unreachable and the arbiter
	// failed open; the snapshot values are then zero and meaningless.
	Degraded bool `json:"degraded,omitempty"`
}

// AdmissionDecision is the outcome of a checkAndAdmit call.
type AdmissionDecision struct {
	Allowed bool          `json:"allowed"`
	Reason  RejectReason  `json:"reason,omitempty"`
	Info    RateLimitInfo `json:"rate_limit_info"`
}

// Fingerprint tracks occurrences of one deduplication hash inside the
// duplicate-suppression window.
type Fingerprint struct {
	Hash        string `json:"hash"`
	FirstSeenAt int64  `json:"first_seen_at"` // epoch millis
	Count       int    `json:"count"`
	ExpiresAt   int64  `json:"expires_at"` // epoch millis
}
