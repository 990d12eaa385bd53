// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package quota

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tomtom215/tracegate/internal/config"
	"github.com/tomtom215/tracegate/internal/dedup"
	"github.com/tomtom215/tracegate/internal/logging"
	"github.com/tomtom215/tracegate/internal/metrics"
	"github.com/tomtom215/tracegate/internal/models"
)

// monthCycle approximates one monthly budget cycle.
const monthCycle = 30 * 24 * time.Hour

// errRejected aborts a ledger transaction after a rejection decision so
// counters are never incremented for denied events.
var errRejected = errors.New("admission rejected")

// Arbiter decides whether a log event is admitted. It combines duplicate
// suppression with the shared window and monthly-budget checks.
//
// The arbiter fails open: if the ledger is unreachable or the check times
// out, the event is admitted with a degraded snapshot. Losing quota
// precision is acceptable; losing logs is not.
type Arbiter struct {
	ledger Ledger
	dedup  *dedup.Deduplicator
	cfg    config.QuotaConfig

	now func() time.Time
}

// NewArbiter creates an Arbiter. deduplicator may be nil, in which case no
// duplicate suppression is applied.
func NewArbiter(ledger Ledger, deduplicator *dedup.Deduplicator, cfg config.QuotaConfig) *Arbiter {
	return &Arbiter{
		ledger: ledger,
		dedup:  deduplicator,
		cfg:    cfg,
		now:    time.Now,
	}
}

// windowsPerMonth derives how many rate windows fit in one monthly cycle.
func (a *Arbiter) windowsPerMonth() int64 {
	windows := monthCycle.Milliseconds() / a.cfg.Window.Milliseconds()
	if windows < 1 {
		windows = 1
	}
	return windows
}

// systemLimit derives one system's per-window limit from its budget split,
// with the configured floor applied.
func (a *Arbiter) systemLimit(split int) int64 {
	limit := a.cfg.MonthlyBudget * int64(split) / 100 / a.windowsPerMonth()
	if limit < a.cfg.MinSystemLimit {
		limit = a.cfg.MinSystemLimit
	}
	return limit
}

// accountingSystem maps an event's system onto its quota bucket. Manual
// writes share the backend bucket.
func accountingSystem(s models.System) models.System {
	if s == models.SystemManual {
		return models.SystemBackend
	}
	return s
}

// quotaSystems lists the buckets tracked in the ledger, in a stable order
// used for deterministic borrow decisions.
var quotaSystems = []models.System{models.SystemBrowser, models.SystemBackend, models.SystemWorker}

// ensure initializes missing counters and rolls over expired windows and
// monthly cycles. Limits are recomputed on every call so configuration
// changes take effect without a state wipe.
func (a *Arbiter) ensure(state *models.QuotaState, now int64) {
	if state.Systems == nil {
		state.Systems = make(map[models.System]*models.WindowCounter, len(quotaSystems))
	}
	if state.WritesBySystem == nil {
		state.WritesBySystem = make(map[models.System]int64, len(quotaSystems))
	}

	windowMillis := a.cfg.Window.Milliseconds()

	var globalLimit int64
	for _, sys := range quotaSystems {
		limit := a.systemLimit(a.cfg.SystemSplit(string(sys)))
		globalLimit += limit

		counter, ok := state.Systems[sys]
		if !ok {
			counter = &models.WindowCounter{WindowResetAt: now + windowMillis}
			state.Systems[sys] = counter
		}
		counter.Limit = limit
		if now >= counter.WindowResetAt {
			counter.Current = 0
			counter.Borrowed = 0
			counter.WindowResetAt = now + windowMillis
		}
	}

	state.Global.Limit = globalLimit
	if state.Global.WindowResetAt == 0 {
		state.Global.WindowResetAt = now + windowMillis
	}
	if now >= state.Global.WindowResetAt {
		state.Global.Current = 0
		state.Global.WindowResetAt = now + windowMillis
	}

	if state.MonthResetAt == 0 {
		state.MonthResetAt = now + monthCycle.Milliseconds()
	}
	if now >= state.MonthResetAt {
		for sys := range state.WritesBySystem {
			state.WritesBySystem[sys] = 0
		}
		state.MonthResetAt = now + monthCycle.Milliseconds()
	}
}

// tryBorrow grants one unit of headroom to sys from a sibling running below
// the borrow threshold. At most BorrowCap units may be borrowed per window.
func (a *Arbiter) tryBorrow(state *models.QuotaState, sys models.System) bool {
	counter := state.Systems[sys]
	if counter.Borrowed >= a.cfg.BorrowCap {
		return false
	}

	for _, sibling := range quotaSystems {
		if sibling == sys {
			continue
		}
		sc := state.Systems[sibling]
		if float64(sc.Current) < a.cfg.BorrowHeadroom*float64(sc.Limit) {
			counter.Borrowed++
			metrics.BorrowGrants.WithLabelValues(string(sys)).Inc()
			return true
		}
	}
	return false
}

// snapshot fills a RateLimitInfo from the current state.
func snapshot(state *models.QuotaState, sys models.System, monthlyBudget int64) models.RateLimitInfo {
	counter := state.Systems[sys]
	remaining := monthlyBudget - state.MonthlyTotal()
	if remaining < 0 {
		remaining = 0
	}
	return models.RateLimitInfo{
		SystemCurrent:    counter.Current,
		SystemLimit:      counter.Limit + counter.Borrowed,
		GlobalCurrent:    state.Global.Current,
		GlobalLimit:      state.Global.Limit,
		MonthlyRemaining: remaining,
	}
}

// CheckAndAdmit runs the full admission pipeline for one event: duplicate
// suppression, then monthly budget, then global and per-system windows.
// Admitted events increment counters atomically; rejected events leave the
// ledger untouched.
func (a *Arbiter) CheckAndAdmit(ctx context.Context, event *models.LogEvent) models.AdmissionDecision {
	defer func(start time.Time) {
		metrics.AdmissionCheckDuration.Observe(time.Since(start).Seconds())
	}(time.Now())

	if a.dedup != nil && a.dedup.ShouldSuppress(ctx, event) {
		metrics.RecordAdmission(string(event.System), string(models.ReasonDuplicate))
		return models.AdmissionDecision{Allowed: false, Reason: models.ReasonDuplicate}
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.CheckTimeout)
	defer cancel()

	sys := accountingSystem(event.System)
	critical := a.cfg.CriticalPrefix != "" && strings.HasPrefix(event.TraceID, a.cfg.CriticalPrefix)

	var decision models.AdmissionDecision
	err := withRetry(ctx, a.cfg.MaxRetries, func() error {
		return a.ledger.Update(ctx, func(state *models.QuotaState) error {
			now := a.now().UnixMilli()
			a.ensure(state, now)

			// Monthly budget soft limit. Critical traces bypass this
			// check only; the window limits below still apply to them.
			softLimit := int64(a.cfg.BudgetSoftLimit * float64(a.cfg.MonthlyBudget))
			if !critical && state.MonthlyTotal() >= softLimit {
				decision = models.AdmissionDecision{
					Allowed: false,
					Reason:  models.ReasonBudgetExhausted,
					Info:    snapshot(state, sys, a.cfg.MonthlyBudget),
				}
				return errRejected
			}

			if state.Global.Current >= state.Global.Limit {
				decision = models.AdmissionDecision{
					Allowed: false,
					Reason:  models.ReasonGlobalRateLimited,
					Info:    snapshot(state, sys, a.cfg.MonthlyBudget),
				}
				return errRejected
			}

			counter := state.Systems[sys]
			if counter.Current >= counter.Limit+counter.Borrowed {
				if !a.tryBorrow(state, sys) {
					decision = models.AdmissionDecision{
						Allowed: false,
						Reason:  models.ReasonSystemRateLimited,
						Info:    snapshot(state, sys, a.cfg.MonthlyBudget),
					}
					return errRejected
				}
			}

			counter.Current++
			state.Global.Current++
			state.WritesBySystem[sys]++

			decision = models.AdmissionDecision{
				Allowed: true,
				Info:    snapshot(state, sys, a.cfg.MonthlyBudget),
			}
			return nil
		})
	})

	switch {
	case err == nil:
		metrics.RecordAdmission(string(event.System), "allowed")
		return decision
	case errors.Is(err, errRejected):
		metrics.RecordAdmission(string(event.System), string(decision.Reason))
		return decision
	default:
		// Ledger unreachable, timed out, or retries exhausted: admit the
		// event with a degraded snapshot rather than drop it.
		logging.Warn().
			Str("component", "quota").
			Str("trace_id", event.TraceID).
			Err(err).
			Msg("Quota ledger unavailable, failing open")
		metrics.AdmissionFailOpen.Inc()
		metrics.RecordAdmission(string(event.System), "degraded")
		return models.AdmissionDecision{
			Allowed: true,
			Info:    models.RateLimitInfo{Degraded: true},
		}
	}
}

// Snapshot returns the current quota state for status endpoints. Read-only.
func (a *Arbiter) Snapshot(ctx context.Context) (*models.QuotaState, error) {
	return a.ledger.Load(ctx)
}
