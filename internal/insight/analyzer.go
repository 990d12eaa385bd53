// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

// Package insight derives diagnostic findings from trace bundles: error
// chains, threshold-based performance issues, and the cross-system flow.
//
// Analysis is pure and deterministic. It runs on demand against a bundle
// the correlator just built and nothing is persisted; two analyses of the
// same bundle always agree.
package insight

import (
	"fmt"

	"github.com/tomtom215/tracegate/internal/config"
	"github.com/tomtom215/tracegate/internal/models"
)

// chainGap is the number of non-issue events tolerated between members of
// one error chain before the chain is considered closed.
const chainGap = 2

// Analyzer evaluates trace bundles against configured thresholds.
type Analyzer struct {
	cfg config.InsightConfig
}

// New creates an Analyzer with the given thresholds.
func New(cfg config.InsightConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Analyze derives an Insight from a bundle. The bundle's events are assumed
// ordered ascending by timestamp, which is what the correlator produces.
func (a *Analyzer) Analyze(bundle *models.TraceBundle) *models.Insight {
	return &models.Insight{
		TraceID:           bundle.TraceID,
		ErrorChains:       a.errorChains(bundle.Events),
		PerformanceIssues: a.performanceIssues(bundle),
		SystemFlow:        systemFlow(bundle),
	}
}

// errorChains groups warn/error events into failure narratives. Issue
// events separated by at most chainGap non-issue events belong to the same
// chain; a longer quiet stretch starts a new one.
func (a *Analyzer) errorChains(events []models.LogEvent) []models.ErrorChain {
	var chains []models.ErrorChain
	var current []models.LogEvent
	gap := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chains = append(chains, models.ErrorChain{
			Pattern: patternOf(current[0].Message),
			Events:  current,
		})
		current = nil
	}

	for i := range events {
		e := &events[i]
		if e.Level.IsIssue() {
			current = append(current, *e)
			gap = 0
			continue
		}
		if len(current) > 0 {
			gap++
			if gap > chainGap {
				flush()
				gap = 0
			}
		}
	}
	flush()

	return chains
}

// patternMaxLen caps chain pattern strings for display.
const patternMaxLen = 80

func patternOf(message string) string {
	if len(message) > patternMaxLen {
		return message[:patternMaxLen]
	}
	return message
}

// performanceIssues applies the threshold heuristics to the bundle.
func (a *Analyzer) performanceIssues(bundle *models.TraceBundle) []models.PerformanceIssue {
	var issues []models.PerformanceIssue

	if bundle.TimeSpan.Duration > a.cfg.SlowTraceMS {
		issues = append(issues, models.PerformanceIssue{
			Kind:     "slow_trace_duration",
			Severity: models.SeverityHigh,
			Detail: fmt.Sprintf("trace spans %dms, threshold %dms",
				bundle.TimeSpan.Duration, a.cfg.SlowTraceMS),
		})
	}

	total := len(bundle.Events)
	if total > 0 {
		issueCount := bundle.Summary.ErrorCount + bundle.Summary.WarningCount
		rate := float64(issueCount) / float64(total)
		if rate > a.cfg.ErrorRate {
			issues = append(issues, models.PerformanceIssue{
				Kind:     "high_error_rate",
				Severity: models.SeverityHigh,
				Detail: fmt.Sprintf("%d of %d events are errors or warnings (%.0f%%, threshold %.0f%%)",
					issueCount, total, rate*100, a.cfg.ErrorRate*100),
			})
		}
	}

	// A system holding the trace for a long stretch while logging heavily
	// is the likely bottleneck.
	for _, step := range systemFlow(bundle) {
		if step.Duration > a.cfg.BottleneckMS && step.LogCount > a.cfg.BottleneckLogs {
			issues = append(issues, models.PerformanceIssue{
				Kind:     "system_bottleneck",
				Severity: models.SeverityMedium,
				System:   step.System,
				Detail: fmt.Sprintf("%s active for %dms across %d events",
					step.System, step.Duration, step.LogCount),
			})
		}
	}

	return issues
}

// systemFlow summarizes each system's participation in first-seen order.
func systemFlow(bundle *models.TraceBundle) []models.SystemFlowStep {
	steps := make(map[models.System]*models.SystemFlowStep, len(bundle.Systems))

	for i := range bundle.Events {
		e := &bundle.Events[i]
		step, ok := steps[e.System]
		if !ok {
			step = &models.SystemFlowStep{
				System:   e.System,
				FirstLog: e.Timestamp,
				LastLog:  e.Timestamp,
			}
			steps[e.System] = step
		}
		if e.Timestamp < step.FirstLog {
			step.FirstLog = e.Timestamp
		}
		if e.Timestamp > step.LastLog {
			step.LastLog = e.Timestamp
		}
		step.LogCount++
	}

	flow := make([]models.SystemFlowStep, 0, len(steps))
	for _, sys := range bundle.Systems {
		step := steps[sys]
		step.Duration = step.LastLog - step.FirstLog
		flow = append(flow, *step)
	}
	return flow
}
