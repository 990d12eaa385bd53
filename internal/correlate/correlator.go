// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

// Package correlate assembles trace bundles by merging the ephemeral store
// with the durable archive at read time.
//
// The archive sits behind a circuit breaker and is fail-soft: when DuckDB
// is down, queries return the ephemeral view alone instead of erroring.
// Merged results are deduplicated by (timestamp, message, system) with the
// ephemeral copy winning, then ordered deterministically.
package correlate

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/tracegate/internal/logging"
	"github.com/tomtom215/tracegate/internal/metrics"
	"github.com/tomtom215/tracegate/internal/models"
)

// EphemeralReader is the slice of the ephemeral store the correlator needs.
type EphemeralReader interface {
	ListByTrace(ctx context.Context, traceID string) ([]models.LogEvent, error)
	ListByUser(ctx context.Context, userID string) ([]models.LogEvent, error)
	ListSince(ctx context.Context, since int64, limit int) ([]models.LogEvent, error)
}

// ArchiveReader is the slice of the archive the correlator needs.
type ArchiveReader interface {
	ListByTrace(ctx context.Context, traceID string) ([]models.LogEvent, error)
	ListByUser(ctx context.Context, userID string) ([]models.LogEvent, error)
	ListRange(ctx context.Context, from, to int64, limit int) ([]models.LogEvent, error)
}

// Options tunes correlator query behavior.
type Options struct {
	// SearchLimit caps search results.
	SearchLimit int

	// RecentTraceFloor is how far back recent-trace listings look.
	RecentTraceFloor time.Duration

	// RecentTraceLimit caps recent-trace listings.
	RecentTraceLimit int
}

// Correlator merges the two log tiers into per-trace views.
type Correlator struct {
	ephemeral EphemeralReader
	archive   ArchiveReader
	breaker   *gobreaker.CircuitBreaker[[]models.LogEvent]
	opts      Options

	now func() time.Time
}

// New creates a Correlator. archive may be nil for ephemeral-only operation.
func New(ephemeral EphemeralReader, archive ArchiveReader, opts Options) *Correlator {
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 200
	}
	if opts.RecentTraceFloor <= 0 {
		opts.RecentTraceFloor = time.Hour
	}
	if opts.RecentTraceLimit <= 0 {
		opts.RecentTraceLimit = 50
	}

	breaker := gobreaker.NewCircuitBreaker[[]models.LogEvent](gobreaker.Settings{
		Name:    "archive-reads",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			open := 0.0
			if to == gobreaker.StateOpen {
				open = 1.0
			}
			metrics.ArchiveBreakerState.Set(open)
			logging.Warn().
				Str("component", "correlate").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Archive circuit breaker state change")
		},
	})

	return &Correlator{
		ephemeral: ephemeral,
		archive:   archive,
		breaker:   breaker,
		opts:      opts,
		now:       time.Now,
	}
}

// fromArchive runs an archive read through the circuit breaker. Failures
// degrade to an empty result; the ephemeral view still answers the query.
func (c *Correlator) fromArchive(fn func() ([]models.LogEvent, error)) []models.LogEvent {
	if c.archive == nil {
		return nil
	}

	events, err := c.breaker.Execute(fn)
	if err != nil {
		logging.Debug().
			Str("component", "correlate").
			Err(err).
			Msg("Archive read degraded to ephemeral-only")
		return nil
	}
	return events
}

// mergeEvents deduplicates by (timestamp, message, system) keeping the
// first occurrence, then sorts ascending by timestamp with ties broken by
// system then message. The ordering is fully deterministic: the same event
// set always yields the same bundle.
func mergeEvents(tiers ...[]models.LogEvent) []models.LogEvent {
	seen := make(map[string]struct{})
	var merged []models.LogEvent
	for _, tier := range tiers {
		for i := range tier {
			key := tier[i].DedupKey()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, tier[i])
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		if merged[i].System != merged[j].System {
			return merged[i].System < merged[j].System
		}
		return merged[i].Message < merged[j].Message
	})
	return merged
}

// buildBundle derives the aggregate view from an ordered event set.
func buildBundle(traceID string, events []models.LogEvent) *models.TraceBundle {
	bundle := &models.TraceBundle{
		TraceID: traceID,
		Events:  events,
		Summary: models.TraceSummaryCounts{
			BySystem: make(map[models.System]int),
			ByLevel:  make(map[models.Level]int),
		},
	}

	seenSystems := make(map[models.System]struct{})
	for i := range events {
		e := &events[i]
		if _, ok := seenSystems[e.System]; !ok {
			seenSystems[e.System] = struct{}{}
			bundle.Systems = append(bundle.Systems, e.System)
		}
		bundle.Summary.BySystem[e.System]++
		bundle.Summary.ByLevel[e.Level]++
		switch e.Level {
		case models.LevelError:
			bundle.Summary.ErrorCount++
		case models.LevelWarn:
			bundle.Summary.WarningCount++
		}
	}

	if len(events) > 0 {
		bundle.TimeSpan = models.TimeSpan{
			Start:    events[0].Timestamp,
			End:      events[len(events)-1].Timestamp,
			Duration: events[len(events)-1].Timestamp - events[0].Timestamp,
		}
	}
	return bundle
}

// CorrelateOptions tunes a single Correlate call.
type CorrelateOptions struct {
	// IncludeArchive merges the durable tier into the bundle. Off by
	// default the live window answers alone, which is both faster and
	// immune to archive outages.
	IncludeArchive bool
}

// Correlate returns the merged bundle for one trace. A trace absent from
// the queried tiers returns models.ErrNotFound.
func (c *Correlator) Correlate(ctx context.Context, traceID string, opts CorrelateOptions) (*models.TraceBundle, error) {
	ephEvents, err := c.ephemeral.ListByTrace(ctx, traceID)
	if err != nil {
		return nil, err
	}

	var archEvents []models.LogEvent
	if opts.IncludeArchive {
		archEvents = c.fromArchive(func() ([]models.LogEvent, error) {
			return c.archive.ListByTrace(ctx, traceID)
		})
	}

	merged := mergeEvents(ephEvents, archEvents)
	if len(merged) == 0 {
		return nil, models.ErrNotFound
	}

	return buildBundle(traceID, merged), nil
}

// SearchQuery filters log events across both tiers. Zero values mean
// "no constraint" except Limit, which falls back to the configured cap.
type SearchQuery struct {
	TraceID string
	UserID  string
	System  models.System
	Level   models.Level
	Text    string
	From    int64
	To      int64
	Limit   int
}

// matches applies the post-fetch filters.
func (q *SearchQuery) matches(e *models.LogEvent) bool {
	if q.System != "" && e.System != q.System {
		return false
	}
	if q.Level != "" && e.Level != q.Level {
		return false
	}
	if q.From > 0 && e.Timestamp < q.From {
		return false
	}
	if q.To > 0 && e.Timestamp >= q.To {
		return false
	}
	if q.UserID != "" && e.EffectiveUserID() != q.UserID {
		return false
	}
	if q.Text != "" {
		needle := strings.ToLower(q.Text)
		if strings.Contains(strings.ToLower(e.Message), needle) {
			return true
		}
		// Fall back to the serialized context payload so structured fields
		// are searchable too.
		if len(e.Context) > 0 {
			if raw, err := json.Marshal(e.Context); err == nil &&
				strings.Contains(strings.ToLower(string(raw)), needle) {
				return true
			}
		}
		return false
	}
	return true
}

// SearchLogs fetches by the most selective index available (trace, then
// user, then time range) and filters the rest in memory.
func (c *Correlator) SearchLogs(ctx context.Context, query SearchQuery) ([]models.LogEvent, error) {
	limit := query.Limit
	if limit <= 0 || limit > c.opts.SearchLimit {
		limit = c.opts.SearchLimit
	}

	var ephEvents, archEvents []models.LogEvent
	var err error

	switch {
	case query.TraceID != "":
		ephEvents, err = c.ephemeral.ListByTrace(ctx, query.TraceID)
		if err != nil {
			return nil, err
		}
		archEvents = c.fromArchive(func() ([]models.LogEvent, error) {
			return c.archive.ListByTrace(ctx, query.TraceID)
		})
	case query.UserID != "":
		ephEvents, err = c.ephemeral.ListByUser(ctx, query.UserID)
		if err != nil {
			return nil, err
		}
		archEvents = c.fromArchive(func() ([]models.LogEvent, error) {
			return c.archive.ListByUser(ctx, query.UserID)
		})
	default:
		from := query.From
		to := query.To
		if to <= 0 {
			to = c.now().UnixMilli() + 1
		}
		ephEvents, err = c.ephemeral.ListSince(ctx, from, 0)
		if err != nil {
			return nil, err
		}
		archEvents = c.fromArchive(func() ([]models.LogEvent, error) {
			return c.archive.ListRange(ctx, from, to, 0)
		})
	}

	merged := mergeEvents(ephEvents, archEvents)

	results := make([]models.LogEvent, 0, limit)
	for i := range merged {
		if !query.matches(&merged[i]) {
			continue
		}
		results = append(results, merged[i])
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// RecentOptions tunes a RecentTraces listing. Zero values fall back to
// the configured floor and cap.
type RecentOptions struct {
	// Since is the epoch-millisecond lower bound of the listing window.
	Since int64

	// Limit caps the number of trace summaries returned.
	Limit int

	// System restricts the listing to traces that touched this system.
	System models.System
}

// RecentTraces summarizes traces seen in the ephemeral window, most recent
// first. The live window defines "recent"; archived-only traces are found
// through search, not here.
func (c *Correlator) RecentTraces(ctx context.Context, opts RecentOptions) ([]models.TraceSummary, error) {
	limit := opts.Limit
	if limit <= 0 || limit > c.opts.RecentTraceLimit {
		limit = c.opts.RecentTraceLimit
	}

	since := opts.Since
	if since <= 0 {
		since = c.now().Add(-c.opts.RecentTraceFloor).UnixMilli()
	}
	events, err := c.ephemeral.ListSince(ctx, since, 0)
	if err != nil {
		return nil, err
	}

	byTrace := make(map[string]*models.TraceSummary)
	systemsSeen := make(map[string]map[models.System]struct{})
	for i := range events {
		e := &events[i]
		summary, ok := byTrace[e.TraceID]
		if !ok {
			summary = &models.TraceSummary{
				TraceID:   e.TraceID,
				FirstSeen: e.Timestamp,
				LastSeen:  e.Timestamp,
			}
			byTrace[e.TraceID] = summary
			systemsSeen[e.TraceID] = make(map[models.System]struct{})
		}

		summary.LogCount++
		if e.Timestamp < summary.FirstSeen {
			summary.FirstSeen = e.Timestamp
		}
		if e.Timestamp > summary.LastSeen {
			summary.LastSeen = e.Timestamp
		}
		if e.Level == models.LevelError {
			summary.HasErrors = true
		}
		if _, ok := systemsSeen[e.TraceID][e.System]; !ok {
			systemsSeen[e.TraceID][e.System] = struct{}{}
			summary.Systems = append(summary.Systems, e.System)
		}
	}

	summaries := make([]models.TraceSummary, 0, len(byTrace))
	for _, s := range byTrace {
		if opts.System != "" && !containsSystem(s.Systems, opts.System) {
			continue
		}
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].LastSeen != summaries[j].LastSeen {
			return summaries[i].LastSeen > summaries[j].LastSeen
		}
		return summaries[i].TraceID < summaries[j].TraceID
	})

	if len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func containsSystem(systems []models.System, want models.System) bool {
	for _, s := range systems {
		if s == want {
			return true
		}
	}
	return false
}
