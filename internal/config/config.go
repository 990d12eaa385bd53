// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

// Package config loads and validates Tracegate configuration using Koanf v2
// with layered sources: built-in defaults, optional YAML config file, and
// environment variables (highest priority).
//
// Every operational knob named by the admission and insight subsystems is
// externally configurable: duplicate window, max duplicates, rate window,
// monthly budget, per-system split percentages, and performance-issue
// thresholds.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Database  DatabaseConfig  `koanf:"database"`
	Ephemeral EphemeralConfig `koanf:"ephemeral"`
	Quota     QuotaConfig     `koanf:"quota"`
	Dedup     DedupConfig     `koanf:"dedup"`
	Insight   InsightConfig   `koanf:"insight"`
	Sync      SyncConfig      `koanf:"sync"`
	API       APIConfig       `koanf:"api"`
	Security  SecurityConfig  `koanf:"security"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig holds settings for Tracegate's own structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// DatabaseConfig holds durable-archive (DuckDB) settings.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = use runtime.NumCPU()
}

// EphemeralConfig holds ephemeral log store (BadgerDB) settings.
type EphemeralConfig struct {
	Path string `koanf:"path"`

	// TTL is the retention window for ephemeral log entries. The store
	// itself expires entries; nothing on the write path deletes them.
	TTL time.Duration `koanf:"ttl"`

	// InMemory runs Badger without disk persistence. Used in tests and
	// throwaway development environments.
	InMemory bool `koanf:"in_memory"`
}

// QuotaConfig holds admission-control budget settings.
type QuotaConfig struct {
	// MonthlyBudget is the total log writes allowed per monthly cycle
	// across all systems.
	MonthlyBudget int64 `koanf:"monthly_budget"`

	// Window is the short rate window (WINDOW_MS in producer SDKs).
	Window time.Duration `koanf:"window"`

	// SplitBrowser/SplitBackend/SplitWorker are the budget split
	// percentages. Manual writes are accounted under backend.
	SplitBrowser int `koanf:"split_browser"`
	SplitBackend int `koanf:"split_backend"`
	SplitWorker  int `koanf:"split_worker"`

	// MinSystemLimit is the per-window floor so tiny budgets do not
	// block low-traffic development environments entirely.
	MinSystemLimit int64 `koanf:"min_system_limit"`

	// BorrowCap bounds how many units one system may borrow from
	// sibling headroom inside a single window.
	BorrowCap int64 `koanf:"borrow_cap"`

	// BorrowHeadroom is the sibling utilization threshold below which
	// one unit may be borrowed (0.8 = sibling under 80% of its limit).
	BorrowHeadroom float64 `koanf:"borrow_headroom"`

	// BudgetSoftLimit is the fraction of the monthly budget at which
	// non-critical traffic is rejected (0.95 = 95%).
	BudgetSoftLimit float64 `koanf:"budget_soft_limit"`

	// CriticalPrefix marks trace IDs that bypass the monthly budget
	// check (never the per-window limits).
	CriticalPrefix string `koanf:"critical_prefix"`

	// CheckTimeout bounds a single admission check's store access.
	// On timeout the arbiter fails open.
	CheckTimeout time.Duration `koanf:"check_timeout"`

	// MaxRetries caps ledger read-modify-write retries on conflict.
	MaxRetries int `koanf:"max_retries"`
}

// DedupConfig holds duplicate-suppression settings.
type DedupConfig struct {
	// Window is the sliding window for duplicate detection
	// (DUPLICATE_WINDOW_MS in producer SDKs).
	Window time.Duration `koanf:"window"`

	// MaxDuplicates is the number of identical messages admitted per window.
	MaxDuplicates int `koanf:"max_duplicates"`

	// CleanupBatch bounds expired-fingerprint deletions per sweep.
	CleanupBatch int `koanf:"cleanup_batch"`

	// MessagePrefixLen is how many leading message characters feed the
	// fingerprint hash.
	MessagePrefixLen int `koanf:"message_prefix_len"`
}

// InsightConfig holds performance-issue heuristic thresholds.
// These are configuration, not constants; deployments tune them without
// code changes.
type InsightConfig struct {
	// SlowTraceMS triggers slow_trace_duration when a trace spans longer.
	SlowTraceMS int64 `koanf:"slow_trace_ms"`

	// ErrorRate triggers high_error_rate when (errors+warnings)/total exceeds it.
	ErrorRate float64 `koanf:"error_rate"`

	// BottleneckMS and BottleneckLogs together trigger system_bottleneck.
	BottleneckMS   int64 `koanf:"bottleneck_ms"`
	BottleneckLogs int   `koanf:"bottleneck_logs"`
}

// SyncConfig holds archive sync bridge settings.
type SyncConfig struct {
	// Interval between periodic full syncs. 0 disables the periodic runner;
	// on-demand sync endpoints remain available.
	Interval time.Duration `koanf:"interval"`

	// Workers bounds concurrent archive inserts during a sync pass.
	Workers int `koanf:"workers"`
}

// APIConfig holds API behavior settings.
type APIConfig struct {
	// SearchLimit caps search result size.
	SearchLimit int `koanf:"search_limit"`

	// RecentTraceFloor is how far back recent-trace listings scan by default.
	RecentTraceFloor time.Duration `koanf:"recent_trace_floor"`

	// RecentTraceLimit caps recent-trace listing size.
	RecentTraceLimit int `koanf:"recent_trace_limit"`
}

// SecurityConfig holds transport-level protections. These are per-client
// HTTP limits, independent of the shared domain quota.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Quota.MonthlyBudget <= 0 {
		return fmt.Errorf("quota.monthly_budget must be positive, got %d", c.Quota.MonthlyBudget)
	}
	if c.Quota.Window <= 0 {
		return fmt.Errorf("quota.window must be positive, got %s", c.Quota.Window)
	}
	if sum := c.Quota.SplitBrowser + c.Quota.SplitBackend + c.Quota.SplitWorker; sum != 100 {
		return fmt.Errorf("quota split percentages must sum to 100, got %d", sum)
	}
	if c.Quota.MinSystemLimit <= 0 {
		return fmt.Errorf("quota.min_system_limit must be positive, got %d", c.Quota.MinSystemLimit)
	}
	if c.Quota.BorrowHeadroom <= 0 || c.Quota.BorrowHeadroom > 1 {
		return fmt.Errorf("quota.borrow_headroom must be in (0,1], got %f", c.Quota.BorrowHeadroom)
	}
	if c.Quota.BudgetSoftLimit <= 0 || c.Quota.BudgetSoftLimit > 1 {
		return fmt.Errorf("quota.budget_soft_limit must be in (0,1], got %f", c.Quota.BudgetSoftLimit)
	}
	if c.Quota.MaxRetries <= 0 {
		return fmt.Errorf("quota.max_retries must be positive, got %d", c.Quota.MaxRetries)
	}
	if c.Dedup.Window <= 0 {
		return fmt.Errorf("dedup.window must be positive, got %s", c.Dedup.Window)
	}
	if c.Dedup.MaxDuplicates <= 0 {
		return fmt.Errorf("dedup.max_duplicates must be positive, got %d", c.Dedup.MaxDuplicates)
	}
	if c.Ephemeral.TTL <= 0 {
		return fmt.Errorf("ephemeral.ttl must be positive, got %s", c.Ephemeral.TTL)
	}
	if c.Insight.ErrorRate <= 0 || c.Insight.ErrorRate > 1 {
		return fmt.Errorf("insight.error_rate must be in (0,1], got %f", c.Insight.ErrorRate)
	}
	if c.API.SearchLimit <= 0 {
		return fmt.Errorf("api.search_limit must be positive, got %d", c.API.SearchLimit)
	}
	return nil
}

// SystemSplit returns the budget split percentage for a system category.
// Manual shares the backend bucket.
func (q *QuotaConfig) SystemSplit(system string) int {
	switch system {
	case "browser":
		return q.SplitBrowser
	case "worker":
		return q.SplitWorker
	default:
		return q.SplitBackend
	}
}
