// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tracegate/config.yaml",
	"/etc/tracegate/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// Default returns a Config with all defaults applied and no file or
// environment layers. Tests and embedded callers use it directly.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with all defaults applied. Defaults load
// first, then the config file, then environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8440,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Database: DatabaseConfig{
			Path:      "/data/tracegate.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Ephemeral: EphemeralConfig{
			Path:     "/data/ephemeral",
			TTL:      time.Hour,
			InMemory: false,
		},
		Quota: QuotaConfig{
			MonthlyBudget:   50000,
			Window:          60 * time.Second,
			SplitBrowser:    40,
			SplitBackend:    30,
			SplitWorker:     30,
			MinSystemLimit:  5,
			BorrowCap:       5,
			BorrowHeadroom:  0.8,
			BudgetSoftLimit: 0.95,
			CriticalPrefix:  "critical-",
			CheckTimeout:    2 * time.Second,
			MaxRetries:      3,
		},
		Dedup: DedupConfig{
			Window:           1000 * time.Millisecond,
			MaxDuplicates:    5,
			CleanupBatch:     10,
			MessagePrefixLen: 100,
		},
		Insight: InsightConfig{
			SlowTraceMS:    30000,
			ErrorRate:      0.30,
			BottleneckMS:   10000,
			BottleneckLogs: 20,
		},
		Sync: SyncConfig{
			Interval: 10 * time.Minute,
			Workers:  4,
		},
		API: APIConfig{
			SearchLimit:      200,
			RecentTraceFloor: 24 * time.Hour,
			RecentTraceLimit: 50,
		},
		Security: SecurityConfig{
			CORSOrigins:       []string{"*"},
			RateLimitReqs:     100,
			RateLimitWindow:   1 * time.Minute,
			RateLimitDisabled: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if it exists)
//  3. Environment variables: override any setting
//
// Precedence is ENV > File > Defaults.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: optional config file
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// Transform environment variable names to koanf paths:
	// MONTHLY_BUDGET -> quota.monthly_budget
	// DUPLICATE_WINDOW_MS -> dedup.window
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Millisecond-denominated env vars arrive as bare integers; convert them
	// to durations before unmarshaling.
	if err := processMillisFields(k); err != nil {
		return nil, fmt.Errorf("failed to process duration fields: %w", err)
	}

	// Post-process slice fields from comma-separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the first file found, or empty string if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// millisConfigPaths lists paths whose environment variables are expressed in
// bare milliseconds (matching producer SDK knob names) but unmarshal into
// time.Duration fields.
var millisConfigPaths = []string{
	"quota.window",
	"dedup.window",
}

// processMillisFields rewrites bare-integer millisecond values into duration
// strings so Unmarshal can parse them. Values that already carry a unit
// ("60s", "1m") pass through untouched.
func processMillisFields(k *koanf.Koanf) error {
	for _, path := range millisConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		if _, err := time.ParseDuration(strVal); err == nil {
			continue
		}
		var ms int64
		if _, err := fmt.Sscanf(strVal, "%d", &ms); err != nil {
			continue
		}
		if err := k.Set(path, fmt.Sprintf("%dms", ms)); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// sliceConfigPaths defines which config paths parse as comma-separated slices.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings, but the config expects
// slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML file) means nothing to do.
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Producer-facing knobs keep their SDK names (MONTHLY_BUDGET, WINDOW_MS,
// DUPLICATE_WINDOW_MS, MAX_DUPLICATES) so deployments configure the server
// and its producers from one set of variables.
//
// Examples:
//   - MONTHLY_BUDGET -> quota.monthly_budget
//   - WINDOW_MS -> quota.window
//   - DUPLICATE_WINDOW_MS -> dedup.window
//   - DUCKDB_PATH -> database.path
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server mappings
		"http_port":    "server.port",
		"http_host":    "server.host",
		"http_timeout": "server.timeout",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Archive database mappings
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Ephemeral store mappings
		"badger_path":         "ephemeral.path",
		"ephemeral_ttl":       "ephemeral.ttl",
		"ephemeral_in_memory": "ephemeral.in_memory",

		// Quota mappings (SDK knob names preserved)
		"monthly_budget":    "quota.monthly_budget",
		"window_ms":         "quota.window",
		"split_browser":     "quota.split_browser",
		"split_backend":     "quota.split_backend",
		"split_worker":      "quota.split_worker",
		"min_system_limit":  "quota.min_system_limit",
		"borrow_cap":        "quota.borrow_cap",
		"borrow_headroom":   "quota.borrow_headroom",
		"budget_soft_limit": "quota.budget_soft_limit",
		"critical_prefix":   "quota.critical_prefix",
		"quota_timeout":     "quota.check_timeout",
		"quota_max_retries": "quota.max_retries",

		// Dedup mappings (SDK knob names preserved)
		"duplicate_window_ms":      "dedup.window",
		"max_duplicates":           "dedup.max_duplicates",
		"dedup_cleanup_batch":      "dedup.cleanup_batch",
		"dedup_message_prefix_len": "dedup.message_prefix_len",

		// Insight mappings
		"insight_slow_trace_ms":   "insight.slow_trace_ms",
		"insight_error_rate":      "insight.error_rate",
		"insight_bottleneck_ms":   "insight.bottleneck_ms",
		"insight_bottleneck_logs": "insight.bottleneck_logs",

		// Sync mappings
		"sync_interval": "sync.interval",
		"sync_workers":  "sync.workers",

		// API mappings
		"api_search_limit":       "api.search_limit",
		"api_recent_trace_floor": "api.recent_trace_floor",
		"api_recent_trace_limit": "api.recent_trace_limit",

		// Security mappings
		"cors_origins":        "security.cors_origins",
		"rate_limit_requests": "security.rate_limit_reqs",
		"rate_limit_window":   "security.rate_limit_window",
		"disable_rate_limit":  "security.rate_limit_disabled",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unmapped keys are skipped so random environment variables do not
	// pollute the config.
	return ""
}
