// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package config

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Quota.MonthlyBudget != 50000 {
		t.Errorf("expected monthly budget 50000, got %d", cfg.Quota.MonthlyBudget)
	}
	if got := cfg.Quota.SplitBrowser + cfg.Quota.SplitBackend + cfg.Quota.SplitWorker; got != 100 {
		t.Errorf("expected split sum 100, got %d", got)
	}
	if cfg.Dedup.Window != time.Second {
		t.Errorf("expected dedup window 1s, got %s", cfg.Dedup.Window)
	}
	if cfg.Dedup.MaxDuplicates != 5 {
		t.Errorf("expected max duplicates 5, got %d", cfg.Dedup.MaxDuplicates)
	}
	if cfg.Ephemeral.TTL != time.Hour {
		t.Errorf("expected ephemeral TTL 1h, got %s", cfg.Ephemeral.TTL)
	}
	if cfg.Quota.CriticalPrefix != "critical-" {
		t.Errorf("expected critical prefix %q, got %q", "critical-", cfg.Quota.CriticalPrefix)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"zero monthly budget", func(c *Config) { c.Quota.MonthlyBudget = 0 }},
		{"negative window", func(c *Config) { c.Quota.Window = -time.Second }},
		{"split not 100", func(c *Config) { c.Quota.SplitBrowser = 50 }},
		{"zero min system limit", func(c *Config) { c.Quota.MinSystemLimit = 0 }},
		{"headroom above 1", func(c *Config) { c.Quota.BorrowHeadroom = 1.5 }},
		{"soft limit zero", func(c *Config) { c.Quota.BudgetSoftLimit = 0 }},
		{"zero retries", func(c *Config) { c.Quota.MaxRetries = 0 }},
		{"zero dedup window", func(c *Config) { c.Dedup.Window = 0 }},
		{"zero max duplicates", func(c *Config) { c.Dedup.MaxDuplicates = 0 }},
		{"zero ephemeral ttl", func(c *Config) { c.Ephemeral.TTL = 0 }},
		{"error rate above 1", func(c *Config) { c.Insight.ErrorRate = 2.0 }},
		{"zero search limit", func(c *Config) { c.API.SearchLimit = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadWithKoanfEnvOverrides(t *testing.T) {
	t.Setenv("MONTHLY_BUDGET", "10000")
	t.Setenv("WINDOW_MS", "30000")
	t.Setenv("DUPLICATE_WINDOW_MS", "2000")
	t.Setenv("MAX_DUPLICATES", "3")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf failed: %v", err)
	}

	if cfg.Quota.MonthlyBudget != 10000 {
		t.Errorf("expected monthly budget 10000, got %d", cfg.Quota.MonthlyBudget)
	}
	if cfg.Quota.Window != 30*time.Second {
		t.Errorf("expected quota window 30s, got %s", cfg.Quota.Window)
	}
	if cfg.Dedup.Window != 2*time.Second {
		t.Errorf("expected dedup window 2s, got %s", cfg.Dedup.Window)
	}
	if cfg.Dedup.MaxDuplicates != 3 {
		t.Errorf("expected max duplicates 3, got %d", cfg.Dedup.MaxDuplicates)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	if len(cfg.Security.CORSOrigins) != 2 {
		t.Errorf("expected 2 CORS origins, got %v", cfg.Security.CORSOrigins)
	}
}

func TestLoadWithKoanfDurationWithUnit(t *testing.T) {
	t.Setenv("WINDOW_MS", "90s")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf failed: %v", err)
	}
	if cfg.Quota.Window != 90*time.Second {
		t.Errorf("expected quota window 90s, got %s", cfg.Quota.Window)
	}
}

func TestSystemSplit(t *testing.T) {
	q := &QuotaConfig{SplitBrowser: 40, SplitBackend: 30, SplitWorker: 30}

	if got := q.SystemSplit("browser"); got != 40 {
		t.Errorf("expected browser split 40, got %d", got)
	}
	if got := q.SystemSplit("worker"); got != 30 {
		t.Errorf("expected worker split 30, got %d", got)
	}
	// Manual accounts under the backend bucket.
	if got := q.SystemSplit("manual"); got != 30 {
		t.Errorf("expected manual split 30, got %d", got)
	}
}
