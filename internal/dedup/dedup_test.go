// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tracegate/internal/models"
)

func setupDedup(t *testing.T, cfg Config) *Deduplicator {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("Failed to open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return New(db, cfg)
}

func infoEvent(message string) *models.LogEvent {
	return &models.LogEvent{
		ID:        "evt-1",
		TraceID:   "trace-1",
		System:    models.SystemBackend,
		Level:     models.LevelInfo,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
}

func TestSuppressAfterMaxDuplicates(t *testing.T) {
	d := setupDedup(t, Config{Window: time.Minute, MaxDuplicates: 5})
	ctx := context.Background()

	// First five identical messages pass, the sixth is suppressed.
	for i := 0; i < 5; i++ {
		if d.ShouldSuppress(ctx, infoEvent("connection reset")) {
			t.Fatalf("occurrence %d should not be suppressed", i+1)
		}
	}
	if !d.ShouldSuppress(ctx, infoEvent("connection reset")) {
		t.Error("sixth occurrence should be suppressed")
	}
	if !d.ShouldSuppress(ctx, infoEvent("connection reset")) {
		t.Error("seventh occurrence should be suppressed")
	}
}

func TestDistinctMessagesNotSuppressed(t *testing.T) {
	d := setupDedup(t, Config{Window: time.Minute, MaxDuplicates: 1})
	ctx := context.Background()

	if d.ShouldSuppress(ctx, infoEvent("first message")) {
		t.Error("first message should pass")
	}
	if d.ShouldSuppress(ctx, infoEvent("second message")) {
		t.Error("distinct message should pass")
	}
}

func TestWindowRollover(t *testing.T) {
	d := setupDedup(t, Config{Window: 50 * time.Millisecond, MaxDuplicates: 1})
	ctx := context.Background()

	if d.ShouldSuppress(ctx, infoEvent("flappy")) {
		t.Error("first occurrence should pass")
	}
	if !d.ShouldSuppress(ctx, infoEvent("flappy")) {
		t.Error("second occurrence inside window should be suppressed")
	}

	time.Sleep(80 * time.Millisecond)

	if d.ShouldSuppress(ctx, infoEvent("flappy")) {
		t.Error("occurrence after window expiry should pass")
	}
}

func TestHashDimensions(t *testing.T) {
	d := setupDedup(t, Config{Window: time.Minute, MaxDuplicates: 5})

	base := d.Hash(models.SystemBackend, models.LevelInfo, "same text")

	if d.Hash(models.SystemBrowser, models.LevelInfo, "same text") == base {
		t.Error("different system should hash differently")
	}
	if d.Hash(models.SystemBackend, models.LevelError, "same text") == base {
		t.Error("different level should hash differently")
	}
	if d.Hash(models.SystemBackend, models.LevelInfo, "other text") == base {
		t.Error("different message should hash differently")
	}
	// Case-insensitive on message text.
	if d.Hash(models.SystemBackend, models.LevelInfo, "SAME TEXT") != base {
		t.Error("hash should be case-insensitive")
	}
}

func TestHashUsesMessagePrefixOnly(t *testing.T) {
	d := setupDedup(t, Config{Window: time.Minute, MaxDuplicates: 5, MessagePrefixLen: 100})

	long := make([]byte, 150)
	for i := range long {
		long[i] = 'a'
	}
	a := d.Hash(models.SystemBackend, models.LevelInfo, string(long)+"-tail-one")
	b := d.Hash(models.SystemBackend, models.LevelInfo, string(long)+"-tail-two")
	if a != b {
		t.Error("messages identical in their first 100 characters should collide")
	}
}

func TestFailOpenOnClosedStore(t *testing.T) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("Failed to open badger: %v", err)
	}
	d := New(db, Config{Window: time.Minute, MaxDuplicates: 1})
	db.Close()

	// A dead fingerprint store must admit everything.
	if d.ShouldSuppress(context.Background(), infoEvent("anything")) {
		t.Error("expected fail-open admission on store error")
	}
}

func TestCleanupBounded(t *testing.T) {
	d := setupDedup(t, Config{Window: time.Minute, MaxDuplicates: 1, CleanupBatch: 3})
	now := time.Now().UnixMilli()

	// Seed six records that are logically expired but still live in Badger.
	err := d.db.Update(func(txn *badger.Txn) error {
		for i := 0; i < 6; i++ {
			fp := models.Fingerprint{
				Hash:        string(rune('a' + i)),
				FirstSeenAt: now - 10_000,
				Count:       1,
				ExpiresAt:   now - 5_000,
			}
			data, err := json.Marshal(&fp)
			if err != nil {
				return err
			}
			key := []byte(fingerprintKeyPrefix + fp.Hash)
			if err := txn.Set(key, data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	// One sweep deletes at most CleanupBatch expired records.
	d.cleanup(now)

	remaining := 0
	err = d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(fingerprintKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			remaining++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if remaining != 3 {
		t.Errorf("expected 3 remaining after bounded sweep, got %d", remaining)
	}
}
