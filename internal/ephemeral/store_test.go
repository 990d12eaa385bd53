// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package ephemeral

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/tracegate/internal/models"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("Failed to open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewWithDB(db, time.Hour)
}

func makeEvent(traceID, userID string, ts int64, seq int) *models.LogEvent {
	return &models.LogEvent{
		ID:        fmt.Sprintf("evt-%s-%d", traceID, seq),
		TraceID:   traceID,
		UserID:    userID,
		System:    models.SystemBackend,
		Level:     models.LevelInfo,
		Message:   fmt.Sprintf("message %d", seq),
		Timestamp: ts,
	}
}

func TestAppendAndListByTrace(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	// Append out of timestamp order; listing must come back chronological.
	for _, offset := range []int64{200, 0, 100} {
		e := makeEvent("trace-a", "user-1", base+offset, int(offset))
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	events, err := s.ListByTrace(ctx, "trace-a")
	if err != nil {
		t.Fatalf("ListByTrace failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp < events[i-1].Timestamp {
			t.Errorf("events out of order at %d: %d < %d", i, events[i].Timestamp, events[i-1].Timestamp)
		}
	}
}

func TestListByTraceEmpty(t *testing.T) {
	s := setupStore(t)

	events, err := s.ListByTrace(context.Background(), "no-such-trace")
	if err != nil {
		t.Fatalf("ListByTrace failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestListByTracePrefixIsolation(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	// "trace-1" must not match "trace-10".
	if err := s.Append(ctx, makeEvent("trace-1", "u", now, 1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(ctx, makeEvent("trace-10", "u", now, 2)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	events, err := s.ListByTrace(ctx, "trace-1")
	if err != nil {
		t.Fatalf("ListByTrace failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event for trace-1, got %d", len(events))
	}
	if events[0].TraceID != "trace-1" {
		t.Errorf("expected trace-1, got %s", events[0].TraceID)
	}
}

func TestListByUser(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	if err := s.Append(ctx, makeEvent("trace-a", "alice", now, 1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(ctx, makeEvent("trace-b", "alice", now+10, 2)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(ctx, makeEvent("trace-c", "bob", now+20, 3)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	events, err := s.ListByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for alice, got %d", len(events))
	}
	for _, e := range events {
		if e.UserID != "alice" {
			t.Errorf("unexpected user %s", e.UserID)
		}
	}
}

func TestListByUserSystemFallback(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	e := makeEvent("trace-a", "", time.Now().UnixMilli(), 1)
	if err := s.Append(ctx, e); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	events, err := s.ListByUser(ctx, models.UserSystem)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected userless event under %q, got %d events", models.UserSystem, len(events))
	}
}

func TestListSince(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	base := int64(1_700_000_000_000)

	for i := 0; i < 5; i++ {
		e := makeEvent(fmt.Sprintf("trace-%d", i), "u", base+int64(i)*1000, i)
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	events, err := s.ListSince(ctx, base+2000, 0)
	if err != nil {
		t.Fatalf("ListSince failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events since cutoff, got %d", len(events))
	}
	for _, e := range events {
		if e.Timestamp < base+2000 {
			t.Errorf("event before cutoff: %d", e.Timestamp)
		}
	}

	limited, err := s.ListSince(ctx, 0, 2)
	if err != nil {
		t.Fatalf("ListSince failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected limit 2, got %d", len(limited))
	}
}

func TestCountByTrace(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	for i := 0; i < 4; i++ {
		if err := s.Append(ctx, makeEvent("trace-x", "u", now+int64(i), i)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	count, err := s.CountByTrace(ctx, "trace-x")
	if err != nil {
		t.Fatalf("CountByTrace failed: %v", err)
	}
	if count != 4 {
		t.Errorf("expected count 4, got %d", count)
	}
}

func TestPurgeTrace(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, makeEvent("trace-p", "carol", now+int64(i), i)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := s.Append(ctx, makeEvent("trace-q", "carol", now, 9)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	deleted, err := s.PurgeTrace(ctx, "trace-p")
	if err != nil {
		t.Fatalf("PurgeTrace failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 deleted, got %d", deleted)
	}

	remaining, err := s.ListByTrace(ctx, "trace-p")
	if err != nil {
		t.Fatalf("ListByTrace failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected purged trace to be empty, got %d", len(remaining))
	}

	// Index entries must be gone too.
	byUser, err := s.ListByUser(ctx, "carol")
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(byUser) != 1 {
		t.Errorf("expected only trace-q event for carol, got %d", len(byUser))
	}

	// Purging an unknown trace is a no-op.
	deleted, err = s.PurgeTrace(ctx, "no-such")
	if err != nil {
		t.Fatalf("PurgeTrace failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected 0 deleted, got %d", deleted)
	}
}

func TestListByTraceSkipsMalformedEntries(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	if err := s.Append(ctx, makeEvent("trace-m", "u", now, 1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Plant a corrupt record under the same trace prefix.
	badKey := []byte(fmt.Sprintf("%strace-m:%020d:evt-bad", logKeyPrefix, now+1))
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badKey, []byte("{not json"))
	})
	if err != nil {
		t.Fatalf("planting corrupt entry failed: %v", err)
	}

	events, err := s.ListByTrace(ctx, "trace-m")
	if err != nil {
		t.Fatalf("ListByTrace failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected corrupt entry to be skipped, got %d events", len(events))
	}
	if events[0].ID != "evt-trace-m-1" {
		t.Errorf("unexpected surviving event %s", events[0].ID)
	}
}

func TestAppendRespectsContext(t *testing.T) {
	s := setupStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Append(ctx, makeEvent("trace-a", "u", time.Now().UnixMilli(), 1))
	if err == nil {
		t.Error("expected error from canceled context")
	}
}
