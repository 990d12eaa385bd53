// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package syncbridge

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tomtom215/tracegate/internal/models"
)

type fakeSource struct {
	events []models.LogEvent
	err    error
}

func (f *fakeSource) ListAll(ctx context.Context) ([]models.LogEvent, error) {
	return f.events, f.err
}

func (f *fakeSource) ListByTrace(ctx context.Context, traceID string) ([]models.LogEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.LogEvent
	for _, e := range f.events {
		if e.TraceID == traceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeSource) ListByUser(ctx context.Context, userID string) ([]models.LogEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.LogEvent
	for _, e := range f.events {
		if e.EffectiveUserID() == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeArchive struct {
	mu       sync.Mutex
	rows     map[string]models.LogEvent // keyed by DedupKey
	pingErr  error
	failKeys map[string]bool // DedupKeys whose insert fails
	deletes  []string
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{rows: make(map[string]models.LogEvent), failKeys: make(map[string]bool)}
}

func (f *fakeArchive) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeArchive) InsertEvent(ctx context.Context, event *models.LogEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := event.DedupKey()
	if f.failKeys[key] {
		return false, errors.New("insert failed")
	}
	if _, ok := f.rows[key]; ok {
		return false, nil
	}
	f.rows[key] = *event
	return true, nil
}

func (f *fakeArchive) DeleteAll(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.rows))
	f.rows = make(map[string]models.LogEvent)
	f.deletes = append(f.deletes, "all")
	return n, nil
}

func (f *fakeArchive) DeleteByTrace(ctx context.Context, traceID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, e := range f.rows {
		if e.TraceID == traceID {
			delete(f.rows, k)
			n++
		}
	}
	f.deletes = append(f.deletes, "trace:"+traceID)
	return n, nil
}

func (f *fakeArchive) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, e := range f.rows {
		if e.EffectiveUserID() == userID {
			delete(f.rows, k)
			n++
		}
	}
	f.deletes = append(f.deletes, "user:"+userID)
	return n, nil
}

func syncEvent(traceID, userID, msg string, ts int64) models.LogEvent {
	return models.LogEvent{
		ID: "e-" + msg, TraceID: traceID, UserID: userID,
		System: models.SystemBackend, Level: models.LevelInfo,
		Message: msg, Timestamp: ts,
	}
}

func TestSyncAll(t *testing.T) {
	source := &fakeSource{events: []models.LogEvent{
		syncEvent("trace-1", "alice", "m1", 1000),
		syncEvent("trace-1", "alice", "m2", 2000),
		syncEvent("trace-2", "bob", "m3", 3000),
	}}
	arch := newFakeArchive()
	b := New(source, arch, 2)

	result, err := b.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	if result.TotalSynced != 3 {
		t.Errorf("expected 3 synced, got %d", result.TotalSynced)
	}
	if result.SkippedCount != 0 {
		t.Errorf("expected 0 skipped, got %d", result.SkippedCount)
	}
	if len(arch.rows) != 3 {
		t.Errorf("expected 3 archived rows, got %d", len(arch.rows))
	}
}

func TestSyncAllClearsBeforeReimport(t *testing.T) {
	source := &fakeSource{events: []models.LogEvent{
		syncEvent("trace-1", "alice", "live", 1000),
	}}
	arch := newFakeArchive()
	// A stale row that no longer exists in the ephemeral window.
	stale := syncEvent("trace-9", "ghost", "stale", 500)
	arch.rows[stale.DedupKey()] = stale

	b := New(source, arch, 2)
	result, err := b.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	if result.DeletedCount != 1 {
		t.Errorf("expected 1 deleted stale row, got %d", result.DeletedCount)
	}
	if len(arch.rows) != 1 {
		t.Fatalf("expected archive to hold only the live window, got %d rows", len(arch.rows))
	}
	if _, ok := arch.rows[stale.DedupKey()]; ok {
		t.Error("stale row should be gone after clear-then-reimport")
	}
}

func TestSyncByTraceScopesDeletes(t *testing.T) {
	source := &fakeSource{events: []models.LogEvent{
		syncEvent("trace-1", "alice", "m1", 1000),
		syncEvent("trace-2", "bob", "m2", 2000),
	}}
	arch := newFakeArchive()
	other := syncEvent("trace-2", "bob", "keep me", 999)
	arch.rows[other.DedupKey()] = other

	b := New(source, arch, 2)
	result, err := b.SyncByTrace(context.Background(), "trace-1")
	if err != nil {
		t.Fatalf("SyncByTrace failed: %v", err)
	}
	if result.TotalSynced != 1 {
		t.Errorf("expected 1 synced, got %d", result.TotalSynced)
	}
	if _, ok := arch.rows[other.DedupKey()]; !ok {
		t.Error("events outside the trace scope must survive")
	}
}

func TestSyncByUser(t *testing.T) {
	source := &fakeSource{events: []models.LogEvent{
		syncEvent("trace-1", "alice", "m1", 1000),
		syncEvent("trace-2", "bob", "m2", 2000),
	}}
	arch := newFakeArchive()
	b := New(source, arch, 2)

	result, err := b.SyncByUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("SyncByUser failed: %v", err)
	}
	if result.TotalSynced != 1 {
		t.Errorf("expected 1 synced for alice, got %d", result.TotalSynced)
	}
}

func TestSyncSkipsFailedInserts(t *testing.T) {
	e1 := syncEvent("trace-1", "alice", "good", 1000)
	e2 := syncEvent("trace-1", "alice", "bad", 2000)
	source := &fakeSource{events: []models.LogEvent{e1, e2}}
	arch := newFakeArchive()
	arch.failKeys[e2.DedupKey()] = true

	b := New(source, arch, 2)
	result, err := b.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("per-item failures must not abort the pass: %v", err)
	}
	if result.TotalSynced != 1 {
		t.Errorf("expected 1 synced, got %d", result.TotalSynced)
	}
	if result.SkippedCount != 1 {
		t.Errorf("expected 1 skipped, got %d", result.SkippedCount)
	}
}

func TestSyncArchiveUnavailable(t *testing.T) {
	source := &fakeSource{events: []models.LogEvent{
		syncEvent("trace-1", "alice", "m1", 1000),
	}}
	arch := newFakeArchive()
	arch.pingErr = errors.New("connection refused")

	b := New(source, arch, 2)
	_, err := b.SyncAll(context.Background())
	if !errors.Is(err, models.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
	if len(arch.deletes) != 0 {
		t.Error("nothing may be cleared when the archive is unreachable")
	}
}
