// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package quota

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/tracegate/internal/models"
)

func setupBadgerLedger(t *testing.T) *BadgerLedger {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("Failed to open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewBadgerLedger(db)
}

func TestBadgerLedgerLoadEmpty(t *testing.T) {
	l := setupBadgerLedger(t)

	state, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if state.MonthlyTotal() != 0 {
		t.Errorf("fresh state should be empty, got total %d", state.MonthlyTotal())
	}
}

func TestBadgerLedgerUpdatePersists(t *testing.T) {
	l := setupBadgerLedger(t)
	ctx := context.Background()

	err := l.Update(ctx, func(state *models.QuotaState) error {
		state.WritesBySystem = map[models.System]int64{models.SystemBrowser: 7}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	state, err := l.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if state.WritesBySystem[models.SystemBrowser] != 7 {
		t.Errorf("expected persisted count 7, got %d", state.WritesBySystem[models.SystemBrowser])
	}
}

func TestBadgerLedgerUpdateAbortsOnError(t *testing.T) {
	l := setupBadgerLedger(t)
	ctx := context.Background()

	errAbort := errors.New("abort")
	err := l.Update(ctx, func(state *models.QuotaState) error {
		state.WritesBySystem = map[models.System]int64{models.SystemBrowser: 99}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort error, got %v", err)
	}

	state, err := l.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if state.WritesBySystem[models.SystemBrowser] != 0 {
		t.Error("aborted update must not persist")
	}
}

// Concurrent producers must never lose an increment: every successful
// update is reflected exactly once in the final count.
func TestBadgerLedgerConcurrentUpdates(t *testing.T) {
	l := setupBadgerLedger(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 5

	var wg sync.WaitGroup
	errCh := make(chan error, workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				// Retry until the optimistic commit wins.
				for {
					err := l.Update(ctx, func(state *models.QuotaState) error {
						if state.WritesBySystem == nil {
							state.WritesBySystem = make(map[models.System]int64)
						}
						state.WritesBySystem[models.SystemBackend]++
						return nil
					})
					if err == nil {
						break
					}
					if !errors.Is(err, ErrConflict) {
						errCh <- err
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("unexpected update error: %v", err)
	}

	state, err := l.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := state.WritesBySystem[models.SystemBackend]; got != workers*perWorker {
		t.Errorf("expected exactly %d increments, got %d", workers*perWorker, got)
	}
}

func TestMemoryLedgerDiscardOnError(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	errAbort := errors.New("abort")
	err := l.Update(ctx, func(state *models.QuotaState) error {
		state.Global.Current = 42
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort error, got %v", err)
	}

	state, err := l.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if state.Global.Current != 0 {
		t.Error("aborted update must not mutate in-memory state")
	}
}
