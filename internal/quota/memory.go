// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package quota

import (
	"context"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tracegate/internal/models"
)

// MemoryLedger is a mutex-guarded in-process ledger. Serialized updates
// never conflict. Used in tests and single-process deployments that opt out
// of persistence.
type MemoryLedger struct {
	mu    sync.Mutex
	state models.QuotaState
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func cloneState(state *models.QuotaState) (*models.QuotaState, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var clone models.QuotaState
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

// Load returns a snapshot of the current state.
func (l *MemoryLedger) Load(ctx context.Context) (*models.QuotaState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneState(&l.state)
}

// Update applies fn under the lock. An error from fn discards the mutation.
func (l *MemoryLedger) Update(ctx context.Context, fn func(*models.QuotaState) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	working, err := cloneState(&l.state)
	if err != nil {
		return err
	}
	if err := fn(working); err != nil {
		return err
	}
	l.state = *working
	return nil
}
