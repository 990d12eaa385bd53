// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

// Package quota implements the shared admission ledger and the budget
// arbiter that decides whether a log event may be written.
//
// All producers funnel through one QuotaState document. Updates are
// read-modify-write transactions under optimistic concurrency; concurrent
// writers conflict and retry a bounded number of times rather than queue.
package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tracegate/internal/models"
)

const stateKey = "quota:state"

// ErrConflict is returned by Ledger.Update when a concurrent writer won the
// race. Callers retry; the update function re-reads fresh state each attempt.
var ErrConflict = errors.New("quota ledger conflict")

// Ledger provides atomic read-modify-write access to the shared QuotaState.
//
// Update runs fn against the current state and persists the result only if
// fn returns nil. Any error from fn aborts the transaction without
// persisting, so a rejection leaves counters untouched.
type Ledger interface {
	Load(ctx context.Context) (*models.QuotaState, error)
	Update(ctx context.Context, fn func(*models.QuotaState) error) error
}

// BadgerLedger stores the QuotaState as a single JSON document in BadgerDB.
// Badger's SSI transactions provide the conflict detection.
type BadgerLedger struct {
	db *badger.DB
}

// NewBadgerLedger creates a ledger on the given Badger database.
func NewBadgerLedger(db *badger.DB) *BadgerLedger {
	return &BadgerLedger{db: db}
}

func readState(txn *badger.Txn) (*models.QuotaState, error) {
	item, err := txn.Get([]byte(stateKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		// Fresh deployment; the arbiter initializes counters on first use.
		return &models.QuotaState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quota state: %w", err)
	}

	var state models.QuotaState
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &state)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal quota state: %w", err)
	}
	return &state, nil
}

// Load returns a snapshot of the current quota state.
func (l *BadgerLedger) Load(ctx context.Context) (*models.QuotaState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var state *models.QuotaState
	err := l.db.View(func(txn *badger.Txn) error {
		var err error
		state, err = readState(txn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Update atomically applies fn to the quota state. A concurrent commit
// surfaces as ErrConflict; an error from fn aborts without persisting.
func (l *BadgerLedger) Update(ctx context.Context, fn func(*models.QuotaState) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	txn := l.db.NewTransaction(true)
	defer txn.Discard()

	state, err := readState(txn)
	if err != nil {
		return err
	}

	if err := fn(state); err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal quota state: %w", err)
	}
	if err := txn.Set([]byte(stateKey), data); err != nil {
		return fmt.Errorf("set quota state: %w", err)
	}

	if err := txn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return ErrConflict
		}
		return fmt.Errorf("commit quota state: %w", err)
	}
	return nil
}
