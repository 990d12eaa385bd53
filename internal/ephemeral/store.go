// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

// Package ephemeral implements the short-term log store on BadgerDB.
//
// Events live for a configurable TTL (default one hour) and are expired by
// Badger itself; nothing on the write path deletes entries. Three key
// families exist per event:
//
//	log:<traceID>:<ts>:<id>       primary record, JSON value
//	loguser:<userID>:<ts>:<...>   user index, value = primary key
//	logts:<ts>:<traceID>:<id>     time index, value = primary key
//
// Timestamps in keys are zero-padded so lexicographic iteration is
// chronological.
package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tracegate/internal/logging"
	"github.com/tomtom215/tracegate/internal/metrics"
	"github.com/tomtom215/tracegate/internal/models"
)

// Key prefixes for BadgerDB storage
const (
	logKeyPrefix  = "log:"
	userKeyPrefix = "loguser:"
	tsKeyPrefix   = "logts:"
)

// Store is the BadgerDB-backed ephemeral log store.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

// Options configures an ephemeral Store.
type Options struct {
	Path     string
	TTL      time.Duration
	InMemory bool
}

// Open opens (or creates) the Badger database and returns a Store.
func Open(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithLogger(nil)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open ephemeral store: %w", err)
	}

	logging.Info().
		Str("component", "ephemeral").
		Str("path", opts.Path).
		Bool("in_memory", opts.InMemory).
		Dur("ttl", opts.TTL).
		Msg("Ephemeral log store opened")

	return &Store{db: db, ttl: opts.TTL}, nil
}

// NewWithDB wraps an existing Badger database. Used by tests and by
// components sharing one database instance.
func NewWithDB(db *badger.DB, ttl time.Duration) *Store {
	return &Store{db: db, ttl: ttl}
}

// DB exposes the underlying Badger handle so sibling components (quota
// ledger, dedup fingerprints) can share the same database.
func (s *Store) DB() *badger.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func primaryKey(e *models.LogEvent) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", logKeyPrefix, e.TraceID, e.Timestamp, e.ID))
}

func userKey(e *models.LogEvent) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s:%s", userKeyPrefix, e.EffectiveUserID(), e.Timestamp, e.TraceID, e.ID))
}

func tsKey(e *models.LogEvent) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s:%s", tsKeyPrefix, e.Timestamp, e.TraceID, e.ID))
}

// Append stores one admitted event with the store TTL. Events are immutable;
// re-appending the same (trace, timestamp, id) overwrites with identical data.
func (s *Store) Append(ctx context.Context, event *models.LogEvent) error {
	defer metrics.RecordEphemeralOp("append", time.Now())

	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pk := primaryKey(event)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(badger.NewEntry(pk, data).WithTTL(s.ttl)); err != nil {
			return fmt.Errorf("set event: %w", err)
		}
		if err := txn.SetEntry(badger.NewEntry(userKey(event), pk).WithTTL(s.ttl)); err != nil {
			return fmt.Errorf("set user index: %w", err)
		}
		if err := txn.SetEntry(badger.NewEntry(tsKey(event), pk).WithTTL(s.ttl)); err != nil {
			return fmt.Errorf("set time index: %w", err)
		}
		return nil
	})
}

// ListByTrace returns all live events for a trace in ascending timestamp
// order. A trace with no live events returns an empty slice, not an error.
func (s *Store) ListByTrace(ctx context.Context, traceID string) ([]models.LogEvent, error) {
	defer metrics.RecordEphemeralOp("list_by_trace", time.Now())

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var events []models.LogEvent
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(logKeyPrefix + traceID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var event models.LogEvent
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &event)
			})
			if err != nil {
				// A corrupt entry must not hide the rest of the trace.
				logging.Warn().
					Str("component", "ephemeral").
					Str("key", string(it.Item().Key())).
					Err(err).
					Msg("Skipping malformed stored event")
				continue
			}
			events = append(events, event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return events, nil
}

// ListByUser returns all live events for a user in ascending timestamp order.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]models.LogEvent, error) {
	defer metrics.RecordEphemeralOp("list_by_user", time.Now())

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var events []models.LogEvent
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(userKeyPrefix + userID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			event, err := s.resolveIndexEntry(txn, it.Item())
			if err != nil {
				return err
			}
			if event != nil {
				events = append(events, *event)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return events, nil
}

// ListSince returns all live events with Timestamp >= since (epoch millis)
// in ascending timestamp order, up to limit. limit <= 0 means no cap.
func (s *Store) ListSince(ctx context.Context, since int64, limit int) ([]models.LogEvent, error) {
	defer metrics.RecordEphemeralOp("list_since", time.Now())

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var events []models.LogEvent
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(tsKeyPrefix)
		seek := []byte(fmt.Sprintf("%s%020d", tsKeyPrefix, since))
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(events) >= limit {
				break
			}
			event, err := s.resolveIndexEntry(txn, it.Item())
			if err != nil {
				return err
			}
			if event != nil {
				events = append(events, *event)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return events, nil
}

// ListAll returns every live event in the store. Sync passes use this to
// mirror the full ephemeral window into the archive.
func (s *Store) ListAll(ctx context.Context) ([]models.LogEvent, error) {
	return s.ListSince(ctx, 0, 0)
}

// resolveIndexEntry follows an index entry to its primary record. Entries
// whose primary record already expired resolve to nil.
func (s *Store) resolveIndexEntry(txn *badger.Txn, item *badger.Item) (*models.LogEvent, error) {
	var pk []byte
	err := item.Value(func(val []byte) error {
		pk = append(pk, val...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read index entry: %w", err)
	}

	primary, err := txn.Get(pk)
	if errors.Is(err, badger.ErrKeyNotFound) {
		// TTL expiry is per key, so an index entry can briefly outlive
		// its primary record.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve index entry: %w", err)
	}

	var event models.LogEvent
	err = primary.Value(func(val []byte) error {
		return json.Unmarshal(val, &event)
	})
	if err != nil {
		logging.Warn().
			Str("component", "ephemeral").
			Str("key", string(pk)).
			Err(err).
			Msg("Skipping malformed stored event")
		return nil, nil
	}
	return &event, nil
}

// CountByTrace returns the number of live events for a trace.
func (s *Store) CountByTrace(ctx context.Context, traceID string) (int, error) {
	defer metrics.RecordEphemeralOp("count_by_trace", time.Now())

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(logKeyPrefix + traceID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// PurgeTrace removes all events and index entries for a trace. Used by
// explicit deletion requests; normal expiry is TTL-driven.
func (s *Store) PurgeTrace(ctx context.Context, traceID string) (int, error) {
	defer metrics.RecordEphemeralOp("purge_trace", time.Now())

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	events, err := s.ListByTrace(ctx, traceID)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	count := 0
	for i := range events {
		e := &events[i]
		err := s.db.Update(func(txn *badger.Txn) error {
			for _, key := range [][]byte{primaryKey(e), userKey(e), tsKey(e)} {
				if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("delete %s: %w", key, err)
				}
			}
			return nil
		})
		if err != nil {
			return count, err
		}
		count++
	}

	logging.Debug().
		Str("component", "ephemeral").
		Str("trace_id", traceID).
		Int("deleted", count).
		Msg("Purged trace from ephemeral store")

	return count, nil
}
