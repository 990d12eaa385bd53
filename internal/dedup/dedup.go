// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

// Package dedup implements sliding-window duplicate suppression for log
// ingestion.
//
// Each event is fingerprinted by an FNV-64a hash over the lowercased
// system, level, and a message prefix. Fingerprint records live in BadgerDB
// with a TTL matching the window, so crashed processes never leak state.
// Store failures fail open: a broken deduplicator must never block logging.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/tracegate/internal/logging"
	"github.com/tomtom215/tracegate/internal/metrics"
	"github.com/tomtom215/tracegate/internal/models"
)

const fingerprintKeyPrefix = "fp:"

// Config holds deduplicator settings.
type Config struct {
	// Window is the sliding duplicate-detection window.
	Window time.Duration

	// MaxDuplicates is how many identical messages are admitted per window.
	MaxDuplicates int

	// CleanupBatch bounds deletions per opportunistic cleanup sweep.
	CleanupBatch int

	// MessagePrefixLen is how many leading message characters feed the hash.
	MessagePrefixLen int
}

// Deduplicator suppresses repeated identical messages inside a sliding
// window. Safe for concurrent use; all state lives in Badger.
type Deduplicator struct {
	db  *badger.DB
	cfg Config

	// cleanupLimiter throttles opportunistic cleanup sweeps so hot ingest
	// paths are not taxed with scan work on every call.
	cleanupLimiter *rate.Limiter
}

// New creates a Deduplicator backed by the given Badger database.
func New(db *badger.DB, cfg Config) *Deduplicator {
	if cfg.MessagePrefixLen <= 0 {
		cfg.MessagePrefixLen = 100
	}
	if cfg.CleanupBatch <= 0 {
		cfg.CleanupBatch = 10
	}
	return &Deduplicator{
		db:             db,
		cfg:            cfg,
		cleanupLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Hash returns the fingerprint hash for an event. Identical system, level
// and message prefix collapse to the same hash regardless of trace or user.
func (d *Deduplicator) Hash(system models.System, level models.Level, message string) string {
	prefix := message
	if len(prefix) > d.cfg.MessagePrefixLen {
		prefix = prefix[:d.cfg.MessagePrefixLen]
	}

	h := fnv.New64a()
	// Write on fnv never returns an error.
	_, _ = h.Write([]byte(strings.ToLower(string(system) + ":" + string(level) + ":" + prefix)))
	return fmt.Sprintf("%016x", h.Sum64())
}

// ShouldSuppress records one occurrence of the event's fingerprint and
// reports whether the event should be dropped as a duplicate.
//
// The first MaxDuplicates occurrences inside a window are admitted; the
// rest are suppressed until the window expires. Any store failure admits
// the event.
func (d *Deduplicator) ShouldSuppress(ctx context.Context, event *models.LogEvent) bool {
	if err := ctx.Err(); err != nil {
		return false
	}

	hash := d.Hash(event.System, event.Level, event.Message)
	key := []byte(fingerprintKeyPrefix + hash)
	now := time.Now().UnixMilli()

	suppress := false
	err := d.db.Update(func(txn *badger.Txn) error {
		var fp models.Fingerprint

		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			fp = models.Fingerprint{
				Hash:        hash,
				FirstSeenAt: now,
				ExpiresAt:   now + d.cfg.Window.Milliseconds(),
			}
		case err != nil:
			return fmt.Errorf("get fingerprint: %w", err)
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &fp)
			}); err != nil {
				return fmt.Errorf("unmarshal fingerprint: %w", err)
			}
			if now >= fp.ExpiresAt {
				// Window rolled over; start a fresh one.
				fp = models.Fingerprint{
					Hash:        hash,
					FirstSeenAt: now,
					ExpiresAt:   now + d.cfg.Window.Milliseconds(),
				}
			}
		}

		fp.Count++
		suppress = fp.Count > d.cfg.MaxDuplicates

		data, err := json.Marshal(&fp)
		if err != nil {
			return fmt.Errorf("marshal fingerprint: %w", err)
		}
		return txn.SetEntry(badger.NewEntry(key, data).WithTTL(d.cfg.Window))
	})
	if err != nil {
		// Fail open: a degraded deduplicator admits everything.
		logging.Warn().
			Str("component", "dedup").
			Err(err).
			Msg("Fingerprint store error, admitting event")
		return false
	}

	if suppress {
		metrics.DedupSuppressions.WithLabelValues(string(event.System)).Inc()
	}

	// Opportunistic, throttled cleanup keeps the fingerprint space tidy
	// between Badger's own TTL sweeps.
	if d.cleanupLimiter.Allow() {
		d.cleanup(now)
	}

	return suppress
}

// cleanup removes up to CleanupBatch expired fingerprint records. Badger's
// TTL eventually reclaims them anyway; this just tightens the bound.
func (d *Deduplicator) cleanup(now int64) {
	var expired [][]byte

	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(fingerprintKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if len(expired) >= d.cfg.CleanupBatch {
				break
			}
			item := it.Item()

			var fp models.Fingerprint
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &fp)
			}); err != nil {
				continue
			}
			if now >= fp.ExpiresAt {
				expired = append(expired, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil || len(expired) == 0 {
		return
	}

	err = d.db.Update(func(txn *badger.Txn) error {
		for _, key := range expired {
			if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logging.Debug().
			Str("component", "dedup").
			Err(err).
			Msg("Fingerprint cleanup sweep failed")
		return
	}

	metrics.DedupCleanupDeletions.Add(float64(len(expired)))
}
