// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

// Package archive implements the durable log archive on DuckDB.
//
// The archive is the long-term side of the two-tier store: the ephemeral
// store holds the live TTL window, sync passes mirror it here, and the
// correlator merges both at read time. A UNIQUE constraint over
// (ts_ms, message, system) plus ON CONFLICT DO NOTHING makes re-syncing
// the same window idempotent.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tracegate/internal/config"
	"github.com/tomtom215/tracegate/internal/logging"
	"github.com/tomtom215/tracegate/internal/metrics"
	"github.com/tomtom215/tracegate/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS log_events (
	id          VARCHAR NOT NULL,
	trace_id    VARCHAR NOT NULL,
	user_id     VARCHAR NOT NULL,
	system      VARCHAR NOT NULL,
	level       VARCHAR NOT NULL,
	message     VARCHAR NOT NULL,
	ts_ms       BIGINT  NOT NULL,
	context     VARCHAR,
	stack       VARCHAR,
	archived_at BIGINT  NOT NULL,
	UNIQUE (ts_ms, message, system)
);
CREATE INDEX IF NOT EXISTS idx_log_events_trace ON log_events (trace_id);
CREATE INDEX IF NOT EXISTS idx_log_events_user  ON log_events (user_id);
CREATE INDEX IF NOT EXISTS idx_log_events_ts    ON log_events (ts_ms);
`

// DB wraps the DuckDB connection for the durable archive.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig
}

// New opens the archive database and initializes the schema. An empty or
// ":memory:" path opens an in-memory database.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	connStr := ""
	if cfg.Path != "" && cfg.Path != ":memory:" {
		// Parent directory must exist before DuckDB creates the file.
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
		connStr = fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
			cfg.Path, numThreads, cfg.MaxMemory)
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	conn.SetMaxOpenConns(numThreads)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping archive database: %w", err)
	}

	if _, err := conn.ExecContext(ctx, schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}

	logging.Info().
		Str("component", "archive").
		Str("path", cfg.Path).
		Msg("Archive database opened")

	return &DB{conn: conn, cfg: cfg}, nil
}

// Ping verifies the archive connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close checkpoints the WAL into the main file and closes the connection.
func (db *DB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := db.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		logging.Warn().
			Str("component", "archive").
			Err(err).
			Msg("Checkpoint on close failed")
	}
	return db.conn.Close()
}

// InsertEvent writes one event to the archive. Returns false without error
// when an event with the same (timestamp, message, system) already exists.
func (db *DB) InsertEvent(ctx context.Context, event *models.LogEvent) (bool, error) {
	start := time.Now()

	var contextJSON sql.NullString
	if len(event.Context) > 0 {
		data, err := json.Marshal(event.Context)
		if err != nil {
			return false, fmt.Errorf("marshal event context: %w", err)
		}
		contextJSON = sql.NullString{String: string(data), Valid: true}
	}

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO log_events (id, trace_id, user_id, system, level, message, ts_ms, context, stack, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ts_ms, message, system) DO NOTHING`,
		event.ID, event.TraceID, event.EffectiveUserID(), string(event.System), string(event.Level),
		event.Message, event.Timestamp, contextJSON, nullString(event.Stack), time.Now().UnixMilli(),
	)
	metrics.RecordArchiveQuery("insert", start, err)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event rows affected: %w", err)
	}
	return affected > 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

const selectColumns = "id, trace_id, user_id, system, level, message, ts_ms, context, stack"

func scanEvents(rows *sql.Rows) ([]models.LogEvent, error) {
	defer rows.Close()

	var events []models.LogEvent
	for rows.Next() {
		var (
			e           models.LogEvent
			system      string
			level       string
			contextJSON sql.NullString
			stack       sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TraceID, &e.UserID, &system, &level, &e.Message, &e.Timestamp, &contextJSON, &stack); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.System = models.System(system)
		e.Level = models.Level(level)
		e.Stack = stack.String
		if contextJSON.Valid && contextJSON.String != "" {
			if err := json.Unmarshal([]byte(contextJSON.String), &e.Context); err != nil {
				return nil, fmt.Errorf("unmarshal event context: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// ListByTrace returns archived events for a trace in ascending timestamp order.
func (db *DB) ListByTrace(ctx context.Context, traceID string) ([]models.LogEvent, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM log_events WHERE trace_id = ? ORDER BY ts_ms ASC", traceID)
	metrics.RecordArchiveQuery("list_by_trace", start, err)
	if err != nil {
		return nil, fmt.Errorf("list by trace: %w", err)
	}
	return scanEvents(rows)
}

// ListByUser returns archived events for a user in ascending timestamp order.
func (db *DB) ListByUser(ctx context.Context, userID string) ([]models.LogEvent, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM log_events WHERE user_id = ? ORDER BY ts_ms ASC", userID)
	metrics.RecordArchiveQuery("list_by_user", start, err)
	if err != nil {
		return nil, fmt.Errorf("list by user: %w", err)
	}
	return scanEvents(rows)
}

// ListRange returns archived events with from <= ts_ms < to in ascending
// order, up to limit. limit <= 0 means no cap.
func (db *DB) ListRange(ctx context.Context, from, to int64, limit int) ([]models.LogEvent, error) {
	start := time.Now()

	query := "SELECT " + selectColumns + " FROM log_events WHERE ts_ms >= ? AND ts_ms < ? ORDER BY ts_ms ASC"
	args := []interface{}{from, to}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.RecordArchiveQuery("list_range", start, err)
	if err != nil {
		return nil, fmt.Errorf("list range: %w", err)
	}
	return scanEvents(rows)
}

// CountAll returns the total number of archived events.
func (db *DB) CountAll(ctx context.Context) (int64, error) {
	start := time.Now()
	var count int64
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM log_events").Scan(&count)
	metrics.RecordArchiveQuery("count_all", start, err)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

func (db *DB) deleteWhere(ctx context.Context, operation, where string, args ...interface{}) (int64, error) {
	start := time.Now()
	res, err := db.conn.ExecContext(ctx, "DELETE FROM log_events"+where, args...)
	metrics.RecordArchiveQuery(operation, start, err)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", operation, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows affected: %w", operation, err)
	}
	return affected, nil
}

// DeleteByTrace removes all archived events for a trace and returns the count.
func (db *DB) DeleteByTrace(ctx context.Context, traceID string) (int64, error) {
	return db.deleteWhere(ctx, "delete_by_trace", " WHERE trace_id = ?", traceID)
}

// DeleteByUser removes all archived events for a user and returns the count.
func (db *DB) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	return db.deleteWhere(ctx, "delete_by_user", " WHERE user_id = ?", userID)
}

// DeleteAll clears the archive and returns the count. Full sync passes call
// this before re-importing the ephemeral window.
func (db *DB) DeleteAll(ctx context.Context) (int64, error) {
	return db.deleteWhere(ctx, "delete_all", "")
}
