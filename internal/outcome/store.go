// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package outcome persists the result of every model invocation.
//
// Records are append-only and are the source of truth: aggregates
// (success rate, average latency, sample count) are computed by query so
// they can always be replayed or audited from the raw rows. Storage is a
// local SQLite database in WAL mode, which gives atomic appends without
// any coordination between concurrent writers.
package outcome

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// FailureKind labels why an attempt did not succeed.
type FailureKind string

// Failure kinds recorded alongside unsuccessful outcomes.
const (
	FailureNone      FailureKind = ""
	FailureAuth      FailureKind = "auth"
	FailureRateLimit FailureKind = "rate_limit"
	FailureTransient FailureKind = "transient"
	FailureContent   FailureKind = "content_rejected"
	FailureTimeout   FailureKind = "timeout"
	FailureCancelled FailureKind = "cancelled"
	FailureOther     FailureKind = "other"
)

// Outcome is one durable record of a completed call attempt.
type Outcome struct {
	// Model is the full "provider/model" identifier.
	Model string
	// Category is the task category the request was classified into.
	Category string
	// Timestamp is when the attempt finished.
	Timestamp time.Time
	// Success reports whether the attempt produced a completion.
	Success bool
	// Latency is the wall time of the terminal attempt.
	Latency time.Duration
	// Failure labels unsuccessful attempts; empty on success.
	Failure FailureKind
}

// Aggregate summarizes the history for one (model, category) pair.
// Cancelled attempts count toward Samples but are excluded from the
// success rate, since they say nothing about the model's quality.
type Aggregate struct {
	// Samples is the total number of recorded attempts.
	Samples int
	// SuccessRate is successes over decided (non-cancelled) attempts.
	SuccessRate float64
	// AvgLatency is the mean latency over successful attempts.
	AvgLatency time.Duration
}

// ErrClosed is returned after Close.
var ErrClosed = errors.New("outcome store closed")

// =============================================================================
// STORE
// =============================================================================

// Store is a SQLite-backed outcome log.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS outcomes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	model       TEXT    NOT NULL,
	category    TEXT    NOT NULL,
	ts          INTEGER NOT NULL,
	success     INTEGER NOT NULL,
	latency_ms  INTEGER NOT NULL,
	failure     TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_outcomes_model_category ON outcomes(model, category);
CREATE INDEX IF NOT EXISTS idx_outcomes_ts ON outcomes(ts);
`

// Open creates or opens the outcome database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create outcome directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open outcome database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY churn while WAL keeps readers unblocked.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// WRITES
// =============================================================================

// Record appends one outcome. Each completed attempt, including failed
// and cancelled ones, must produce exactly one record; unrecorded
// attempts would bias future scoring toward unfairly low sample counts.
func (s *Store) Record(ctx context.Context, o Outcome) error {
	if o.Model == "" || o.Category == "" {
		return errors.New("outcome requires model and category")
	}
	ts := o.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	success := 0
	if o.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes (model, category, ts, success, latency_ms, failure)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		o.Model, o.Category, ts.UnixMilli(), success, o.Latency.Milliseconds(), string(o.Failure))
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// Trim enforces the retention policy, keeping only the newest keep
// records. A keep of zero or less is a no-op.
func (s *Store) Trim(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM outcomes WHERE id NOT IN
		 (SELECT id FROM outcomes ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return fmt.Errorf("failed to trim outcomes: %w", err)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

const aggregateQuery = `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN failure = 'cancelled' THEN 1 ELSE 0 END), 0),
	COALESCE(AVG(CASE WHEN success = 1 THEN latency_ms END), 0)
FROM outcomes`

func scanAggregate(row interface{ Scan(...any) error }) (Aggregate, error) {
	var samples, successes, cancelled int
	var avgLatencyMs float64
	if err := row.Scan(&samples, &successes, &cancelled, &avgLatencyMs); err != nil {
		return Aggregate{}, err
	}
	agg := Aggregate{
		Samples:    samples,
		AvgLatency: time.Duration(avgLatencyMs * float64(time.Millisecond)),
	}
	if decided := samples - cancelled; decided > 0 {
		agg.SuccessRate = float64(successes) / float64(decided)
	}
	return agg, nil
}

// AggregateFor returns the aggregate for one (model, category) pair.
// A pair with no history returns a zero-sample aggregate, not an error.
func (s *Store) AggregateFor(ctx context.Context, model, category string) (Aggregate, error) {
	row := s.db.QueryRowContext(ctx,
		aggregateQuery+` WHERE model = ? AND category = ?`, model, category)
	agg, err := scanAggregate(row)
	if err != nil {
		return Aggregate{}, fmt.Errorf("failed to aggregate outcomes: %w", err)
	}
	return agg, nil
}

// AggregateByCategory returns aggregates for every model seen in the
// given category, keyed by model identifier.
func (s *Store) AggregateByCategory(ctx context.Context, category string) (map[string]Aggregate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT
			model,
			COUNT(*),
			COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN failure = 'cancelled' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(CASE WHEN success = 1 THEN latency_ms END), 0)
		 FROM outcomes WHERE category = ? GROUP BY model`, category)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate outcomes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Aggregate)
	for rows.Next() {
		var model string
		var samples, successes, cancelled int
		var avgLatencyMs float64
		if err := rows.Scan(&model, &samples, &successes, &cancelled, &avgLatencyMs); err != nil {
			return nil, err
		}
		agg := Aggregate{
			Samples:    samples,
			AvgLatency: time.Duration(avgLatencyMs * float64(time.Millisecond)),
		}
		if decided := samples - cancelled; decided > 0 {
			agg.SuccessRate = float64(successes) / float64(decided)
		}
		out[model] = agg
	}
	return out, rows.Err()
}

// Count returns the total number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outcomes`).Scan(&n)
	return n, err
}

// Recent returns the newest limit records, newest first. Used by the
// stats endpoint for inspection; scoring always uses aggregates.
func (s *Store) Recent(ctx context.Context, limit int) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model, category, ts, success, latency_ms, failure
		 FROM outcomes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		var ts int64
		var success int
		var latencyMs int64
		var failure string
		if err := rows.Scan(&o.Model, &o.Category, &ts, &success, &latencyMs, &failure); err != nil {
			return nil, err
		}
		o.Timestamp = time.UnixMilli(ts)
		o.Success = success == 1
		o.Latency = time.Duration(latencyMs) * time.Millisecond
		o.Failure = FailureKind(failure)
		out = append(out, o)
	}
	return out, rows.Err()
}
