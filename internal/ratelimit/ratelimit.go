// Package ratelimit keeps fixed-window request counters in Postgres so that
// several API replicas share one limit per caller.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Counter counts requests per caller in fixed windows
type Counter interface {
	// Hit records one request from key at now and returns the number of
	// requests seen in the current window and the time the window ends
	Hit(ctx context.Context, key string, now time.Time) (int, time.Time, error)
}

// DB interface for database operations
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGCounter stores counters in the rate_limit_counters table
type PGCounter struct {
	db     DB
	window time.Duration
	prefix string
}

func NewPGCounter(db DB, window time.Duration, prefix string) *PGCounter {
	return &PGCounter{
		db:     db,
		window: window,
		prefix: prefix,
	}
}

func (r *PGCounter) key(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *PGCounter) Hit(ctx context.Context, key string, now time.Time) (int, time.Time, error) {
	// an expired window restarts at one; otherwise the counter is bumped
	// atomically by the upsert
	query := `
		INSERT INTO rate_limit_counters (key, count, window_end)
		VALUES ($1, 1, $2)
		ON CONFLICT (key)
		DO UPDATE SET
			count = CASE
				WHEN rate_limit_counters.window_end < $3 THEN 1
				ELSE rate_limit_counters.count + 1
			END,
			window_end = CASE
				WHEN rate_limit_counters.window_end < $3 THEN $2
				ELSE rate_limit_counters.window_end
			END
		RETURNING count, window_end
	`

	var (
		count     int
		windowEnd time.Time
	)
	err := r.db.QueryRow(ctx, query, r.key(key), now.Add(r.window), now).Scan(&count, &windowEnd)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("hit rate limit counter: %w", err)
	}

	return count, windowEnd, nil
}

// CleanupExpired removes counters whose window ended
func (r *PGCounter) CleanupExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM rate_limit_counters WHERE window_end < NOW()`
	result, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("cleanup rate limit counters: %w", err)
	}
	return result.RowsAffected(), nil
}

// Reset forgets the counter of key
func (r *PGCounter) Reset(ctx context.Context, key string) error {
	query := `DELETE FROM rate_limit_counters WHERE key = $1`
	if _, err := r.db.Exec(ctx, query, r.key(key)); err != nil {
		return fmt.Errorf("reset rate limit counter: %w", err)
	}
	return nil
}
