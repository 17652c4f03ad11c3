// Package events deduplicates provider webhook deliveries.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

// Tracker records provider events so each one is handled once.
type Tracker interface {
	// Claim atomically records the event and reports whether this caller
	// recorded it first. Only the winner should process the event.
	Claim(ctx context.Context, provider, eventID string) (bool, error)
}

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresTracker stores processed event ids in the processed_events table.
type PostgresTracker struct {
	db pgExecutor
}

// NewPostgresTracker accepts a *pgxpool.Pool or any pgx executor.
func NewPostgresTracker(db pgExecutor) *PostgresTracker {
	if db == nil {
		panic("events: pgx executor required")
	}
	return &PostgresTracker{db: db}
}

// Claim inserts the event id and returns false when it was already recorded.
func (s *PostgresTracker) Claim(ctx context.Context, provider, eventID string) (bool, error) {
	ct, err := s.db.Exec(ctx, `
		INSERT INTO processed_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("events: claim: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Purge deletes rows older than the cutoff and returns how many went.
func (s *PostgresTracker) Purge(ctx context.Context, before time.Time) (int64, error) {
	ct, err := s.db.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("events: purge processed: %w", err)
	}
	return ct.RowsAffected(), nil
}

// RedisTracker keeps processed ids as expiring keys.
type RedisTracker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisTracker keeps ids for ttl (24h when zero).
func NewRedisTracker(client redis.UniversalClient, ttl time.Duration) *RedisTracker {
	if client == nil {
		panic("events: redis client required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisTracker{client: client, ttl: ttl}
}

func processedKey(provider, eventID string) string {
	return "processed:" + provider + ":" + eventID
}

// Claim sets the key only if absent.
func (s *RedisTracker) Claim(ctx context.Context, provider, eventID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, processedKey(provider, eventID), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("events: claim: %w", err)
	}
	return ok, nil
}
