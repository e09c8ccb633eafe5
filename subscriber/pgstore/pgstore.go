// Package pgstore implements subscriber.PositionStore against a relational
// subscriber_positions table: an upsert-on-write, O(1)-read store with no
// history, trading the event-log-backed store's audit trail for speed.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS subscriber_positions (
	subscriber_id TEXT PRIMARY KEY,
	position BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store is a pgxpool-backed subscriber.PositionStore. The table is created
// on first use if it does not already exist.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool, creating subscriber_positions if needed.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgstore: pool is required")
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("pgstore: create subscriber_positions table: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Get returns the stored position for subscriberID, or 0 if it has never
// been recorded.
func (s *Store) Get(ctx context.Context, subscriberID string) (int64, error) {
	var position int64
	err := s.pool.QueryRow(ctx,
		`SELECT position FROM subscriber_positions WHERE subscriber_id = $1`, subscriberID,
	).Scan(&position)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("pgstore: get position for %q: %w", subscriberID, err)
	}
	return position, nil
}

// Update upserts subscriberID's position.
func (s *Store) Update(ctx context.Context, subscriberID string, position int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriber_positions (subscriber_id, position, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (subscriber_id) DO UPDATE SET position = EXCLUDED.position, updated_at = now()`,
		subscriberID, position)
	if err != nil {
		return fmt.Errorf("pgstore: update position for %q: %w", subscriberID, err)
	}
	return nil
}
