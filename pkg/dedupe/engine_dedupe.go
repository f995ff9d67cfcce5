// Package dedupe provides Redis-backed idempotency tracking for inbound
// event ids. A redelivered event id must produce at most one execution
// record and at most one outbound reply.
package dedupe

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "engine:event:"

// Store tracks seen event ids with a TTL.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a new dedupe store. TTL bounds how long a redelivered
// event id is still recognized.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl}
}

// MarkSeen records the event id and reports whether it was seen before.
// The check and the mark are one atomic SETNX, so two concurrent
// deliveries of the same id cannot both claim it.
func (s *Store) MarkSeen(ctx context.Context, eventID string) (seen bool, err error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+eventID, 1, s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget drops an event id, allowing it to be processed again. Used when
// processing failed after the mark and the event must be retried upstream.
func (s *Store) Forget(ctx context.Context, eventID string) error {
	return s.client.Del(ctx, keyPrefix+eventID).Err()
}
