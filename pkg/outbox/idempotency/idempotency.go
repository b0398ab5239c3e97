// Package idempotency lets at-least-once consumers act on each event once.
// Pub/Sub redelivers and Paymob retries callbacks, so both claim the event id
// in Redis before doing work.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/herfa-app/herfa-backend/pkg/redis"
)

// Store is the Redis subset a Guard needs.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

var _ Store = (*redis.Client)(nil)

// Guard claims ids for one consumer. Keys look like
// herfa:idempotency:<consumer>:<id> and expire after the TTL, which must
// outlive the producer's redelivery window.
type Guard struct {
	store    Store
	consumer string
	ttl      time.Duration
}

func NewGuard(store Store, consumer string, ttl time.Duration) (*Guard, error) {
	consumer = strings.TrimSpace(consumer)
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case consumer == "":
		return nil, errors.New("consumer name is required")
	case ttl <= 0:
		return nil, fmt.Errorf("idempotency ttl for %s must be positive", consumer)
	}
	return &Guard{store: store, consumer: consumer, ttl: ttl}, nil
}

// Claim returns true when this call is the first to see id. A false return
// means another delivery already claimed it and the caller should skip.
func (g *Guard) Claim(ctx context.Context, id string) (bool, error) {
	key, err := g.key(id)
	if err != nil {
		return false, err
	}
	fresh, err := g.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return fresh, nil
}

// Release drops a claim so the next delivery of id is processed again. Call
// it when the work behind a claim failed.
func (g *Guard) Release(ctx context.Context, id string) error {
	key, err := g.key(id)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) key(id string) (string, error) {
	if id = strings.TrimSpace(id); id == "" {
		return "", fmt.Errorf("%s: event id is required", g.consumer)
	}
	return g.store.IdempotencyKey(g.consumer, id), nil
}
