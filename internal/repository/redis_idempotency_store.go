package repository

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/errors"
)

const idempotencyKeyPrefix = "ap:invoice:idempotency:"

// DefaultIdempotencyTTL bounds how long an upload key stays bound.
const DefaultIdempotencyTTL = 24 * time.Hour

// RedisIdempotencyStore binds Idempotency-Key headers to invoice ids with
// SET NX so replays within the TTL resolve to the first invoice.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

func (s *RedisIdempotencyStore) Claim(ctx context.Context, key, invoiceID string) (string, bool, error) {
	ok, err := s.client.SetNX(ctx, idempotencyKeyPrefix+key, invoiceID, s.ttl).Result()
	if err != nil {
		return "", false, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to claim idempotency key")
	}
	if ok {
		return invoiceID, true, nil
	}

	existing, err := s.client.Get(ctx, idempotencyKeyPrefix+key).Result()
	if stderrors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		return s.Claim(ctx, key, invoiceID)
	}
	if err != nil {
		return "", false, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to read idempotency key")
	}
	return existing, false, nil
}
