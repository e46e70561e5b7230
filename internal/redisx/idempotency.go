package redisx

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Idempotency remembers which order an idempotency key produced.
type Idempotency struct {
	rdb *redis.Client
}

func NewIdempotency(rdb *redis.Client) *Idempotency {
	return &Idempotency{rdb: rdb}
}

func (i *Idempotency) Lookup(ctx context.Context, key string) (string, bool, error) {
	id, err := i.rdb.Get(ctx, IdemKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (i *Idempotency) Remember(ctx context.Context, key, orderID string) error {
	return i.rdb.Set(ctx, IdemKey(key), orderID, TTLIdempotency).Err()
}
