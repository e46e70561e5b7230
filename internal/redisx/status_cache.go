package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-realtime-pos/internal/orders"
)

type StatusEntry struct {
	OrderID   string        `json:"order_id"`
	StoreID   string        `json:"store_id"`
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StatusCache keeps order_status:{id} for polling clients. Entries expire
// after TTLStatusCache; the store stays authoritative.
type StatusCache struct {
	rdb *redis.Client
}

func NewStatusCache(rdb *redis.Client) *StatusCache {
	return &StatusCache{rdb: rdb}
}

func (c *StatusCache) Put(ctx context.Context, orderID, storeID string, s orders.Status, updatedAt time.Time) error {
	b, err := json.Marshal(StatusEntry{OrderID: orderID, StoreID: storeID, Status: s, UpdatedAt: updatedAt.UTC()})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, StatusKey(orderID), b, TTLStatusCache).Err()
}

// Get returns the cached entry, or ok=false on a miss.
func (c *StatusCache) Get(ctx context.Context, orderID string) (StatusEntry, bool, error) {
	var e StatusEntry
	b, err := c.rdb.Get(ctx, StatusKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return e, false, nil
	}
	if err != nil {
		return e, false, err
	}
	if err := json.Unmarshal(b, &e); err != nil {
		return e, false, err
	}
	return e, true, nil
}
