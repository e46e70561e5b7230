package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-pos/internal/orders"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestIdempotency_RoundTripAndTTL(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	idem := NewIdempotency(rdb)
	ctx := context.Background()

	_, ok, err := idem.Lookup(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, idem.Remember(ctx, "k1", "order-1"))
	id, ok, err := idem.Lookup(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "order-1", id)
	assert.Equal(t, TTLIdempotency, mr.TTL("idem:order:create:k1"))

	mr.FastForward(TTLIdempotency + time.Second)
	_, ok, err = idem.Lookup(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatusCache(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	cache := NewStatusCache(rdb)
	ctx := context.Background()
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	_, ok, err := cache.Get(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Put(ctx, "o1", "s1", orders.StatusReady, at))
	e, ok, err := cache.Get(ctx, "o1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, orders.StatusReady, e.Status)
	assert.Equal(t, "s1", e.StoreID)
	assert.True(t, at.Equal(e.UpdatedAt))
	assert.Equal(t, TTLStatusCache, mr.TTL("order_status:o1"))
}

func TestStatusCache_Unavailable(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	mr.Close()
	err := NewStatusCache(rdb).Put(context.Background(), "o1", "s1", orders.StatusNew, time.Now())
	assert.Error(t, err)
}

func TestClaim_FirstCallerWins(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	ctx := context.Background()

	first, err := Claim(ctx, rdb, DedupKey("inventory", "ev-1"), TTLDedup)
	require.NoError(t, err)
	second, err := Claim(ctx, rdb, DedupKey("inventory", "ev-1"), TTLDedup)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	exists, err := Exists(ctx, rdb, "dedup:inventory:ev-1")
	require.NoError(t, err)
	assert.True(t, exists)
}
