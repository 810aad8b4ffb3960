package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-storefront/internal/domain/cart"
)

func setupRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ttl), mr
}

func sampleCart() cart.Cart {
	return cart.Cart{Lines: []cart.Line{
		{ProductID: "p1", ProductName: "Latte", UnitPrice: decimal.RequireFromString("4.50"), Quantity: 2},
		{ProductID: "p2", ProductName: "Scone", UnitPrice: decimal.RequireFromString("3.25"), Image: "scone.jpg", Quantity: 1},
	}}
}

func TestRedisStore_LoadMissingIsEmpty(t *testing.T) {
	store, _ := setupRedisStore(t, time.Hour)

	c, err := store.Load(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func TestRedisStore_SaveLoadRoundTrip(t *testing.T) {
	store, mr := setupRedisStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", sampleCart()))
	assert.True(t, mr.Exists("cart:s1"))

	got, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, "p1", got.Lines[0].ProductID)
	assert.True(t, decimal.RequireFromString("4.50").Equal(got.Lines[0].UnitPrice))
	assert.Equal(t, "scone.jpg", got.Lines[1].Image)
}

func TestRedisStore_TTLRefreshedOnSave(t *testing.T) {
	store, mr := setupRedisStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", sampleCart()))
	mr.FastForward(50 * time.Minute)
	require.NoError(t, store.Save(ctx, "s1", sampleCart()))
	assert.Equal(t, time.Hour, mr.TTL("cart:s1"))

	mr.FastForward(61 * time.Minute)
	got, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.IsEmpty(), "expired cart reads as empty")
}

func TestRedisStore_SaveEmptyDeletesKey(t *testing.T) {
	store, mr := setupRedisStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", sampleCart()))
	require.NoError(t, store.Save(ctx, "s1", cart.Cart{}))
	assert.False(t, mr.Exists("cart:s1"))
}

func TestRedisStore_Clear(t *testing.T) {
	store, mr := setupRedisStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", sampleCart()))
	require.NoError(t, store.Clear(ctx, "s1"))
	assert.False(t, mr.Exists("cart:s1"))

	// Clearing a missing cart is not an error.
	require.NoError(t, store.Clear(ctx, "s1"))
}

func TestRedisStore_CorruptValue(t *testing.T) {
	store, mr := setupRedisStore(t, time.Hour)
	require.NoError(t, mr.Set("cart:s1", "{not json"))

	_, err := store.Load(context.Background(), "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal cart")
}

func TestRedisStore_ServerDown(t *testing.T) {
	store, mr := setupRedisStore(t, time.Hour)
	mr.Close()

	_, err := store.Load(context.Background(), "s1")
	require.Error(t, err)
	require.Error(t, store.Ping(context.Background()))
}
