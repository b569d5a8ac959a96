package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestDecrementStock(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	productID := uuid.New()

	t.Run("not cached", func(t *testing.T) {
		_, err := c.DecrementStock(ctx, productID, 1)
		assert.ErrorIs(t, err, ErrStockNotCached)
	})

	seeded, err := c.SeedStock(ctx, productID, 5)
	require.NoError(t, err)
	assert.True(t, seeded)

	t.Run("sufficient", func(t *testing.T) {
		remaining, err := c.DecrementStock(ctx, productID, 3)
		require.NoError(t, err)
		assert.Equal(t, 2, remaining)
	})

	t.Run("insufficient leaves stock untouched", func(t *testing.T) {
		_, err := c.DecrementStock(ctx, productID, 3)
		assert.ErrorIs(t, err, ErrInsufficientStock)

		stock, err := c.GetStock(ctx, productID)
		require.NoError(t, err)
		assert.Equal(t, 2, stock)
	})

	t.Run("exact amount drains to zero", func(t *testing.T) {
		remaining, err := c.DecrementStock(ctx, productID, 2)
		require.NoError(t, err)
		assert.Equal(t, 0, remaining)
	})
}

func TestSeedStockDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	productID := uuid.New()

	require.NoError(t, c.SetStock(ctx, productID, 4))

	seeded, err := c.SeedStock(ctx, productID, 10)
	require.NoError(t, err)
	assert.False(t, seeded)

	stock, err := c.GetStock(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 4, stock)
}

func TestReleaseStock(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	productID := uuid.New()

	require.NoError(t, c.SetStock(ctx, productID, 1))
	require.NoError(t, c.ReleaseStock(ctx, productID, 2))

	stock, err := c.GetStock(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 3, stock)

	missing := uuid.New()
	require.NoError(t, c.ReleaseStock(ctx, missing, 2))
	assert.False(t, mr.Exists(stockKey(missing)))
}

func TestLock(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	token, ok, err := c.AcquireLock(ctx, "order:ref_1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = c.AcquireLock(ctx, "order:ref_1", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// A stale token must not release someone else's lock.
	require.NoError(t, c.ReleaseLock(ctx, "order:ref_1", "not-the-owner"))
	assert.True(t, mr.Exists("lock:order:ref_1"))

	require.NoError(t, c.ReleaseLock(ctx, "order:ref_1", token))
	assert.False(t, mr.Exists("lock:order:ref_1"))

	mr.FastForward(time.Minute)
	_, ok, err = c.AcquireLock(ctx, "order:ref_1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
