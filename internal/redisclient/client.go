package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/decrement_stock.lua
var decrementStockScript string

//go:embed scripts/release_stock.lua
var releaseStockScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

var (
	ErrInsufficientStock = errors.New("insufficient cached stock")
	ErrStockNotCached    = errors.New("stock not cached")
)

type Client struct {
	rdb             *redis.Client
	decrementScript *redis.Script
	releaseScript   *redis.Script
	unlockScript    *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return Wrap(rdb), nil
}

// Wrap builds a Client around an existing connection.
func Wrap(rdb *redis.Client) *Client {
	return &Client{
		rdb:             rdb,
		decrementScript: redis.NewScript(decrementStockScript),
		releaseScript:   redis.NewScript(releaseStockScript),
		unlockScript:    redis.NewScript(releaseLockScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func stockKey(productID uuid.UUID) string {
	return fmt.Sprintf("stock:%s", productID)
}

// DecrementStock subtracts quantity from the cached stock only when enough remains.
// Returns the remaining stock.
func (c *Client) DecrementStock(ctx context.Context, productID uuid.UUID, quantity int) (int, error) {
	result, err := c.decrementScript.Run(ctx, c.rdb, []string{stockKey(productID)}, quantity).Int64()
	if err != nil {
		return 0, fmt.Errorf("decrement stock script failed: %w", err)
	}

	switch result {
	case -1:
		return 0, ErrInsufficientStock
	case -2:
		return 0, ErrStockNotCached
	}
	return int(result), nil
}

// ReleaseStock gives back a previous decrement (compensation)
func (c *Client) ReleaseStock(ctx context.Context, productID uuid.UUID, quantity int) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{stockKey(productID)}, quantity).Result()
	if err != nil {
		return fmt.Errorf("release stock script failed: %w", err)
	}
	return nil
}

// SeedStock caches stock for a product unless a value is already cached.
func (c *Client) SeedStock(ctx context.Context, productID uuid.UUID, stock int) (bool, error) {
	return c.rdb.SetNX(ctx, stockKey(productID), stock, 0).Result()
}

// SetStock overwrites the cached stock for a product
func (c *Client) SetStock(ctx context.Context, productID uuid.UUID, stock int) error {
	return c.rdb.Set(ctx, stockKey(productID), stock, 0).Err()
}

// GetStock retrieves the cached stock count
func (c *Client) GetStock(ctx context.Context, productID uuid.UUID) (int, error) {
	stock, err := c.rdb.Get(ctx, stockKey(productID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, ErrStockNotCached
	}
	return stock, err
}

// AcquireLock acquires a distributed lock and returns the owner token needed to release it.
// ok is false when someone else holds the lock.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock releases a distributed lock if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.unlockScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
