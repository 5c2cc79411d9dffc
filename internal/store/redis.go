package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates and pings a Redis client with optional password auth.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return rdb, nil
}

// resultsCacheTTL is short: the cache only absorbs bursts of result polling
// and must not delay newly inserted results for long.
const resultsCacheTTL = 30 * time.Second

// ResultsCache caches the serialized /results response per user. Every
// operation is best effort; callers fall through to Postgres on any error.
type ResultsCache struct {
	rdb *redis.Client
}

func NewResultsCache(rdb *redis.Client) *ResultsCache {
	return &ResultsCache{rdb: rdb}
}

func resultsKey(userID int64) string {
	return fmt.Sprintf("results:%d", userID)
}

// Get returns the cached response body, or nil on a miss.
func (c *ResultsCache) Get(ctx context.Context, userID int64) ([]byte, error) {
	val, err := c.rdb.Get(ctx, resultsKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}

func (c *ResultsCache) Set(ctx context.Context, userID int64, payload []byte) error {
	return c.rdb.Set(ctx, resultsKey(userID), payload, resultsCacheTTL).Err()
}

// Invalidate drops the user's cached response after a new result is inserted.
func (c *ResultsCache) Invalidate(ctx context.Context, userID int64) error {
	return c.rdb.Del(ctx, resultsKey(userID)).Err()
}
