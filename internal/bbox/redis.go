package bbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tracks:bbox:"

// RedisCache stores entries in redis with SET EX. Hit and miss counts are
// kept per process.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// ConnectRedis returns nil when addr is empty.
func ConnectRedis(addr, password string) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		c.misses.Add(1)
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	c.hits.Add(1)
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	if err := c.rdb.Set(ctx, keyPrefix+key, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Keys(ctx context.Context) ([]string, error) {
	full, err := c.scan(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(full))
	for _, k := range full {
		keys = append(keys, k[len(keyPrefix):])
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *RedisCache) Clear(ctx context.Context) (int, error) {
	full, err := c.scan(ctx)
	if err != nil {
		return 0, err
	}
	if len(full) == 0 {
		return 0, nil
	}
	n, err := c.rdb.Del(ctx, full...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return int(n), nil
}

func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	full, err := c.scan(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Backend: "redis",
		Entries: len(full),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		TTL:     c.ttl.String(),
	}, nil
}

func (c *RedisCache) scan(ctx context.Context) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}
