package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisAnswerCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisAnswerCache(rdb *redis.Client, ttl time.Duration) *RedisAnswerCache {
	return &RedisAnswerCache{
		rdb: rdb,
		ttl: ttl,
	}
}

// NewRedisClient connects to addr and pings it before returning.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func (c *RedisAnswerCache) Name() string { return "redis" }

func (c *RedisAnswerCache) Get(ctx context.Context, query string) (string, bool, error) {
	answer, err := c.rdb.Get(ctx, Key(query)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get answer from redis: %w", err)
	}
	return answer, true, nil
}

// Set keeps an existing entry so the first answer for a query wins, matching
// the answers table.
func (c *RedisAnswerCache) Set(ctx context.Context, query, answer string) error {
	if err := c.rdb.SetNX(ctx, Key(query), answer, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set answer in redis: %w", err)
	}
	return nil
}
