package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type MemoryAnswerCache struct {
	cache *gocache.Cache
}

func NewMemoryAnswerCache(ttl, cleanupInterval time.Duration) *MemoryAnswerCache {
	return &MemoryAnswerCache{
		cache: gocache.New(ttl, cleanupInterval),
	}
}

func (c *MemoryAnswerCache) Name() string { return "memory" }

func (c *MemoryAnswerCache) Get(_ context.Context, query string) (string, bool, error) {
	val, found := c.cache.Get(Key(query))
	if !found {
		return "", false, nil
	}
	answer, ok := val.(string)
	return answer, ok, nil
}

func (c *MemoryAnswerCache) Set(_ context.Context, query, answer string) error {
	// Add fails when the key is present; the first answer wins.
	_ = c.cache.Add(Key(query), answer, gocache.DefaultExpiration)
	return nil
}
