package feed

import (
	"context"
	"errors"
	"log"
	"time"

	"pod-optimizer/internal/kv"
)

const cacheKeyPrefix = "modified_rss:"

// Cache holds rendered reconciled feeds for a bounded time. It is invalidated
// whenever an episode of the feed completes or is deleted.
type Cache struct {
	store kv.Store
	ttl   time.Duration
}

func NewCache(store kv.Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{store: store, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, feedURL string) ([]byte, bool) {
	content, err := c.store.Get(ctx, cacheKeyPrefix+feedURL)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			log.Printf("Error reading feed cache for %s: %v", feedURL, err)
		}
		return nil, false
	}
	return content, true
}

func (c *Cache) Set(ctx context.Context, feedURL string, content []byte) {
	if err := c.store.Set(ctx, cacheKeyPrefix+feedURL, content, c.ttl); err != nil {
		log.Printf("Error caching feed %s: %v", feedURL, err)
	}
}

func (c *Cache) Invalidate(ctx context.Context, feedURL string) {
	if err := c.store.Delete(ctx, cacheKeyPrefix+feedURL); err != nil {
		log.Printf("Error invalidating feed cache for %s: %v", feedURL, err)
	}
}
