package overpass

import (
	"context"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/overpass-layer/internal/core/observability"
)

// CachingFetcher keeps the most recent successful bodies keyed by URL hash
// for at most ttl. Errors are never cached.
type CachingFetcher struct {
	next Fetcher
	lru  *expirable.LRU[uint64, []byte]
}

// NewCachingFetcher wraps next. A ttl <= 0 keeps entries until evicted.
func NewCachingFetcher(next Fetcher, size int, ttl time.Duration) *CachingFetcher {
	if size <= 0 {
		size = 64
	}
	return &CachingFetcher{next: next, lru: expirable.NewLRU[uint64, []byte](size, nil, ttl)}
}

func (c *CachingFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	key := xxhash.Sum64String(url)
	if b, ok := c.lru.Get(key); ok {
		observability.IncResponseCache("hit")
		return b, nil
	}
	observability.IncResponseCache("miss")

	b, err := c.next.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, b)
	return b, nil
}

func (c *CachingFetcher) Len() int { return c.lru.Len() }

// Purge drops every cached body. The layer calls it when the query changes.
func (c *CachingFetcher) Purge() { c.lru.Purge() }
