package reference

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// CachedFetcher memoizes successful downloads by URL. Cost is the payload size.
type CachedFetcher struct {
	next  Fetcher
	cache *ristretto.Cache[string, []byte]
	ttl   time.Duration
}

// NewCachedFetcher wraps next with a cache bounded to maxBytes.
func NewCachedFetcher(next Fetcher, maxBytes int64, ttl time.Duration) (*CachedFetcher, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", maxBytes)
	}
	// One counter per KB of budget, at least 1000.
	counters := max(maxBytes/1024, 1000)
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch cache: %w", err)
	}
	return &CachedFetcher{next: next, cache: cache, ttl: ttl}, nil
}

func (c *CachedFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if buf, ok := c.cache.Get(url); ok {
		return buf, nil
	}
	buf, err := c.next.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	cost := int64(len(buf))
	if cost == 0 {
		cost = 1
	}
	if c.ttl > 0 {
		c.cache.SetWithTTL(url, buf, cost, c.ttl)
	} else {
		c.cache.Set(url, buf, cost)
	}
	return buf, nil
}

// Wait blocks until pending cache writes are visible.
func (c *CachedFetcher) Wait() {
	c.cache.Wait()
}

func (c *CachedFetcher) Close() {
	c.cache.Close()
}
