package enrich

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Key is a normalized lookup key. String must be injective over the key's
// fields because it names the in-flight call.
type Key interface {
	comparable
	String() string
}

// FetchFunc resolves a single key against its source.
type FetchFunc[K Key, V any] func(ctx context.Context, key K) Result[V]

type cacheEntry[V any] struct {
	result    Result[V]
	createdAt time.Time
}

// CacheStats counts cache traffic. Fetches is the number of times a FetchFunc
// actually ran.
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Fetches int64 `json:"fetches"`
	Entries int   `json:"entries"`
}

// Cache maps keys to results for the lifetime of one enrichment run. Each
// key is fetched at most once; failures are stored like successes, and
// concurrent callers of the same key share the single in-flight fetch.
type Cache[K Key, V any] struct {
	mu      sync.RWMutex
	entries map[K]cacheEntry[V]
	flights singleflight.Group

	hits    atomic.Int64
	fetches atomic.Int64
	now     func() time.Time
}

func NewCache[K Key, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]cacheEntry[V]),
		now:     time.Now,
	}
}

// Resolve returns the stored result for key, invoking fetch only on the first
// request. A result produced after ctx was cancelled is returned but not stored.
func (c *Cache[K, V]) Resolve(ctx context.Context, key K, fetch FetchFunc[K, V]) Result[V] {
	if r, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return r
	}

	fetched := false
	v, _, _ := c.flights.Do(key.String(), func() (interface{}, error) {
		// Another flight may have completed between lookup and Do.
		if r, ok := c.lookup(key); ok {
			return r, nil
		}
		fetched = true
		c.fetches.Add(1)

		r := fetch(ctx, key)
		if ctx.Err() != nil {
			return r, nil
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry[V]{result: r, createdAt: c.now()}
		c.mu.Unlock()
		return r, nil
	})
	if !fetched {
		c.hits.Add(1)
	}
	return v.(Result[V])
}

// Lookup returns a stored result without fetching.
func (c *Cache[K, V]) Lookup(key K) (Result[V], bool) {
	return c.lookup(key)
}

func (c *Cache[K, V]) lookup(key K) (Result[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e.result, ok
}

// CreatedAt reports when key's result was stored.
func (c *Cache[K, V]) CreatedAt(key K) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e.createdAt, ok
}

func (c *Cache[K, V]) Stats() CacheStats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{Hits: c.hits.Load(), Fetches: c.fetches.Load(), Entries: n}
}
