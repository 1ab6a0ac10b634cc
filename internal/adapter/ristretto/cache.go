// Package ristretto provides a typed in-process cache backed by dgraph-io/ristretto.
// The auth layer uses it to hold verified token claims.
package ristretto

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache is a cost-bounded cache of V values keyed by string.
type Cache[V any] struct {
	c *ristretto.Cache[string, V]
}

// New creates a ristretto-backed cache. maxCostBytes is the maximum total
// cost of cached values.
func New[V any](maxCostBytes int64) (*Cache[V], error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters: max(maxCostBytes/100*10, 1000), // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache[V]{c: c}, nil
}

// Get retrieves a value.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.c.Get(key)
}

// Set stores a value with the given cost and TTL. Admission is best-effort:
// a rejected or not-yet-applied write simply misses on the next Get.
func (c *Cache[V]) Set(key string, value V, cost int64, ttl time.Duration) bool {
	return c.c.SetWithTTL(key, value, cost, ttl)
}

// Wait blocks until buffered writes have been applied.
func (c *Cache[V]) Wait() {
	c.c.Wait()
}

// Delete removes a value.
func (c *Cache[V]) Delete(key string) {
	c.c.Del(key)
}

// Close shuts down the cache and releases resources.
func (c *Cache[V]) Close() {
	c.c.Close()
}
