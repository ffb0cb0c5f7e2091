// Package memo provides the memoization caches used during ranking.
//
// A Cache only grows until Reset is called. Concurrent callers computing the
// same missing key may both run the compute function; the first value stored
// wins and every later Get returns it.
package memo

import "sync"

// Cache is a concurrency-safe map from K to V.
type Cache[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// New creates an empty cache.
func New[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{m: make(map[K]V)}
}

// Get returns the cached value for k.
func (c *Cache[K, V]) Get(k K) (V, bool) {
	c.mu.RLock()
	v, ok := c.m[k]
	c.mu.RUnlock()
	return v, ok
}

// Put stores v under k unless a value is already present, and returns the
// value that ends up cached.
func (c *Cache[K, V]) Put(k K, v V) V {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.m[k]; ok {
		return existing
	}
	c.m[k] = v
	return v
}

// GetOrCompute returns the cached value for k, computing and storing it with
// fn on a miss.
func (c *Cache[K, V]) GetOrCompute(k K, fn func() V) V {
	if v, ok := c.Get(k); ok {
		return v
	}
	return c.Put(k, fn())
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// Reset drops every entry.
func (c *Cache[K, V]) Reset() {
	c.mu.Lock()
	c.m = make(map[K]V)
	c.mu.Unlock()
}
