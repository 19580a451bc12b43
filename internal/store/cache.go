// Package store implements the Caches/Loaders component (J): a generic
// single-load-on-demand cache plus on-disk and Mongo-backed persistence for
// conversations, traces, and experiments (spec §4.7, §6.2).
package store

import "sync"

// Cache memoizes the result of load(key) the first time a key is requested,
// sharing a single in-flight load across concurrent callers racing on the
// same key (spec §4.7: "loaders ... single-flight per key so concurrent
// requests for the same resource do not duplicate work").
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
	load    func(K) (V, error)
}

type entry[V any] struct {
	once sync.Once
	val  V
	err  error
}

// NewCache builds a Cache that calls load to populate a miss.
func NewCache[K comparable, V any](load func(K) (V, error)) *Cache[K, V] {
	return &Cache[K, V]{entries: make(map[K]*entry[V]), load: load}
}

// Get returns the cached value for key, loading it on first access. A failed
// load is not cached: the next Get retries load rather than sticking with a
// permanent error.
func (c *Cache[K, V]) Get(key K) (V, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry[V]{}
		c.entries[key] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.val, e.err = c.load(key)
	})
	if e.err != nil {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
	}
	return e.val, e.err
}

// Invalidate drops key so the next Get re-runs load.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateAll drops every cached entry.
func (c *Cache[K, V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*entry[V])
}
