package cache

import (
	"time"

	"github.com/maypok86/otter/v2"
)

// BoundedCache is a size limited alternative to ExpiringMap for deployments
// where metadata keys churn. Entries expire a fixed duration after they were
// written and the least valuable entries are evicted once maxEntries is reached.
type BoundedCache[V any] struct {
	cache    *otter.Cache[string, V]
	duration time.Duration
}

// NewBoundedCache creates a cache holding at most maxEntries values for duration each.
func NewBoundedCache[V any](maxEntries int, duration time.Duration) *BoundedCache[V] {
	cache := otter.Must(&otter.Options[string, V]{
		MaximumSize:      maxEntries,
		ExpiryCalculator: otter.ExpiryWriting[string, V](duration),
	})

	return &BoundedCache[V]{
		cache:    cache,
		duration: duration,
	}
}

// Get returns the value stored under key. Expired entries are reported as
// missing even if the cache has not swept them yet.
func (bc *BoundedCache[V]) Get(key string) (V, bool) {
	return bc.cache.GetIfPresent(key)
}

// Set stores value under key, replacing any previous value and restarting
// its expiry. Inserting past maxEntries evicts other entries.
func (bc *BoundedCache[V]) Set(key string, value V) {
	bc.cache.Set(key, value)
}

// Delete removes key. Removing a missing key is a no-op.
func (bc *BoundedCache[V]) Delete(key string) {
	bc.cache.Invalidate(key)
}

// Len returns an estimate of the number of live entries.
func (bc *BoundedCache[V]) Len() int {
	return bc.cache.EstimatedSize()
}

// New returns the metadata cache implementation matching the configuration:
// an unbounded lazy ExpiringMap when maxEntries is zero, otherwise a BoundedCache.
func New[V any](maxEntries int, ttl time.Duration) Cache[V] {
	if maxEntries > 0 {
		return NewBoundedCache[V](maxEntries, ttl)
	}
	return NewExpiringMap[V](ttl)
}
