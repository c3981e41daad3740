package cache

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Cache is the read/write surface metadata collaborators depend on. Both the
// lazy ExpiringMap and the size bounded BoundedCache satisfy it.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V)
	Delete(key string)
	Len() int
}

// ExpiringMap is a concurrent key/value store where every entry lives for a
// fixed TTL measured from its last Set. Expiry is lazy: a stale entry is
// removed by the Get that observes it, so a following Set always starts a
// fresh window. A TTL of zero or less disables expiry entirely.
type ExpiringMap[V any] struct {
	entries *xsync.MapOf[string, cacheEntry[V]] // concurrent map keyed by cache key
	ttl     time.Duration                       // lifetime of each entry, <= 0 means forever
	now     func() time.Time                    // clock, swappable in tests
}

// cacheEntry represents a single cached item with its data and creation timestamp.
type cacheEntry[V any] struct {
	value    V
	storedAt time.Time
}

// NewExpiringMap creates an empty map whose entries expire after ttl.
//
// Parameters:
//   - ttl: how long entries are considered valid, <= 0 for never
//
// Returns:
//   - *ExpiringMap[V]: ready to use map
func NewExpiringMap[V any](ttl time.Duration) *ExpiringMap[V] {
	return &ExpiringMap[V]{
		entries: xsync.NewMapOf[string, cacheEntry[V]](),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (m *ExpiringMap[V]) WithClock(now func() time.Time) *ExpiringMap[V] {
	m.now = now
	return m
}

// TTL returns the configured entry lifetime.
func (m *ExpiringMap[V]) TTL() time.Duration {
	return m.ttl
}

func (m *ExpiringMap[V]) expired(e cacheEntry[V], now time.Time) bool {
	return m.ttl > 0 && now.Sub(e.storedAt) >= m.ttl
}

// Get returns the value stored under key if it is still fresh.
//
// Behavior:
//   - fresh entry: returns the value and true
//   - stale entry: deletes it, then returns the zero value and false
//   - missing: returns the zero value and false
func (m *ExpiringMap[V]) Get(key string) (V, bool) {
	var (
		value V
		found bool
	)
	now := m.now()

	// the staleness check and the delete happen under the bucket lock
	m.entries.Compute(key, func(old cacheEntry[V], loaded bool) (cacheEntry[V], bool) {
		if !loaded || m.expired(old, now) {
			return old, true
		}
		value, found = old.value, true
		return old, false
	})

	return value, found
}

// Set stores value under key, overwriting any previous entry and resetting its timestamp.
func (m *ExpiringMap[V]) Set(key string, value V) {
	m.entries.Store(key, cacheEntry[V]{value: value, storedAt: m.now()})
}

// SetIfAbsent stores value only when key has no fresh entry. A stale entry
// counts as absent and is replaced. Reports whether the value was stored.
func (m *ExpiringMap[V]) SetIfAbsent(key string, value V) bool {
	now := m.now()
	stored := false

	m.entries.Compute(key, func(old cacheEntry[V], loaded bool) (cacheEntry[V], bool) {
		if loaded && !m.expired(old, now) {
			return old, false
		}
		stored = true
		return cacheEntry[V]{value: value, storedAt: now}, false
	})

	return stored
}

// Delete removes key regardless of freshness.
func (m *ExpiringMap[V]) Delete(key string) {
	m.entries.Delete(key)
}

// Len returns the number of stored entries, including stale ones not yet observed.
func (m *ExpiringMap[V]) Len() int {
	return m.entries.Size()
}

// Sweep removes every stale entry and returns how many were dropped. Lazy
// expiry on Get keeps results correct without it; Sweep only reclaims memory
// for keys that are never read again.
func (m *ExpiringMap[V]) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}

	now := m.now()
	removed := 0

	m.entries.Range(func(key string, e cacheEntry[V]) bool {
		if !m.expired(e, now) {
			return true
		}
		// re-check under the bucket lock so a concurrent Set is not lost
		m.entries.Compute(key, func(old cacheEntry[V], loaded bool) (cacheEntry[V], bool) {
			if loaded && m.expired(old, now) {
				removed++
				return old, true
			}
			return old, false
		})
		return true
	})

	return removed
}
