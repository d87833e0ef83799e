package datasource

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ttlCache is a bounded, per-entry-TTL wrapper around an LRU cache. The
// data-source client uses one per endpoint family (depots, routes,
// land-use zones, POIs, places, regions) so a slow or flaky upstream never forces an
// unbounded number of cached pages to live forever in memory.
type ttlCache[K comparable, V any] struct {
	lru *lru.Cache[K, ttlEntry[V]]
	ttl time.Duration
}

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func newTTLCache[K comparable, V any](size int, ttl time.Duration) *ttlCache[K, V] {
	c, err := lru.New[K, ttlEntry[V]](size)
	if err != nil {
		// Only returns an error for size <= 0; config always supplies a
		// positive default, but guard defensively rather than panic.
		c, _ = lru.New[K, ttlEntry[V]](1)
	}
	return &ttlCache[K, V]{lru: c, ttl: ttl}
}

func (c *ttlCache[K, V]) get(key K) (V, bool) {
	var zero V
	entry, ok := c.lru.Get(key)
	if !ok {
		return zero, false
	}
	if time.Now().After(entry.expiresAt) {
		c.lru.Remove(key)
		return zero, false
	}
	return entry.value, true
}

func (c *ttlCache[K, V]) set(key K, value V) {
	c.lru.Add(key, ttlEntry[V]{value: value, expiresAt: time.Now().Add(c.ttl)})
}
