// Package cache provides a generic, size-bounded, concurrency-safe cache used
// by the OEmbed fetcher, the inbound-link results, video metadata and the HLS
// transcoder. Eviction is approximate and based on insertion order,
// not true LRU: entries are never touched on read, so a hot entry can still
// be evicted if it was inserted early.
package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type entry[V any] struct {
	value      V
	insertedAt time.Time
	sizeBytes  int64
}

// Cache is a concurrent map bounded by an approximate total byte size, with
// an optional time-to-live applied on top of the size bound. A Cache with
// maxBytes == 0 never stores anything; Get always misses and Insert is a
// no-op. This mirrors callers that want caching to be disableable by
// configuration without special-casing every call site.
type Cache[V any] struct {
	store    sync.Map
	size     atomic.Int64
	maxBytes int64
	ttl      time.Duration
}

// New creates a cache bounded to maxBytes of approximate entry size. A zero
// ttl disables time-based expiry; entries then live until evicted for space.
func New[V any](maxBytes int64, ttl time.Duration) *Cache[V] {
	return &Cache[V]{maxBytes: maxBytes, ttl: ttl}
}

// Get returns the cached value for key, if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if c.maxBytes <= 0 {
		return zero, false
	}
	raw, ok := c.store.Load(key)
	if !ok {
		return zero, false
	}
	e := raw.(*entry[V])
	if c.ttl > 0 && time.Since(e.insertedAt) >= c.ttl {
		if c.store.CompareAndDelete(key, raw) {
			c.size.Add(-e.sizeBytes)
		}
		return zero, false
	}
	return e.value, true
}

// Insert stores value under key with the given approximate size in bytes,
// evicting the oldest entries if the cache is now over budget.
func (c *Cache[V]) Insert(key string, value V, sizeBytes int64) {
	if c.maxBytes <= 0 {
		return
	}
	e := &entry[V]{value: value, insertedAt: time.Now(), sizeBytes: sizeBytes}
	if old, loaded := c.store.Swap(key, e); loaded {
		c.size.Add(-old.(*entry[V]).sizeBytes)
	}
	newSize := c.size.Add(sizeBytes)
	if newSize > c.maxBytes {
		c.evictOldest(newSize - c.maxBytes)
	}
}

// Delete removes key from the cache, if present.
func (c *Cache[V]) Delete(key string) {
	if raw, ok := c.store.LoadAndDelete(key); ok {
		c.size.Add(-raw.(*entry[V]).sizeBytes)
	}
}

// evictOldest walks the whole map to find insertion-oldest entries and
// removes them until at least targetBytes have been freed. This is O(n) in
// the entry count; the caches it backs are expected to hold at most a few
// thousand entries, so a full scan per eviction is acceptable.
func (c *Cache[V]) evictOldest(targetBytes int64) {
	type candidate struct {
		key        string
		insertedAt time.Time
		sizeBytes  int64
	}
	var candidates []candidate
	c.store.Range(func(k, v any) bool {
		e := v.(*entry[V])
		candidates = append(candidates, candidate{k.(string), e.insertedAt, e.sizeBytes})
		return true
	})
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].insertedAt.Before(candidates[j].insertedAt)
	})

	var freed int64
	for _, cand := range candidates {
		if freed >= targetBytes {
			break
		}
		if raw, ok := c.store.LoadAndDelete(cand.key); ok {
			freed += cand.sizeBytes
			c.size.Add(-raw.(*entry[V]).sizeBytes)
		}
	}
}

// Clear removes every entry, for callers that invalidate an entire cache at
// once rather than key by key (e.g. the inbound-link cache, dropped wholesale
// on any repository change since a single edit can add or remove a link to
// any other page).
func (c *Cache[V]) Clear() {
	c.store.Range(func(k, _ any) bool {
		c.store.Delete(k)
		return true
	})
	c.size.Store(0)
}

// CurrentSize returns the current approximate size of the cache in bytes.
func (c *Cache[V]) CurrentSize() int64 {
	return c.size.Load()
}

// Len returns the number of entries currently stored.
func (c *Cache[V]) Len() int {
	n := 0
	c.store.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// IsEmpty reports whether the cache currently holds no entries.
func (c *Cache[V]) IsEmpty() bool {
	empty := true
	c.store.Range(func(_, _ any) bool {
		empty = false
		return false
	})
	return empty
}
