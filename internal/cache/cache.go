package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/kubilitics/kubilitics-insight/internal/metrics"
)

// Package cache provides in-process caching to avoid redundant work per query.
//
// Responsibilities:
//   - Cache query embeddings (identical normalized queries embed once)
//   - Expire entries after a TTL
//   - Bound memory with LRU eviction
//   - Report hit/miss rates to Prometheus
//
// Cache Key Strategy:
//   - Callers pass a stable string key (e.g. the normalized query text)
//   - Values are stored by value; callers must not mutate shared slices
//
// Invalidation Triggers:
//   - TTL expiration (lazy, checked on Get)
//   - LRU eviction once MaxEntries is exceeded
//   - Manual Clear (e.g. after an index rebuild changes the embedding dimension)

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// TTLCache is a concurrency-safe LRU cache with per-entry expiry.
type TTLCache[V any] struct {
	name       string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
	stats Stats
}

// NewTTLCache creates a cache. ttl <= 0 disables expiry; maxEntries <= 0 means 1024.
func NewTTLCache[V any](name string, ttl time.Duration, maxEntries int) *TTLCache[V] {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &TTLCache[V]{
		name:       name,
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}
}

// Get retrieves a cached value by key.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.miss()
		return zero, false
	}
	e := el.Value.(*entry[V])
	if c.ttl > 0 && c.now().After(e.expiresAt) {
		c.removeElement(el)
		c.miss()
		return zero, false
	}
	c.ll.MoveToFront(el)
	c.stats.Hits++
	metrics.CacheHits.WithLabelValues(c.name).Inc()
	return e.value, true
}

// Set stores a value, evicting the least recently used entry when full.
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.expiresAt = expiresAt
		c.ll.MoveToFront(el)
		return
	}

	c.items[key] = c.ll.PushFront(&entry[V]{key: key, value: value, expiresAt: expiresAt})
	for c.ll.Len() > c.maxEntries {
		c.removeElement(c.ll.Back())
		c.stats.Evictions++
	}
}

// Delete removes a key from cache.
func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Clear removes all entries from cache.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

// Stats returns cache statistics.
func (c *TTLCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.ll.Len()
	return s
}

func (c *TTLCache[V]) miss() {
	c.stats.Misses++
	metrics.CacheMisses.WithLabelValues(c.name).Inc()
}

func (c *TTLCache[V]) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry[V]).key)
}
