// Package memcache implements the L0 tier of the cache engine: a
// bounded, in-process fingerprint→payload map with LRU eviction and
// per-entry absolute expiry. It never suspends (spec.md §5: "MemCache
// operations are non-suspending") and retains expired entries just long
// enough to be offered back as stale candidates when the storage tiers
// return nothing (spec.md §4.3, §4.8).
package memcache

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status classifies the outcome of a Get.
type Status int

const (
	// Miss means the fingerprint was never stored, or was evicted.
	Miss Status = iota
	// Hit means a fresh, unexpired entry was found.
	Hit
	// Expired means an entry exists but its ExpiresAt has passed; it is
	// returned so the caller can use it as a stale candidate.
	Expired
)

func (s Status) String() string {
	switch s {
	case Hit:
		return "hit"
	case Expired:
		return "expired"
	default:
		return "miss"
	}
}

// Result is the outcome of a Get call.
type Result struct {
	Status    Status
	Payload   []byte
	ExpiresAt time.Time
}

// Info summarizes the cache's current occupancy and counters, surfaced
// by the REST API's GET /debug/memcache endpoint.
type Info struct {
	Entries   int
	Bytes     int64
	Hits      int64
	Misses    int64
	Evictions int64
}

type entry struct {
	key        string
	payload    []byte
	expiresAt  time.Time
	size       int64
	lruElement *list.Element
}

// Cache is a thread-safe, bounded LRU map from fingerprint to payload.
// Capacity is enforced both by entry count (MaxEntries) and total byte
// size (MaxBytes); either bound set to zero/negative disables that
// dimension of enforcement.
type Cache struct {
	mu        sync.Mutex
	items     map[string]*entry
	lru       *list.List
	maxItems  int
	maxBytes  int64
	size      int64
	hits      int64
	misses    int64
	evictions int64
	logger    *zap.Logger
}

// New builds a Cache bounded by maxEntries and maxBytes.
func New(maxEntries int, maxBytes int64, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		items:    make(map[string]*entry),
		lru:      list.New(),
		maxItems: maxEntries,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Get looks up id, classifying the result as hit, expired, or miss. An
// expired entry is left in place (not evicted) so it remains available
// as a stale candidate until Set overwrites it.
func (c *Cache) Get(id string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[id]
	if !ok {
		c.misses++
		return Result{Status: Miss}
	}

	c.lru.MoveToFront(e.lruElement)

	payload := make([]byte, len(e.payload))
	copy(payload, e.payload)

	if time.Now().After(e.expiresAt) {
		return Result{Status: Expired, Payload: payload, ExpiresAt: e.expiresAt}
	}

	c.hits++
	return Result{Status: Hit, Payload: payload, ExpiresAt: e.expiresAt}
}

// Set stores payload under id with an absolute expiry, evicting the
// least recently used entries as needed to stay within bounds. A payload
// exceeding the entire byte budget on its own is silently skipped — this
// mirrors a bounded cache's fail-open policy rather than raising an
// error over something that is not fatal to the read path.
func (c *Cache) Set(id string, payload []byte, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(id) + len(payload))
	if c.maxBytes > 0 && size > c.maxBytes {
		c.logger.Warn("memcache: payload exceeds capacity, skipping", zap.String("id", id), zap.Int64("size", size))
		return
	}

	if existing, ok := c.items[id]; ok {
		c.remove(existing)
	}

	for c.overCapacity(size) {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.remove(oldest.Value.(*entry))
		c.evictions++
	}

	e := &entry{key: id, payload: append([]byte(nil), payload...), expiresAt: expiresAt, size: size}
	e.lruElement = c.lru.PushFront(e)
	c.items[id] = e
	c.size += size
}

// Extend rewrites id's expiry in place without touching its payload,
// used for the stale-fallback path (spec.md §4.8); the refresh-extension
// path replaces the entry with Set instead. It is a no-op if id is not
// present.
func (c *Cache) Extend(id string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[id]; ok {
		e.expiresAt = expiresAt
		c.lru.MoveToFront(e.lruElement)
	}
}

// Delete removes id if present.
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[id]; ok {
		c.remove(e)
	}
}

// Info reports current occupancy and lifetime counters.
func (c *Cache) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		Entries:   len(c.items),
		Bytes:     c.size,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *Cache) overCapacity(incoming int64) bool {
	if c.maxItems > 0 && len(c.items) >= c.maxItems {
		return true
	}
	if c.maxBytes > 0 && c.size+incoming > c.maxBytes {
		return true
	}
	return false
}

func (c *Cache) remove(e *entry) {
	c.lru.Remove(e.lruElement)
	delete(c.items, e.key)
	c.size -= e.size
}
