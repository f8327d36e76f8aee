// Package lrucache is the byte-budgeted LRU of recently read block bytes
// (spec §3's LRU Cache). It wraps hashicorp/golang-lru/v2's simplelru,
// which go-car v2 already pulls in transitively, adding the byte-budget
// accounting and "never evict the entry we just inserted" rule from spec
// §5 ("the most recently inserted entry is never evicted mid-insert").
package lrucache

import (
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/swizard0/blockwheel/internal/blockid"
)

// Cache is a bounded mapping block_id -> block bytes, evicted in
// least-recently-used order once the byte budget is exceeded.
type Cache struct {
	mu     sync.Mutex
	lru    *simplelru.LRU[blockid.Id, []byte]
	budget uint64
	used   uint64
}

// New returns a cache with the given soft byte budget. A budget of 0 keeps
// only the most recently inserted entry, since an insertion never evicts
// the entry it just added.
func New(budgetBytes uint64) *Cache {
	c := &Cache{budget: budgetBytes}
	// simplelru requires a positive entry-count capacity; we never hit it
	// because eviction here is driven by byte budget, not entry count.
	lru, err := simplelru.NewLRU[blockid.Id, []byte](math.MaxInt32, c.onEvict)
	if err != nil {
		panic(err) // unreachable: math.MaxInt32 > 0
	}
	c.lru = lru
	return c
}

func (c *Cache) onEvict(_ blockid.Id, value []byte) {
	c.used -= uint64(len(value))
}

// Insert stores data under id, then evicts least-recently-used entries
// until the budget is respected — except the entry just inserted, which is
// never evicted by its own insertion.
func (c *Cache) Insert(id blockid.Id, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.lru.Peek(id); ok {
		c.used -= uint64(len(old))
	}
	c.lru.Add(id, data)
	c.used += uint64(len(data))

	for c.used > c.budget && c.lru.Len() > 1 {
		c.lru.RemoveOldest()
	}
}

// Get returns the cached bytes for id, marking it most-recently-used.
func (c *Cache) Get(id blockid.Id) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(id)
}

// Invalidate drops id from the cache, if present.
func (c *Cache) Invalidate(id blockid.Id) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(id)
}

// Len reports how many entries are currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// UsedBytes reports the current byte usage, which may transiently exceed
// the configured budget by at most the size of the most recent insertion.
func (c *Cache) UsedBytes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}
