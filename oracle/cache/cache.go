// Package cache implements the Coherence Cache: a TTL-bounded per-symbol
// memo of the last AggregatedPrice, absorbing read bursts between ticks.
package cache

import (
	"sync"
	"time"

	"price-oracle/oracle/types"
)

// DefaultTTL is the default freshness window for a cached entry.
const DefaultTTL = 500 * time.Millisecond

type entry struct {
	price      types.AggregatedPrice
	insertedAt time.Time
}

// Cache maps Symbol -> (AggregatedPrice, insertedAt). It is safe for
// concurrent use: the Engine is the exclusive writer, handlers/tests are
// read-only callers.
type Cache struct {
	mu  sync.RWMutex
	ttl time.Duration

	entries map[types.Symbol]entry

	hits   uint64
	misses uint64
}

// New builds a Cache with the given TTL. A zero TTL selects DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: map[types.Symbol]entry{},
	}
}

// Get returns the cached price for symbol if it was inserted within TTL of
// now, and ok=true. Every call counts toward the hit-rate statistic
// reported by the health monitor.
func (c *Cache) Get(symbol types.Symbol, now time.Time) (types.AggregatedPrice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[symbol]
	if !found || now.Sub(e.insertedAt) >= c.ttl {
		c.misses++
		return types.AggregatedPrice{}, false
	}
	c.hits++
	return e.price, true
}

// Put unconditionally overwrites the cached entry for the price's symbol
// (last-writer-wins; there is no per-entry eviction, the cache is bounded
// by the fixed set of monitored symbols).
func (c *Cache) Put(price types.AggregatedPrice, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[price.Symbol] = entry{price: price, insertedAt: now}
}

// HitRate returns the fraction of Get calls that were satisfied from cache
// since the Cache was created (or since the process started).
func (c *Cache) HitRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// Entry is a read-only view of one cached price and its age at the moment
// the snapshot was taken.
type Entry struct {
	Price types.AggregatedPrice
	Age   time.Duration
}

// All returns a read-only copy of every cached entry (price and age),
// regardless of TTL, for the engine's per-symbol health status view.
func (c *Cache) All(now time.Time) map[types.Symbol]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[types.Symbol]Entry, len(c.entries))
	for symbol, e := range c.entries {
		out[symbol] = Entry{Price: e.price, Age: now.Sub(e.insertedAt)}
	}
	return out
}
