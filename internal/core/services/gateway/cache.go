package gateway

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type cacheEntry[T any] struct {
	value    T
	cachedAt time.Time
}

// ttlCache maps keys to values that expire ttl after insertion. Entries are
// replaced wholesale, never mutated, so readers see either the old or the new
// value.
type ttlCache[T any] struct {
	mu    sync.RWMutex
	ttl   time.Duration
	clock clockwork.Clock
	items map[string]cacheEntry[T]
}

func newTTLCache[T any](ttl time.Duration, clock clockwork.Clock) *ttlCache[T] {
	return &ttlCache[T]{
		ttl:   ttl,
		clock: clock,
		items: make(map[string]cacheEntry[T]),
	}
}

func (c *ttlCache[T]) fresh(e cacheEntry[T], now time.Time) bool {
	return now.Sub(e.cachedAt) < c.ttl
}

// Get returns the value for key if it is still fresh.
func (c *ttlCache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok || !c.fresh(e, c.clock.Now()) {
		var zero T
		return zero, false
	}
	return e.value, true
}

func (c *ttlCache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheEntry[T]{value: value, cachedAt: c.clock.Now()}
}

// Sweep drops expired entries and reports how many were removed.
func (c *ttlCache[T]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	removed := 0
	for k, e := range c.items {
		if !c.fresh(e, now) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

func (c *ttlCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
