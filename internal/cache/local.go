package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// Stats contains cache performance statistics.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// Local is a concurrent-safe, size-capped LRU with per-entry expiry.
type Local[V any] struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front=newest, back=oldest
	maxEntries int
	hits       atomic.Int64
	misses     atomic.Int64

	now func() time.Time
}

type localEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// NewLocal creates a Local holding at most maxEntries values.
func NewLocal[V any](maxEntries int) *Local[V] {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Local[V]{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns a live value and records a hit or miss.
func (c *Local[V]) Get(key string) (V, bool) {
	v, _, ok := c.lookup(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// peek is Get without touching the statistics.
func (c *Local[V]) peek(key string) (V, bool) {
	v, _, ok := c.lookup(key)
	return v, ok
}

func (c *Local[V]) lookup(key string) (V, time.Time, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return zero, time.Time{}, false
	}
	e := el.Value.(*localEntry[V])
	if !c.now().Before(e.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, key)
		return zero, time.Time{}, false
	}
	c.order.MoveToFront(el)
	return e.value, e.expiresAt, true
}

// Set stores value until expiresAt, evicting the least recently used entry
// when full. A value that is already expired is not stored.
func (c *Local[V]) Set(key string, value V, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.now().Before(expiresAt) {
		return
	}

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*localEntry[V])
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}

	for len(c.entries) >= c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*localEntry[V]).key)
	}

	c.entries[key] = c.order.PushFront(&localEntry[V]{key: key, value: value, expiresAt: expiresAt})
}

// Delete removes key if present.
func (c *Local[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// Purge drops every expired entry and returns how many were removed.
func (c *Local[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for key, el := range c.entries {
		if !now.Before(el.Value.(*localEntry[V]).expiresAt) {
			c.order.Remove(el)
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, including expired ones not yet
// purged.
func (c *Local[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache performance statistics.
func (c *Local[V]) Stats() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	maxEntries := c.maxEntries
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Entries:    entries,
		MaxEntries: maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}
