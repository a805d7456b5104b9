package cache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultTTL classifies REST-fed entries as stale after this age.
const DefaultTTL = 5 * time.Second

// Lookup is the result of reading a cache entry.
type Lookup struct {
	Value any
	Age   time.Duration
	TTL   time.Duration
	Stale bool // Age exceeded TTL; value is still the last known one
}

type entry struct {
	value     any
	writtenAt time.Time
	ttl       time.Duration
}

// Cache is a TTL-classifying key/value store. A single lock guards the
// map; values must be treated as immutable snapshots (writers replace,
// readers never mutate).
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration
}

// New creates an empty cache. A non-positive defaultTTL falls back to
// DefaultTTL.
func New(defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Cache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
	}
}

// Put stores value under key with the cache's default TTL.
func (c *Cache) Put(key string, value any) {
	c.PutTTL(key, value, c.defaultTTL)
}

// PutTTL stores value under key with an entry-specific TTL.
func (c *Cache) PutTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, writtenAt: time.Now(), ttl: ttl}
	c.mu.Unlock()
}

// Get returns the entry under key. A stale entry is returned flagged,
// never suppressed. The second return is false only for keys that were
// never written (or were cleared).
func (c *Cache) Get(key string) (Lookup, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Lookup{}, false
	}
	return lookup(e, time.Now()), true
}

// Age returns how long ago key was last written.
func (c *Cache) Age(key string) (time.Duration, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return time.Since(e.writtenAt), true
}

// Clear removes every entry whose key starts with prefix and returns the
// number removed. The empty prefix clears the whole cache.
func (c *Cache) Clear(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns all keys in sorted order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of every entry with its current age and
// staleness, keyed as stored.
func (c *Cache) Snapshot() map[string]Lookup {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Lookup, len(c.entries))
	for k, e := range c.entries {
		out[k] = lookup(e, now)
	}
	return out
}

func lookup(e entry, now time.Time) Lookup {
	age := now.Sub(e.writtenAt)
	return Lookup{
		Value: e.value,
		Age:   age,
		TTL:   e.ttl,
		Stale: age > e.ttl,
	}
}
