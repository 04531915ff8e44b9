// Package cache implements the gateway's in-process invalidation bus: a
// generic entry-count-bounded LRU value cache backing directory listings, signed proxy
// URLs and search-index reconciliation state (spec §4.9), adapted from the
// teacher's byte-range LRU cache to the key/value shape the core now
// expects (pkg/types.Cache).
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// Config configures an LRUCache.
type Config struct {
	MaxEntries      int           `yaml:"max_entries"`
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

func DefaultConfig() Config {
	return Config{
		MaxEntries:      50000,
		DefaultTTL:      30 * time.Second,
		CleanupInterval: time.Minute,
	}
}

type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time // zero means no expiry
	element   *list.Element
}

// LRUCache is a thread-safe, TTL-aware LRU cache implementing
// types.Cache. One instance backs one invalidation scope (directory
// listings, signed URLs, search state) per §4.9.
type LRUCache struct {
	mu        sync.RWMutex
	maxSize   int
	items     map[string]*entry
	evictList *list.List
	stats     types.CacheStats

	stopCleanup chan struct{}
}

// NewLRUCache creates a cache and starts its background TTL sweeper.
func NewLRUCache(cfg Config) *LRUCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 50000
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	c := &LRUCache{
		maxSize:     cfg.MaxEntries,
		items:       make(map[string]*entry),
		evictList:   list.New(),
		stats:       types.CacheStats{Capacity: int64(cfg.MaxEntries)},
		stopCleanup: make(chan struct{}),
	}
	go c.cleanupLoop(cfg.CleanupInterval)
	return c
}

// Get retrieves a cached value, reporting a miss if absent or expired.
func (c *LRUCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		c.updateHitRate()
		return nil, false
	}
	if c.expired(e) {
		c.remove(key)
		c.stats.Misses++
		c.updateHitRate()
		return nil, false
	}

	c.evictList.MoveToFront(e.element)
	c.stats.Hits++
	c.updateHitRate()
	return e.value, true
}

// Put stores value under key. ttl <= 0 means no expiry.
func (c *LRUCache) Put(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.evictList.MoveToFront(e.element)
		return
	}

	e := &entry{key: key, value: value, expiresAt: expiresAt}
	e.element = c.evictList.PushFront(e)
	c.items[key] = e

	for len(c.items) > c.maxSize {
		c.evictOldest()
	}
}

// Delete removes a single key.
func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(key)
}

// DeletePrefix removes every key sharing prefix, used to invalidate an
// entire mount's directory listings or search state in one call.
func (c *LRUCache) DeletePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []string
	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			toRemove = append(toRemove, key)
		}
	}
	for _, key := range toRemove {
		c.remove(key)
	}
}

// Size returns the number of live entries.
func (c *LRUCache) Size() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.items))
}

// Stats returns a snapshot of cache statistics.
func (c *LRUCache) Stats() types.CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Size = int64(len(c.items))
	if stats.Capacity > 0 {
		stats.Utilization = float64(stats.Size) / float64(stats.Capacity)
	}
	return stats
}

// Close stops the background sweeper. Safe to call once.
func (c *LRUCache) Close() {
	close(c.stopCleanup)
}

func (c *LRUCache) expired(e *entry) bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

func (c *LRUCache) remove(key string) {
	e, ok := c.items[key]
	if !ok {
		return
	}
	c.evictList.Remove(e.element)
	delete(c.items, key)
}

func (c *LRUCache) evictOldest() {
	back := c.evictList.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry)
	c.remove(e.key)
	c.stats.Evictions++
}

func (c *LRUCache) updateHitRate() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}

func (c *LRUCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCleanup:
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

func (c *LRUCache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []string
	for key, e := range c.items {
		if c.expired(e) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		c.remove(key)
	}
}

var _ types.Cache = (*LRUCache)(nil)
