package cache

import (
	"sync"
	"time"
)

// Cache memoizes query results with an explicit expiry per entry.
// Implementations can be in-memory, Redis, or any other backing store.
type Cache interface {
	// Get returns the value and true if the key is present and not expired
	Get(key string) (interface{}, bool)

	// Set stores a value for ttl
	Set(key string, value interface{}, ttl time.Duration)

	// Delete removes a key
	Delete(key string)

	// Stop releases background resources
	Stop()
}

type cacheItem struct {
	value      interface{}
	expiration time.Time
}

func (item *cacheItem) isExpired(now time.Time) bool {
	return now.After(item.expiration)
}

// InMemoryCache is a thread-safe in-memory cache. Expired entries are dropped on read and by
// a periodic sweep; when maxEntries is reached the entry closest to expiry is evicted.
type InMemoryCache struct {
	items           map[string]*cacheItem
	mu              sync.RWMutex
	maxEntries      int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	now             func() time.Time
}

// NewInMemoryCache creates a cache swept every cleanupInterval. maxEntries <= 0 means
// unbounded.
func NewInMemoryCache(cleanupInterval time.Duration, maxEntries int) *InMemoryCache {
	cache := &InMemoryCache{
		items:           make(map[string]*cacheItem),
		maxEntries:      maxEntries,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
	}

	if cleanupInterval > 0 {
		go cache.startCleanup()
	}

	return cache
}

// Get retrieves a value from the cache
func (c *InMemoryCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	item, found := c.items[key]
	c.mu.RUnlock()

	if !found {
		return nil, false
	}
	if item.isExpired(c.now()) {
		c.Delete(key)
		return nil, false
	}

	return item.value, true
}

// Set stores a value in the cache with the specified TTL. A non-positive TTL is a no-op.
func (c *InMemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		c.evictLocked()
	}

	c.items[key] = &cacheItem{
		value:      value,
		expiration: c.now().Add(ttl),
	}
}

// Delete removes a specific key from the cache
func (c *InMemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// Size returns the number of stored entries, including expired ones not yet swept
func (c *InMemoryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (c *InMemoryCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCleanup)
	})
}

func (c *InMemoryCache) startCleanup() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *InMemoryCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, item := range c.items {
		if item.isExpired(now) {
			delete(c.items, key)
		}
	}
}

// evictLocked drops expired entries, or the entry expiring first if none has expired
func (c *InMemoryCache) evictLocked() {
	now := c.now()

	var (
		oldestKey string
		oldest    time.Time
		evicted   bool
	)
	for key, item := range c.items {
		if item.isExpired(now) {
			delete(c.items, key)
			evicted = true
			continue
		}
		if oldestKey == "" || item.expiration.Before(oldest) {
			oldestKey, oldest = key, item.expiration
		}
	}

	if !evicted && oldestKey != "" {
		delete(c.items, oldestKey)
	}
}
