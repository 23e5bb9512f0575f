package license

import (
	"sync"
	"time"
)

// cacheEntry is a memoized decode result.
type cacheEntry struct {
	decoded   DecodedLicense
	cachedAt  time.Time
	expiresAt time.Time
	hitCount  int
}

// DecodeCache memoizes decode results by exact key string so repeated
// status checks don't redo the scrypt/AES work. Entries expire after the
// TTL; an expired license record cached as valid will age out and decode
// fresh.
type DecodeCache struct {
	entries   map[string]cacheEntry
	mutex     sync.Mutex
	ttl       time.Duration
	maxSize   int
	hitCount  int64
	missCount int64
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewDecodeCache creates a cache with the given TTL and entry cap and
// starts its background sweeper.
func NewDecodeCache(ttl time.Duration, maxSize int) *DecodeCache {
	c := &DecodeCache{
		entries:  make(map[string]cacheEntry),
		ttl:      ttl,
		maxSize:  maxSize,
		stopChan: make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get retrieves a memoized decode result.
func (c *DecodeCache) Get(licenseKey string) (DecodedLicense, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[licenseKey]
	if !exists || time.Now().After(entry.expiresAt) {
		c.missCount++
		return DecodedLicense{}, false
	}
	entry.hitCount++
	c.entries[licenseKey] = entry
	c.hitCount++
	return entry.decoded, true
}

// Set memoizes a decode result.
func (c *DecodeCache) Set(licenseKey string, decoded DecodedLicense) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.maxSize <= 0 {
		return
	}
	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	now := time.Now()
	c.entries[licenseKey] = cacheEntry{
		decoded:   decoded,
		cachedAt:  now,
		expiresAt: now.Add(c.ttl),
	}
}

// Invalidate drops one key from the cache.
func (c *DecodeCache) Invalidate(licenseKey string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, licenseKey)
}

// Stats returns hit/miss counters for the metrics surface.
func (c *DecodeCache) Stats() (entries int, hits, misses int64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries), c.hitCount, c.missCount
}

func (c *DecodeCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.cachedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.cachedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Stop terminates the background sweeper.
func (c *DecodeCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *DecodeCache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mutex.Lock()
			now := time.Now()
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mutex.Unlock()
		case <-c.stopChan:
			return
		}
	}
}
