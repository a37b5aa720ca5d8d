package promptcache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mixaill76/openai-sim/internal/utils"
)

// cachedPrompt holds the cached token count for one fingerprint with its
// insertion time.
type cachedPrompt struct {
	cachedTokens int
	cachedAt     time.Time
}

// Cache is an LRU prompt cache with lazy TTL expiry.
// Thread-safe, uses hashicorp/golang-lru under the hood.
//
// Get runs on request admission and yields the cached_tokens value to
// report in usage. Put runs on request completion with the prefix length
// the router actually matched.
type Cache struct {
	cache     *lru.Cache[string, *cachedPrompt]
	ttl       time.Duration
	minTokens int
	mu        sync.RWMutex

	hits   uint64
	misses uint64
}

// New creates a prompt cache. minTokens is the smallest prompt size that
// gets cached; smaller prompts are never inserted.
func New(maxSize int, ttl time.Duration, minTokens int) (*Cache, error) {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if minTokens <= 0 {
		minTokens = 1024
	}

	cache, err := lru.New[string, *cachedPrompt](maxSize)
	if err != nil {
		return nil, fmt.Errorf("promptcache: failed to create cache: %w", err)
	}

	return &Cache{
		cache:     cache,
		ttl:       ttl,
		minTokens: minTokens,
	}, nil
}

// Get returns the cached token count for a fingerprint, or zero on a miss
// or expired entry.
func (c *Cache) Get(fingerprint string) int {
	if c == nil || c.cache == nil {
		return 0
	}

	c.mu.RLock()
	cached, ok := c.cache.Get(fingerprint)
	c.mu.RUnlock()

	if ok && time.Since(cached.cachedAt) <= c.ttl {
		atomic.AddUint64(&c.hits, 1)
		return cached.cachedTokens
	}

	atomic.AddUint64(&c.misses, 1)
	if ok {
		// TTL expired - re-check under write lock so a fresh entry written
		// by another goroutine between RUnlock and Lock is not evicted.
		c.mu.Lock()
		current, stillExists := c.cache.Get(fingerprint)
		if stillExists && time.Since(current.cachedAt) > c.ttl {
			c.cache.Remove(fingerprint)
		}
		c.mu.Unlock()
	}
	return 0
}

// Put inserts or refreshes a fingerprint after request completion.
// promptTokens gates the minimum-size threshold; cachedTokens is the value
// future hits report.
func (c *Cache) Put(fingerprint string, promptTokens, cachedTokens int) {
	if c == nil || c.cache == nil {
		return
	}
	if promptTokens < c.minTokens || cachedTokens <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(fingerprint, &cachedPrompt{
		cachedTokens: cachedTokens,
		cachedAt:     utils.NowUTC(),
	})
}

// Invalidate removes one fingerprint from the cache.
func (c *Cache) Invalidate(fingerprint string) {
	if c == nil || c.cache == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(fingerprint)
}

// Purge clears the entire cache.
func (c *Cache) Purge() {
	if c == nil || c.cache == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}

// Stats summarizes cache effectiveness.
type Stats struct {
	Size    int     `json:"size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

func (c *Cache) Stats() Stats {
	if c == nil || c.cache == nil {
		return Stats{}
	}

	c.mu.RLock()
	size := c.cache.Len()
	c.mu.RUnlock()

	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return Stats{
		Size:    size,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// Len returns the current number of cached prompts.
func (c *Cache) Len() int {
	if c == nil || c.cache == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache.Len()
}
