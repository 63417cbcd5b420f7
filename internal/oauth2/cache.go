// ABOUTME: Thread-safe TTL + LRU cache of validated tokens keyed by token hash
// ABOUTME: Avoids re-verifying signatures for repeat requests from the same client

package oauth2

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Cache defaults
const (
	DefaultTokenCacheTTL  = 5 * time.Minute
	DefaultTokenCacheSize = 1000
)

// Entry is a cached validation result.
type Entry struct {
	Auth         *AuthContext
	CreatedAt    time.Time
	LastUsed     time.Time
	AccessCount  uint64
	RefreshToken string
	Metadata     map[string]string
}

// ShouldRefresh reports whether the token expires within threshold of now.
func (e *Entry) ShouldRefresh(now time.Time, threshold time.Duration) bool {
	if e.Auth == nil || e.Auth.ExpiresAt.IsZero() {
		return false
	}
	return e.Auth.ExpiresAt.Sub(now) <= threshold
}

// CacheMetrics counts cache outcomes.
type CacheMetrics struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
	Size      int    `json:"size"`
}

type cacheItem struct {
	key     string
	entry   Entry
	element *list.Element
}

// TokenCache stores validated tokens for ttl, holding at most maxSize
// entries and evicting the least recently used first.
type TokenCache struct {
	mu      sync.Mutex
	items   map[string]*cacheItem
	order   *list.List // least recently used at front
	ttl     time.Duration
	maxSize int
	metrics CacheMetrics
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// NewTokenCache creates a cache and starts its cleanup goroutine.
func NewTokenCache(ttl time.Duration, maxSize int) *TokenCache {
	if ttl <= 0 {
		ttl = DefaultTokenCacheTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultTokenCacheSize
	}
	c := &TokenCache{
		items:   make(map[string]*cacheItem),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Store caches auth for token, replacing any existing entry.
func (c *TokenCache) Store(token string, auth *AuthContext, refreshToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := tokenKey(token)
	now := c.now()
	if it, ok := c.items[key]; ok {
		it.entry.Auth = auth
		it.entry.CreatedAt = now
		it.entry.LastUsed = now
		it.entry.RefreshToken = refreshToken
		c.order.MoveToBack(it.element)
		return
	}

	if len(c.items) >= c.maxSize {
		c.evictOldest()
	}
	it := &cacheItem{
		key: key,
		entry: Entry{
			Auth:         auth,
			CreatedAt:    now,
			LastUsed:     now,
			RefreshToken: refreshToken,
			Metadata:     make(map[string]string),
		},
	}
	it.element = c.order.PushBack(it)
	c.items[key] = it
}

// Get returns a copy of the cached entry for token. Entries past the cache
// TTL or the token's own expiry are removed and reported as misses.
func (c *TokenCache) Get(token string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[tokenKey(token)]
	if !ok {
		c.metrics.Misses++
		return Entry{}, false
	}
	now := c.now()
	if c.expiredLocked(it, now) {
		c.removeLocked(it)
		c.metrics.Expired++
		c.metrics.Misses++
		return Entry{}, false
	}

	it.entry.LastUsed = now
	it.entry.AccessCount++
	c.order.MoveToBack(it.element)
	c.metrics.Hits++
	return it.entry, true
}

// Remove drops token from the cache.
func (c *TokenCache) Remove(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[tokenKey(token)]
	if ok {
		c.removeLocked(it)
	}
	return ok
}

// ClearExpired removes all expired entries and returns how many were removed.
func (c *TokenCache) ClearExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, it := range c.items {
		if c.expiredLocked(it, now) {
			c.removeLocked(it)
			removed++
		}
	}
	c.metrics.Expired += uint64(removed)
	return removed
}

// Metrics returns a snapshot of the counters.
func (c *TokenCache) Metrics() CacheMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.metrics
	m.Size = len(c.items)
	return m
}

func (c *TokenCache) expiredLocked(it *cacheItem, now time.Time) bool {
	if now.Sub(it.entry.CreatedAt) > c.ttl {
		return true
	}
	return it.entry.Auth != nil && it.entry.Auth.Expired(now)
}

func (c *TokenCache) removeLocked(it *cacheItem) {
	c.order.Remove(it.element)
	delete(c.items, it.key)
}

// evictOldest removes the least recently used entry. Must be called with mu held.
func (c *TokenCache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	it, _ := front.Value.(*cacheItem)
	c.removeLocked(it)
	c.metrics.Evictions++
}

func (c *TokenCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.ClearExpired()
		case <-c.done:
			return
		}
	}
}

// Close stops the cleanup goroutine. It is safe to call multiple times.
func (c *TokenCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
