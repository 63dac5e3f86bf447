package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// CachedResponse represents a cached provider reply
type CachedResponse struct {
	Response  string
	Timestamp time.Time
}

// GenerateCacheKey generates a cache key from the provider and the question.
// Case and surrounding or repeated whitespace do not change the key.
func GenerateCacheKey(provider, message string) string {
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.Join(strings.Fields(message), " "))))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Cache holds provider replies for a fixed TTL. A zero TTL disables it.
type Cache struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time

	evictRunning atomic.Bool
}

func New(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, now: time.Now}
}

// Enabled reports whether replies are cached at all
func (c *Cache) Enabled() bool {
	return c.ttl > 0
}

// Get returns a live cached reply
func (c *Cache) Get(key string) (string, bool) {
	if !c.Enabled() {
		return "", false
	}
	val, ok := c.entries.Load(key)
	if !ok {
		return "", false
	}
	cached := val.(CachedResponse)
	if c.now().Sub(cached.Timestamp) >= c.ttl {
		c.entries.CompareAndDelete(key, val)
		return "", false
	}
	return cached.Response, true
}

// Set stores a reply
func (c *Cache) Set(key, response string) {
	if !c.Enabled() {
		return
	}
	c.entries.Store(key, CachedResponse{
		Response:  response,
		Timestamp: c.now(),
	})
}

// Len returns the number of stored entries, expired ones included
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Prune drops expired entries and returns how many were removed
func (c *Cache) Prune() int {
	now := c.now()
	removed := 0
	c.entries.Range(func(key, val any) bool {
		if now.Sub(val.(CachedResponse).Timestamp) >= c.ttl {
			if c.entries.CompareAndDelete(key, val) {
				removed++
			}
		}
		return true
	})
	return removed
}

// StartEvictionLoop prunes expired entries every interval until ctx is done.
// Calling it while a loop is running is a no-op.
func (c *Cache) StartEvictionLoop(ctx context.Context, interval time.Duration) {
	if !c.Enabled() || interval <= 0 {
		return
	}
	if !c.evictRunning.CompareAndSwap(false, true) {
		return
	}
	go c.runEvictionLoop(ctx, interval)
}

func (c *Cache) runEvictionLoop(ctx context.Context, interval time.Duration) {
	defer c.evictRunning.Store(false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Prune()
		}
	}
}
