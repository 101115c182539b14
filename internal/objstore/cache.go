package objstore

import (
	"context"
	"sync"
	"time"
)

// Cache holds fetched regulation text for its TTL. Two backends exist: the
// default in-process memory cache and a Redis-backed cache shared across
// processes, selected at bootstrap.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, content string)
	Len(ctx context.Context) int
}

type memoryEntry struct {
	content   string
	timestamp time.Time
}

// MemoryCache is a TTL-bounded in-process cache. Expired entries are purged
// lazily on the next lookup, not by a background timer.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().Sub(entry.timestamp) >= c.ttl {
		delete(c.entries, key)
		return "", false
	}
	return entry.content, true
}

func (c *MemoryCache) Set(_ context.Context, key, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{content: content, timestamp: c.now()}
}

func (c *MemoryCache) Len(_ context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memoryEntry)
}
