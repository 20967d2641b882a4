package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// defaultTTL replaces non-positive TTLs on Set. Entries are never stored
// without an expiry.
const defaultTTL = time.Hour

// Cache defines the interface for serialized weather data caching backends.
// Get returns the stored value only if present and not expired; expired
// entries behave exactly like absent ones. Invalidate removes every entry
// whose key starts with prefix and is a no-op when nothing matches.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, prefix string) error
}

// Key builds a deterministic cache key from a namespace and components.
// Components are trimmed and lower-cased before joining with ":" so that
// "Moscow", "moscow" and " MOSCOW " all produce the same key.
func Key(namespace string, components ...string) string {
	parts := make([]string, 0, len(components)+1)
	parts = append(parts, namespace)
	for _, c := range components {
		parts = append(parts, strings.ToLower(strings.TrimSpace(c)))
	}
	return strings.Join(parts, ":")
}

// InMemoryCache implements Cache using a map with TTL-based expiration.
// Expired entries are evicted lazily on access. Safe for concurrent use.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
}

// cacheEntry stores a serialized value with its expiration timestamp.
type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
	}
}

// Get retrieves the value for key if present and not expired.
// Returns (value, true, nil) on hit and (nil, false, nil) on miss or
// expiration. Expired entries are removed on access.
func (c *InMemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have refreshed it.
		if cur, ok := c.data[key]; ok && time.Now().After(cur.expiresAt) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}

	return entry.value, true, nil
}

// Set stores value under key with expiration now + ttl, overwriting any
// prior entry. Non-positive TTLs are clamped to defaultTTL so nothing is
// ever stored permanently.
func (c *InMemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	c.mu.Lock()
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
	return nil
}

// Invalidate removes all entries whose key starts with prefix.
// Safe to call when no keys match.
func (c *InMemoryCache) Invalidate(ctx context.Context, prefix string) error {
	c.mu.Lock()
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			delete(c.data, k)
		}
	}
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, including not-yet-evicted
// expired ones. Used by tests and stats.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
