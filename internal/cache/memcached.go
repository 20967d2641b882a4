package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// storagePrefix separates this service's keys from other tenants of a
// shared memcached cluster.
const storagePrefix = "wx:"

// MemcachedCache implements Cache using memcached. Because memcached
// cannot enumerate keys, the client keeps an in-process index of keys it
// has written so Invalidate can delete matching entries; keys written by
// other processes are outside its reach.
type MemcachedCache struct {
	client *memcache.Client

	mu   sync.Mutex
	keys map[string]struct{}
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated
// list (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and
// maxIdleConns configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{
		client: client,
		keys:   make(map[string]struct{}),
	}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (c *MemcachedCache) storageKey(k string) string {
	return storagePrefix + k
}

// Get implements Cache.Get. Returns (nil, false, nil) on cache miss;
// (nil, false, err) when memcached is unreachable. Expiry is enforced by
// memcached itself.
func (c *MemcachedCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	item, err := c.client.Get(c.storageKey(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return nil, false, nil
		}
		return nil, false, err
	}
	return item.Value, true, nil
}

// Set implements Cache.Set. Non-positive TTLs are clamped to defaultTTL,
// as are TTLs beyond memcached's maximum relative expiration.
func (c *MemcachedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	expSec := int32(ttl.Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60 // memcached treats larger values as unix timestamps
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = int32(defaultTTL.Seconds())
	}
	err := c.client.Set(&memcache.Item{
		Key:        c.storageKey(key),
		Value:      value,
		Expiration: expSec,
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.keys[key] = struct{}{}
	c.mu.Unlock()
	return nil
}

// Invalidate deletes every key this process has written that starts with
// prefix. Misses (entries already expired server-side) are ignored.
func (c *MemcachedCache) Invalidate(ctx context.Context, prefix string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.mu.Lock()
	var matched []string
	for k := range c.keys {
		if strings.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	c.mu.Unlock()

	var firstErr error
	for _, k := range matched {
		if err := c.client.Delete(c.storageKey(k)); err != nil && err != memcache.ErrCacheMiss {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		c.mu.Lock()
		delete(c.keys, k)
		c.mu.Unlock()
	}
	return firstErr
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
