// Package memory provides an in-memory implementation of the
// sessioncache.Cache interface for tests and single-process
// deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tiangong-lca/mcp-server-go/sessioncache"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Cache implements sessioncache.Cache with a mutex-guarded map and lazy
// expiry on read.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// New creates an empty in-memory cache.
func New() *Cache {
	return &Cache{entries: make(map[string]entry), now: time.Now}
}

// SetClock overrides the time source. Intended for tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get retrieves the value stored under key, dropping it if expired.
func (c *Cache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// SetEx stores value under key with the given TTL.
func (c *Cache) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

// Expire refreshes the TTL of an existing entry; missing keys are a
// no-op.
func (c *Cache) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.expiresAt = c.now().Add(ttl)
		c.entries[key] = e
	}
	return nil
}

// Close clears the cache.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	return nil
}

// TTL reports the remaining lifetime of an entry. Intended for tests.
func (c *Cache) TTL(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	rem := e.expiresAt.Sub(c.now())
	if rem <= 0 {
		return 0, false
	}
	return rem, true
}

// Compile-time interface check
var _ sessioncache.Cache = (*Cache)(nil)
