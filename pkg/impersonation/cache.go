package impersonation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryCache keeps entries in process memory. Values are copied in and
// out, so readers never observe a partially written entry.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Entry), now: time.Now}
}

// Get returns a copy of the entry, or ErrCacheMiss when it is absent or
// expired.
func (c *MemoryCache) Get(_ context.Context, key string) (*Entry, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.ExpiresAt) {
		return nil, ErrCacheMiss
	}
	return &e, nil
}

// Set stores a copy of e and drops expired entries.
func (c *MemoryCache) Set(_ context.Context, key string, e *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, v := range c.entries {
		if !now.Before(v.ExpiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = *e
	return nil
}

// Delete removes the entry.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RedisCache shares entries between replicas. Each entry is a JSON value
// whose TTL ends at the token expiry.
type RedisCache struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// NewRedisCache creates a cache on an existing client. Keys are written as
// <keyPrefix>impersonation:<key>.
func NewRedisCache(client redis.UniversalClient, keyPrefix string) *RedisCache {
	return &RedisCache{client: client, keyPrefix: keyPrefix, now: time.Now}
}

func (c *RedisCache) key(k string) string {
	return c.keyPrefix + "impersonation:" + k
}

// Get loads and decodes the entry.
func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("loading impersonation token: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding impersonation token: %w", err)
	}
	return &e, nil
}

// Set stores e until its expiry. Already expired entries are not written.
func (c *RedisCache) Set(ctx context.Context, key string, e *Entry) error {
	ttl := e.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding impersonation token: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("storing impersonation token: %w", err)
	}
	return nil
}

// Delete removes the entry.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("deleting impersonation token: %w", err)
	}
	return nil
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)
