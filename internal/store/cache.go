// Package store implements the proxy's three shared, in-process stores:
// the response cache, the host denylist, and the audit log. Every
// operation is safe for concurrent use and enumeration returns a
// snapshot rather than a live view, so handlers never hold a store lock
// across I/O.
package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CacheBackend optionally durably persists cache entries alongside the
// in-process map. Cache logs every backend failure and keeps the
// in-memory copy; only Insert reports one, by returning the error.
type CacheBackend interface {
	Set(ctx context.Context, url string, body []byte) error
	Get(ctx context.Context, url string) ([]byte, bool, error)
	Delete(ctx context.Context, url string) error
}

// Cache maps an absolute request URL to the raw response bytes captured
// verbatim from the origin. There is no size limit, no expiry, and no
// partial update: a key is either absent or holds one whole entry.
type Cache struct {
	mu      sync.RWMutex
	entries map[string][]byte
	backend CacheBackend
	log     *zap.Logger
}

// NewCache constructs an empty cache. backend may be nil, in which case
// the cache is purely in-memory.
func NewCache(backend CacheBackend, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		entries: make(map[string][]byte),
		backend: backend,
		log:     log.Named("cache"),
	}
}

// Lookup returns the cached bytes for url, if any.
func (c *Cache) Lookup(url string) ([]byte, bool) {
	c.mu.RLock()
	b, ok := c.entries[url]
	c.mu.RUnlock()
	if ok {
		return b, true
	}
	if c.backend == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	body, found, err := c.backend.Get(ctx, url)
	if err != nil {
		c.log.Warn("backend lookup failed", zap.String("url", url), zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}
	c.mu.Lock()
	c.entries[url] = body
	c.mu.Unlock()
	return body, true
}

// Insert stores body under url, replacing any prior entry wholesale.
// It returns an error only when the optional durable backend fails;
// the in-memory copy is always updated first, so a backend error never
// loses the entry for the lifetime of this process.
func (c *Cache) Insert(url string, body []byte) error {
	c.mu.Lock()
	c.entries[url] = body
	c.mu.Unlock()

	if c.backend == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.backend.Set(ctx, url, body); err != nil {
		c.log.Warn("backend insert failed", zap.String("url", url), zap.Error(err))
		return err
	}
	return nil
}

// Enumerate returns a snapshot of all cached URLs.
func (c *Cache) Enumerate() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	urls := make([]string, 0, len(c.entries))
	for u := range c.entries {
		urls = append(urls, u)
	}
	return urls
}

// Size reports the number of cached entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Purge clears every entry from the cache, in-memory and backend alike.
func (c *Cache) Purge() {
	c.mu.Lock()
	urls := make([]string, 0, len(c.entries))
	for u := range c.entries {
		urls = append(urls, u)
	}
	c.entries = make(map[string][]byte)
	c.mu.Unlock()

	if c.backend == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, u := range urls {
		if err := c.backend.Delete(ctx, u); err != nil {
			c.log.Warn("backend purge failed", zap.String("url", u), zap.Error(err))
		}
	}
}
