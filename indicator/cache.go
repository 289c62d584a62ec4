/*
cache.go - Time-bounded memoization of user status lookups

PURPOSE:
  Account-active checks run on nearly every request but the underlying
  flag changes rarely. StatusCache memoizes the boolean per key with a
  TTL, and deduplicates concurrent lookups of the same key so a burst of
  requests produces exactly one store call.

  The cache is an explicit, injected object. Nothing here is package-level
  state; each owner constructs its own instance.

DEDUPLICATION:
  The first caller for a cold key becomes the fetcher; later callers for
  the same key park on the in-flight entry and share its result. Failed
  fetches are not cached, so the next caller retries.
*/
package indicator

import (
	"context"
	"sync"
	"time"
)

// StatusCache is a TTL-bounded, deduplicating cache of boolean lookups.
type StatusCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	pending map[string]*inflight

	now func() time.Time // test seam
}

type cacheEntry struct {
	value     bool
	expiresAt time.Time
}

type inflight struct {
	done  chan struct{}
	value bool
	err   error
}

// DefaultStatusTTL matches the 2-minute expiry the dashboards settled on.
const DefaultStatusTTL = 2 * time.Minute

// NewStatusCache creates a cache with the given TTL. A non-positive TTL
// falls back to DefaultStatusTTL.
func NewStatusCache(ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &StatusCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		pending: make(map[string]*inflight),
		now:     time.Now,
	}
}

// GetOrFetch returns the cached value for key, or runs fetch and caches
// its result. Concurrent calls for the same cold key share one fetch.
func (c *StatusCache) GetOrFetch(ctx context.Context, key string, fetch func(context.Context) (bool, error)) (bool, error) {
	c.mu.Lock()

	if e, ok := c.entries[key]; ok && c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.value, nil
	}

	if fl, ok := c.pending[key]; ok {
		c.mu.Unlock()
		select {
		case <-fl.done:
			return fl.value, fl.err
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	fl := &inflight{done: make(chan struct{})}
	c.pending[key] = fl
	c.mu.Unlock()

	fl.value, fl.err = fetch(ctx)

	c.mu.Lock()
	delete(c.pending, key)
	if fl.err == nil {
		c.entries[key] = cacheEntry{value: fl.value, expiresAt: c.now().Add(c.ttl)}
	}
	c.mu.Unlock()
	close(fl.done)

	return fl.value, fl.err
}

// Invalidate drops the cached value for one key.
func (c *StatusCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear drops every cached value. In-flight fetches are unaffected.
func (c *StatusCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}
