package cache

import (
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

/*
	Get-or-compute TTL cache used by the credential proxy. Each resource
	carries its own TTL and an optional "considered empty" predicate: an
	empty compute result is handed back to the caller but never stored,
	forcing a fresh fetch on the next read.

	Concurrent callers racing an expired entry will each run the compute
	function. That stampede is accepted; entries here are cheap to
	re-fetch and last-write-wins.
*/

type Cache[T any] struct {
	logger *slog.Logger
	store  *ttlcache.Cache[string, T]
}

func New[T any](logger *slog.Logger) *Cache[T] {
	store := ttlcache.New[string, T](
		// Reads must not extend lifetimes; a hot key would otherwise
		// never re-fetch and drift stale past its TTL.
		ttlcache.WithDisableTouchOnHit[string, T](),
	)
	go store.Start()

	return &Cache[T]{
		logger: logger.WithGroup("cache"),
		store:  store,
	}
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache[T]) Get(key string) (T, bool) {
	item := c.store.Get(key)
	if item == nil {
		var zero T
		return zero, false
	}
	if item.IsExpired() {
		c.store.Delete(key)
		var zero T
		return zero, false
	}
	return item.Value(), true
}

// GetOrCompute returns the cached value for key, or invokes compute and
// stores the result for ttl. If isEmpty is non-nil and reports true for
// the computed value, the value is returned but not stored.
func (c *Cache[T]) GetOrCompute(
	key string,
	ttl time.Duration,
	compute func() (T, error),
	isEmpty func(T) bool,
) (T, error) {

	if value, ok := c.Get(key); ok {
		c.logger.Debug("cache hit", "key", key)
		return value, nil
	}
	c.logger.Debug("cache miss", "key", key)

	value, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}

	if isEmpty != nil && isEmpty(value) {
		c.logger.Debug("not caching empty result", "key", key)
		return value, nil
	}

	c.store.Set(key, value, ttl)
	return value, nil
}

// Invalidate drops the entry for key. Invalidation is local-only; peers
// that cached a proxied copy of this value still rely on TTL expiry.
func (c *Cache[T]) Invalidate(key string) {
	c.logger.Debug("invalidate", "key", key)
	c.store.Delete(key)
}

func (c *Cache[T]) Stop() {
	c.store.Stop()
}
