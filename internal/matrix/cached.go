package matrix

import (
	"time"

	"github.com/randytsao24/tournee/internal/cache"
)

const masterKey = "master"

// Source provides the current master snapshot
type Source interface {
	Master() (*Snapshot, error)
}

// CachedSource keeps the loaded master in memory for ttl, so a republished
// master is picked up after at most one ttl.
type CachedSource struct {
	store *Store
	cache *cache.Cache[*Snapshot]
}

// NewCachedSource wraps store with a TTL cache
func NewCachedSource(store *Store, ttl time.Duration) *CachedSource {
	return &CachedSource{
		store: store,
		cache: cache.New[*Snapshot](ttl),
	}
}

// Master returns the cached snapshot or loads it from the store. Load
// failures are not cached.
func (c *CachedSource) Master() (*Snapshot, error) {
	return c.cache.GetOrLoad(masterKey, c.store.Load)
}

// Invalidate drops the cached snapshot
func (c *CachedSource) Invalidate() {
	c.cache.Delete(masterKey)
}

// Close stops the cache's cleanup goroutine
func (c *CachedSource) Close() {
	c.cache.Close()
}

// Master loads directly from the store
func (s *Store) Master() (*Snapshot, error) {
	return s.Load()
}
