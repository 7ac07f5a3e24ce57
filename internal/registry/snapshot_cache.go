package registry

import (
	"sync"
	"time"
)

// snapshotCache holds one short-lived copy of the last EnumerateDatabases
// result. It's a narrower cousin of the teacher's byte-oriented
// internal/cache.MemoryCache: there's only ever one entry (the whole
// namespace's database list), so there's no LRU eviction or size
// accounting, only a TTL check, matching the teacher's expiry logic in
// MemoryCache.Get/removeExpired.
type snapshotCache struct {
	mu        sync.Mutex
	databases []ManagedDatabase
	expiresAt time.Time
	ttl       time.Duration
}

func newSnapshotCache(ttlSeconds int) *snapshotCache {
	ttl := time.Duration(ttlSeconds) * time.Second
	if ttl <= 0 {
		ttl = 20 * time.Second
	}
	return &snapshotCache{ttl: ttl}
}

func (c *snapshotCache) get() ([]ManagedDatabase, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.expiresAt.IsZero() || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.databases, true
}

func (c *snapshotCache) set(dbs []ManagedDatabase) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.databases = dbs
	c.expiresAt = time.Now().Add(c.ttl)
}

func (c *snapshotCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expiresAt = time.Time{}
}
