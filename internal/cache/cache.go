// Package cache provides the process-wide TTL caches shared by the tenant
// store and the rule compiler. Entries are bounded by count and by age; there
// is no cross-process invalidation.
package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Policy selects how an entry's lifetime is measured.
type Policy int

const (
	// ExpireAfterWrite drops an entry a fixed time after it was stored.
	ExpireAfterWrite Policy = iota
	// ExpireAfterAccess drops an entry a fixed time after it was last read or stored.
	ExpireAfterAccess
)

// Cache is a string-keyed TTL cache backed by ristretto.
type Cache[V any] struct {
	store  *ristretto.Cache[string, V]
	ttl    time.Duration
	policy Policy
}

// New constructs a cache holding up to maxEntries values for ttl.
func New[V any](maxEntries int64, ttl time.Duration, policy Policy) (*Cache[V], error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("cache: max entries must be positive")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cache: ttl must be positive")
	}
	store, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &Cache[V]{store: store, ttl: ttl, policy: policy}, nil
}

// Get returns the cached value for key.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.store.Get(key)
	if ok && c.policy == ExpireAfterAccess {
		c.store.SetWithTTL(key, v, 1, c.ttl)
	}
	return v, ok
}

// Set stores value and waits until it is visible to Get.
func (c *Cache[V]) Set(key string, value V) {
	c.store.SetWithTTL(key, value, 1, c.ttl)
	c.store.Wait()
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.store.Del(key)
}

// Close stops ristretto's background goroutines.
func (c *Cache[V]) Close() {
	c.store.Close()
}
