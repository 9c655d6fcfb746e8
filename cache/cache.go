// Package cache is the fast shared tier in front of the persistent store.
// Entries are disposable projections; every write is best-effort and a miss
// is never an error.
package cache

import (
	"log"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// Cache is a namespaced string-keyed byte cache with per-entry TTL.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}

// Key joins namespace parts into a cache key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Memcached is the memcache-backed Cache used in production.
type Memcached struct {
	mc *memcache.Client
}

func NewMemcached(mc *memcache.Client) *Memcached {
	return &Memcached{mc: mc}
}

func (c *Memcached) Get(key string) ([]byte, bool) {
	item, err := c.mc.Get(key)
	if err != nil {
		return nil, false
	}
	return item.Value, true
}

func (c *Memcached) Set(key string, value []byte, ttl time.Duration) {
	err := c.mc.Set(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: int32(ttl / time.Second),
	})
	if err != nil {
		log.Printf("cache: set %s: %v", key, err)
	}
}

func (c *Memcached) Delete(key string) {
	err := c.mc.Delete(key)
	if err != nil && err != memcache.ErrCacheMiss {
		log.Printf("cache: delete %s: %v", key, err)
	}
}
