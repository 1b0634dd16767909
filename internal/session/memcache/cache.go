// Package memcache is an in-process session resolution cache.
package memcache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/openkcm/session-gateway/internal/idp"
	"github.com/openkcm/session-gateway/internal/session"
)

type Cache struct {
	c *gocache.Cache
}

var _ session.Cache = (*Cache)(nil)

// New returns a cache that evicts expired entries every cleanupInterval.
func New(cleanupInterval time.Duration) *Cache {
	return &Cache{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (c *Cache) Get(_ context.Context, key string) (idp.Session, bool) {
	v, ok := c.c.Get(key)
	if !ok {
		return idp.Session{}, false
	}

	s, ok := v.(idp.Session)
	return s, ok
}

func (c *Cache) Set(_ context.Context, key string, s idp.Session, ttl time.Duration) {
	c.c.Set(key, s, ttl)
}

func (c *Cache) Delete(_ context.Context, key string) {
	c.c.Delete(key)
}

// Len returns the number of cached entries, including expired ones not yet evicted.
func (c *Cache) Len() int {
	return c.c.ItemCount()
}
