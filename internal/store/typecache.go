package store

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultTypeCacheSize bounds the notification type cache.
const DefaultTypeCacheSize = 1024

// TypeCache memoizes notification types by name. Values handed out are
// copies, so callers never alias the cached entry.
type TypeCache struct {
	lru *lru.Cache[string, NotificationType]

	// OnHit and OnMiss are optional counters.
	OnHit  func()
	OnMiss func()
}

// NewTypeCache creates a cache bounded to size entries.
func NewTypeCache(size int) (*TypeCache, error) {
	if size <= 0 {
		size = DefaultTypeCacheSize
	}
	c, err := lru.New[string, NotificationType](size)
	if err != nil {
		return nil, fmt.Errorf("create type cache: %w", err)
	}
	return &TypeCache{lru: c}, nil
}

// Get returns a copy of the cached type.
func (c *TypeCache) Get(name string) (NotificationType, bool) {
	t, ok := c.lru.Get(name)
	if !ok {
		if c.OnMiss != nil {
			c.OnMiss()
		}
		return NotificationType{}, false
	}
	if c.OnHit != nil {
		c.OnHit()
	}
	return copyType(t), true
}

// Add stores a copy of t.
func (c *TypeCache) Add(t NotificationType) {
	c.lru.Add(t.Name, copyType(t))
}

// Invalidate drops the entry for name.
func (c *TypeCache) Invalidate(name string) {
	c.lru.Remove(name)
}

// Len reports the number of cached types.
func (c *TypeCache) Len() int {
	return c.lru.Len()
}

func copyType(t NotificationType) NotificationType {
	t.RendererContext = CopyMap(t.RendererContext)
	return t
}
