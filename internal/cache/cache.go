package cache

import (
	"encoding/json"
	"sync"
	"time"
)

// Cache holds the latest run report, pre-serialized for the status endpoint.
type Cache struct {
	mu        sync.RWMutex
	data      []byte
	updatedAt time.Time
	now       func() time.Time
}

func New() *Cache {
	return &Cache{now: time.Now}
}

// Store serializes v and replaces the cached bytes. On error the previous
// value is kept.
func (c *Cache) Store(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.data = data
	c.updatedAt = c.now()
	c.mu.Unlock()
	return nil
}

// Bytes returns a copy of the cached JSON, or nil if nothing was stored yet.
func (c *Cache) Bytes() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil {
		return nil
	}
	out := make([]byte, len(c.data))
	copy(out, c.data)
	return out
}

// UpdatedAt returns the last time the cache was updated.
func (c *Cache) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}
