package cache

import (
	"sync"
	"time"
)

// Entry holds a cached value and when it was fetched
type Entry[V any] struct {
	Value     V
	FetchedAt time.Time
}


// Cache is a keyed store whose entries live for the whole process. Subvolume
// listings are cached here per device identity; they never expire because
// a device's subvolumes do not change while it is only mounted by us.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]*Entry[V]
}

// New creates a new cache instance
func New[V any]() *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]*Entry[V]),
	}
}

// Get retrieves a value from cache
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return entry.Value, true
}

// FetchedAt reports when the value for key was stored
func (c *Cache[V]) FetchedAt(key string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return entry.FetchedAt, true
}

// GetOrFetch returns the cached value for key, calling fetch and storing
// its result on a miss. Failed fetches are not cached.
func (c *Cache[V]) GetOrFetch(key string, fetch func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := fetch()
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

// Set stores a value
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &Entry[V]{
		Value:     value,
		FetchedAt: time.Now(),
	}
}

// Len returns the number of cached entries; every successful fetch adds
// one
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
