// Package cache provides the least-recently-used cache that holds computed
// tile partitions keyed by frame geometry.
//
// Cache is owned by a single scheduler and is not safe for concurrent use.
package cache

// Cache is a bounded LRU cache. When an insertion exceeds the capacity the
// least recently used entry is evicted.
type Cache[K comparable, V any] struct {
	entries  map[K]*lruNode[K, V]
	order    lruList[K, V]
	capacity int
	stats    Stats

	// OnEvict is called with every evicted entry.
	OnEvict func(K, V)
}

// Stats counts cache traffic.
type Stats struct {
	Len       int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// New creates a cache holding at most capacity entries. A capacity below one
// is raised to one.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache[K, V]{
		entries:  make(map[K]*lruNode[K, V], capacity),
		capacity: capacity,
	}
}

// Get returns the value stored for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	node, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.stats.Hits++
	c.order.moveToFront(node)
	return node.value, true
}

// Peek returns the value stored for key without touching recency or stats.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	if node, ok := c.entries[key]; ok {
		return node.value, true
	}
	var zero V
	return zero, false
}

// Set stores value for key as the most recently used entry.
func (c *Cache[K, V]) Set(key K, value V) {
	if node, ok := c.entries[key]; ok {
		node.value = value
		c.order.moveToFront(node)
		return
	}
	c.entries[key] = c.order.pushFront(key, value)
	for c.order.len > c.capacity {
		c.evictOldest()
	}
}

// GetOrCompute returns the cached value for key, or calls compute and caches
// its result. Errors are returned without caching. The boolean reports a hit.
func (c *Cache[K, V]) GetOrCompute(key K, compute func() (V, error)) (V, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}
	v, err := compute()
	if err != nil {
		var zero V
		return zero, false, err
	}
	c.Set(key, v)
	return v, false, nil
}

// Delete removes key. It reports whether the key was present.
func (c *Cache[K, V]) Delete(key K) bool {
	node, ok := c.entries[key]
	if !ok {
		return false
	}
	c.order.unlink(node)
	delete(c.entries, key)
	return true
}

// Clear removes every entry. Evicted entries are not reported.
func (c *Cache[K, V]) Clear() {
	clear(c.entries)
	c.order = lruList[K, V]{}
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[K, V]) Stats() Stats {
	s := c.stats
	s.Len = len(c.entries)
	s.Capacity = c.capacity
	return s
}

func (c *Cache[K, V]) evictOldest() {
	node := c.order.removeOldest()
	if node == nil {
		return
	}
	delete(c.entries, node.key)
	c.stats.Evictions++
	if c.OnEvict != nil {
		c.OnEvict(node.key, node.value)
	}
}
