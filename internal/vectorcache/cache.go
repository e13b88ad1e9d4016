// Package vectorcache provides a bounded LRU cache for embedding vectors.
//
// Unlike a plain count-bounded LRU, this cache also enforces a byte budget:
// on every Put the least-recently-used entries are evicted until both the
// entry-count and memory invariants hold again.
package vectorcache

import (
	"container/list"
	"sync"
)

const (
	// DefaultMaxEntries is the default entry-count budget.
	DefaultMaxEntries = 10000
	// DefaultMaxBytes is the default memory budget (100 MB).
	DefaultMaxBytes = 100 * 1024 * 1024

	// bytesPerElement is the per-element cost estimate. The estimate only has
	// to be monotonic and consistent, not exact.
	bytesPerElement = 8
)

type entry struct {
	key    string
	vector []float32
	bytes  int64
}

// Cache is a thread-safe LRU cache mapping cache keys to embedding vectors,
// bounded by both entry count and estimated memory.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int64
	totalBytes int64
	lru        *list.List // front = most recently used
	entries    map[string]*list.Element
}

// New creates a cache with the given budgets. Non-positive budgets fall back
// to defaults.
func New(maxEntries int, maxBytes int64) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Cache{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		lru:        list.New(),
		entries:    make(map[string]*list.Element),
	}
}

// Get returns a copy of the cached vector for key, marking the entry most
// recently used. The copy prevents caller mutations from polluting the cache.
func (c *Cache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(elem)

	v := elem.Value.(*entry).vector
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

// Put stores a vector under key. Any existing entry for the key is removed
// first, then LRU entries are evicted until both budgets hold. If the new
// entry alone exceeds the byte budget the cache degenerates to holding only
// that entry.
func (c *Cache) Put(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeElement(elem)
	}

	cost := estimateBytes(vector)

	// Evict oldest-first until the new entry fits both budgets. Eviction
	// never fails: at worst the cache empties out entirely.
	for c.lru.Len() > 0 && (c.lru.Len()+1 > c.maxEntries || c.totalBytes+cost > c.maxBytes) {
		c.removeElement(c.lru.Back())
	}

	stored := make([]float32, len(vector))
	copy(stored, vector)

	elem := c.lru.PushFront(&entry{key: key, vector: stored, bytes: cost})
	c.entries[key] = elem
	c.totalBytes += cost
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Init()
	c.entries = make(map[string]*list.Element)
	c.totalBytes = 0
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// MemoryBytes returns the estimated total bytes held by the cache.
func (c *Cache) MemoryBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalBytes
}

func (c *Cache) removeElement(elem *list.Element) {
	e := elem.Value.(*entry)
	c.lru.Remove(elem)
	delete(c.entries, e.key)
	c.totalBytes -= e.bytes
}

func estimateBytes(vector []float32) int64 {
	return int64(len(vector)) * bytesPerElement
}
