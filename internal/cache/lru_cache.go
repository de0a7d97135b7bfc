// Package cache provides the LRU block cache that sits in front of table
// files.
//
// Cached blocks are immutable decompressed byte slices, so a lookup hands out
// the slice directly instead of a pinned handle.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Key identifies a cached block.
type Key struct {
	FileNumber  uint64
	BlockOffset uint64
}

type entry struct {
	key   Key
	value []byte
}

// LRUCache is a byte-capacity LRU cache safe for concurrent use.
type LRUCache struct {
	mu       sync.Mutex
	capacity uint64
	usage    uint64
	table    map[Key]*list.Element
	lru      *list.List // front = most recently used

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewLRUCache creates a cache holding up to capacity bytes. A zero capacity
// disables caching.
func NewLRUCache(capacity uint64) *LRUCache {
	return &LRUCache{
		capacity: capacity,
		table:    make(map[Key]*list.Element),
		lru:      list.New(),
	}
}

// Lookup returns the block for key.
func (c *LRUCache) Lookup(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.table[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.lru.MoveToFront(elem)
	return elem.Value.(*entry).value, true
}

// Insert adds or replaces the block for key, evicting least recently used
// blocks until usage fits the capacity. Blocks larger than the capacity are
// not cached.
func (c *LRUCache) Insert(key Key, value []byte) {
	charge := uint64(len(value))
	c.mu.Lock()
	defer c.mu.Unlock()
	if charge > c.capacity {
		return
	}
	if elem, ok := c.table[key]; ok {
		c.removeLocked(elem)
	}
	c.table[key] = c.lru.PushFront(&entry{key: key, value: value})
	c.usage += charge
	for c.usage > c.capacity {
		c.removeLocked(c.lru.Back())
	}
}

// EraseFile drops every block of a table file.
func (c *LRUCache) EraseFile(fileNumber uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, elem := range c.table {
		if key.FileNumber == fileNumber {
			c.removeLocked(elem)
		}
	}
}

func (c *LRUCache) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry)
	c.lru.Remove(elem)
	delete(c.table, e.key)
	c.usage -= uint64(len(e.value))
}

// Usage returns the bytes currently cached.
func (c *LRUCache) Usage() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Capacity returns the configured capacity.
func (c *LRUCache) Capacity() uint64 {
	return c.capacity
}

// Len returns the number of cached blocks.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.table)
}

// Stats returns the hit and miss counters.
func (c *LRUCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
