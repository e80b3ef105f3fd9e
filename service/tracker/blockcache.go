package tracker

import "sync"

// DefaultBlockCacheSize bounds how many block timestamps are remembered.
const DefaultBlockCacheSize = 256

// BlockCache remembers recent height to timestamp pairs seen on the block
// topic so that confirmations usually settle without a REST lookup. The oldest
// insert is evicted first.
type BlockCache struct {
	mu     sync.Mutex
	size   int
	ts     map[uint64]uint64
	order  []uint64
	latest uint64
}

// NewBlockCache creates a cache holding up to size entries.
func NewBlockCache(size int) *BlockCache {
	if size <= 0 {
		size = DefaultBlockCacheSize
	}
	return &BlockCache{
		size: size,
		ts:   make(map[uint64]uint64, size),
	}
}

// Put records the timestamp of height.
func (c *BlockCache) Put(height, timestamp uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if height > c.latest {
		c.latest = height
	}
	if _, ok := c.ts[height]; ok {
		c.ts[height] = timestamp
		return
	}
	c.ts[height] = timestamp
	c.order = append(c.order, height)
	for len(c.order) > c.size {
		delete(c.ts, c.order[0])
		c.order = c.order[1:]
	}
}

// Get returns the timestamp of height if cached.
func (c *BlockCache) Get(height uint64) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.ts[height]
	return ts, ok
}

// Latest returns the greatest height seen, or zero.
func (c *BlockCache) Latest() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// Len returns the number of cached entries.
func (c *BlockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ts)
}
