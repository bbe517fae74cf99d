package lora

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/samcharles93/loraspect/internal/tensor"
)

// DefaultCacheSize bounds how many reconstructed weights a File keeps.
const DefaultCacheSize = 16

// weightCache is a least-recently-used cache of reconstructed weights.
// Insertion order in the map doubles as recency order: the oldest pair is
// the next eviction.
type weightCache struct {
	mu       sync.Mutex
	capacity int
	entries  *orderedmap.OrderedMap[string, *tensor.Tensor]
}

func newWeightCache(capacity int) *weightCache {
	return &weightCache{
		capacity: capacity,
		entries:  orderedmap.New[string, *tensor.Tensor](),
	}
}

// get returns a copy of the cached tensor and marks it most recent.
func (c *weightCache) get(key string) (*tensor.Tensor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	_ = c.entries.MoveToBack(key)
	return t.Clone(), true
}

// put stores a copy of t and reports how many entries were evicted.
func (c *weightCache) put(key string, t *tensor.Tensor) int {
	if c.capacity <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Set(key, t.Clone())
	_ = c.entries.MoveToBack(key)
	evicted := 0
	for c.entries.Len() > c.capacity {
		oldest := c.entries.Oldest()
		c.entries.Delete(oldest.Key)
		evicted++
	}
	return evicted
}

func (c *weightCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func (c *weightCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = orderedmap.New[string, *tensor.Tensor]()
}
