package overlay

import (
	"math/big"
	"sort"
	"sync"

	"github.com/epiring/epiring/internal/ring"
)

// NeighborCache is the soft-state pool of peer handles a node has learned
// about. Entries may be stale; the lookup path never trusts them directly,
// it only uses them as query candidates. The cache is bounded: when full,
// inserting evicts the entry farthest from the local node.
type NeighborCache struct {
	local    NodeHandle
	capacity int

	mu      sync.RWMutex
	entries map[string]NodeHandle
}

// NewNeighborCache creates an empty cache owned by the given local node.
func NewNeighborCache(local NodeHandle, capacity int) *NeighborCache {
	if capacity < 1 {
		capacity = 1
	}
	return &NeighborCache{
		local:    local,
		capacity: capacity,
		entries:  make(map[string]NodeHandle, capacity),
	}
}

// Add learns a handle. The local node itself and unspecified handles are
// ignored. Returns true if the cache changed.
func (c *NeighborCache) Add(h NodeHandle) bool {
	if h.IsUnspecified() || h.Equals(c.local) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := h.KeyHex()
	if _, ok := c.entries[key]; ok {
		return false
	}

	if len(c.entries) >= c.capacity {
		c.evictFarthest()
	}

	c.entries[key] = h.Copy()
	return true
}

// evictFarthest drops the entry with the greatest ring proximity distance
// from the local node. Caller holds the lock.
func (c *NeighborCache) evictFarthest() {
	var farKey string
	var farDist *big.Int

	for k, h := range c.entries {
		d := ring.Proximity(c.local.Key, h.Key)
		if farDist == nil || d.Cmp(farDist) > 0 {
			farDist = d
			farKey = k
		}
	}

	if farKey != "" {
		delete(c.entries, farKey)
	}
}

// Remove forgets a handle, typically on dead-node evidence.
func (c *NeighborCache) Remove(h NodeHandle) {
	if h.IsUnspecified() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, h.KeyHex())
}

// Closest returns up to n cached handles ordered by clockwise distance from
// the target, nearest first. The ordering is unidirectional on purpose: a
// key's owner is its successor, so the best referral for a target is the
// first cached node at or after it on the ring, never a node just before it.
func (c *NeighborCache) Closest(target *big.Int, n int) []NodeHandle {
	c.mu.RLock()
	all := make([]NodeHandle, 0, len(c.entries))
	for _, h := range c.entries {
		all = append(all, h.Copy())
	}
	c.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return ring.Distance(target, all[i].Key).Cmp(ring.Distance(target, all[j].Key)) < 0
	})

	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// Len returns the number of cached handles.
func (c *NeighborCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
