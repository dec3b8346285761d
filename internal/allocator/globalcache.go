package allocator

import (
	"sync/atomic"

	"github.com/orizon-lang/slabmem/internal/slab"
)

// GlobalCache is the one-shared-slot-per-cache-class cache sitting between
// a thread heap's own local cache and the OS. Claim and TryInstall are both
// single CAS operations; the cache never blocks and never queues more than
// one block per cache-class.
type GlobalCache struct {
	slots []atomic.Pointer[slab.Block]
}

// NewGlobalCache allocates a cache with one slot per cache-class.
func NewGlobalCache(cacheClasses int) *GlobalCache {
	return &GlobalCache{slots: make([]atomic.Pointer[slab.Block], cacheClasses)}
}

// Claim removes and returns the block cached for cc, or nil if the slot is
// empty. Safe for concurrent callers; exactly one wins any given block.
func (g *GlobalCache) Claim(cc int) *slab.Block {
	for {
		b := g.slots[cc].Load()
		if b == nil {
			return nil
		}
		if g.slots[cc].CompareAndSwap(b, nil) {
			return b
		}
	}
}

// TryInstall places b into cc's slot if it is currently empty. Reports
// whether it won the race; on failure the caller must fall back to
// unmapping the block itself.
func (g *GlobalCache) TryInstall(cc int, b *slab.Block) bool {
	return g.slots[cc].CompareAndSwap(nil, b)
}

// Occupied reports whether cc's slot currently holds a block, for the
// diagnostic dump.
func (g *GlobalCache) Occupied(cc int) bool {
	return g.slots[cc].Load() != nil
}

// NumSlots returns the number of cache-class slots.
func (g *GlobalCache) NumSlots() int { return len(g.slots) }
