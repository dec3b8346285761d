// Package allocator is the front door of the slab memory allocator: a
// process-wide Allocator coordinating per-thread Heaps, one global block
// cache, and the large-object fallback, plus the package-level
// Initialize/Shutdown/Global/AcquireHeap convenience wrappers most callers
// use instead of holding an *Allocator directly.
package allocator

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/orizon-lang/slabmem/internal/largeobj"
	"github.com/orizon-lang/slabmem/internal/sizeclass"
	"github.com/orizon-lang/slabmem/internal/sysmem"
)

// Config collects the tunables an Allocator is built from.
type Config struct {
	// Mapper is the OS-memory gateway every block and large object is
	// backed by. Production code leaves this at sysmem.New(); tests
	// substitute sysmemmock.
	Mapper sysmem.Mapper
	// Tunables parameterizes the size-class table.
	Tunables sizeclass.Tunables
	// LargeTableCapacity bounds how many large objects may be concurrently
	// live before Alloc aborts with LargeTableExhausted.
	LargeTableCapacity int
}

// Option mutates a Config during New/Initialize.
type Option func(*Config)

func defaultConfig() *Config {
	m := sysmem.New()
	return &Config{
		Mapper:             m,
		Tunables:           sizeclass.Default(m.PageSize()),
		LargeTableCapacity: 4096,
	}
}

// WithMapper overrides the OS-memory gateway.
func WithMapper(m sysmem.Mapper) Option {
	return func(c *Config) { c.Mapper = m }
}

// WithTunables overrides the size-class table's tunables.
func WithTunables(t sizeclass.Tunables) Option {
	return func(c *Config) { c.Tunables = t }
}

// WithLargeTableCapacity overrides the large-object table's slot count.
func WithLargeTableCapacity(n int) Option {
	return func(c *Config) { c.LargeTableCapacity = n }
}

// Allocator is the process-wide allocator core: the immutable size-class
// table, the OS-memory gateway, the global block cache, and the
// large-object table. It issues Heaps but never itself holds block state
// that a single thread would own.
type Allocator struct {
	table       *sizeclass.Table
	mapper      sysmem.Mapper
	globalCache *GlobalCache
	large       *largeobj.Table

	nextHeapID atomic.Uint64
	heaps      sync.Map // uint64 -> *Heap, for the diagnostic dump only

	// orphaned keeps every block that still holds live objects but whose
	// owner has exited reachable for the garbage collector: once a block
	// leaves its owner's class list it is linked nowhere a normal Go value
	// would trace, and a live user pointer into its mapped region does not
	// by itself keep the separate *slab.Block header alive. An entry is
	// removed the moment some heap adopts the block.
	orphaned sync.Map // *slab.Block -> struct{}
}

// New builds an Allocator from opts, defaulting to a real OS mapper and the
// specification's default size-class tunables.
func New(opts ...Option) *Allocator {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	table := sizeclass.Build(cfg.Tunables)

	return &Allocator{
		table:       table,
		mapper:      cfg.Mapper,
		globalCache: NewGlobalCache(table.NumCacheClasses()),
		large:       largeobj.New(cfg.Mapper, cfg.LargeTableCapacity),
	}
}

// AcquireHeap hands back a fresh per-thread Heap. The caller owns it
// exclusively until it calls Heap.Close — there is no implicit handoff.
func (a *Allocator) AcquireHeap() *Heap {
	id := a.nextHeapID.Add(1)
	h := newHeap(id, a)
	a.heaps.Store(id, h)

	return h
}

func (a *Allocator) forgetHeap(id uint64) {
	a.heaps.Delete(id)
}

// Table exposes the immutable size-class table, mostly for diagnostics and
// tests that want to assert on class shapes directly.
func (a *Allocator) Table() *sizeclass.Table { return a.table }

// DumpHeap renders one heap's per-class list lengths and local cache
// occupancy. Diagnostic only; not specified bit-exactly by design.
func (a *Allocator) DumpHeap(h *Heap) string {
	var b strings.Builder

	fmt.Fprintf(&b, "heap %d:\n", h.ID())
	for c := 0; c < a.table.NumClasses(); c++ {
		fmt.Fprintf(&b, "  class %d: %d blocks\n", c, h.ClassListLen(c))
	}
	for cc := 0; cc < a.table.NumCacheClasses(); cc++ {
		fmt.Fprintf(&b, "  local cache[%d]: occupied=%v\n", cc, h.LocalCacheOccupied(cc))
	}

	return b.String()
}

// DumpGlobalCache renders which cache-class slots currently hold a block.
func (a *Allocator) DumpGlobalCache() string {
	var b strings.Builder

	fmt.Fprintln(&b, "global cache:")
	for cc := 0; cc < a.globalCache.NumSlots(); cc++ {
		fmt.Fprintf(&b, "  slot[%d]: occupied=%v\n", cc, a.globalCache.Occupied(cc))
	}

	return b.String()
}

// DumpLargeObjectTable renders the large-object table's occupancy.
func (a *Allocator) DumpLargeObjectTable() string {
	return fmt.Sprintf("large-object table: %d/%d live\n", a.large.LiveCount(), a.large.Capacity())
}

// Global allocator singleton and convenience wrappers.
//
// Most callers never build an *Allocator directly: they call Initialize
// once at process start and then AcquireHeap/Alloc/Free/Resize, mirroring
// the source's process-lifecycle constructor/destructor hooks (see
// SPEC_FULL.md's ambient-stack notes on this package).

var global atomic.Pointer[Allocator]

// Initialize builds the process-wide Allocator. It corresponds to the
// source's one-time startup hook that initializes the class table and the
// large-object table.
func Initialize(opts ...Option) {
	global.Store(New(opts...))
}

// Shutdown drops the process-wide Allocator. It does not release any
// memory the allocator handed out — callers are responsible for their own
// Heap.Close calls before shutting down.
func Shutdown() {
	global.Store(nil)
}

// Global returns the process-wide Allocator, panicking if Initialize has
// not been called yet.
func Global() *Allocator {
	a := global.Load()
	if a == nil {
		panic("slabmem/allocator: Initialize was never called")
	}

	return a
}

// AcquireHeap hands back a fresh Heap from the global allocator.
func AcquireHeap() *Heap {
	return Global().AcquireHeap()
}
