// Package slabmem is a thread-caching, size-classed slab memory allocator:
// small requests are served from lock-free per-thread caches backed by
// page-aligned blocks, and large requests fall back to individually mapped
// regions. It is a thin, process-facing wrapper over internal/allocator —
// most callers never need anything below this file.
package slabmem

import (
	"unsafe"

	"github.com/orizon-lang/slabmem/internal/allocator"
	"github.com/orizon-lang/slabmem/internal/sizeclass"
	"github.com/orizon-lang/slabmem/internal/sysmem"
)

// Option configures an Allocator built by New, or the process-wide allocator
// built by Initialize.
type Option = allocator.Option

// WithMapper overrides the OS-memory gateway a new Allocator uses. Tests
// substitute a mock; production code should leave this unset.
func WithMapper(m sysmem.Mapper) Option { return allocator.WithMapper(m) }

// WithTunables overrides the size-class table's tunables.
func WithTunables(t sizeclass.Tunables) Option { return allocator.WithTunables(t) }

// WithLargeTableCapacity overrides how many large objects may be
// concurrently live before Alloc aborts with a LargeTableExhausted error.
func WithLargeTableCapacity(n int) Option { return allocator.WithLargeTableCapacity(n) }

// Allocator is a process-wide slab allocator instance. Most programs need
// only one; build it with New and hand out Heaps to each worker goroutine
// that allocates.
type Allocator struct {
	core *allocator.Allocator
}

// New builds a standalone Allocator from opts, defaulting to a real OS
// mapper and the specification's default size-class tunables.
func New(opts ...Option) *Allocator {
	return &Allocator{core: allocator.New(opts...)}
}

// AcquireHeap hands back a fresh per-goroutine Heap. The caller owns it
// exclusively until it calls Heap.Close — there is no implicit handoff and
// no finalizer; a Heap leaked without Close leaves its blocks unreconciled
// for good: they are never orphaned, so no other heap adopts them, and
// objects other heaps free into them stay on their remote-free lists.
func (a *Allocator) AcquireHeap() *Heap {
	return &Heap{core: a.core.AcquireHeap()}
}

// DumpHeap renders h's per-class list lengths and local cache occupancy.
// Diagnostic only; the output format is not specified bit-exactly.
func (a *Allocator) DumpHeap(h *Heap) string { return a.core.DumpHeap(h.core) }

// DumpGlobalCache renders which cache-class slots currently hold a block.
func (a *Allocator) DumpGlobalCache() string { return a.core.DumpGlobalCache() }

// DumpLargeObjectTable renders the large-object table's occupancy.
func (a *Allocator) DumpLargeObjectTable() string { return a.core.DumpLargeObjectTable() }

// Heap is one goroutine's private allocator state. Acquire one with
// Allocator.AcquireHeap (or the package-level AcquireHeap), use it from a
// single goroutine at a time, and Close it when that goroutine is done
// allocating — Close runs the same reconciliation a thread-exit hook would
// in a runtime with implicit thread-local destructors.
type Heap struct {
	core *allocator.Heap
}

// Alloc returns a pointer to at least size bytes, aligned to its class's
// object size (16 bytes for a large object). size must be > 0.
func (h *Heap) Alloc(size int) (unsafe.Pointer, error) {
	return h.core.Alloc(size)
}

// Free returns ptr, previously returned by Alloc on this Heap or any other
// Heap from the same Allocator (including one already closed), to its
// owning block. ptr must not have
// already been freed; double-free and foreign-pointer behavior are
// undefined, matching the allocator's caller contract.
func (h *Heap) Free(ptr unsafe.Pointer) error {
	return h.core.Free(ptr)
}

// Resize changes the size of the allocation at ptr. It returns ptr
// unchanged if ptr is a small object and the new size's class is no larger
// than its current class; otherwise, including every resize of a large
// object, it allocates a fresh cell, copies min(oldSize, newSize) bytes
// across, frees ptr, and returns the new pointer, after which ptr is
// invalid.
func (h *Heap) Resize(ptr unsafe.Pointer, newSize int) (unsafe.Pointer, error) {
	return h.core.Resize(ptr, newSize)
}

// Close runs the thread-lifecycle reconciler over every block this heap
// still owns: cached empty blocks go to the global cache or the OS, and
// each block still on a class list is drained, released if that empties
// it, or else published as orphaned for a future remote-freer to adopt.
// Close is idempotent.
func (h *Heap) Close() { h.core.Close() }

// Global allocator singleton and convenience wrappers, mirroring the
// process-lifecycle startup/shutdown hooks described for this allocator:
// call Initialize once before the first AcquireHeap, and Shutdown at
// process exit.

// Initialize builds the process-wide Allocator that the package-level
// AcquireHeap draws from.
func Initialize(opts ...Option) { allocator.Initialize(opts...) }

// Shutdown drops the process-wide Allocator. It does not release any
// memory already handed out — callers are responsible for their own
// Heap.Close calls before shutting down.
func Shutdown() { allocator.Shutdown() }

// AcquireHeap hands back a fresh Heap from the process-wide Allocator.
// Panics if Initialize has not been called yet.
func AcquireHeap() *Heap {
	return &Heap{core: allocator.AcquireHeap()}
}
