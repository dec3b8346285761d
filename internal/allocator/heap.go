package allocator

import (
	"errors"
	"unsafe"

	"github.com/orizon-lang/slabmem/internal/dlist"
	slaberrors "github.com/orizon-lang/slabmem/internal/errors"
	"github.com/orizon-lang/slabmem/internal/largeobj"
	"github.com/orizon-lang/slabmem/internal/lifo"
	"github.com/orizon-lang/slabmem/internal/sizeclass"
	"github.com/orizon-lang/slabmem/internal/slab"
)

// Heap is one thread's private allocator state: an ordered list of page
// blocks per size class, and a single-slot local cache of empty blocks per
// cache-class.
//
// Go has no implicit per-goroutine storage with a destructor, so unlike the
// thread_local the source drives its reconciler from, a Heap is an explicit
// handle: acquire one with Allocator.AcquireHeap, use it from exactly one
// goroutine at a time, and call Close when that goroutine is done with it.
// Close runs the same reconciliation a thread-exit hook would.
type Heap struct {
	id    uint64
	alloc *Allocator

	classLists []dlist.List
	localCache []*slab.Block

	closed bool
}

func newHeap(id uint64, a *Allocator) *Heap {
	table := a.table
	h := &Heap{
		id:         id,
		alloc:      a,
		classLists: make([]dlist.List, table.NumClasses()),
		localCache: make([]*slab.Block, table.NumCacheClasses()),
	}
	for i := range h.classLists {
		h.classLists[i].Init()
	}

	return h
}

// ID returns the heap's owner identity, the value stored in every block it
// owns.
func (h *Heap) ID() uint64 { return h.id }

// ClassListLen reports how many blocks this heap currently owns in class
// c's list, for the diagnostic dump.
func (h *Heap) ClassListLen(c int) int { return h.classLists[c].Len() }

// LocalCacheOccupied reports whether this heap's local cache slot for
// cache-class cc currently holds a block.
func (h *Heap) LocalCacheOccupied(cc int) bool { return h.localCache[cc] != nil }

// Alloc returns a pointer to at least size bytes, aligned to its class's
// object size (16 bytes for a large object). size must be > 0.
func (h *Heap) Alloc(size int) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, slaberrors.InvalidSize(size, "Heap.Alloc")
	}

	if size < 0 || size > h.alloc.table.MaxSmall() {
		p, err := h.alloc.large.Alloc(size)
		if err != nil {
			if errors.Is(err, largeobj.ErrExhausted) {
				slaberrors.LargeTableExhausted().Abort()
			}

			slaberrors.OutOfMemory(uintptr(size), err).Abort()
		}

		return p, err
	}

	c := sizeclass.ClassOf(size)
	list := &h.classLists[c]

	blk := h.acquireBlock(c)

	obj := blk.Carve()
	if obj == nil {
		// acquire_block guarantees a non-full block; reaching here means
		// the class-list/fullness invariants were violated somewhere.
		panic("slabmem: acquired block had no object to carve")
	}

	if blk.IsFull() {
		list.MoveToBack(&blk.Node)
	}

	return obj, nil
}

// Free returns ptr, previously returned by Alloc on some (possibly
// different) heap, to its owning block.
func (h *Heap) Free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}

	if freed, err := h.alloc.large.Free(ptr); err != nil {
		return err
	} else if freed {
		return nil
	}

	blk := slab.ResolveHeader(h.alloc.table.PageSize(), ptr)
	if blk.Owner() != h.id {
		h.freeRemote(blk, ptr)
		return nil
	}

	blk.FreeLocal(ptr)
	list := &h.classLists[blk.ClassIndex()]

	if blk.IsEmpty() {
		h.releaseBlock(list, blk)
	} else if list.Front() != &blk.Node {
		list.MoveToFront(&blk.Node)
	}

	return nil
}

// Resize implements resize(p, m): shrink-or-same-class requests return p
// unchanged; anything that needs a bigger cell moves to a freshly allocated
// one and copies the old contents across.
func (h *Heap) Resize(ptr unsafe.Pointer, newSize int) (unsafe.Pointer, error) {
	if ptr == nil {
		return h.Alloc(newSize)
	}

	if oldSize, ok := h.alloc.large.Size(ptr); ok {
		newPtr, err := h.Alloc(newSize)
		if err != nil {
			return nil, err
		}

		copyCells(newPtr, ptr, minInt(oldSize, newSize))

		return newPtr, h.Free(ptr)
	}

	blk := slab.ResolveHeader(h.alloc.table.PageSize(), ptr)
	oldC := blk.ClassIndex()
	oldObjectSize := blk.Class().ObjectSize

	if newSize > 0 && newSize <= h.alloc.table.MaxSmall() {
		newC := sizeclass.ClassOf(newSize)
		if newC <= oldC {
			return ptr, nil
		}
	}

	newPtr, err := h.Alloc(newSize)
	if err != nil {
		return nil, err
	}

	copyCells(newPtr, ptr, oldObjectSize)

	return newPtr, h.Free(ptr)
}

// acquireBlock returns a non-full block of class c at the head of its list,
// obtaining a fresh one from the local cache, the global cache, or the OS
// as needed.
func (h *Heap) acquireBlock(c int) *slab.Block {
	list := &h.classLists[c]

	for list.IsEmpty() || slab.BlockFromNode(list.Front()).IsFull() {
		blk := h.takeBlock(c)
		list.PushFront(&blk.Node)
	}

	return slab.BlockFromNode(list.Front())
}

// takeBlock obtains one block laid out for class c: from this heap's local
// cache slot, else the process-wide global cache, else a fresh OS mapping.
// A block sourced from either cache is always re-initialized for c, since a
// cache slot is shared across every class with the same block_bytes.
func (h *Heap) takeBlock(c int) *slab.Block {
	class := h.alloc.table.Class(c)
	cc := class.CacheClass
	compressed := class.ObjectSize == 4

	if b := h.localCache[cc]; b != nil {
		h.localCache[cc] = nil
		region, regionLen := b.Region()

		return slab.New(region, regionLen, class, c, h.alloc.table.PageSize(), compressed, h.id)
	}

	if b := h.alloc.globalCache.Claim(cc); b != nil {
		region, regionLen := b.Region()
		return slab.New(region, regionLen, class, c, h.alloc.table.PageSize(), compressed, h.id)
	}

	regionLen := uintptr(class.BlockBytes)

	region, err := h.alloc.mapper.Map(regionLen)
	if err != nil {
		slaberrors.OutOfMemory(regionLen, err).Abort()
	}

	return slab.New(region, regionLen, class, c, h.alloc.table.PageSize(), compressed, h.id)
}

// releaseBlock implements the block release policy: unlink from the class
// list, then prefer the local cache, then the global cache, then give the
// region back to the OS.
func (h *Heap) releaseBlock(list *dlist.List, blk *slab.Block) {
	list.Remove(&blk.Node)

	cc := blk.Class().CacheClass
	if h.localCache[cc] == nil {
		h.localCache[cc] = blk
		return
	}

	if h.alloc.globalCache.TryInstall(cc, blk) {
		return
	}

	region, regionLen := blk.Region()
	if err := h.alloc.mapper.Unmap(region, regionLen); err != nil {
		slaberrors.OutOfMemory(regionLen, err).Abort()
	}
}

// freeRemote implements the non-owner free path: push onto the block's
// remote free LIFO via CAS, adopting the block first if it was orphaned.
func (h *Heap) freeRemote(blk *slab.Block, obj unsafe.Pointer) {
	rf := blk.RemoteFree()
	compressed := blk.Compressed()

	for {
		old := rf.Load()

		if old == lifo.Orphan {
			if rf.CompareAndSwap(lifo.Orphan, 0) {
				blk.SetOwner(h.id)
				h.classLists[blk.ClassIndex()].PushFront(&blk.Node)
				h.alloc.orphaned.Delete(blk)
				_ = h.Free(obj) // now owned locally; retry hits the local path
				return
			}

			continue
		}

		lifo.StoreNext(obj, old, compressed)
		if rf.CompareAndSwap(old, uintptr(obj)) {
			return
		}
	}
}

// Close runs the thread-lifecycle reconciler: empty cached blocks go
// straight to the global cache or the OS (the local cache no longer
// exists), and every block still on a class list is drained, released if
// now empty, or else published as orphaned for a future remote-freer to
// adopt.
func (h *Heap) Close() {
	if h.closed {
		return
	}
	h.closed = true

	for cc, blk := range h.localCache {
		if blk == nil {
			continue
		}
		h.localCache[cc] = nil
		h.releaseOrphanBlock(blk)
	}

	for c := range h.classLists {
		list := &h.classLists[c]
		for {
			node := list.PopFront()
			if node == nil {
				break
			}
			h.reconcileBlock(slab.BlockFromNode(node))
		}
	}

	h.alloc.forgetHeap(h.id)
}

// reconcileBlock is one thread-exit reconciliation pass over a single
// block: drain any remote frees first, release if that emptied it,
// otherwise mark it orphaned — retrying the whole pass if a remote free
// races in between the drain and the orphan mark.
func (h *Heap) reconcileBlock(blk *slab.Block) {
	for {
		blk.DrainRemoteIntoLocal()

		if blk.IsEmpty() {
			h.releaseOrphanBlock(blk)
			return
		}

		blk.SetOwner(slab.NoOwner)
		h.alloc.orphaned.Store(blk, struct{}{})
		if lifo.MarkOrphan(blk.RemoteFree()) {
			return
		}
		// A remote free landed between the drain and the mark attempt;
		// loop back and drain it too. The block stays registered as
		// orphaned until a winning adopt or releaseOrphanBlock removes it.
	}
}

// releaseOrphanBlock is §4.7's release policy with the local-cache step
// skipped, since the heap performing it is on its way out.
func (h *Heap) releaseOrphanBlock(blk *slab.Block) {
	h.alloc.orphaned.Delete(blk) // no-op if blk was never registered
	cc := blk.Class().CacheClass
	if h.alloc.globalCache.TryInstall(cc, blk) {
		return
	}

	region, regionLen := blk.Region()
	if err := h.alloc.mapper.Unmap(region, regionLen); err != nil {
		slaberrors.OutOfMemory(regionLen, err).Abort()
	}
}

func copyCells(dst, src unsafe.Pointer, n int) {
	if n <= 0 {
		return
	}
	d := unsafe.Slice((*byte)(dst), n)
	s := unsafe.Slice((*byte)(src), n)
	copy(d, s)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
