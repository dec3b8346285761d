// Package slab implements the page block: the unit of memory the allocator
// carves same-class objects from.
//
// A block's header is kept as an ordinary Go struct (so the garbage
// collector can see any Go pointers it ever needs to hold and so its
// lifetime is governed by normal Go reachability), while the mapped region
// itself holds only raw object cells plus, at the front of every page, a
// back-pointer word. That back-pointer is a bare integer (a uintptr, not a
// typed pointer) written into unmanaged memory the collector never scans;
// resolving it back into a *Block is safe because the block is always kept
// reachable elsewhere too — by the owning thread heap's class list, a
// cache slot, or the orphan handshake — for as long as the mapping exists.
package slab

import (
	"sync/atomic"
	"unsafe"

	"github.com/orizon-lang/slabmem/internal/dlist"
	"github.com/orizon-lang/slabmem/internal/lifo"
	"github.com/orizon-lang/slabmem/internal/sizeclass"
)

// NoOwner is the owner id meaning "nobody": a fresh block before its first
// owner is assigned, or a block orphaned by its owner's exit. Real owner
// ids start at 1 (see the allocator package's id allocator).
const NoOwner = 0

// Block is a page-aligned, multi-page region carved into fixed-size objects
// of one size class, plus the bookkeeping the spec calls the page-block
// header.
type Block struct {
	// Node links this block into its owner's per-class list. Node.Value
	// always points back at this Block.
	Node dlist.Node

	region    unsafe.Pointer
	regionLen uintptr

	class      sizeclass.Class
	classIndex int
	pageSize   int
	compressed bool

	owner atomic.Uint64

	remoteFree lifo.Head

	unallocCursor unsafe.Pointer
	unallocCount  int

	localFreeHead  unsafe.Pointer
	localFreeCount int
}

// New lays out a fresh block over region (regionLen == class.BlockBytes,
// already mapped by the caller, either freshly or reused from a cache slot)
// and returns its header. The region's old contents are not cleared.
// compressed selects the in-object link encoding; it must be true iff
// class.ObjectSize == 4.
func New(region unsafe.Pointer, regionLen uintptr, class sizeclass.Class, classIndex, pageSize int, compressed bool, owner uint64) *Block {
	b := &Block{
		region:     region,
		regionLen:  regionLen,
		class:      class,
		classIndex: classIndex,
		pageSize:   pageSize,
		compressed: compressed,
	}
	b.Node.Value = unsafe.Pointer(b)
	b.owner.Store(owner)

	selfAddr := uintptr(unsafe.Pointer(b))
	base := uintptr(region)
	for p := 0; p < class.Pages; p++ {
		pageBase := base + uintptr(p*pageSize)
		*(*uintptr)(unsafe.Pointer(pageBase)) = selfAddr
	}

	b.unallocCursor = unsafe.Pointer(base + uintptr(class.HeaderSlots*class.ObjectSize))
	b.unallocCount = class.UsableObjects

	return b
}

// ResolveHeader masks obj down to its containing page's base address and
// dereferences the back-pointer word stored there.
func ResolveHeader(pageSize int, obj unsafe.Pointer) *Block {
	pageBase := uintptr(obj) &^ uintptr(pageSize-1)
	headerAddr := *(*uintptr)(unsafe.Pointer(pageBase))
	return (*Block)(unsafe.Pointer(headerAddr))
}

// BlockFromNode recovers the owning *Block from a list node previously
// pushed with its Value set (New always sets it).
func BlockFromNode(n *dlist.Node) *Block {
	if n == nil {
		return nil
	}
	return (*Block)(n.Value)
}

// Class returns the size class this block was initialized against.
func (b *Block) Class() sizeclass.Class { return b.class }

// ClassIndex returns the size-class index this block belongs to.
func (b *Block) ClassIndex() int { return b.classIndex }

// Region returns the block's backing memory and its byte length, for the
// release path (sysmem.Unmap) and for cache bookkeeping.
func (b *Block) Region() (unsafe.Pointer, uintptr) { return b.region, b.regionLen }

// Owner returns the current owner id, or NoOwner if the block is orphaned.
// Reads use sequentially-consistent atomics, which is at least as strong as
// the acquire the open-question note in the spec's design notes asks for.
func (b *Block) Owner() uint64 { return b.owner.Load() }

// SetOwner installs a new owner id. Used by the orphan adoption handshake
// and by the thread-exit reconciler, which stores NoOwner; a fresh or
// cache-sourced block gets its acquiring thread's id from New instead.
func (b *Block) SetOwner(id uint64) { b.owner.Store(id) }

// RemoteFree exposes the lock-free remote-free head for CAS operations
// performed outside this package (the free-path orphan handshake in the
// allocator lives one layer up, since it must also touch the owner's class
// list).
func (b *Block) RemoteFree() *lifo.Head { return &b.remoteFree }

// LocalFreeCount, UnallocCount report the two O(1) fullness counters.
func (b *Block) LocalFreeCount() int { return b.localFreeCount }
func (b *Block) UnallocCount() int   { return b.unallocCount }

// IsEmpty reports whether the block holds no live objects: every cell is
// either never-carved or on the local free list, and nothing is parked on
// the remote free list.
func (b *Block) IsEmpty() bool {
	return b.localFreeCount+b.unallocCount == b.class.UsableObjects && b.remoteFree.Load() == 0
}

// IsFull reports whether the block has nothing available to carve: no
// unallocated cells, nothing on the local free list, and the remote free
// list is either empty or orphaned (never something carve could drain).
func (b *Block) IsFull() bool {
	head := b.remoteFree.Load()
	return b.localFreeCount == 0 && b.unallocCount == 0 && (head == 0 || head == lifo.Orphan)
}

// Carve hands out one object: first from the local free list, then from
// the never-used region, then — as a last resort — by draining the remote
// free list into the local one and retrying. Returns nil if the block truly
// has nothing left (the caller must obtain a different block).
func (b *Block) Carve() unsafe.Pointer {
	if b.localFreeHead != nil {
		obj := b.localFreeHead
		next := lifo.LoadNext(obj, b.compressed, uintptr(obj))
		if next == 0 {
			b.localFreeHead = nil
		} else {
			b.localFreeHead = unsafe.Pointer(next)
		}
		b.localFreeCount--
		return obj
	}

	if b.unallocCount > 0 {
		obj := b.unallocCursor
		next := uintptr(obj) + uintptr(b.class.ObjectSize)
		if b.pageSize > 0 && next%uintptr(b.pageSize) == 0 {
			next += uintptr(b.class.PerPageSlots * b.class.ObjectSize)
		}
		b.unallocCursor = unsafe.Pointer(next)
		b.unallocCount--
		return obj
	}

	if !b.DrainRemoteIntoLocal() {
		return nil
	}

	return b.Carve()
}

// DrainRemoteIntoLocal moves every object parked on the remote free list
// into the local free list and recounts by walking the drained chain, since
// a drain arrives with no running count of its own. Reports whether
// anything was moved. A no-op (returns false) when the remote list is
// empty or orphaned.
func (b *Block) DrainRemoteIntoLocal() bool {
	head := b.remoteFree.Load()
	if head == 0 || head == lifo.Orphan {
		return false
	}

	chain := lifo.Drain(&b.remoteFree)
	if chain == nil {
		return false
	}

	count := lifo.WalkCount(chain, b.compressed)
	b.localFreeHead = lifo.Append(chain, b.localFreeHead, b.compressed)
	b.localFreeCount += count

	return true
}

// FreeLocal returns obj to the local free list. Only the owning thread ever
// calls this.
func (b *Block) FreeLocal(obj unsafe.Pointer) {
	lifo.StoreNext(obj, uintptr(b.localFreeHead), b.compressed)
	b.localFreeHead = obj
	b.localFreeCount++
}

// Compressed reports whether this block's in-object links use the
// compressed 32-bit encoding (true only for the 4-byte size class).
func (b *Block) Compressed() bool { return b.compressed }
