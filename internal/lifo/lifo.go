// Package lifo implements the lock-free LIFO stacks the slab allocator uses
// for local and remote free lists.
//
// The link word lives inside the freed object itself. Two encodings coexist:
// a full native pointer (object sizes >= 8 bytes) and a compressed 32-bit
// encoding used only for the 4-byte size class, which packs the low 32 bits
// of the address and reconstructs the high bits from the slot's own address
// — valid because every object in a block shares the block's high bits,
// since a block never spans more than the size-class table's MaxBlock
// (256 KiB by default).
package lifo

import (
	"sync/atomic"
	"unsafe"
)

// Orphan is the sentinel head value meaning "the owning thread exited and no
// remote free has claimed this block yet". It is never a valid object
// address: every object is at least 4-byte aligned, so address 1 is
// unreachable as real data.
const Orphan = uintptr(1)

// Head is an atomic LIFO head. The zero value is an empty, non-orphaned
// stack.
type Head struct {
	v atomic.Uintptr
}

// Load returns the raw head value: 0 (empty), Orphan, or an object address.
func (h *Head) Load() uintptr { return h.v.Load() }

// IsOrphan reports whether the head currently carries the orphan sentinel.
func (h *Head) IsOrphan() bool { return h.v.Load() == Orphan }

// IsEmpty reports whether the head is the null stack (not orphaned, no
// objects).
func (h *Head) IsEmpty() bool { return h.v.Load() == 0 }

// CompareAndSwap is exposed directly for callers (the free-path orphan
// handshake) that need to compose their own retry loop around a specific
// old/new transition instead of the canned Push/Pop/Drain operations.
func (h *Head) CompareAndSwap(old, new uintptr) bool {
	return h.v.CompareAndSwap(old, new)
}

// Push installs obj atop the stack, chaining through obj's own link word.
// Push must not be called while the head may be Orphan; the allocator's
// remote-free handshake does not use Push but runs its own CAS loop that
// checks for Orphan on every attempt.
func Push(h *Head, obj unsafe.Pointer, compressed bool) {
	for {
		old := h.v.Load()
		storeNext(obj, old, compressed)
		if h.v.CompareAndSwap(old, uintptr(obj)) {
			return
		}
	}
}

// Pop removes and returns the top object, or nil if the stack is empty or
// orphaned.
func Pop(h *Head, compressed bool) unsafe.Pointer {
	for {
		old := h.v.Load()
		if old == 0 || old == Orphan {
			return nil
		}
		next := loadNext(unsafe.Pointer(old), compressed, old)
		if h.v.CompareAndSwap(old, next) {
			return unsafe.Pointer(old)
		}
	}
}

// Drain atomically empties the stack and returns the chain that was there,
// or nil. Only the owning thread calls Drain (it is the sole reader of a
// remote-free chain once captured).
func Drain(h *Head) unsafe.Pointer {
	old := h.v.Swap(0)
	if old == 0 || old == Orphan {
		return nil
	}
	return unsafe.Pointer(old)
}

// MarkOrphan installs the orphan sentinel, but only when the stack is
// currently empty (null). It fails if a concurrent remote free raced in
// first; the caller (the thread-lifecycle reconciler) retries after
// draining again.
func MarkOrphan(h *Head) bool {
	return h.v.CompareAndSwap(0, Orphan)
}

// ClaimOrphan clears the orphan sentinel back to null, the first step an
// adopting thread takes before taking ownership of the block.
func ClaimOrphan(h *Head) bool {
	return h.v.CompareAndSwap(Orphan, 0)
}

// WalkCount returns the number of objects chained from head (following next
// links to nil), used by the owner to recompute local_free_count after a
// drain since the drained chain arrives with no running count.
func WalkCount(head unsafe.Pointer, compressed bool) int {
	n := 0
	for cur := uintptr(head); cur != 0; {
		n++
		next := loadNext(unsafe.Pointer(cur), compressed, cur)
		cur = next
	}
	return n
}

// Append walks to the end of the chain rooted at head and links tail there,
// returning the (possibly unchanged) head of the combined chain. Used when
// draining a remote chain into an already-nonempty local free list.
func Append(head, tail unsafe.Pointer, compressed bool) unsafe.Pointer {
	if head == nil {
		return tail
	}
	if tail == nil {
		return head
	}
	cur := uintptr(head)
	for {
		next := loadNext(unsafe.Pointer(cur), compressed, cur)
		if next == 0 {
			storeNext(unsafe.Pointer(cur), uintptr(tail), compressed)
			return head
		}
		cur = next
	}
}

// LoadNext and StoreNext expose the link-word codec for single-owner chains
// (the local free list) that need no CAS machinery at all — only the owning
// thread ever touches local_free_head.
func LoadNext(obj unsafe.Pointer, compressed bool, selfAddr uintptr) uintptr {
	return loadNext(obj, compressed, selfAddr)
}

func StoreNext(obj unsafe.Pointer, next uintptr, compressed bool) {
	storeNext(obj, next, compressed)
}

// loadNext reads the next-link stored inside obj. For the compressed
// encoding, selfAddr supplies the high bits (obj's own address), since the
// in-object word only holds the low 32 bits.
func loadNext(obj unsafe.Pointer, compressed bool, selfAddr uintptr) uintptr {
	if !compressed {
		return *(*uintptr)(obj)
	}
	v := atomic.LoadUint32((*uint32)(obj))
	if v == 0 {
		return 0
	}
	high := selfAddr &^ uintptr(0xFFFFFFFF)
	return high | uintptr(v)
}

// storeNext writes the next-link into obj's first word (or first 4 bytes
// for the compressed encoding).
func storeNext(obj unsafe.Pointer, next uintptr, compressed bool) {
	if !compressed {
		*(*uintptr)(obj) = next
		return
	}
	atomic.StoreUint32((*uint32)(obj), uint32(next))
}
