// Package largeobj is the minimal fallback path for allocations above the
// small-object ceiling. It deliberately shares no machinery with the slab
// core: each object gets its own OS mapping, and a single process-wide
// table of fixed capacity tracks which pointers are currently live so the
// allocator's free path can reject foreign pointers before it ever tries to
// mask one down to a page-block header.
package largeobj

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/orizon-lang/slabmem/internal/sysmem"
)

// HeaderSize is the number of bytes reserved ahead of the returned pointer
// to record the caller's requested size. The returned pointer is therefore
// always 16-byte aligned, since every mapping sysmem hands out is
// page-aligned and HeaderSize divides the page size.
const HeaderSize = 16

// ErrExhausted is returned when the large-object table has no free slot and
// its bump cursor has reached capacity. The allocator front door treats this
// as fatal, per the spec's LargeTableExhausted category.
var ErrExhausted = errors.New("largeobj: table exhausted")

type slotRecord struct {
	region    unsafe.Pointer
	regionLen uintptr
	userPtr   unsafe.Pointer
	nextFree  atomic.Uint32
}

// Table is the process-wide large-object table. Its bump cursor and free
// list are both maintained with compare-and-swap so concurrent threads can
// allocate and free large objects without a lock.
type Table struct {
	mapper sysmem.Mapper

	slots []slotRecord

	cursor   atomic.Uint32 // next never-used slot index
	freeHead atomic.Uint32 // 1-based index into slots; 0 means empty
}

// New builds a table with room for capacity concurrently live large
// objects.
func New(mapper sysmem.Mapper, capacity int) *Table {
	return &Table{
		mapper: mapper,
		slots:  make([]slotRecord, capacity),
	}
}

// reserveSlot claims a slot index, preferring one freed by an earlier Free
// over extending the bump cursor.
func (t *Table) reserveSlot() (int, error) {
	for {
		head := t.freeHead.Load()
		if head != 0 {
			idx := int(head - 1)
			next := t.slots[idx].nextFree.Load()
			if t.freeHead.CompareAndSwap(head, next) {
				return idx, nil
			}
			continue
		}

		idx := t.cursor.Load()
		if int(idx) >= len(t.slots) {
			return 0, ErrExhausted
		}
		if t.cursor.CompareAndSwap(idx, idx+1) {
			return int(idx), nil
		}
	}
}

func (t *Table) releaseSlot(idx int) {
	for {
		head := t.freeHead.Load()
		t.slots[idx].nextFree.Store(head)
		if t.freeHead.CompareAndSwap(head, uint32(idx)+1) {
			return
		}
	}
}

// Alloc maps a dedicated region for size bytes, writes the requested size
// into its header, and returns the user-visible pointer (offset HeaderSize
// into the mapping).
func (t *Table) Alloc(size int) (unsafe.Pointer, error) {
	idx, err := t.reserveSlot()
	if err != nil {
		return nil, err
	}

	total := uintptr(size) + HeaderSize
	pageSize := uintptr(t.mapper.PageSize())
	mapped := ((total + pageSize - 1) / pageSize) * pageSize

	region, err := t.mapper.Map(mapped)
	if err != nil {
		t.releaseSlot(idx)
		return nil, fmt.Errorf("largeobj: %w", err)
	}

	*(*uint64)(region) = uint64(size)
	userPtr := unsafe.Pointer(uintptr(region) + HeaderSize)

	t.slots[idx].region = region
	t.slots[idx].regionLen = mapped
	t.slots[idx].userPtr = userPtr

	return userPtr, nil
}

// find returns the slot index holding ptr, or -1 if ptr is not a live
// large-object pointer. The scan is linear, as the spec calls out
// explicitly: it exists only so the small-object free path can cheaply
// reject foreign pointers, not to be fast on its own.
func (t *Table) find(ptr unsafe.Pointer) int {
	n := int(t.cursor.Load())
	for i := 0; i < n; i++ {
		if t.slots[i].userPtr == ptr {
			return i
		}
	}
	return -1
}

// Contains reports whether ptr is a currently live large-object pointer.
func (t *Table) Contains(ptr unsafe.Pointer) bool {
	return t.find(ptr) >= 0
}

// LiveCount returns the number of currently live large-object pointers, for
// the diagnostic dump. Like find, this is a linear scan.
func (t *Table) LiveCount() int {
	n := int(t.cursor.Load())
	live := 0
	for i := 0; i < n; i++ {
		if t.slots[i].userPtr != nil {
			live++
		}
	}
	return live
}

// Capacity returns the table's fixed slot count.
func (t *Table) Capacity() int { return len(t.slots) }

// Size returns the requested size recorded for ptr, and whether ptr was
// found.
func (t *Table) Size(ptr unsafe.Pointer) (int, bool) {
	idx := t.find(ptr)
	if idx < 0 {
		return 0, false
	}
	region := t.slots[idx].region
	return int(*(*uint64)(region)), true
}

// Free locates ptr's slot, unmaps its region, and returns the slot to the
// free list. It reports false, with a nil error, if ptr is not a live
// large-object pointer, so the allocator's free path calls it first and
// falls through to the slab path on false.
func (t *Table) Free(ptr unsafe.Pointer) (bool, error) {
	idx := t.find(ptr)
	if idx < 0 {
		return false, nil
	}

	region := t.slots[idx].region
	regionLen := t.slots[idx].regionLen

	if err := t.mapper.Unmap(region, regionLen); err != nil {
		return false, fmt.Errorf("largeobj: %w", err)
	}

	t.slots[idx].region = nil
	t.slots[idx].regionLen = 0
	t.slots[idx].userPtr = nil
	t.releaseSlot(idx)

	return true, nil
}
