package allocator

import (
	"errors"
	"sync/atomic"
	"testing"
	"unsafe"

	"go.uber.org/mock/gomock"

	slaberrors "github.com/orizon-lang/slabmem/internal/errors"
	"github.com/orizon-lang/slabmem/internal/slab"
	"github.com/orizon-lang/slabmem/internal/sysmem"
	"github.com/orizon-lang/slabmem/internal/sysmem/sysmemmock"
)

// countingMapper wraps a real Mapper and counts Map/Unmap calls, so tests
// can assert on how many OS mappings a scenario actually performs without
// depending on internal cache-slot bookkeeping.
type countingMapper struct {
	sysmem.Mapper
	maps   atomic.Int64
	unmaps atomic.Int64
}

func (c *countingMapper) Map(n uintptr) (unsafe.Pointer, error) {
	c.maps.Add(1)
	return c.Mapper.Map(n)
}

func (c *countingMapper) Unmap(p unsafe.Pointer, n uintptr) error {
	c.unmaps.Add(1)
	return c.Mapper.Unmap(p, n)
}

func newTestAllocator() (*Allocator, *countingMapper) {
	cm := &countingMapper{Mapper: sysmem.New()}
	a := New(WithMapper(cm))
	return a, cm
}

// Scenario 1: single-thread hot loop.
func TestHotLoopReusesOneBlockAndOnePointer(t *testing.T) {
	a, cm := newTestAllocator()
	h := a.AcquireHeap()
	defer h.Close()

	var first unsafe.Pointer
	for i := 0; i < 1000; i++ {
		p, err := h.Alloc(1024)
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		if first == nil {
			first = p
		} else if p != first {
			t.Fatalf("iteration %d: pointer changed from %p to %p", i, first, p)
		}
		if err := h.Free(p); err != nil {
			t.Fatalf("free %d: %v", i, err)
		}
	}

	if got := cm.maps.Load(); got != 1 {
		t.Fatalf("map calls = %d, want exactly 1", got)
	}
}

// Scenario 2: fill-and-drain.
func TestFillAndDrainMapsSecondBlockOnOverflow(t *testing.T) {
	a, cm := newTestAllocator()
	h := a.AcquireHeap()
	defer h.Close()

	class := a.Table().Class(1)
	if class.UsableObjects != 2029 {
		t.Fatalf("class1 usable objects = %d, want 2029", class.UsableObjects)
	}

	seen := make(map[uintptr]bool, class.UsableObjects)
	for i := 0; i < class.UsableObjects; i++ {
		p, err := h.Alloc(8)
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		if seen[uintptr(p)] {
			t.Fatalf("duplicate pointer at alloc %d", i)
		}
		seen[uintptr(p)] = true
	}
	if got := cm.maps.Load(); got != 1 {
		t.Fatalf("map calls after filling one block = %d, want 1", got)
	}

	if _, err := h.Alloc(8); err != nil {
		t.Fatalf("overflow alloc: %v", err)
	}
	if got := cm.maps.Load(); got != 2 {
		t.Fatalf("map calls after overflow alloc = %d, want 2", got)
	}
}

// Scenario 5: local cache, then global cache, then unmap.
func TestEmptyBlocksCascadeThroughCachesThenUnmap(t *testing.T) {
	a, cm := newTestAllocator()
	h := a.AcquireHeap()
	defer h.Close()

	const total = 129
	pageSize := a.Table().PageSize()

	objs := make([]unsafe.Pointer, total)
	for i := 0; i < total; i++ {
		p, err := h.Alloc(2048)
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		objs[i] = p
	}
	if got := cm.maps.Load(); got != 3 {
		t.Fatalf("map calls after allocating %d 2048-byte objects = %d, want 3", total, got)
	}

	// Group objects by owning block, preserving first-seen order, so we
	// can free one whole block at a time in carve order.
	var blockOrder []*slab.Block
	groups := map[*slab.Block][]unsafe.Pointer{}
	for _, p := range objs {
		b := slab.ResolveHeader(pageSize, p)
		if _, ok := groups[b]; !ok {
			blockOrder = append(blockOrder, b)
		}
		groups[b] = append(groups[b], p)
	}
	if len(blockOrder) != 3 {
		t.Fatalf("objects span %d blocks, want 3", len(blockOrder))
	}

	// First block emptied: local cache.
	for _, p := range groups[blockOrder[0]] {
		if err := h.Free(p); err != nil {
			t.Fatalf("free: %v", err)
		}
	}
	if !h.LocalCacheOccupied(blockOrder[0].Class().CacheClass) {
		t.Fatalf("first emptied block should land in the local cache")
	}

	// Second block emptied: local cache is full, so it lands in the global
	// cache.
	for _, p := range groups[blockOrder[1]] {
		if err := h.Free(p); err != nil {
			t.Fatalf("free: %v", err)
		}
	}
	if !a.globalCache.Occupied(blockOrder[1].Class().CacheClass) {
		t.Fatalf("second emptied block should land in the global cache")
	}
	if cm.unmaps.Load() != 0 {
		t.Fatalf("no block should be unmapped yet, got %d unmaps", cm.unmaps.Load())
	}

	// Third block emptied: both caches are occupied, so it is unmapped.
	for _, p := range groups[blockOrder[2]] {
		if err := h.Free(p); err != nil {
			t.Fatalf("free: %v", err)
		}
	}
	if got := cm.unmaps.Load(); got != 1 {
		t.Fatalf("unmap calls after the third block empties = %d, want 1", got)
	}
}

// Scenario 5 (first half): a cached empty block is reused without a new
// map.
func TestCachedEmptyBlockIsReusedWithoutNewMap(t *testing.T) {
	a, cm := newTestAllocator()
	h := a.AcquireHeap()
	defer h.Close()

	const perBlock = 64 // class9's usable_objects
	objs := make([]unsafe.Pointer, 0, perBlock+1)
	for i := 0; i < perBlock+1; i++ {
		p, err := h.Alloc(2048)
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		objs = append(objs, p)
	}
	if got := cm.maps.Load(); got != 2 {
		t.Fatalf("map calls = %d, want 2 (one full block + one for the spillover object)", got)
	}

	// Free the spillover object: its block held exactly one object, so it
	// is now empty and goes to the local cache.
	last := objs[len(objs)-1]
	if err := h.Free(last); err != nil {
		t.Fatalf("free: %v", err)
	}

	if _, err := h.Alloc(2048); err != nil {
		t.Fatalf("alloc after free: %v", err)
	}
	if got := cm.maps.Load(); got != 2 {
		t.Fatalf("map calls after reusing the cached block = %d, want still 2", got)
	}
}

// Scenario 6: resize up moves, resize down in the same class does not.
func TestResizeUpMovesResizeDownStays(t *testing.T) {
	a, _ := newTestAllocator()
	h := a.AcquireHeap()
	defer h.Close()

	p, err := h.Alloc(1024)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	*(*byte)(p) = 0x42

	q, err := h.Resize(p, 2048)
	if err != nil {
		t.Fatalf("resize up: %v", err)
	}
	if q == p {
		t.Fatalf("resize to a larger class must move the object")
	}
	if got := *(*byte)(q); got != 0x42 {
		t.Fatalf("resize up lost the original contents: got %#x", got)
	}

	r, err := h.Resize(q, 8)
	if err != nil {
		t.Fatalf("resize down: %v", err)
	}
	if r != q {
		t.Fatalf("resize to a smaller or equal class must return the same pointer")
	}
}

func TestAllocZeroIsInvalidSize(t *testing.T) {
	a, _ := newTestAllocator()
	h := a.AcquireHeap()
	defer h.Close()

	if _, err := h.Alloc(0); err == nil {
		t.Fatalf("alloc(0) should return an error")
	}
}

func TestLargeObjectRoundTrip(t *testing.T) {
	a, cm := newTestAllocator()
	h := a.AcquireHeap()
	defer h.Close()

	p, err := h.Alloc(a.Table().MaxSmall() + 1)
	if err != nil {
		t.Fatalf("large alloc: %v", err)
	}
	if uintptr(p)%16 != 0 {
		t.Fatalf("large object pointer not 16-byte aligned: %#x", uintptr(p))
	}
	if got := cm.maps.Load(); got != 1 {
		t.Fatalf("large alloc should map exactly one region, got %d", got)
	}

	if err := h.Free(p); err != nil {
		t.Fatalf("large free: %v", err)
	}
	if got := cm.unmaps.Load(); got != 1 {
		t.Fatalf("large free should unmap exactly one region, got %d", got)
	}
}

// A large alloc that cannot find a free table slot must abort with
// LargeTableExhausted, never OutOfMemory.
func TestLargeAllocAbortsWithLargeTableExhaustedWhenTableFull(t *testing.T) {
	a := New(WithLargeTableCapacity(0))
	h := a.AcquireHeap()
	defer h.Close()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected Alloc to abort via panic")
		}
		se, ok := r.(*slaberrors.StandardError)
		if !ok {
			t.Fatalf("panic value is %T, want *errors.StandardError", r)
		}
		if se.Code != "LARGE_TABLE_EXHAUSTED" {
			t.Fatalf("panic code = %q, want LARGE_TABLE_EXHAUSTED", se.Code)
		}
		if !se.Fatal {
			t.Fatalf("LargeTableExhausted must be marked Fatal")
		}
	}()

	_, _ = h.Alloc(a.Table().MaxSmall() + 1)
}

// A large alloc that finds a table slot but whose OS mapping fails must
// abort with OutOfMemory, never LargeTableExhausted — these are the two
// distinct fatal categories spec.md §7 names, and a full table is not the
// same failure as a refused mmap.
func TestLargeAllocAbortsWithOutOfMemoryOnMapFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := sysmemmock.NewMockMapper(ctrl)
	mock.EXPECT().PageSize().Return(4096).AnyTimes()
	mock.EXPECT().Map(gomock.Any()).Return(nil, errors.New("mmap refused"))

	a := New(WithMapper(mock), WithLargeTableCapacity(4))
	h := a.AcquireHeap()
	defer h.Close()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected Alloc to abort via panic")
		}
		se, ok := r.(*slaberrors.StandardError)
		if !ok {
			t.Fatalf("panic value is %T, want *errors.StandardError", r)
		}
		if se.Code != "OUT_OF_MEMORY" {
			t.Fatalf("panic code = %q, want OUT_OF_MEMORY", se.Code)
		}
		if !se.Fatal {
			t.Fatalf("OutOfMemory must be marked Fatal")
		}
	}()

	_, _ = h.Alloc(a.Table().MaxSmall() + 1)
}

func TestGlobalSingletonAcquireHeap(t *testing.T) {
	Initialize()
	defer Shutdown()

	h := AcquireHeap()
	defer h.Close()

	p, err := h.Alloc(64)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if p == nil {
		t.Fatalf("alloc returned a nil pointer")
	}
}
