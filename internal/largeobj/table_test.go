package largeobj

import (
	"testing"
	"unsafe"

	"go.uber.org/mock/gomock"

	"github.com/orizon-lang/slabmem/internal/sysmem/sysmemmock"
)

// fakeMapper backs Map/Unmap with real Go-managed memory, so Alloc's header
// write and Size's header read observe actual bytes instead of a mock's
// canned return value. Unlike sysmemmock it records no expectations; it is
// for bulk round-trip scenarios, not call-count verification.
type fakeMapper struct{ pageSize int }

func (f fakeMapper) PageSize() int { return f.pageSize }

func (f fakeMapper) Map(n uintptr) (unsafe.Pointer, error) {
	b := make([]byte, n)
	return unsafe.Pointer(&b[0]), nil
}

func (f fakeMapper) Unmap(unsafe.Pointer, uintptr) error { return nil }

func TestAllocRoundTripPreservesRequestedSize(t *testing.T) {
	tab := New(fakeMapper{pageSize: 4096}, 16)

	p, err := tab.Alloc(3000)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if uintptr(p)%16 != 0 {
		t.Fatalf("large-object pointer %#x is not 16-byte aligned", uintptr(p))
	}

	size, ok := tab.Size(p)
	if !ok || size != 3000 {
		t.Fatalf("size = (%d, %v), want (3000, true)", size, ok)
	}
	if !tab.Contains(p) {
		t.Fatalf("table should report the freshly allocated pointer as live")
	}

	freed, err := tab.Free(p)
	if err != nil || !freed {
		t.Fatalf("free = (%v, %v), want (true, nil)", freed, err)
	}
	if tab.Contains(p) {
		t.Fatalf("table should not report a freed pointer as live")
	}
}

func TestFreeUnknownPointerIsRejected(t *testing.T) {
	tab := New(fakeMapper{pageSize: 4096}, 4)
	junk := unsafe.Pointer(uintptr(0xdeadbeef))

	freed, err := tab.Free(junk)
	if err != nil {
		t.Fatalf("free of foreign pointer returned error: %v", err)
	}
	if freed {
		t.Fatalf("free of foreign pointer reported success")
	}
}

func TestReservedSlotIsReusedAfterFree(t *testing.T) {
	tab := New(fakeMapper{pageSize: 4096}, 1)

	p1, err := tab.Alloc(10)
	if err != nil {
		t.Fatalf("alloc 1: %v", err)
	}
	if _, err := tab.Alloc(10); err != ErrExhausted {
		t.Fatalf("alloc 2 on a 1-slot table = %v, want ErrExhausted", err)
	}

	if _, err := tab.Free(p1); err != nil {
		t.Fatalf("free: %v", err)
	}

	if _, err := tab.Alloc(10); err != nil {
		t.Fatalf("alloc after free should reuse the freed slot, got: %v", err)
	}
}

func TestAllocMapsExactlyOneRoundedRegion(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mapper := sysmemmock.NewMockMapper(ctrl)
	mapper.EXPECT().PageSize().Return(4096).AnyTimes()

	region := make([]byte, 4096)
	regionPtr := unsafe.Pointer(&region[0])
	// 100 requested bytes + 16-byte header rounds up to one 4096-byte page.
	mapper.EXPECT().Map(uintptr(4096)).Return(regionPtr, nil)
	mapper.EXPECT().Unmap(regionPtr, uintptr(4096)).Return(nil)

	tab := New(mapper, 8)
	p, err := tab.Alloc(100)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if _, err := tab.Free(p); err != nil {
		t.Fatalf("free: %v", err)
	}
}
