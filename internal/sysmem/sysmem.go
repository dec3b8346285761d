// Package sysmem is the thin OS-memory gateway the slab allocator builds on.
//
// It offers exactly two operations — map a fresh, zero-filled, page-aligned
// region and unmap a previously mapped one — and nothing else. Every other
// component in this module treats the operating system as this interface;
// nothing above this package issues an mmap/munmap syscall directly.
package sysmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mapper is the external collaborator the slab core depends on. Production
// code uses OS, which shells out to golang.org/x/sys/unix; tests substitute
// a mock (see internal/sysmem/sysmemmock) so the slab machinery can be
// exercised without touching real address space.
type Mapper interface {
	// Map returns a fresh, zero-filled, page-aligned region of n bytes. n
	// must already be a multiple of PageSize. Map returns an error if the
	// OS refuses the request, which the allocator turns into a fatal
	// OutOfMemory abort — this gateway never returns a partial mapping.
	Map(n uintptr) (unsafe.Pointer, error)
	// Unmap releases a region previously returned by Map. n must be the
	// same length originally requested.
	Unmap(p unsafe.Pointer, n uintptr) error
	// PageSize reports the OS page size in bytes.
	PageSize() int
}

// OS is the production Mapper: anonymous, private, zero-filled pages
// obtained directly from the kernel.
type OS struct {
	pageSize int
}

// New returns an OS gateway, querying the real OS page size once.
func New() *OS {
	return &OS{pageSize: unix.Getpagesize()}
}

func (g *OS) PageSize() int { return g.pageSize }

// Map requests n bytes of anonymous, zero-filled memory from the kernel. n
// must be a positive multiple of PageSize(); a zero or misaligned request is
// rejected with an error before any syscall is made.
func (g *OS) Map(n uintptr) (unsafe.Pointer, error) {
	if n == 0 || int(n)%g.pageSize != 0 {
		return nil, fmt.Errorf("sysmem: map size %d is not a positive multiple of page size %d", n, g.pageSize)
	}

	b, err := unix.Mmap(-1, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("sysmem: mmap %d bytes: %w", n, err)
	}

	return unsafe.Pointer(unsafe.SliceData(b)), nil
}

// Unmap releases a region returned by Map.
func (g *OS) Unmap(p unsafe.Pointer, n uintptr) error {
	b := unsafe.Slice((*byte)(p), n)
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("sysmem: munmap %d bytes at %p: %w", n, p, err)
	}

	return nil
}
