// Package sizeclass computes the static, process-wide table of small-object
// size classes used by the slab allocator.
//
// The table is derived once, at process start, from a handful of tunables
// (see Tunables) and never mutated afterward; every allocator component
// treats it as read-only.
package sizeclass

import "math/bits"

// Tunables are the knobs the class table is derived from: six allocator
// tunables plus the platform's page and pointer sizes.
type Tunables struct {
	// Classes is the number of size classes.
	Classes int
	// HintObjectsPerBlock is the target object count used to size a block
	// before clamping into [MinBlock, MaxBlock].
	HintObjectsPerBlock int
	// MinBlock is the smallest allowed block size, in bytes.
	MinBlock int
	// MaxBlock is the largest allowed block size, in bytes.
	MaxBlock int
	// MaxSmall is the largest request size serviced by the slab path;
	// anything larger goes through the large-object fallback.
	MaxSmall int
	// HeaderBytes is the nominal size of the page-block header, expressed
	// in bytes of object cells it consumes.
	HeaderBytes int
	// PageSize is the OS page size in bytes.
	PageSize int
	// PointerSize is the width of a native pointer, in bytes.
	PointerSize int
}

// Default returns the tunables described by the specification: ten classes
// spanning 1..2048 bytes, 16 KiB..256 KiB blocks, a 1024-object hint and a
// 128-byte header budget.
func Default(pageSize int) Tunables {
	return Tunables{
		Classes:             10,
		HintObjectsPerBlock: 1024,
		MinBlock:            1 << 14,
		MaxBlock:            1 << 18,
		MaxSmall:            2048,
		HeaderBytes:         128,
		PageSize:            pageSize,
		PointerSize:         8,
	}
}

// Class describes one size class: every field is fixed at startup and never
// changes for the lifetime of the process.
type Class struct {
	ObjectSize    int // bytes per object in this class
	BlockBytes    int // bytes per page block of this class
	Pages         int // pages per block
	HeaderSlots   int // object cells reserved for the block header
	PerPageSlots  int // object cells reserved for each page's back-pointer (pages after the first)
	UsableObjects int // objects a fresh block of this class can hand out
	CacheClass    int // index into the cache-class grouping
}

// Table is the immutable, process-wide size-class table.
type Table struct {
	tunables Tunables
	classes  []Class
}

// Build computes the class table from t. It is meant to be called once, at
// process start; the returned Table is safe for concurrent read-only use by
// any number of goroutines thereafter.
func Build(t Tunables) *Table {
	classes := make([]Class, t.Classes)

	blockBytesByObject := make(map[int]int, t.Classes)
	order := make([]int, 0, t.Classes)

	for c := 0; c < t.Classes; c++ {
		objectSize := 4 << uint(c) // 4, 8, 16, ..., 2048 for Classes=10

		blockBytes := t.HintObjectsPerBlock * objectSize
		if blockBytes < t.MinBlock {
			blockBytes = t.MinBlock
		} else if blockBytes > t.MaxBlock {
			blockBytes = t.MaxBlock
		}

		pages := blockBytes / t.PageSize

		headerSlots := ceilDiv(t.HeaderBytes, objectSize)
		if headerSlots < 1 {
			headerSlots = 1
		}

		perPageSlots := ceilDiv(t.PointerSize, objectSize)
		if perPageSlots < 1 {
			perPageSlots = 1
		}

		usable := blockBytes/objectSize - headerSlots - perPageSlots*(pages-1)

		classes[c] = Class{
			ObjectSize:    objectSize,
			BlockBytes:    blockBytes,
			Pages:         pages,
			HeaderSlots:   headerSlots,
			PerPageSlots:  perPageSlots,
			UsableObjects: usable,
		}

		if _, ok := blockBytesByObject[blockBytes]; !ok {
			blockBytesByObject[blockBytes] = len(order)
			order = append(order, blockBytes)
		}
	}

	for c := range classes {
		classes[c].CacheClass = blockBytesByObject[classes[c].BlockBytes]
	}

	return &Table{tunables: t, classes: classes}
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// NumClasses returns the number of small-object size classes.
func (t *Table) NumClasses() int { return len(t.classes) }

// NumCacheClasses returns the number of distinct cache-class slots.
func (t *Table) NumCacheClasses() int {
	max := 0
	for _, c := range t.classes {
		if c.CacheClass+1 > max {
			max = c.CacheClass + 1
		}
	}
	return max
}

// MaxSmall returns the ceiling of the slab-managed size range.
func (t *Table) MaxSmall() int { return t.tunables.MaxSmall }

// PageSize returns the OS page size the table was built against.
func (t *Table) PageSize() int { return t.tunables.PageSize }

// Class returns the descriptor for class index c.
func (t *Table) Class(c int) Class { return t.classes[c] }

// ClassOf maps a requested byte size to a class index using
// ceil(log2(max(size, 4))) - 2. Callers must first reject size <= 0 and
// size > MaxSmall(); ClassOf does not itself validate range.
func ClassOf(size int) int {
	if size < 4 {
		size = 4
	}
	// ceil(log2(size)) == bits needed to represent (size-1), with size a
	// power of two handled exactly by bits.Len.
	n := bits.Len(uint(size - 1))
	return n - 2
}
