package slabmem

import (
	"fmt"
	"os"
)

// DumpFormatVersion is the version stamped on every file WriteDiagnosticDump
// produces. cmd/slabmem-dump-watch reads this header to decide whether it
// understands a given dump.
const DumpFormatVersion = "0.1.0"

// WriteDiagnosticDump renders h's class lists, the global cache, and the
// large-object table to path, stamped with DumpFormatVersion. It exists so
// an external viewer (cmd/slabmem-dump-watch) can tail a directory of these
// files without linking against the allocator itself; the dump text is not
// specified bit-exactly and must not be parsed by anything other than a
// human or that viewer.
func (a *Allocator) WriteDiagnosticDump(path string, h *Heap) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("slabmem: writing diagnostic dump: %w", err)
	}
	defer f.Close()

	fmt.Fprintf(f, "slabmem-dump %s\n", DumpFormatVersion)
	fmt.Fprint(f, a.DumpHeap(h))
	fmt.Fprint(f, a.DumpGlobalCache())
	fmt.Fprint(f, a.DumpLargeObjectTable())

	return nil
}
