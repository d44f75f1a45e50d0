package pagemap

import (
	"sync"

	"github.com/go-hpcalloc/hpcalloc"
)

// Bump is a test-only Mapper: it carves pages out of one large
// anonymous backing array with a simple bump pointer, rather than
// calling the kernel for every macro-block the way Unix does. Unit
// tests for memsource and the chunk managers use this so they don't
// depend on the kernel actually granting large numbers of distinct
// mmap regions (and so they run identically on every OS/arch this
// module's tests target). Unmap/Remap shrink-in-place are no-ops
// beyond bookkeeping; Remap-grow always relocates, same as a real
// mmap implementation would when it can't extend in place, which
// keeps the test mapper exercising the same code paths as Unix.
type Bump struct {
	mu      sync.Mutex
	backing []byte
	next    uintptr
}

// NewBump allocates a single capacity-byte backing arena up front.
func NewBump(capacity uintptr) *Bump {
	return &Bump{backing: make([]byte, capacity)}
}

var _ Mapper = (*Bump)(nil)

func (b *Bump) Map(size uintptr) (uintptr, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	base := addrOfSlice(b.backing)
	// Returned blocks honor the page mapper's page-aligned-base
	// contract even though the backing array itself need not start on
	// a page boundary.
	addr := hpcalloc.AlignUp(base+b.next, hpcalloc.PageSize)
	if addr+size > base+uintptr(len(b.backing)) {
		return 0, false
	}
	b.next = addr + size - base
	return addr, true
}

func (b *Bump) Unmap(addr, size uintptr) {
	// The bump arena never reclaims; freed macro-blocks are simply
	// abandoned within the backing array for the lifetime of the test.
}

func (b *Bump) Remap(addr, oldSize, newSize uintptr) (uintptr, bool) {
	if newSize <= oldSize {
		return addr, true
	}
	newAddr, ok := b.Map(newSize)
	if !ok {
		return 0, false
	}
	copyBytes(newAddr, addr, oldSize)
	return newAddr, true
}
