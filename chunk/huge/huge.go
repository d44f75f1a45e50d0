// Package huge implements the huge chunk manager: allocations at or
// above the huge threshold are served directly by the memory source,
// one macro-block per allocation. Shaped after the large-object path
// in runtime/malloc.go (mallocgc's "largeAlloc", which likewise
// bypasses mcache/mcentral and asks mheap for a multiple-of-page run
// directly for big objects).
package huge

import (
	"sync"

	"github.com/go-hpcalloc/hpcalloc"
	"github.com/go-hpcalloc/hpcalloc/internal/diag"
	"github.com/go-hpcalloc/hpcalloc/memsource"
	"github.com/go-hpcalloc/hpcalloc/padding"
	"github.com/go-hpcalloc/hpcalloc/region"
)

// mediumMin is the floor inner size requested from the memory source:
// every macro-block's usable size is at least max(size, MediumMin).
const mediumMin = hpcalloc.MediumMin

// Manager is the huge chunk manager. It is always thread-safe: a
// single mutex is held around each memory-source call, including any
// OS page-mapping call the source makes underneath it.
type Manager struct {
	mu    sync.Mutex
	src   *memsource.Source
	reg   *region.Registry
	owner region.RemoteSink
}

var _ hpcalloc.ChunkManager = (*Manager)(nil)

// New creates a huge chunk manager over the given memory source and
// region registry. owner may be nil (e.g. in isolated tests); when set,
// every macro-block this manager maps is stamped with it so remote
// frees route through the owner's MPSC queue instead of calling in
// here directly.
func New(src *memsource.Source, reg *region.Registry, owner region.RemoteSink) *Manager {
	return &Manager{src: src, reg: reg, owner: owner}
}

// Malloc allocates size bytes aligned to align (align may be
// hpcalloc.BasicAlign for no extra alignment requirement). When zero
// is set, the returned bytes are zero-filled; a freshly OS-mapped
// macro-block already is, so only reused blocks pay the memset.
func (m *Manager) Malloc(size, align uintptr, zero bool) uintptr {
	inner := size
	if inner < mediumMin {
		inner = mediumMin
	}

	m.mu.Lock()
	seg, zeroed, ok := m.src.Map(inner, m, m.reg)
	if ok {
		seg.Owner = m.owner
	}
	m.mu.Unlock()
	if !ok {
		return 0
	}

	content := seg.ContentBase()
	if align > hpcalloc.BasicAlign {
		delta, padOK := padding.CalcPadding(seg.ContentBase(), align, size, seg.InnerSize())
		if !padOK {
			// The macro-block is too small to satisfy this alignment;
			// return it and fail rather than hand back a misaligned
			// pointer.
			m.mu.Lock()
			m.src.Unmap(seg, m.reg)
			m.mu.Unlock()
			return 0
		}
		content = seg.ContentBase() + uintptr(delta)
		padding.Pad(content, delta)
	}
	if zero && !zeroed {
		hpcalloc.Memset0(content, size)
	}
	return content
}

func (m *Manager) segmentFor(addr uintptr) (*region.Segment, uintptr) {
	base := padding.Unpad(addr)
	seg := m.reg.Lookup(base)
	if seg == nil {
		return nil, 0
	}
	return seg, base
}

// Free returns the macro-block backing addr to the memory source.
func (m *Manager) Free(addr uintptr) {
	seg, _ := m.segmentFor(addr)
	if seg == nil {
		diag.Warn("huge: free of unknown address %#x ignored", addr)
		return
	}
	m.mu.Lock()
	m.src.Unmap(seg, m.reg)
	m.mu.Unlock()
}

// Realloc resizes the allocation at addr to n bytes. If the current
// inner size already satisfies n within ReallocThreshold slack, the
// same address is returned; otherwise the macro-block is remapped.
func (m *Manager) Realloc(addr uintptr, n uintptr) uintptr {
	seg, base := m.segmentFor(addr)
	if seg == nil {
		diag.Warn("huge: realloc of unknown address %#x treated as fresh alloc", addr)
		fresh := m.Malloc(n, hpcalloc.BasicAlign, false)
		if fresh != 0 {
			hpcalloc.Memcpy(fresh, addr, n) // best-effort recovery from an address this manager never produced
		}
		return fresh
	}

	padAmount := addr - base
	curInner := seg.InnerSize() - padAmount
	if n <= curInner && curInner-n <= hpcalloc.ReallocThreshold {
		return addr
	}

	m.mu.Lock()
	ok := m.src.Remap(seg, n+padAmount, m.reg)
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return seg.ContentBase() + padAmount
}

// InnerSize returns the usable size at addr: the macro-block's content
// size minus any alignment padding consumed ahead of the returned
// pointer.
func (m *Manager) InnerSize(addr uintptr) uintptr {
	seg, base := m.segmentFor(addr)
	if seg == nil {
		return 0
	}
	return seg.InnerSize() - (addr - base)
}

// TotalSize returns the full macro-block size backing addr.
func (m *Manager) TotalSize(addr uintptr) uintptr {
	seg, _ := m.segmentFor(addr)
	if seg == nil {
		return 0
	}
	return seg.Size
}

// RequestedSize always returns the unsupported sentinel: the huge
// manager does not track the originally requested size.
func (m *Manager) RequestedSize(uintptr) uintptr {
	return hpcalloc.SizeUnsupported
}

// IsThreadSafe always reports true.
func (m *Manager) IsThreadSafe() bool { return true }
