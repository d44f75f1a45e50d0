package medium

import (
	"sync"

	"github.com/go-hpcalloc/hpcalloc"
	"github.com/go-hpcalloc/hpcalloc/internal/diag"
	"github.com/go-hpcalloc/hpcalloc/memsource"
	"github.com/go-hpcalloc/hpcalloc/padding"
	"github.com/go-hpcalloc/hpcalloc/region"
)

// TrackRequestedSize toggles whether Malloc records the caller's exact
// request alongside the chunk's rounded inner size, so RequestedSize
// can answer precisely instead of returning the unsupported sentinel.
// Default on, mirroring the size-class bucketing that reports both
// "size class" and "needed size" in runtime allocator stats.
var TrackRequestedSize = true

// splitSlack is the minimum residue (inner bytes, beyond the new
// chunk's own header) a split must leave behind; smaller residues are
// handed over whole instead.
const splitSlack = hpcalloc.MediumMin

// block tracks one macro-block donated to this manager, so Free can
// recognize when an entire macro-block has gone fully idle and should
// be returned to the memory source instead of kept as one big free
// chunk forever.
type block struct {
	seg   *region.Segment
	first *Chunk
}

// Manager is the medium chunk manager: a boundary-tag allocator with a
// segregated free pool, grown one macro-block at a time from a shared
// memsource.Source. Shaped after the mcentral.go/mspan.go pair: central
// free lists grown from mheap a page-run at a time.
type Manager struct {
	mu     sync.Mutex
	src    *memsource.Source
	reg    *region.Registry
	pool   *Pool
	blocks map[uintptr]*block
	owner  region.RemoteSink
	// requested records the exact size passed to Malloc/Realloc per
	// live chunk, when TrackRequestedSize is enabled.
	requested map[*Chunk]uintptr
}

var _ hpcalloc.ChunkManager = (*Manager)(nil)

// New creates a medium chunk manager. A nil sizes vector uses
// DefaultSizeClasses. owner may be nil; see huge.New's doc comment.
func New(src *memsource.Source, reg *region.Registry, sizes []uintptr, owner region.RemoteSink) *Manager {
	return &Manager{
		src:       src,
		reg:       reg,
		pool:      NewPool(sizes),
		blocks:    make(map[uintptr]*block),
		owner:     owner,
		requested: make(map[*Chunk]uintptr),
	}
}

func (m *Manager) chunkAt(base uintptr) *Chunk {
	return hpcalloc.Ptr[Chunk](base)
}

// growLocked donates a fresh macro-block to the pool, sized to
// comfortably hold need bytes of inner content plus chunk header, and
// to come out as exactly one macro unit when need is small.
func (m *Manager) growLocked(need uintptr) bool {
	want := need + headerSize
	if want < hpcalloc.Macro-region.HeaderSize {
		want = hpcalloc.Macro - region.HeaderSize
	}
	seg, _, ok := m.src.Map(want, m, m.reg)
	if !ok {
		return false
	}
	seg.Owner = m.owner

	first := m.chunkAt(seg.ContentBase())
	*first = Chunk{
		Base:      seg.ContentBase(),
		Status:    StatusFree,
		Magic:     hpcalloc.Magic,
		macroBase: seg.Base,
		blockEnd:  seg.Base + seg.Size,
	}
	m.blocks[seg.Base] = &block{seg: seg, first: first}
	m.pool.Insert(first, FIFO)
	return true
}

// Malloc allocates size bytes aligned to align. When zero is set, the
// returned bytes are zero-filled; a medium chunk may come from a
// recycled free chunk, so this manager never guarantees zeroed content
// on its own.
func (m *Manager) Malloc(size, align uintptr, zero bool) uintptr {
	inner := size
	if inner < hpcalloc.MediumMin {
		inner = hpcalloc.MediumMin
	}
	extra := uintptr(0)
	if align > hpcalloc.BasicAlign {
		// align bytes of slack plus a little headroom: the padding
		// header needs HeaderSize bytes ahead of the aligned address,
		// which can push the first aligned candidate one whole align
		// further out.
		extra = align + hpcalloc.BasicAlign
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	chunk := m.pool.Find(inner + extra)
	if chunk == nil {
		if !m.growLocked(inner + extra) {
			return 0
		}
		chunk = m.pool.Find(inner + extra)
		if chunk == nil {
			return 0
		}
	}

	if chunk.InnerSize() >= inner+extra+headerSize+splitSlack {
		_, tail := m.pool.Split(chunk, inner+extra)
		m.pool.Insert(tail, LIFO)
	}

	content := chunk.Base + headerSize
	if extra > 0 {
		delta, padOK := padding.CalcPadding(content, align, size, chunk.InnerSize())
		if !padOK {
			// Slack reserved via extra should make this unreachable; fail
			// loudly rather than hand back a misaligned pointer.
			m.pool.Insert(chunk, LIFO)
			return 0
		}
		content += uintptr(delta)
		padding.Pad(content, delta)
	}
	if TrackRequestedSize {
		m.requested[chunk] = size
	}
	if zero {
		hpcalloc.Memset0(content, size)
	}
	return content
}

// rawChunkAt recovers the chunk header for addr without regard to its
// current status — used where the caller needs to distinguish "never
// valid" from "valid but already freed" (Free's double-free check).
func (m *Manager) rawChunkAt(addr uintptr) *Chunk {
	contentBase := padding.Unpad(addr)
	chunkBase := contentBase - headerSize
	chunk := m.chunkAt(chunkBase)
	if chunk.Magic != hpcalloc.Magic {
		return nil
	}
	return chunk
}

// lookupChunk recovers the chunk header for addr, but only if it is
// currently a live (allocated) chunk — a freed or never-valid address
// both report as "not found" to size queries.
func (m *Manager) lookupChunk(addr uintptr) *Chunk {
	chunk := m.rawChunkAt(addr)
	if chunk == nil || chunk.Status != StatusAllocated {
		return nil
	}
	return chunk
}

// Free releases the chunk backing addr, coalescing with free neighbors
// and returning the whole macro-block to the memory source if it goes
// fully idle.
func (m *Manager) Free(addr uintptr) {
	m.mu.Lock()

	chunk := m.rawChunkAt(addr)
	if chunk == nil {
		m.mu.Unlock()
		diag.Warn("medium: free of unrecognized address %#x ignored", addr)
		return
	}
	if chunk.Status == StatusFree {
		m.mu.Unlock()
		diag.Abort("medium: double free at %#x", addr)
		return
	}

	delete(m.requested, chunk)
	merged := m.pool.Merge(chunk)
	blk := m.blocks[merged.macroBase]
	if blk != nil && merged.Base == blk.first.Base && merged.Next == nil {
		// The block is withdrawn under the lock; the memory-source call
		// is made after releasing it.
		delete(m.blocks, merged.macroBase)
		m.mu.Unlock()
		m.src.Unmap(blk.seg, m.reg)
		return
	}
	m.pool.Insert(merged, LIFO)
	m.mu.Unlock()
}

// Realloc resizes the allocation at addr to n bytes.
func (m *Manager) Realloc(addr uintptr, n uintptr) uintptr {
	m.mu.Lock()
	chunk := m.lookupChunk(addr)
	if chunk == nil {
		m.mu.Unlock()
		diag.Warn("medium: realloc of unrecognized address %#x treated as fresh alloc", addr)
		fresh := m.Malloc(n, hpcalloc.BasicAlign, false)
		if fresh != 0 {
			hpcalloc.Memcpy(fresh, addr, n)
		}
		return fresh
	}

	if n < hpcalloc.MediumMin {
		n = hpcalloc.MediumMin
	}
	// addr may carry alignment padding ahead of it; every in-place
	// decision below is made in terms of the bytes actually available
	// at addr, and the chunk keeps its padding through a resize.
	padOffset := addr - (chunk.Base + headerSize)
	avail := chunk.InnerSize() - padOffset
	need := n + padOffset
	if n <= avail && avail-n <= hpcalloc.ReallocThreshold {
		if TrackRequestedSize {
			m.requested[chunk] = n
		}
		m.mu.Unlock()
		return addr
	}
	if n <= avail {
		// shrink in place, splitting off the residue when worthwhile
		if chunk.InnerSize() >= need+headerSize+splitSlack {
			_, tail := m.pool.Split(chunk, need)
			m.pool.Insert(tail, LIFO)
		}
		if TrackRequestedSize {
			m.requested[chunk] = n
		}
		m.mu.Unlock()
		return addr
	}
	if grown, ok := m.pool.TryMergeForSize(chunk, need); ok {
		if grown.InnerSize() >= need+headerSize+splitSlack {
			_, tail := m.pool.Split(grown, need)
			m.pool.Insert(tail, LIFO)
		}
		if TrackRequestedSize {
			m.requested[grown] = n
		}
		m.mu.Unlock()
		return addr
	}
	m.mu.Unlock()

	fresh := m.Malloc(n, hpcalloc.BasicAlign, false)
	if fresh == 0 {
		return 0
	}
	hpcalloc.Memcpy(fresh, addr, avail)
	m.Free(addr)
	return fresh
}

// InnerSize returns the usable size of the chunk backing addr.
func (m *Manager) InnerSize(addr uintptr) uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunk := m.lookupChunk(addr)
	if chunk == nil {
		return 0
	}
	return chunk.InnerSize() - (addr - (chunk.Base + headerSize))
}

// TotalSize returns the chunk's inner size plus its header.
func (m *Manager) TotalSize(addr uintptr) uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunk := m.lookupChunk(addr)
	if chunk == nil {
		return 0
	}
	return chunk.InnerSize() + headerSize
}

// RequestedSize returns the exact byte count passed to Malloc/Realloc,
// if TrackRequestedSize was enabled when the chunk was last sized.
func (m *Manager) RequestedSize(addr uintptr) uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunk := m.lookupChunk(addr)
	if chunk == nil {
		return 0
	}
	if n, ok := m.requested[chunk]; ok {
		return n
	}
	return hpcalloc.SizeUnsupported
}

// IsThreadSafe always reports true.
func (m *Manager) IsThreadSafe() bool { return true }

// Checksum returns a heap-consistency checksum over the manager's
// current free pool (internal/integrity), for debug-mode self-checks
// and tests asserting a sequence of operations left the pool in an
// expected shape without hand-walking every free list.
func (m *Manager) Checksum() [32]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool.Checksum()
}
