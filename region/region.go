// Package region implements the process-wide region registry: a
// two-level mapping from any byte address to the macro-block (region
// segment) that contains it, and to that segment's owning chunk
// manager. Shaped after the Go runtime's own arena map in
// runtime/mheap.go (mheap.arenas, a two-level [L1]*[L2]*heapArena
// table keyed by "arena frame number"), specialized to macro-block-
// sized tiles instead of 64 MiB arenas, with a single flat level-2
// slab allocated per 1 TiB slot instead of a lazily-allocated L2
// table, since every slot here backs a dense array of entries rather
// than the runtime's sparse arena map.
package region

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/go-hpcalloc/hpcalloc"
	"github.com/go-hpcalloc/hpcalloc/internal/diag"
)

const (
	regionSize  = hpcalloc.RegionSize
	regionSplit = hpcalloc.RegionSplit
	slotsPerReg = regionSize / regionSplit
)

// SegmentHeader is stamped in place at the first bytes of every
// macro-block; the block's content starts immediately after it. Only
// plain words live here: a hpcalloc.ChunkManager interface value is a
// GC-tracked fat pointer that must not be stored in unscanned mapped
// memory, so the manager reference stays in the registry entry
// (Segment) indexing this block, and the in-block header carries the
// geometry plus an integrity check over it.
type SegmentHeader struct {
	Base  uintptr
	Size  uintptr
	Check uintptr // Base ^ Size ^ Magic, validated before the block is torn down
	Magic byte
}

// HeaderSize is the in-block segment header footprint: the content of
// a macro-block starts this many bytes past its base.
var HeaderSize = unsafe.Sizeof(SegmentHeader{})

func headerCheck(base, size uintptr) uintptr {
	return base ^ size ^ uintptr(hpcalloc.Magic)
}

// Segment is the registry's entry for one macro-block: the same
// geometry as the in-block SegmentHeader plus the GC-visible manager
// and owner references that cannot live on the raw page.
type Segment struct {
	Base    uintptr // macro-block base, PageSize-aligned
	Size    uintptr // total size, a multiple of PageSize, >= RegionSplit
	Manager hpcalloc.ChunkManager

	// Owner is the local allocator this macro-block was grown by, if
	// any. A free from any other thread must not call Manager.Free
	// directly; it publishes to Owner's remote-free queue instead. Nil
	// for managers not wrapped by a local allocator (e.g. in isolated
	// tests).
	Owner RemoteSink
}

// ContentBase is the first usable content byte, just past the in-block
// header.
func (s *Segment) ContentBase() uintptr { return s.Base + HeaderSize }

// InnerSize is the usable content size: the total size minus the
// in-block header.
func (s *Segment) InnerSize() uintptr { return s.Size - HeaderSize }

// WriteHeader stamps the in-block header at the macro-block base.
// Called by the memory source whenever a block is mapped, reused, or
// remapped; never by tests that fabricate Segments with no real
// storage behind them.
func (s *Segment) WriteHeader() {
	// Clear the whole header footprint first so its padding bytes are
	// deterministic: the bytes just before ContentBase are probed by
	// the padded-chunk Unpad and must never hold a stale magic tag.
	hpcalloc.Memset0(s.Base, HeaderSize)
	h := hpcalloc.Ptr[SegmentHeader](s.Base)
	h.Base = s.Base
	h.Size = s.Size
	h.Check = headerCheck(s.Base, s.Size)
	h.Magic = hpcalloc.Magic
}

// CheckHeader reports whether the in-block header still agrees with
// the registry entry, for corruption detection before teardown.
func (s *Segment) CheckHeader() bool {
	h := hpcalloc.Ptr[SegmentHeader](s.Base)
	return h.Magic == hpcalloc.Magic &&
		h.Base == s.Base &&
		h.Size == s.Size &&
		h.Check == headerCheck(s.Base, s.Size)
}

// RemoteSink receives addresses freed by a thread that does not own the
// macro-block containing them. Implemented by local.Allocator; declared
// here (rather than imported) to avoid a region<->local import cycle.
type RemoteSink interface {
	PublishRemoteFree(addr uintptr)
}

// Contain reports whether addr falls within this segment's span.
func (s *Segment) Contain(addr uintptr) bool {
	return addr >= s.Base && addr < s.Base+s.Size
}

// slab holds one 1 TiB region's worth of entry slots.
type slab struct {
	entries [slotsPerReg]atomic.Pointer[Segment]
}

// Registry is the process-wide singleton address→segment map. The zero
// value is ready to use.
type Registry struct {
	mu    sync.Mutex // guards slab creation only; slot access is lock-free
	slabs atomic.Pointer[[]*slab]
}

func (r *Registry) slabFor(regionID uintptr) *slab {
	for {
		cur := r.slabs.Load()
		if cur != nil && int(regionID) < len(*cur) && (*cur)[regionID] != nil {
			return (*cur)[regionID]
		}
		r.grow(regionID)
	}
}

func (r *Registry) grow(regionID uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.slabs.Load()
	var next []*slab
	if cur != nil {
		next = append(next, (*cur)...)
	}
	for uintptr(len(next)) <= regionID {
		next = append(next, nil)
	}
	if next[regionID] == nil {
		next[regionID] = &slab{}
	}
	r.slabs.Store(&next)
}

func tileOf(addr uintptr) (regionID, entryID uintptr) {
	regionID = addr / regionSize
	entryID = (addr % regionSize) / regionSplit
	return
}

// Register installs seg into every regionSplit-sized tile it overlaps.
func (r *Registry) Register(seg *Segment) {
	r.forEachTile(seg.Base, seg.Size, func(s *slab, entry uintptr) {
		s.entries[entry].Store(seg)
	})
}

// Unregister clears every tile seg overlaps, but only where the slot
// still points at seg (it may have been overwritten by a newer segment
// that reused the same tile after seg was already torn down elsewhere,
// though in normal operation Unregister always runs before reuse).
func (r *Registry) Unregister(seg *Segment) {
	r.forEachTile(seg.Base, seg.Size, func(s *slab, entry uintptr) {
		s.entries[entry].CompareAndSwap(seg, nil)
	})
}

func (r *Registry) forEachTile(base, size uintptr, f func(s *slab, entry uintptr)) {
	if size == 0 {
		return
	}
	start := hpcalloc.AlignDown(base, regionSplit)
	end := hpcalloc.AlignUp(base+size, regionSplit)
	for addr := start; addr < end; addr += regionSplit {
		regionID, entryID := tileOf(addr)
		f(r.slabFor(regionID), entryID)
	}
}

// maxAddr bounds the addressable range this registry accepts; anything
// above it is a programming error in the caller, not a recoverable
// out-of-memory condition.
const maxAddr = regionSize * 1 << 20 // generous upper bound, not a hard platform limit

// Lookup maps addr to the segment that contains it, or nil if addr is
// not covered by any live macro-block. A macro-block can straddle a
// tile boundary, so if the indexed tile is empty (or claims a segment
// whose base is past addr — meaning this tile belongs to the following
// block, not one that merely overlaps it from the left) the preceding
// tile is also tried, a left-overlap retry.
func (r *Registry) Lookup(addr uintptr) *Segment {
	if addr >= maxAddr {
		diag.Abort("region: address %#x exceeds addressable range", addr)
		return nil
	}
	if seg := r.lookupTile(addr); seg != nil && seg.Contain(addr) {
		return seg
	}
	if addr < regionSplit {
		return nil
	}
	if seg := r.lookupTile(addr - regionSplit); seg != nil && seg.Contain(addr) {
		return seg
	}
	return nil
}

func (r *Registry) lookupTile(addr uintptr) *Segment {
	regionID, entryID := tileOf(addr)
	cur := r.slabs.Load()
	if cur == nil || int(regionID) >= len(*cur) || (*cur)[regionID] == nil {
		return nil
	}
	return (*cur)[regionID].entries[entryID].Load()
}
