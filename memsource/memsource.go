// Package memsource implements the cached memory source: the layer
// between the OS page mapper and the chunk managers that caches free
// macro-blocks between reuse, performing split/merge as needed. Shaped
// after the mheap growth path (runtime/mheap.go grow/sysAlloc, and
// runtime/mpagecache.go's per-P page cache, which is the same "keep a
// little spare capacity close by instead of going straight back to the
// OS" idea at a different granularity).
package memsource

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/go-hpcalloc/hpcalloc"
	"github.com/go-hpcalloc/hpcalloc/dlist"
	"github.com/go-hpcalloc/hpcalloc/internal/diag"
	"github.com/go-hpcalloc/hpcalloc/internal/integrity"
	"github.com/go-hpcalloc/hpcalloc/memsource/pagemap"
	"github.com/go-hpcalloc/hpcalloc/region"
)

// Config holds the cached memory source's tunables.
type Config struct {
	// MaxCache bounds the total bytes this source will hold in its free
	// list before returning macro-blocks straight to the OS.
	MaxCache uintptr
	// PerBlockThreshold: blocks larger than this are never cached, and
	// never served from cache; they always go straight to/from the OS.
	PerBlockThreshold uintptr
	// KeepResidue: if true, the tail left over from splitting a reused
	// block that's bigger than requested is kept on the free list
	// (when it still fits under PerBlockThreshold) instead of being
	// unmapped immediately.
	KeepResidue bool
	// MaxConcurrentSyscalls bounds the number of in-flight OS
	// page-mapping calls, avoiding a syscall storm when many local
	// allocators grow at once. Zero means unbounded.
	MaxConcurrentSyscalls int64
}

// DefaultConfig returns a reasonable set of starting tunables.
func DefaultConfig() Config {
	return Config{
		MaxCache:              256 << 20, // 256 MiB
		PerBlockThreshold:     64 << 20,  // 64 MiB
		KeepResidue:           true,
		MaxConcurrentSyscalls: 0,
	}
}

// freeHeader is written in place at the head of a cached-but-free
// macro-block: an intrusive list node plus the block's total size.
type freeHeader struct {
	node dlist.Node[freeHeader]
	base uintptr
	size uintptr
}

func freeHeaderNode(f *freeHeader) *dlist.Node[freeHeader] { return &f.node }

// Source is the cached memory source. The zero value is not ready;
// use New.
type Source struct {
	cfg Config
	mx  pagemap.Mapper
	sem *semaphore.Weighted

	mu          sync.Mutex
	free        dlist.List[freeHeader] // walked linearly on each map()
	currentSize uintptr
}

// New creates a cached memory source over the given page mapper.
func New(mx pagemap.Mapper, cfg Config) *Source {
	var sem *semaphore.Weighted
	if cfg.MaxConcurrentSyscalls > 0 {
		sem = semaphore.NewWeighted(cfg.MaxConcurrentSyscalls)
	}
	s := &Source{cfg: cfg, mx: mx, sem: sem}
	s.free.Init()
	return s
}

// CurrentSize returns the current cache size. Callers may observe a
// value that is slightly stale relative to a concurrent map/unmap.
func (s *Source) CurrentSize() uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSize
}

func (s *Source) acquireSyscallSlot() {
	if s.sem == nil {
		return
	}
	_ = s.sem.Acquire(context.Background(), 1)
}

func (s *Source) releaseSyscallSlot() {
	if s.sem == nil {
		return
	}
	s.sem.Release(1)
}

// round computes the total macro-block size for an inner request:
// the request plus the in-block segment header, rounded up to at least
// RegionSplit and to a multiple of PageSize.
func round(innerSize uintptr) uintptr {
	total := innerSize + region.HeaderSize
	if total < hpcalloc.RegionSplit {
		total = hpcalloc.RegionSplit
	}
	return hpcalloc.AlignUp(total, hpcalloc.PageSize)
}

// Map obtains a macro-block with at least innerSize usable bytes after
// its in-block segment header, optionally registering it in reg under
// manager. It returns the new segment and whether the content (the
// bytes past the header) is already known to be zeroed.
func (s *Source) Map(innerSize uintptr, manager hpcalloc.ChunkManager, reg *region.Registry) (seg *region.Segment, zeroed bool, ok bool) {
	total := round(innerSize)

	if total <= s.cfg.PerBlockThreshold {
		if fh := s.takeFromCache(total); fh != nil {
			return s.finishReuse(fh, total, manager, reg)
		}
	}

	s.acquireSyscallSlot()
	addr, mapped := s.mx.Map(total)
	s.releaseSyscallSlot()
	if !mapped {
		return nil, false, false
	}
	seg = &region.Segment{Base: addr, Size: total, Manager: manager}
	seg.WriteHeader()
	if reg != nil && manager != nil {
		reg.Register(seg)
	}
	return seg, true, true
}

// takeFromCache removes and returns the cached free block whose size
// is closest to total (ties -> first found), or nil.
func (s *Source) takeFromCache(total uintptr) *freeHeader {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *freeHeader
	var bestDelta uintptr
	s.free.Each(func(fh *freeHeader) bool {
		var delta uintptr
		if fh.size >= total {
			delta = fh.size - total
		} else {
			delta = total - fh.size
		}
		if best == nil || delta < bestDelta {
			best, bestDelta = fh, delta
		}
		return true
	})
	if best == nil {
		return nil
	}
	s.removeFromCacheLocked(best)
	return best
}

func (s *Source) removeFromCacheLocked(fh *freeHeader) {
	s.free.Remove(fh, freeHeaderNode)
	s.currentSize -= fh.size
}

func (s *Source) addToCacheLocked(fh *freeHeader) {
	s.free.PushFront(fh, freeHeaderNode)
	s.currentSize += fh.size
}

// finishReuse adapts a cached block of (possibly different) size to
// exactly `total` bytes, splitting off or growing as needed, then
// builds and registers the segment.
func (s *Source) finishReuse(fh *freeHeader, total uintptr, manager hpcalloc.ChunkManager, reg *region.Registry) (*region.Segment, bool, bool) {
	base := fh.base
	size := fh.size

	switch {
	case size < total:
		s.acquireSyscallSlot()
		newAddr, ok := s.mx.Remap(base, size, total)
		s.releaseSyscallSlot()
		if !ok {
			return nil, false, false
		}
		base = newAddr
	case size > total:
		tailBase := base + total
		tailSize := size - total
		if s.cfg.KeepResidue {
			s.retire(tailBase, tailSize)
		} else {
			s.acquireSyscallSlot()
			s.mx.Unmap(tailBase, tailSize)
			s.releaseSyscallSlot()
		}
	}

	seg := &region.Segment{Base: base, Size: total, Manager: manager}
	seg.WriteHeader()
	if reg != nil && manager != nil {
		reg.Register(seg)
	}
	return seg, false, true
}

// Remap grows or shrinks seg's underlying macro-block in place where
// possible, for the huge manager's realloc path. The registry mapping
// is torn down and rebuilt at the (possibly new) base.
func (s *Source) Remap(seg *region.Segment, newInner uintptr, reg *region.Registry) bool {
	total := round(newInner)
	if reg != nil {
		reg.Unregister(seg)
	}
	s.acquireSyscallSlot()
	newAddr, ok := s.mx.Remap(seg.Base, seg.Size, total)
	s.releaseSyscallSlot()
	if !ok {
		if reg != nil {
			reg.Register(seg) // restore prior mapping; the move failed, seg is unchanged
		}
		return false
	}
	seg.Base = newAddr
	seg.Size = total
	seg.WriteHeader()
	if reg != nil {
		reg.Register(seg)
	}
	return true
}

// Unmap returns seg to the OS or, if it fits the caching policy,
// prepends a free header and keeps it cached.
func (s *Source) Unmap(seg *region.Segment, reg *region.Registry) {
	if !seg.CheckHeader() {
		diag.Abort("memsource: corrupted segment header at %#x", seg.Base)
		return
	}
	if reg != nil {
		reg.Unregister(seg)
	}
	s.retire(seg.Base, seg.Size)
}

// retire caches the block at base when it fits both the per-block
// threshold and the remaining cache budget, and returns it to the OS
// otherwise. The lock is dropped before any syscall.
func (s *Source) retire(base, size uintptr) {
	s.mu.Lock()
	fitsCache := size <= s.cfg.PerBlockThreshold && size+s.currentSize <= s.cfg.MaxCache
	if fitsCache {
		fh := hpcalloc.Ptr[freeHeader](base)
		*fh = freeHeader{base: base, size: size}
		s.addToCacheLocked(fh)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.acquireSyscallSlot()
	s.mx.Unmap(base, size)
	s.releaseSyscallSlot()
}

// Checksum returns a heap-consistency checksum (internal/integrity)
// over the cached free list's block sizes, in list order, plus the
// tracked current cache size — making the invariant that the free
// list's sizes sum to current_size checkable without the caller
// hand-walking the list itself. Block base addresses are deliberately
// excluded so two sources holding equivalently-shaped free lists
// compare equal no matter where the OS happened to place their
// macro-blocks. Used by debug-mode self-checks and tests.
func (s *Source) Checksum() [32]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := integrity.New()
	s.free.Each(func(fh *freeHeader) bool {
		h.WriteByte(0xF0)
		h.WriteUintptr(fh.size)
		return true
	})
	h.WriteByte(0xC5)
	h.WriteUintptr(s.currentSize)
	return h.Sum()
}
