// Package heap is the process-wide allocator façade: the public
// surface a C allocator's malloc/free/realloc/etc. would bind to,
// built on a shared region registry and memory source plus a pool of
// local.Allocator shards.
//
// True thread/NUMA-aware ownership is treated as an external policy
// layer, and Go has no portable equivalent of thread-local storage
// without cgo. This package's stand-in is a sync.Pool of
// local.Allocator shards, used the same way sync/pool.go's callers
// elsewhere borrow a scratch object for a call's duration: each
// Malloc/Free/Realloc call borrows a shard, uses it, and returns it.
// This preserves every correctness property the registry and the
// remote-free queue provide (a shard never touches a macro-block it
// doesn't own without going through PublishRemoteFree), but it is
// NOT a thread-affinity or NUMA-locality claim, and it inherits one
// known limitation from sync.Pool itself: a shard sitting idle in the
// pool across a GC cycle can be dropped, and any remote frees still
// queued on it at that point are never flushed. A real deployment
// wanting that leak closed would replace this package's picker with
// genuine OS-thread-pinned shards, an external policy concern, without
// changing anything below it.
package heap

import (
	"sync"

	"github.com/go-hpcalloc/hpcalloc"
	"github.com/go-hpcalloc/hpcalloc/local"
	"github.com/go-hpcalloc/hpcalloc/memsource"
	"github.com/go-hpcalloc/hpcalloc/memsource/pagemap"
	"github.com/go-hpcalloc/hpcalloc/profiling"
	"github.com/go-hpcalloc/hpcalloc/region"
)

// Heap is a complete, independently-instantiable allocator. Most
// programs use the process-wide Default instance via the package-level
// functions below rather than constructing one directly.
type Heap struct {
	reg      *region.Registry
	src      *memsource.Source
	shards   sync.Pool
	profiler *profiling.Recorder // nil unless EnableProfiling is called
}

// New creates a Heap backed by a real OS page mapper.
func New() *Heap {
	return NewWithMapper(pagemap.Unix{})
}

// NewWithMapper creates a Heap over a caller-supplied page mapper
// (tests use memsource/pagemap.Bump to avoid touching the OS).
func NewWithMapper(mx pagemap.Mapper) *Heap {
	h := &Heap{
		reg: &region.Registry{},
		src: memsource.New(mx, memsource.DefaultConfig()),
	}
	h.shards.New = func() any { return local.New(h.src, h.reg) }
	return h
}

// EnableProfiling turns on allocation-size sample recording (see
// package profiling) and returns the Recorder so the caller can export
// a pprof profile later via Recorder.WriteProfile. Safe to call at most
// once per Heap; a second call replaces the recorder.
func (h *Heap) EnableProfiling() *profiling.Recorder {
	h.profiler = profiling.NewRecorder()
	return h.profiler
}

// tierName classifies size by the same size boundaries as
// local.Allocator's internal tierFor, for profiling labels only —
// profiling is purely observational and never influences routing. It
// ignores alignment, so an over-aligned small-sized request, which
// tierFor routes to medium, is labelled "small" here.
func tierName(size uintptr) string {
	switch {
	case size >= hpcalloc.HugeThreshold:
		return "huge"
	case size <= hpcalloc.SmallMax:
		return "small"
	default:
		return "medium"
	}
}

func (h *Heap) borrow() *local.Allocator {
	return h.shards.Get().(*local.Allocator)
}

func (h *Heap) release(a *local.Allocator) {
	h.shards.Put(a)
}

// Malloc allocates size bytes with basic (8-byte) alignment. Requesting
// 0 bytes returns a distinct, freeable non-null pointer rather than
// nil, matching glibc's documented malloc(0) behavior.
func (h *Heap) Malloc(size uintptr) uintptr {
	a := h.borrow()
	defer h.release(a)
	p := a.Malloc(size, hpcalloc.BasicAlign, false)
	h.recordAlloc(size, p)
	return p
}

// Calloc allocates count*size bytes, zeroed. A product that overflows
// uintptr returns 0 rather than silently allocating the wrapped size.
// Zero-filling is delegated to the allocator, which skips the memset
// when the backing storage is already known to be zeroed.
func (h *Heap) Calloc(count, size uintptr) uintptr {
	if size != 0 && count > ^uintptr(0)/size {
		return 0
	}
	n := count * size
	a := h.borrow()
	defer h.release(a)
	p := a.Malloc(n, hpcalloc.BasicAlign, true)
	h.recordAlloc(n, p)
	return p
}

// recordAlloc feeds a successful allocation into the profiler, if
// profiling was enabled via EnableProfiling. A no-op otherwise.
func (h *Heap) recordAlloc(size, p uintptr) {
	if h.profiler == nil || p == 0 {
		return
	}
	h.profiler.RecordAlloc(tierName(size), size)
}

// Memalign allocates size bytes aligned to align, which need not be a
// multiple of the pointer size.
func (h *Heap) Memalign(align, size uintptr) uintptr {
	a := h.borrow()
	defer h.release(a)
	p := a.Malloc(size, align, false)
	h.recordAlloc(size, p)
	return p
}

// AlignedAlloc is the C11 aligned_alloc contract: align must be a power
// of two and size a multiple of align. Violations return 0 rather than
// silently rounding, since callers rely on the exact size/align
// relationship.
func (h *Heap) AlignedAlloc(align, size uintptr) uintptr {
	if !hpcalloc.IsPowerOfTwo(align) || size%align != 0 {
		return 0
	}
	return h.Memalign(align, size)
}

// PosixMemalign is the posix_memalign contract: align must be a power
// of two multiple of the pointer size. Returns the allocated address
// and true on success.
func (h *Heap) PosixMemalign(align, size uintptr) (uintptr, bool) {
	const ptrSize = 8
	if !hpcalloc.IsPowerOfTwo(align) || align%ptrSize != 0 {
		return 0, false
	}
	p := h.Memalign(align, size)
	return p, p != 0
}

// Pvalloc rounds size up to a whole number of pages and aligns to the
// page size, the legacy valloc-family contract.
func (h *Heap) Pvalloc(size uintptr) uintptr {
	return h.Memalign(hpcalloc.PageSize, hpcalloc.AlignUp(size, hpcalloc.PageSize))
}

// Valloc allocates size bytes aligned to the page size.
func (h *Heap) Valloc(size uintptr) uintptr {
	return h.Memalign(hpcalloc.PageSize, size)
}

// Realloc resizes the allocation at p to size bytes. p == 0 behaves as
// Malloc(size); size == 0 behaves as Free(p) and returns 0.
func (h *Heap) Realloc(p uintptr, size uintptr) uintptr {
	if p == 0 {
		return h.Malloc(size)
	}
	a := h.borrow()
	defer h.release(a)
	return a.Realloc(p, size)
}

// Free releases p. Free(0) is a documented no-op.
func (h *Heap) Free(p uintptr) {
	if p == 0 {
		return
	}
	a := h.borrow()
	defer h.release(a)
	a.Free(p)
}

// InnerSize, TotalSize, and RequestedSize report on a live allocation;
// see hpcalloc.ChunkManager's doc comments for what each means. All
// three are safe to call from any shard regardless of which shard
// produced p, since they only ever read through the registry.
func (h *Heap) InnerSize(p uintptr) uintptr {
	a := h.borrow()
	defer h.release(a)
	return a.InnerSize(p)
}

func (h *Heap) TotalSize(p uintptr) uintptr {
	a := h.borrow()
	defer h.release(a)
	return a.TotalSize(p)
}

func (h *Heap) RequestedSize(p uintptr) uintptr {
	a := h.borrow()
	defer h.release(a)
	return a.RequestedSize(p)
}

// Default is the process-wide heap the package-level functions below
// operate on.
var Default = New()

func Malloc(size uintptr) uintptr                       { return Default.Malloc(size) }
func Calloc(count, size uintptr) uintptr                { return Default.Calloc(count, size) }
func Memalign(align, size uintptr) uintptr              { return Default.Memalign(align, size) }
func AlignedAlloc(align, size uintptr) uintptr          { return Default.AlignedAlloc(align, size) }
func PosixMemalign(align, size uintptr) (uintptr, bool) { return Default.PosixMemalign(align, size) }
func Pvalloc(size uintptr) uintptr                      { return Default.Pvalloc(size) }
func Valloc(size uintptr) uintptr                       { return Default.Valloc(size) }
func Realloc(p, size uintptr) uintptr                   { return Default.Realloc(p, size) }
func Free(p uintptr)                                    { Default.Free(p) }
func InnerSize(p uintptr) uintptr                       { return Default.InnerSize(p) }
func TotalSize(p uintptr) uintptr                       { return Default.TotalSize(p) }
func RequestedSize(p uintptr) uintptr                   { return Default.RequestedSize(p) }
