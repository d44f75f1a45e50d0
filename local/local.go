// Package local implements the per-thread local allocator front end:
// each owns its own huge/medium/small chunk managers single-writer,
// and drains an MPSC queue of frees published by other threads for
// macro-blocks it owns. Shaped after mcache.go: the per-P,
// single-writer front end that owns a set of per-size-class spans and
// is the only thing that mutates them without a lock.
package local

import (
	"github.com/go-hpcalloc/hpcalloc"
	"github.com/go-hpcalloc/hpcalloc/chunk/huge"
	"github.com/go-hpcalloc/hpcalloc/chunk/medium"
	"github.com/go-hpcalloc/hpcalloc/chunk/small"
	"github.com/go-hpcalloc/hpcalloc/internal/diag"
	"github.com/go-hpcalloc/hpcalloc/memsource"
	"github.com/go-hpcalloc/hpcalloc/mpscq"
	"github.com/go-hpcalloc/hpcalloc/region"
)

type remoteFree struct {
	node mpscq.Node[remoteFree]
	addr uintptr
}

func remoteFreeNode(r *remoteFree) *mpscq.Node[remoteFree] { return &r.node }

// Allocator is one thread's local allocator: three single-writer chunk
// managers plus the inbox for frees published by other threads.
type Allocator struct {
	reg    *region.Registry
	huge   *huge.Manager
	medium *medium.Manager
	small  *small.Manager
	remote mpscq.Queue[remoteFree]
}

// New creates a local allocator over a shared memory source and region
// registry (both process-wide).
func New(src *memsource.Source, reg *region.Registry) *Allocator {
	a := &Allocator{reg: reg}
	a.huge = huge.New(src, reg, a)
	a.medium = medium.New(src, reg, nil, a)
	a.small = small.New(src, reg, nil, a)
	return a
}

// PublishRemoteFree implements region.RemoteSink: a free originating
// from a different local allocator than the one that owns addr's
// macro-block is enqueued here instead of calling a.Free directly, so
// a cross-thread free never mutates the remote manager directly.
func (a *Allocator) PublishRemoteFree(addr uintptr) {
	a.remote.Insert(&remoteFree{addr: addr}, remoteFreeNode)
}

// FlushRemote drains every free published to this allocator by other
// threads since the last flush, applying each directly against the
// owning manager. The caller (this allocator's own owning thread) must
// call this periodically — Malloc and Free both do so before acting, so
// callers need not remember to.
func (a *Allocator) FlushRemote() {
	for _, r := range a.remote.DequeueAll() {
		a.freeLocal(r.addr)
	}
}

// tier identifies which of the three chunk managers a request belongs
// to: size routing, plus one resolved edge case — alignment too large
// for a small slot falls through to medium.
type tier int

const (
	tierSmall tier = iota
	tierMedium
	tierHuge
)

func tierFor(size, align uintptr) tier {
	switch {
	case size >= hpcalloc.HugeThreshold:
		return tierHuge
	case size <= hpcalloc.SmallMax && align <= hpcalloc.BasicAlign:
		return tierSmall
	default:
		return tierMedium
	}
}

func (a *Allocator) managerFor(t tier) hpcalloc.ChunkManager {
	switch t {
	case tierHuge:
		return a.huge
	case tierSmall:
		return a.small
	default:
		return a.medium
	}
}

// Malloc allocates size bytes aligned to align, routing to whichever of
// the three chunk managers tierFor assigns the request to. Size 0 is
// treated as 1, matching the boundary behavior the public API built on
// top of this requires. When zero is set the returned bytes are
// zero-filled; each manager only pays the memset when its storage is
// not already guaranteed zeroed (a freshly OS-mapped huge block is).
func (a *Allocator) Malloc(size, align uintptr, zero bool) uintptr {
	if size == 0 {
		size = 1
	}
	a.FlushRemote()
	switch tierFor(size, align) {
	case tierHuge:
		return a.huge.Malloc(size, align, zero)
	case tierSmall:
		return a.small.Malloc(size, align, zero)
	default:
		return a.medium.Malloc(size, align, zero)
	}
}

// freeLocal frees addr via whichever manager's segment claims it,
// assuming addr's macro-block is owned by this allocator (no ownership
// check — only called for addresses already known to be ours).
func (a *Allocator) freeLocal(addr uintptr) {
	seg := a.reg.Lookup(addr)
	if seg == nil {
		diag.Warn("local: free of address %#x not found in any segment", addr)
		return
	}
	seg.Manager.Free(addr)
}

// Free releases addr. If the macro-block containing it belongs to a
// different local allocator, the free is published to that allocator's
// remote queue instead of touching its manager directly.
func (a *Allocator) Free(addr uintptr) {
	a.FlushRemote()
	seg := a.reg.Lookup(addr)
	if seg == nil {
		diag.Warn("local: free of address %#x not found in any segment", addr)
		return
	}
	if seg.Owner != nil && seg.Owner != region.RemoteSink(a) {
		seg.Owner.PublishRemoteFree(addr)
		return
	}
	seg.Manager.Free(addr)
}

// Realloc resizes the allocation at addr to n bytes, possibly moving it
// to a different chunk manager if n now belongs to a different size
// tier than the chunk's current manager handles.
func (a *Allocator) Realloc(addr uintptr, n uintptr) uintptr {
	if n == 0 {
		a.Free(addr)
		return 0
	}
	a.FlushRemote()

	seg := a.reg.Lookup(addr)
	if seg == nil {
		diag.Warn("local: realloc of address %#x not found in any segment", addr)
		fresh := a.Malloc(n, hpcalloc.BasicAlign, false)
		if fresh != 0 {
			hpcalloc.Memcpy(fresh, addr, n) // best-effort recovery from an address this allocator never produced
		}
		return fresh
	}
	// In-place resize only when the new size stays in the tier of the
	// manager that produced addr AND that manager is this allocator's
	// own: a cross-owner realloc must not reach into a macro-block
	// another local allocator owns, so it takes the alloc/copy/free
	// path below and the old chunk is handed back through the owner's
	// remote queue.
	target := a.managerFor(tierFor(n, hpcalloc.BasicAlign))
	ownedHere := seg.Owner == nil || seg.Owner == region.RemoteSink(a)
	if seg.Manager == target && ownedHere {
		return seg.Manager.Realloc(addr, n)
	}

	fresh := a.Malloc(n, hpcalloc.BasicAlign, false)
	if fresh == 0 {
		return 0
	}
	old := seg.Manager.InnerSize(addr)
	copySize := old
	if n < copySize {
		copySize = n
	}
	hpcalloc.Memcpy(fresh, addr, copySize)
	a.Free(addr)
	return fresh
}

// InnerSize, TotalSize, and RequestedSize dispatch to whichever manager
// owns addr's macro-block, wherever it lives.
func (a *Allocator) InnerSize(addr uintptr) uintptr { return a.dispatch(addr).InnerSize(addr) }
func (a *Allocator) TotalSize(addr uintptr) uintptr { return a.dispatch(addr).TotalSize(addr) }
func (a *Allocator) RequestedSize(addr uintptr) uintptr {
	return a.dispatch(addr).RequestedSize(addr)
}

func (a *Allocator) dispatch(addr uintptr) hpcalloc.ChunkManager {
	seg := a.reg.Lookup(addr)
	if seg == nil {
		return noopManager{}
	}
	return seg.Manager
}

// noopManager answers every size query about an unrecognized address
// with zero, matching the "unknown pointer" convention the three real
// managers already use.
type noopManager struct{}

func (noopManager) Free(uintptr)                     {}
func (noopManager) Realloc(uintptr, uintptr) uintptr { return 0 }
func (noopManager) InnerSize(uintptr) uintptr        { return 0 }
func (noopManager) TotalSize(uintptr) uintptr        { return 0 }
func (noopManager) RequestedSize(uintptr) uintptr    { return hpcalloc.SizeUnsupported }
func (noopManager) IsThreadSafe() bool               { return true }

var _ hpcalloc.ChunkManager = noopManager{}
