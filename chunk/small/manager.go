package small

import (
	"sort"
	"sync"

	"github.com/go-hpcalloc/hpcalloc"
	"github.com/go-hpcalloc/hpcalloc/dlist"
	"github.com/go-hpcalloc/hpcalloc/internal/diag"
	"github.com/go-hpcalloc/hpcalloc/memsource"
	"github.com/go-hpcalloc/hpcalloc/region"
)

// TrackRequestedSize mirrors the medium package's flag of the same
// name.
var TrackRequestedSize = true

// DefaultClasses returns the fixed small size-class table: multiples
// of 8 up to 32 bytes, multiples of 16 from there to SmallMax.
func DefaultClasses() []uintptr {
	return []uintptr{8, 16, 24, 32, 48, 64, 80, 96, 112, 128}
}

// classForDefault is the closed-form class lookup for the table
// DefaultClasses produces; classForVector is the general fallback for
// any other vector.
func classForDefault(size uintptr) uintptr {
	if size <= 32 {
		return hpcalloc.AlignUp(size, 8)
	}
	return hpcalloc.AlignUp(size, 16)
}

func classForVector(classes []uintptr, size uintptr) uintptr {
	idx := sort.Search(len(classes), func(i int) bool { return classes[i] >= size })
	if idx == len(classes) {
		idx = len(classes) - 1
	}
	return classes[idx]
}

// Manager is the small chunk manager: one active run per size class, a
// partial-run backlog per class, and a list of containers grown from
// the memory source on demand. Shaped after the mcache (one active
// span per size class) and mcentral (partial/full span lists) pair.
type Manager struct {
	mu        sync.Mutex
	src       *memsource.Source
	reg       *region.Registry
	classes   []uintptr
	isDefault bool

	active     map[uintptr]*Run
	partial    map[uintptr]*dlist.List[Run]
	containers dlist.List[Container]
	blocks     map[uintptr]*region.Segment // container base -> owning segment
	owner      region.RemoteSink
	requested  map[uintptr]uintptr // address -> exact requested size
}

var _ hpcalloc.ChunkManager = (*Manager)(nil)

// New creates a small chunk manager. A nil classes vector uses
// DefaultClasses. owner may be nil; see huge.New's doc comment.
func New(src *memsource.Source, reg *region.Registry, classes []uintptr, owner region.RemoteSink) *Manager {
	isDefault := classes == nil
	if classes == nil {
		classes = DefaultClasses()
	}
	m := &Manager{
		src:       src,
		reg:       reg,
		classes:   classes,
		isDefault: isDefault,
		active:    make(map[uintptr]*Run),
		partial:   make(map[uintptr]*dlist.List[Run]),
		blocks:    make(map[uintptr]*region.Segment),
		owner:     owner,
		requested: make(map[uintptr]uintptr),
	}
	m.containers.Init()
	for _, k := range classes {
		l := &dlist.List[Run]{}
		l.Init()
		m.partial[k] = l
	}
	return m
}

func (m *Manager) classFor(size uintptr) uintptr {
	if m.isDefault {
		return classForDefault(size)
	}
	return classForVector(m.classes, size)
}

func (m *Manager) growContainerLocked() *Container {
	seg, _, ok := m.src.Map(hpcalloc.Macro-region.HeaderSize, m, m.reg)
	if !ok {
		return nil
	}
	seg.Owner = m.owner
	c := setupContainer(seg.ContentBase(), seg.InnerSize())
	m.blocks[c.base] = seg
	m.containers.PushBack(c, containerListNode)
	return c
}

// takeUsablePartial pops the first run on class k's in-use list that
// still has a free slot, leaving any fully-packed runs ahead of it in
// place. Returns nil if the list holds none (either empty, or every
// run on it is currently full between evictions and frees).
func (m *Manager) takeUsablePartial(k uintptr) *Run {
	list := m.partial[k]
	var found *Run
	list.Each(func(r *Run) bool {
		if !r.full() {
			found = r
			return false
		}
		return true
	})
	if found == nil {
		return nil
	}
	list.Remove(found, runListNode)
	return found
}

// takeEmptyRun pops an empty run from any container, growing a fresh
// container first if none has one.
func (m *Manager) takeEmptyRun() *Run {
	var found *Run
	m.containers.Each(func(c *Container) bool {
		if r := c.takeEmpty(); r != nil {
			found = r
			return false
		}
		return true
	})
	if found != nil {
		return found
	}
	c := m.growContainerLocked()
	if c == nil {
		return nil
	}
	return c.takeEmpty()
}

// Malloc allocates size bytes. align is expected to already have been
// filtered to <= hpcalloc.BasicAlign by the caller: alignment requests
// too large for a fixed size-class slot fall through to the medium
// manager before reaching here. When zero is set the returned slot is
// zero-filled; run storage is recycled, so it is never guaranteed
// zeroed on its own.
func (m *Manager) Malloc(size, align uintptr, zero bool) uintptr {
	_ = align
	if size == 0 {
		size = 1
	}
	k := m.classFor(size)

	m.mu.Lock()
	defer m.mu.Unlock()

	run := m.active[k]
	if run == nil || run.full() {
		next := m.takeUsablePartial(k)
		if next == nil {
			next = m.takeEmptyRun()
			if next == nil {
				return 0
			}
			next.setup(k)
		}
		if run != nil {
			// run is full (that's why it's being swapped out here); file it
			// on the in-use list so a later free can find it again via
			// Free's run.empty() path, instead of leaving it unreachable.
			m.partial[k].PushBack(run, runListNode)
		}
		run = next
		m.active[k] = run
	}

	addr, _ := run.allocate()
	if addr == 0 {
		return 0
	}
	if TrackRequestedSize {
		m.requested[addr] = size
	}
	if zero {
		hpcalloc.Memset0(addr, size)
	}
	return addr
}

func (m *Manager) runFor(addr uintptr) *Run {
	tileBase := hpcalloc.AlignDown(addr, hpcalloc.RunSize)
	return hpcalloc.Ptr[Run](runHeaderAddr(tileBase))
}

// Free releases the allocation at addr.
func (m *Manager) Free(addr uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run := m.runFor(addr)
	if run.class == 0 {
		diag.Warn("small: free of unrecognized address %#x ignored", addr)
		return
	}
	index := run.indexOf(addr)
	if run.isFree(index) {
		diag.Abort("small: double free at %#x", addr)
		return
	}
	run.release(index)
	delete(m.requested, addr)

	if !run.empty() {
		return
	}
	if m.active[run.class] == run {
		return // stays the active run even while momentarily empty
	}
	m.partial[run.class].Remove(run, runListNode)
	c := run.container
	c.returnEmpty(run)

	if c.idle() {
		if seg, ok := m.blocks[c.base]; ok {
			m.containers.Remove(c, containerListNode)
			m.src.Unmap(seg, m.reg)
			delete(m.blocks, c.base)
		}
	}
}

// Realloc resizes the allocation at addr to n bytes.
func (m *Manager) Realloc(addr uintptr, n uintptr) uintptr {
	m.mu.Lock()
	run := m.runFor(addr)
	if run.class == 0 || run.isFree(run.indexOf(addr)) {
		m.mu.Unlock()
		diag.Warn("small: realloc of unrecognized address %#x treated as fresh alloc", addr)
		fresh := m.Malloc(n, hpcalloc.BasicAlign, false)
		if fresh != 0 {
			hpcalloc.Memcpy(fresh, addr, n)
		}
		return fresh
	}
	cur := run.class
	if n > 0 && m.classFor(n) == cur {
		if TrackRequestedSize {
			m.requested[addr] = n
		}
		m.mu.Unlock()
		return addr
	}
	m.mu.Unlock()

	fresh := m.Malloc(n, hpcalloc.BasicAlign, false)
	if fresh == 0 {
		return 0
	}
	copySize := cur
	if n < copySize {
		copySize = n
	}
	hpcalloc.Memcpy(fresh, addr, copySize)
	m.Free(addr)
	return fresh
}

// InnerSize returns the fixed slot size (class k) backing addr, or 0 if
// addr is not a currently-live allocation (unrecognized, or already
// freed).
func (m *Manager) InnerSize(addr uintptr) uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.runFor(addr)
	if run.class == 0 || run.isFree(run.indexOf(addr)) {
		return 0
	}
	return run.class
}

// TotalSize is identical to InnerSize: small slots carry no per-chunk
// header overhead (the run header is amortized over the whole run).
func (m *Manager) TotalSize(addr uintptr) uintptr {
	return m.InnerSize(addr)
}

// RequestedSize returns the exact byte count last passed to
// Malloc/Realloc for addr, if TrackRequestedSize is enabled.
func (m *Manager) RequestedSize(addr uintptr) uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.requested[addr]; ok {
		return n
	}
	return hpcalloc.SizeUnsupported
}

// IsThreadSafe always reports true.
func (m *Manager) IsThreadSafe() bool { return true }
