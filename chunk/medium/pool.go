// Package medium implements the medium chunk manager: a boundary-tag
// allocator over macro-blocks with segregated free lists, coalescing
// on free. Shaped structurally after mcentral.go's central free list
// per size class, with "spc.partial"/"spc.full" playing the role our
// per-class nonEmpty flags play here.
package medium

import (
	"unsafe"

	"github.com/go-hpcalloc/hpcalloc"
	"github.com/go-hpcalloc/hpcalloc/dlist"
	"github.com/go-hpcalloc/hpcalloc/internal/integrity"
)

// Status of a medium chunk.
type Status uint8

const (
	StatusFree Status = iota
	StatusAllocated
)

// Chunk is the medium chunk header placed at the start of each medium
// chunk inside a macro-block. The free-list node is a field of this
// header, so linking a free chunk never touches its payload bytes.
type Chunk struct {
	listNode dlist.Node[Chunk]

	Next, Prev *Chunk // contiguous physical neighbors within the macro-block; Next == nil at the block's end
	Status     Status
	Magic      byte
	Base       uintptr // address of this chunk's header (== hpcalloc.AddrOf(c) in practice, kept explicit for clarity)

	macroBase uintptr // start of the owning macro-block, for "is this the sole chunk" checks
	blockEnd  uintptr // one past the last usable byte of the owning macro-block, needed when Next == nil
}

func chunkListNode(c *Chunk) *dlist.Node[Chunk] { return &c.listNode }

// InnerSize recovers the chunk's usable size: the gap between this
// chunk's header and the next chunk's header (or, for the last chunk
// in a macro-block, the block's end), minus this chunk's own header.
func (c *Chunk) InnerSize() uintptr {
	if c.Next == nil {
		return c.blockEnd - c.Base - headerSize
	}
	return c.Next.Base - c.Base - headerSize
}

var headerSize = chunkHeaderSize()

// ClassMode selects where a free chunk goes in its size class's list:
// LIFO pushes it to the front, so the next Find in that class sees it
// first; FIFO appends it at the back.
type ClassMode int

const (
	FIFO ClassMode = iota
	LIFO
)

type class struct {
	list     dlist.List[Chunk]
	nonEmpty bool
}

// Pool is the segregated free-list structure indexed by size class.
// It holds no lock of its own; the owning Manager serializes access.
type Pool struct {
	sizes     []uintptr
	classes   []class
	isDefault bool
}

// NewPool builds a pool over the given sorted size-class vector. Pass
// nil to use DefaultSizeClasses.
func NewPool(sizes []uintptr) *Pool {
	if sizes == nil {
		sizes = DefaultSizeClasses()
	}
	p := &Pool{sizes: sizes, isDefault: sameSlice(sizes, DefaultSizeClasses())}
	p.classes = make([]class, len(sizes))
	for i := range p.classes {
		p.classes[i].list.Init()
	}
	return p
}

func sameSlice(a, b []uintptr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (p *Pool) classIndex(inner uintptr) int {
	if p.isDefault {
		return classIndexClosedForm(inner)
	}
	return classIndexBinary(p.sizes, inner)
}

// Insert places chunk into the appropriate free-list, marking it FREE.
// If the chunk's inner size is smaller than its "natural" class (can
// happen after a split), it is filed under the class one below instead.
func (p *Pool) Insert(chunk *Chunk, mode ClassMode) {
	chunk.Status = StatusFree
	idx := p.classFor(chunk.InnerSize())
	c := &p.classes[idx]
	if mode == LIFO {
		c.list.PushFront(chunk, chunkListNode)
	} else {
		c.list.PushBack(chunk, chunkListNode)
	}
	c.nonEmpty = true
}

func (p *Pool) classFor(inner uintptr) int {
	idx := p.classIndex(inner)
	if idx >= len(p.sizes) {
		idx = len(p.sizes) - 1
	}
	if p.sizes[idx] > inner && idx > 0 {
		idx--
	}
	return idx
}

// Find returns the first adequately-sized free chunk, unlinking and
// marking it ALLOCATED.
func (p *Pool) Find(inner uintptr) *Chunk {
	start := p.classIndex(inner)
	if start >= len(p.classes) {
		start = len(p.classes) - 1
	}
	for i := start; i < len(p.classes); i++ {
		if chunk := p.takeFirstFit(&p.classes[i], inner); chunk != nil {
			return chunk
		}
	}
	// The class one below may still hold an oversized leftover from a
	// split, since Insert rounds down on size mismatch.
	if start > 0 {
		if chunk := p.takeFirstFit(&p.classes[start-1], inner); chunk != nil {
			return chunk
		}
	}
	return nil
}

func (p *Pool) takeFirstFit(c *class, inner uintptr) *Chunk {
	if !c.nonEmpty {
		return nil
	}
	var found *Chunk
	c.list.Each(func(ch *Chunk) bool {
		if ch.InnerSize() >= inner {
			found = ch
			return false
		}
		return true
	})
	if found == nil {
		return nil
	}
	c.list.Remove(found, chunkListNode)
	if c.list.Empty() {
		c.nonEmpty = false
	}
	found.Status = StatusAllocated
	return found
}

// remove takes chunk out of whatever free-list class it's currently in
// (its InnerSize at the time of insertion determines this). Used by
// Merge/TryMergeForSize.
func (p *Pool) remove(chunk *Chunk) {
	idx := p.classFor(chunk.InnerSize())
	c := &p.classes[idx]
	c.list.Remove(chunk, chunkListNode)
	if c.list.Empty() {
		c.nonEmpty = false
	}
}

// Merge coalesces chunk with any immediately-adjacent FREE neighbors,
// unlinking each neighbor from its free-list along the way, and
// returns the resulting (possibly larger) chunk,
// which is left unlinked from any free-list and marked FREE but NOT
// yet re-inserted — the caller decides insertion order/mode.
func (p *Pool) Merge(chunk *Chunk) *Chunk {
	left := chunk
	for left.Prev != nil && left.Prev.Status == StatusFree {
		p.remove(left.Prev)
		left = left.Prev
	}
	right := chunk
	for right.Next != nil && right.Next.Status == StatusFree {
		p.remove(right.Next)
		right = right.Next
	}
	left.Next = right.Next
	if right.Next != nil {
		right.Next.Prev = left
	}
	left.Status = StatusFree
	return left
}

// TryMergeForSize attempts to extend chunk rightward by absorbing
// immediately-following FREE neighbors until its inner size reaches
// need. Neighbors are unlinked from the pool only once the cumulative
// size is known to suffice; if it never reaches need, the pool and
// chunk are left untouched — a failed merge never leaves the pool
// missing a chunk.
func (p *Pool) TryMergeForSize(chunk *Chunk, need uintptr) (*Chunk, bool) {
	if chunk.InnerSize() >= need {
		return chunk, true
	}
	var absorbed []*Chunk
	cur := chunk.Next
	total := chunk.InnerSize()
	for cur != nil && cur.Status == StatusFree {
		absorbed = append(absorbed, cur)
		total += headerSize + cur.InnerSize()
		if total >= need {
			break
		}
		cur = cur.Next
	}
	if total < need {
		return chunk, false
	}
	for _, a := range absorbed {
		p.remove(a)
	}
	last := absorbed[len(absorbed)-1]
	chunk.Next = last.Next
	if last.Next != nil {
		last.Next.Prev = chunk
	}
	return chunk, true
}

// Split divides chunk into a head of exactly headInner usable bytes
// and a tail chunk (built from the remainder, including room for the
// tail's own header), returning (head, tail). Split does not check the
// residue size itself; callers only call it when the residue holds at
// least a header plus MediumMin bytes.
func (p *Pool) Split(chunk *Chunk, headInner uintptr) (head, tail *Chunk) {
	tailBase := chunk.Base + headerSize + headInner
	tail = hpcalloc.Ptr[Chunk](tailBase)
	*tail = Chunk{
		Next:      chunk.Next,
		Prev:      chunk,
		Status:    StatusFree,
		Magic:     chunk.Magic,
		Base:      tailBase,
		macroBase: chunk.macroBase,
		blockEnd:  chunk.blockEnd,
	}
	if tail.Next != nil {
		tail.Next.Prev = tail
	}
	chunk.Next = tail
	return chunk, tail
}

func chunkHeaderSize() uintptr {
	var c Chunk
	return unsafe.Sizeof(c)
}

// Checksum folds every free chunk's inner size, in class order then
// list order, into a blake2b hash (internal/integrity). Two pools with
// same-sized free chunks in the same class/list order produce the same
// checksum regardless of which addresses the backing macro-blocks
// happened to land at — used by debug-mode self-checks and tests to
// assert a sequence of insert/find/merge operations left the pool in
// an expected shape.
func (p *Pool) Checksum() [32]byte {
	h := integrity.New()
	for i := range p.classes {
		h.WriteByte(0xC1)
		p.classes[i].list.Each(func(ch *Chunk) bool {
			h.WriteUintptr(ch.InnerSize())
			return true
		})
	}
	return h.Sum()
}
