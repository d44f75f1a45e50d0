package small

import (
	"github.com/go-hpcalloc/hpcalloc"
	"github.com/go-hpcalloc/hpcalloc/dlist"
)

// Container is the macro-block-level grouping of runs: a grid of
// RUN_SIZE tiles, plus a list of
// currently-empty (size-class-0) runs available for reuse by any size
// class. Like the medium package's Chunk, it lives inside the raw
// macro-block memory it describes rather than on the Go heap — the
// pointers it holds lead only to Runs in its own block, to other
// Containers, and to the owning Manager's list root, so nothing here
// is a GC-discoverable root;
// only the owning Manager's bookkeeping (on the Go heap) ever needs to
// reach back out to a live region.Segment or memsource.Source.
type Container struct {
	listNode dlist.Node[Container]

	base         uintptr // macro-block base address
	totalRuns    int
	reservedRuns int
	firstRun     uintptr // address of run 0's tile
	empty        dlist.List[Run]
}

func containerListNode(c *Container) *dlist.Node[Container] { return &c.listNode }

func containerHeaderSize() uintptr {
	var c Container
	return uintptrSizeofContainer(&c)
}

// runAt returns the Run header for the i'th tile in this container.
func (c *Container) runAt(i int) *Run {
	tileBase := c.firstRun + uintptr(i)*hpcalloc.RunSize
	return hpcalloc.Ptr[Run](runHeaderAddr(tileBase))
}

// setup carves macroSize bytes starting at base into RUN_SIZE tiles
// following the container's own header, rounding the first tile's
// start up to RUN_SIZE so every run's leading skip stays at zero (the
// alternative of folding the container header into run 0's own skip
// region was considered and rejected as unnecessary complexity for no
// behavioral difference).
func setupContainer(base, macroSize uintptr) *Container {
	c := hpcalloc.Ptr[Container](base)
	firstRun := hpcalloc.AlignUp(base+containerHdrSize, hpcalloc.RunSize)
	totalRuns := int((macroSize - (firstRun - base)) / hpcalloc.RunSize)

	*c = Container{
		base:      base,
		totalRuns: totalRuns,
		firstRun:  firstRun,
	}
	c.empty.Init()

	for i := 0; i < totalRuns; i++ {
		tileBase := firstRun + uintptr(i)*hpcalloc.RunSize
		r := hpcalloc.Ptr[Run](runHeaderAddr(tileBase))
		*r = Run{
			container: c,
			tileBase:  tileBase,
			class:     0,
			skip:      0,
		}
		c.empty.PushBack(r, runListNode)
	}
	return c
}

var containerHdrSize = containerHeaderSize()

// takeEmpty pops an empty run for reuse by a new size class, or nil if
// none remain.
func (c *Container) takeEmpty() *Run {
	r := c.empty.PopFront(runListNode)
	if r != nil {
		c.reservedRuns++
	}
	return r
}

// returnEmpty files run back onto the empty list once its class has
// been reset to 0.
func (c *Container) returnEmpty(r *Run) {
	r.class = 0
	c.empty.PushBack(r, runListNode)
	if c.reservedRuns > 0 {
		c.reservedRuns--
	}
}

// idle reports whether every run in the container is back on the
// empty list.
func (c *Container) idle() bool { return c.reservedRuns == 0 }
