// Package small implements the small chunk manager: a bitmap-based
// fixed-size-class allocator organized into 4 KiB "runs" grouped into
// macro-block-sized "containers". Shaped after the mspan/mcache pair:
// mspan carries a per-size-class allocBits/gcmarkBits bitmap exactly
// the way a run's bitmap here tracks free/used storage slots, and
// mcache's per-size-class "alloc" array of the active span per class
// mirrors this package's active-run slot per class.
package small

import (
	"math/bits"

	"github.com/go-hpcalloc/hpcalloc"
	"github.com/go-hpcalloc/hpcalloc/dlist"
)

// bitmapWord is the unit the per-run free bitmap is built from; using a
// machine word lets Run.allocate find a free slot with one leading-zero
// scan.
type bitmapWord = uint64

const wordBits = 64

// Run is the trailing header of one RUN_SIZE tile: storage occupies the
// tile from its base up to the header, so slot 0's address is always
// the tile's own base address, independent of header size. The first
// words of storage (after any leading skip) hold the free bitmap; bits
// for slots that would land inside the bitmap or the skip region are
// permanently cleared at setup so an allocation can never return a
// pointer into metadata.
type Run struct {
	listNode dlist.Node[Run]

	container *Container
	tileBase  uintptr // address of this run's 4 KiB tile
	class     uintptr // current size class k; 0 means empty (unclassified)
	live      uint32  // count of live allocations
	skip      uintptr // leading storage bytes this run must never hand out

	bitmapWords int // bitmapWord entries in use for the current class
	capacity    int // slots the storage could hold at the current class, metadata included
	hidden      int // slots lost to the bitmap's own storage
	skipped     int // slots lost to the leading skip region
}

func runListNode(r *Run) *dlist.Node[Run] { return &r.listNode }

func runHeaderSize() uintptr {
	var r Run
	return uintptrSizeofRun(&r)
}

// runHeaderAddr locates the trailing header within a tile.
func runHeaderAddr(tileBase uintptr) uintptr {
	return tileBase + hpcalloc.RunSize - headerSize
}

// storageBytes is the tile's usable byte range before the trailing
// header.
func (r *Run) storageBytes() uintptr {
	return hpcalloc.RunSize - headerSize
}

func (r *Run) bitmapBase() uintptr {
	return r.tileBase + r.skip
}

func (r *Run) bitmap() []bitmapWord {
	b := hpcalloc.Bytes(r.bitmapBase(), uintptr(r.bitmapWords)*8)
	return bytesAsWords(b)
}

// setup installs class k on an empty run, sizing and initializing the
// bitmap: every addressable bit set to 1 (free), then the bits for the
// bitmap's own storage, the leading skip region, and any trailing bits
// beyond capacity are zeroed.
func (r *Run) setup(k uintptr) {
	capacity := int(r.storageBytes() / k)
	words := (capacity + wordBits - 1) / wordBits
	if words == 0 {
		words = 1
	}
	r.class = k
	r.bitmapWords = words
	r.capacity = capacity
	r.live = 0
	r.hidden = 0
	r.skipped = 0

	bm := r.bitmap()
	for i := range bm {
		bm[i] = ^bitmapWord(0)
	}
	// Bits at or beyond capacity never existed; clear them.
	for b := capacity; b < words*wordBits; b++ {
		clearBit(bm, b)
	}
	// Slots whose start falls inside the skip region or the bitmap's
	// own byte range must never be handed out.
	metaEnd := r.skip + uintptr(words)*8
	for b := 0; b < capacity && uintptr(b)*k < metaEnd; b++ {
		clearBit(bm, b)
		if uintptr(b)*k < r.skip {
			r.skipped++
		} else {
			r.hidden++
		}
	}
}

// usable is the number of slots this run can actually hand out.
func (r *Run) usable() int { return r.capacity - r.hidden - r.skipped }

// allocate takes the highest free bit, clears it, and returns the
// corresponding address. Callers must have already established that
// the run is not full.
func (r *Run) allocate() (addr uintptr, zeroed bool) {
	bm := r.bitmap()
	for i := len(bm) - 1; i >= 0; i-- {
		if bm[i] == 0 {
			continue
		}
		bit := 63 - bits.LeadingZeros64(bm[i])
		bm[i] &^= 1 << uint(bit)
		index := i*wordBits + bit
		r.live++
		return r.tileBase + uintptr(index)*r.class, false
	}
	return 0, false
}

// indexOf recovers the bitmap bit index for a previously-allocated
// address.
func (r *Run) indexOf(addr uintptr) int {
	return int((addr - r.tileBase) / r.class)
}

func (r *Run) isFree(index int) bool {
	bm := r.bitmap()
	return testBit(bm, index)
}

func (r *Run) release(index int) {
	bm := r.bitmap()
	setBit(bm, index)
	if r.live > 0 {
		r.live--
	}
}

func (r *Run) full() bool { return int(r.live) == r.usable() }

func (r *Run) empty() bool { return r.live == 0 }

func clearBit(bm []bitmapWord, b int) {
	bm[b/wordBits] &^= 1 << uint(b%wordBits)
}

func setBit(bm []bitmapWord, b int) {
	bm[b/wordBits] |= 1 << uint(b%wordBits)
}

func testBit(bm []bitmapWord, b int) bool {
	return bm[b/wordBits]&(1<<uint(b%wordBits)) != 0
}
