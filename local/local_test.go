package local

import (
	"testing"

	"github.com/go-hpcalloc/hpcalloc"
	"github.com/go-hpcalloc/hpcalloc/memsource"
	"github.com/go-hpcalloc/hpcalloc/memsource/pagemap"
	"github.com/go-hpcalloc/hpcalloc/region"
)

func newSharedState() (*memsource.Source, *region.Registry) {
	src := memsource.New(pagemap.NewBump(64*hpcalloc.RegionSplit), memsource.DefaultConfig())
	return src, &region.Registry{}
}

func TestLocalRoutesBySize(t *testing.T) {
	src, reg := newSharedState()
	a := New(src, reg)

	small := a.Malloc(16, hpcalloc.BasicAlign, false)
	medium := a.Malloc(1024, hpcalloc.BasicAlign, false)
	huge := a.Malloc(hpcalloc.HugeThreshold, hpcalloc.BasicAlign, false)

	if small == 0 || medium == 0 || huge == 0 {
		t.Fatal("Malloc failed for one of the three tiers")
	}
	if a.InnerSize(small) < 16 || a.InnerSize(medium) < 1024 || a.InnerSize(huge) < hpcalloc.HugeThreshold {
		t.Fatal("InnerSize too small for one of the three tiers")
	}

	a.Free(small)
	a.Free(medium)
	a.Free(huge)
}

// Size-class boundaries: SmallMax stays small, one byte past it goes
// medium, and the huge threshold itself goes huge.
func TestTierSelectionBoundaries(t *testing.T) {
	cases := []struct {
		size, align uintptr
		want        tier
	}{
		{1, hpcalloc.BasicAlign, tierSmall},
		{hpcalloc.SmallMax, hpcalloc.BasicAlign, tierSmall},
		{hpcalloc.SmallMax + 1, hpcalloc.BasicAlign, tierMedium},
		{hpcalloc.HugeThreshold - 1, hpcalloc.BasicAlign, tierMedium},
		{hpcalloc.HugeThreshold, hpcalloc.BasicAlign, tierHuge},
		{16, 256, tierMedium}, // alignment too large for a small slot
	}
	for _, tc := range cases {
		if got := tierFor(tc.size, tc.align); got != tc.want {
			t.Fatalf("tierFor(%d, %d) = %d, want %d", tc.size, tc.align, got, tc.want)
		}
	}
}

func TestLocalAlignmentOverflowFallsThroughToMedium(t *testing.T) {
	src, reg := newSharedState()
	a := New(src, reg)

	p := a.Malloc(16, 256, false) // small-sized request, alignment too large for a fixed slot
	if p == 0 {
		t.Fatal("Malloc failed")
	}
	if p%256 != 0 {
		t.Fatalf("address %#x not aligned to 256", p)
	}
}

func TestLocalRemoteFreePublishesToOwner(t *testing.T) {
	src, reg := newSharedState()
	owner := New(src, reg)
	other := New(src, reg)

	p := owner.Malloc(64, hpcalloc.BasicAlign, false)
	if p == 0 {
		t.Fatal("Malloc failed")
	}

	// A free issued from a different local allocator for an address it
	// does not own must not free it immediately — it must land in the
	// owner's remote queue until the owner flushes it.
	other.Free(p)
	if owner.InnerSize(p) == 0 {
		t.Fatal("address was freed before the owner flushed its remote queue")
	}

	owner.FlushRemote()
	if owner.InnerSize(p) != 0 {
		t.Fatal("expected address freed after owner flushed remote queue")
	}
}

// A realloc issued by an allocator that does not own the macro-block
// must not resize in place: it allocates from its own managers, copies,
// and hands the old chunk back through the owner's remote queue.
func TestLocalReallocCrossOwnerCopies(t *testing.T) {
	src, reg := newSharedState()
	owner := New(src, reg)
	other := New(src, reg)

	p := owner.Malloc(64, hpcalloc.BasicAlign, false)
	if p == 0 {
		t.Fatal("Malloc failed")
	}
	data := hpcalloc.Bytes(p, 8)
	for i := range data {
		data[i] = byte(i + 1)
	}

	q := other.Realloc(p, 64)
	if q == 0 {
		t.Fatal("Realloc failed")
	}
	if q == p {
		t.Fatal("cross-owner realloc must not resize in place")
	}
	got := hpcalloc.Bytes(q, 8)
	for i := range got {
		if got[i] != byte(i+1) {
			t.Fatalf("byte %d = %d, want %d after cross-owner copy", i, got[i], i+1)
		}
	}

	// The old chunk is only reclaimed once the owner drains its queue.
	if owner.InnerSize(p) == 0 {
		t.Fatal("old chunk freed before the owner flushed its remote queue")
	}
	owner.FlushRemote()
	if owner.InnerSize(p) != 0 {
		t.Fatal("old chunk still live after the owner flushed its remote queue")
	}
}

func TestLocalReallocCrossesTiers(t *testing.T) {
	src, reg := newSharedState()
	a := New(src, reg)

	p := a.Malloc(16, hpcalloc.BasicAlign, false)
	q := a.Realloc(p, 4096)
	if q == 0 {
		t.Fatal("Realloc failed")
	}
	if a.InnerSize(q) < 4096 {
		t.Fatalf("InnerSize after cross-tier grow = %d, want >= 4096", a.InnerSize(q))
	}
}

func TestLocalReallocOfUnknownAddressCopiesBestEffort(t *testing.T) {
	src, reg := newSharedState()
	a := New(src, reg)

	var src8 [8]byte
	for i := range src8 {
		src8[i] = byte(i + 1)
	}
	foreign := hpcalloc.AddrOf(&src8[0])

	q := a.Realloc(foreign, 8)
	if q == 0 {
		t.Fatal("Realloc of unknown address failed")
	}
	got := hpcalloc.Bytes(q, 8)
	for i := range src8 {
		if got[i] != src8[i] {
			t.Fatalf("byte %d = %d, want %d (best-effort copy from foreign address)", i, got[i], src8[i])
		}
	}
}
