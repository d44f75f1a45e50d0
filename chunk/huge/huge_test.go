package huge

import (
	"testing"

	"github.com/go-hpcalloc/hpcalloc"
	"github.com/go-hpcalloc/hpcalloc/memsource"
	"github.com/go-hpcalloc/hpcalloc/memsource/pagemap"
	"github.com/go-hpcalloc/hpcalloc/region"
)

func newTestManager() *Manager {
	src := memsource.New(pagemap.NewBump(64*hpcalloc.RegionSplit), memsource.DefaultConfig())
	reg := &region.Registry{}
	return New(src, reg, nil)
}

// A small request on the huge path lands in one full macro-block whose
// content starts just past the in-block segment header: inner size is
// the macro unit minus the header, total size is the macro unit.
func TestHugeAllocReportsSizes(t *testing.T) {
	m := newTestManager()
	p := m.Malloc(4096, hpcalloc.BasicAlign, false)
	if p == 0 {
		t.Fatal("Malloc failed")
	}
	if got, want := m.InnerSize(p), uintptr(hpcalloc.Macro)-region.HeaderSize; got != want {
		t.Fatalf("InnerSize = %d, want %d", got, want)
	}
	if got := m.TotalSize(p); got != hpcalloc.Macro {
		t.Fatalf("TotalSize = %d, want %d", got, hpcalloc.Macro)
	}
	if got := m.RequestedSize(p); got != hpcalloc.SizeUnsupported {
		t.Fatalf("RequestedSize = %d, want unsupported sentinel", got)
	}
}

// Growing to 4 MiB remaps to the smallest page-multiple that holds the
// request plus the segment header: one extra page, so inner comes out
// at 4 MiB + one page - header.
func TestHugeReallocGrows(t *testing.T) {
	m := newTestManager()
	p := m.Malloc(4096, hpcalloc.BasicAlign, false)
	if p == 0 {
		t.Fatal("Malloc failed")
	}
	q := m.Realloc(p, 4*1024*1024)
	if q == 0 {
		t.Fatal("Realloc failed")
	}
	wantTotal := uintptr(4*1024*1024 + 4096)
	if got := m.InnerSize(q); got != wantTotal-region.HeaderSize {
		t.Fatalf("InnerSize after grow = %d, want %d", got, wantTotal-region.HeaderSize)
	}
	if got := m.TotalSize(q); got != wantTotal {
		t.Fatalf("TotalSize after grow = %d, want %d", got, wantTotal)
	}
}

func TestHugeReallocWithinSlackKeepsAddress(t *testing.T) {
	m := newTestManager()
	p := m.Malloc(4096, hpcalloc.BasicAlign, false)
	if p == 0 {
		t.Fatal("Malloc failed")
	}
	// Current inner is Macro-header; shrinking within ReallocThreshold
	// of that keeps the address.
	q := m.Realloc(p, hpcalloc.Macro-64)
	if q != p {
		t.Fatalf("Realloc within slack moved address: %#x != %#x", q, p)
	}
}

// An over-aligned huge request pads the content pointer up from the
// header end to the next alignment boundary; the padding comes out of
// the reported inner size.
func TestHugeAlignment(t *testing.T) {
	m := newTestManager()
	p := m.Malloc(8, 128, false)
	if p == 0 {
		t.Fatal("Malloc failed")
	}
	if p%128 != 0 {
		t.Fatalf("address %#x not aligned to 128", p)
	}
	pad := hpcalloc.AlignUp(region.HeaderSize, 128) - region.HeaderSize
	if got, want := m.InnerSize(p), uintptr(hpcalloc.Macro)-region.HeaderSize-pad; got != want {
		t.Fatalf("InnerSize = %d, want %d", got, want)
	}
}

func TestHugeFreeThenLookupFails(t *testing.T) {
	m := newTestManager()
	p := m.Malloc(4096, hpcalloc.BasicAlign, false)
	m.Free(p)
	if got := m.InnerSize(p); got != 0 {
		t.Fatalf("InnerSize after free = %d, want 0", got)
	}
}

func TestHugeFreedBlockIsReused(t *testing.T) {
	m := newTestManager()
	p1 := m.Malloc(4096, hpcalloc.BasicAlign, false)
	m.Free(p1)
	p2 := m.Malloc(4096, hpcalloc.BasicAlign, false)
	if p2 != p1 {
		t.Fatalf("expected cached macro-block reuse: p1=%#x p2=%#x", p1, p2)
	}
}

// Zero requests are satisfied without a memset when the macro-block
// came fresh from the page mapper, and with one when it was recycled
// from the cache still holding old content.
func TestHugeZeroFillOnReuse(t *testing.T) {
	m := newTestManager()
	p1 := m.Malloc(4096, hpcalloc.BasicAlign, false)
	if p1 == 0 {
		t.Fatal("Malloc failed")
	}
	b := hpcalloc.Bytes(p1, 64)
	for i := range b {
		b[i] = 0xEE
	}
	m.Free(p1)

	p2 := m.Malloc(4096, hpcalloc.BasicAlign, true)
	if p2 != p1 {
		t.Fatalf("expected cached reuse: p1=%#x p2=%#x", p1, p2)
	}
	got := hpcalloc.Bytes(p2, 64)
	for i := range got {
		if got[i] != 0 {
			t.Fatalf("byte %d = %#x, want 0 after zero-fill of a recycled block", i, got[i])
		}
	}
}
