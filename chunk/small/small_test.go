package small

import (
	"testing"

	"github.com/go-hpcalloc/hpcalloc"
	"github.com/go-hpcalloc/hpcalloc/internal/diag"
	"github.com/go-hpcalloc/hpcalloc/memsource"
	"github.com/go-hpcalloc/hpcalloc/memsource/pagemap"
	"github.com/go-hpcalloc/hpcalloc/region"
)

func newTestManager() *Manager {
	src := memsource.New(pagemap.NewBump(8*hpcalloc.RegionSplit), memsource.DefaultConfig())
	reg := &region.Registry{}
	return New(src, reg, nil, nil)
}

func TestSmallMallocFreeRoundTrip(t *testing.T) {
	m := newTestManager()
	p := m.Malloc(16, hpcalloc.BasicAlign, false)
	if p == 0 {
		t.Fatal("Malloc failed")
	}
	if got := m.InnerSize(p); got < 16 {
		t.Fatalf("InnerSize = %d, want >= 16", got)
	}
	if got := m.RequestedSize(p); got != 16 {
		t.Fatalf("RequestedSize = %d, want 16", got)
	}
	m.Free(p)
}

func TestSmallAllocationsPairwiseDistinct(t *testing.T) {
	m := newTestManager()
	seen := make(map[uintptr]bool)
	for i := 0; i < 500; i++ {
		p := m.Malloc(16, hpcalloc.BasicAlign, false)
		if p == 0 {
			t.Fatalf("Malloc failed at iteration %d", i)
		}
		if seen[p] {
			t.Fatalf("address %#x handed out twice", p)
		}
		seen[p] = true
	}
}

// Fill a run's class-16 capacity, then free the last slot and check it
// is handed out again. No exact slot count is asserted: it depends on
// the Run header size, which Go's struct layout determines, and on the
// bitmap size; the test only requires the run to fill within a run's
// worth of allocations.
func TestSmallRunCapacityAndLIFOReuse(t *testing.T) {
	m := newTestManager()
	var addrs []uintptr
	for {
		p := m.Malloc(16, hpcalloc.BasicAlign, false)
		if p == 0 {
			t.Fatal("Malloc failed before first run filled")
		}
		addrs = append(addrs, p)
		r := m.runFor(p)
		if r.full() {
			break
		}
		if len(addrs) > 4096/16 {
			t.Fatal("run never reported full within a run's worth of allocations")
		}
	}

	last := addrs[len(addrs)-1]
	m.Free(last)
	again := m.Malloc(16, hpcalloc.BasicAlign, false)
	if again != last {
		t.Fatalf("expected LIFO-within-word reuse: freed %#x, got %#x", last, again)
	}
}

// A run that fills, gets swapped out for a fresh active run, and then
// has exactly one slot freed must be reachable again for the next
// allocation of its class rather than sitting unreachable until every
// slot in it is freed.
func TestSmallPartialRunReusedAfterEviction(t *testing.T) {
	m := newTestManager()

	fillRun := func(seed uintptr) []uintptr {
		addrs := []uintptr{seed}
		for !m.runFor(seed).full() {
			p := m.Malloc(16, hpcalloc.BasicAlign, false)
			if p == 0 {
				t.Fatal("Malloc failed while filling a run")
			}
			addrs = append(addrs, p)
		}
		return addrs
	}

	first := m.Malloc(16, hpcalloc.BasicAlign, false)
	if first == 0 {
		t.Fatal("Malloc failed")
	}
	runA := fillRun(first)

	// The next allocation evicts runA (now full) from active onto the
	// in-use list, and installs a fresh run as active.
	second := m.Malloc(16, hpcalloc.BasicAlign, false)
	if second == 0 {
		t.Fatal("Malloc failed")
	}
	if m.runFor(second) == m.runFor(runA[0]) {
		t.Fatal("expected a new run to become active after runA filled")
	}

	// Free a single slot in runA. It is not empty, so it stays on the
	// in-use list, available for reuse.
	freed := runA[len(runA)-1]
	m.Free(freed)

	// Fill the new active run completely too.
	fillRun(second)

	// Both runs are now full except for runA's single reopened slot.
	// The next allocation must come from that slot rather than growing
	// a third run.
	reused := m.Malloc(16, hpcalloc.BasicAlign, false)
	if reused != freed {
		t.Fatalf("expected the evicted run's reopened slot %#x to be reused, got %#x", freed, reused)
	}
}

func TestSmallDoubleFreeAborts(t *testing.T) {
	var gotMsg string
	restore := diag.SetHookForTest(func(msg string) { gotMsg = msg })
	defer restore()

	m := newTestManager()
	p := m.Malloc(32, hpcalloc.BasicAlign, false)
	m.Free(p)
	m.Free(p)

	if gotMsg == "" {
		t.Fatal("expected Abort to fire on double free")
	}
}

func TestSmallReallocKeepsAddressWithinClass(t *testing.T) {
	m := newTestManager()
	p := m.Malloc(20, hpcalloc.BasicAlign, false) // class 24
	q := m.Realloc(p, 24)                         // still class 24
	if q != p {
		t.Fatalf("realloc within the same class moved address: %#x != %#x", p, q)
	}

	r := m.Realloc(p, 25) // class 32: must move
	if r == p {
		t.Fatal("realloc into a larger class kept the old address")
	}
}

// The container carves its macro-block into RUN_SIZE tiles starting at
// the first tile boundary after the container header, and every carved
// run starts out on the empty list with class 0.
func TestContainerCarvesRuns(t *testing.T) {
	m := newTestManager()
	p := m.Malloc(16, hpcalloc.BasicAlign, false)
	if p == 0 {
		t.Fatal("Malloc failed")
	}

	c := m.containers.Front()
	if c == nil {
		t.Fatal("expected a container after first allocation")
	}
	if c.totalRuns < 2 {
		t.Fatalf("totalRuns = %d, want a macro-block's worth of runs", c.totalRuns)
	}
	for i := 0; i < c.totalRuns; i++ {
		r := c.runAt(i)
		if r.container != c {
			t.Fatalf("run %d back-pointer = %p, want %p", i, r.container, c)
		}
		if r.tileBase%hpcalloc.RunSize != 0 {
			t.Fatalf("run %d tile base %#x not RUN_SIZE-aligned", i, r.tileBase)
		}
	}
	// One run was reserved for the active class-16 run; the rest are
	// still empty.
	if c.reservedRuns != 1 {
		t.Fatalf("reservedRuns = %d, want 1", c.reservedRuns)
	}
	if got := c.empty.Len(); got != c.totalRuns-1 {
		t.Fatalf("empty list len = %d, want %d", got, c.totalRuns-1)
	}
}

// live must equal the number of usable slots minus the 1-bits left in
// the bitmap, across any interleaving of allocates and frees.
func TestRunBitmapPopcountInvariant(t *testing.T) {
	m := newTestManager()

	check := func(r *Run) {
		ones := 0
		for _, w := range r.bitmap() {
			for ; w != 0; w &= w - 1 {
				ones++
			}
		}
		if ones != r.usable()-int(r.live) {
			t.Fatalf("popcount = %d, want usable-live = %d-%d", ones, r.usable(), r.live)
		}
	}

	var addrs []uintptr
	for i := 0; i < 40; i++ {
		p := m.Malloc(48, hpcalloc.BasicAlign, false)
		if p == 0 {
			t.Fatal("Malloc failed")
		}
		addrs = append(addrs, p)
		check(m.runFor(p))
	}
	for i := 0; i < len(addrs); i += 2 {
		m.Free(addrs[i])
		check(m.runFor(addrs[i]))
	}
}

func TestSmallReallocGrowsToLargerClass(t *testing.T) {
	m := newTestManager()
	p := m.Malloc(16, hpcalloc.BasicAlign, false)
	q := m.Realloc(p, 100)
	if q == 0 {
		t.Fatal("Realloc failed")
	}
	if m.InnerSize(q) < 100 {
		t.Fatalf("InnerSize after grow = %d, want >= 100", m.InnerSize(q))
	}
}
