// Command heapinspect is a small debug CLI: it opens a heap.Heap, runs
// a scripted allocation workload, and prints the profiling recorder's
// allocation counts and byte totals per (tier, requested size) to
// stdout. Shaped after
// cmd/objdump's "load a binary, print facts about it" pattern rather
// than on any part of the core allocator itself; this binary is
// ambient tooling, not a core component.
package main

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/go-hpcalloc/hpcalloc"
	"github.com/go-hpcalloc/hpcalloc/heap"
)

// workload is the scripted allocation pattern run before stats are
// printed: a mix of small/medium/huge requests with some frees, enough
// to exercise all three chunk managers and leave something in the
// memory source's cache.
func workload(h *heap.Heap) {
	var live []uintptr
	sizes := []uintptr{8, 16, 64, 512, 4096, hpcalloc.HugeThreshold}
	for i := 0; i < 64; i++ {
		p := h.Malloc(sizes[i%len(sizes)])
		if p != 0 {
			live = append(live, p)
		}
	}
	for i, p := range live {
		if i%2 == 0 {
			h.Free(p)
		}
	}
}

func main() {
	colored := term.IsTerminal(int(os.Stdout.Fd()))

	h := heap.New()
	rec := h.EnableProfiling()
	workload(h)

	bold := func(s string) string {
		if !colored {
			return s
		}
		return "\x1b[1m" + s + "\x1b[0m"
	}

	fmt.Println(bold("hpcalloc heapinspect"))
	fmt.Println(bold("--------------------"))
	for _, row := range rec.Snapshot() {
		fmt.Printf("%-8s size=%-11d count=%-6d bytes=%d\n", row.Tier, row.Size, row.Count, row.Bytes)
	}
}
