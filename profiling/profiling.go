// Package profiling exports a pprof-format heap-allocation sample
// profile: the Go-native analogue of runtime/mprof.go's
// memRecord/mProf_Malloc bucketing by call site. This allocator has no
// Go call stacks to sample from — it's the allocator, not a client of
// one — so samples are bucketed by tier (small/medium/huge) and
// recorded size instead of by stack trace, using github.com/google/pprof/profile
// to produce a standard .pb.gz file any pprof-consuming tool can open.
package profiling

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/pprof/profile"
)

// bucketKey identifies one (tier, size) bucket. Size is the value
// passed to RecordAlloc (the heap façade passes the requested size,
// not rounded to a size class), so a process doing many allocations of
// a handful of sizes produces a profile with a handful of samples
// rather than one per call.
type bucketKey struct {
	tier string
	size uintptr
}

// Recorder accumulates allocation counts and byte totals per (tier,
// size) bucket, and can render them as a pprof profile on demand.
// Shaped after memRecord: a fixed-size, lock-protected table of
// buckets keyed by stack, flushed into a profile.Profile on request,
// scaled down to this allocator's much smaller, stackless key space.
type Recorder struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucketStats
}

type bucketStats struct {
	count int64
	bytes int64
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{buckets: make(map[bucketKey]*bucketStats)}
}

// RecordAlloc records one allocation of size bytes served by the given
// tier ("small", "medium", or "huge"). Called opportunistically by the
// heap façade when profiling is enabled; a nil Recorder is valid and a
// no-op (profiling is off by default — see heap.Heap.EnableProfiling).
func (r *Recorder) RecordAlloc(tier string, size uintptr) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := bucketKey{tier: tier, size: size}
	b := r.buckets[key]
	if b == nil {
		b = &bucketStats{}
		r.buckets[key] = b
	}
	b.count++
	b.bytes += int64(size)
}

// Snapshot returns the current per-bucket counts, sorted by
// (tier, size) for deterministic test output.
func (r *Recorder) Snapshot() []struct {
	Tier  string
	Size  uintptr
	Count int64
	Bytes int64
} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]struct {
		Tier  string
		Size  uintptr
		Count int64
		Bytes int64
	}, 0, len(r.buckets))
	for k, b := range r.buckets {
		out = append(out, struct {
			Tier  string
			Size  uintptr
			Count int64
			Bytes int64
		}{k.tier, k.size, b.count, b.bytes})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].Size < out[j].Size
	})
	return out
}

// WriteProfile renders the current buckets as a gzip-encoded pprof
// profile and writes it to w. Each bucket becomes one Sample with a
// synthetic single-frame stack ("<tier>/<size>"), and two sample
// types: "allocations"/"count" and "size"/"bytes".
func (r *Recorder) WriteProfile(w io.Writer) error {
	rows := r.Snapshot()

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "allocations", Unit: "count"},
			{Type: "size", Unit: "bytes"},
		},
		PeriodType: &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:     1,
	}

	funcByName := make(map[string]*profile.Function)
	var nextID uint64

	locFor := func(name string) *profile.Location {
		fn, ok := funcByName[name]
		if !ok {
			nextID++
			fn = &profile.Function{ID: nextID, Name: name, SystemName: name}
			funcByName[name] = fn
			p.Function = append(p.Function, fn)
		}
		nextID++
		loc := &profile.Location{
			ID:   nextID,
			Line: []profile.Line{{Function: fn}},
		}
		p.Location = append(p.Location, loc)
		return loc
	}

	for _, row := range rows {
		name := fmt.Sprintf("%s/%d", row.Tier, row.Size)
		loc := locFor(name)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{row.Count, row.Bytes},
		})
	}

	if err := p.CheckValid(); err != nil {
		return err
	}
	return p.Write(w)
}
