package profiling

import (
	"bytes"
	"testing"
)

func TestRecordAllocAggregatesByBucket(t *testing.T) {
	r := NewRecorder()
	r.RecordAlloc("small", 16)
	r.RecordAlloc("small", 16)
	r.RecordAlloc("medium", 4096)

	rows := r.Snapshot()
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0].Tier != "medium" || rows[0].Count != 1 {
		t.Fatalf("rows[0] = %+v, want medium/4096 count=1", rows[0])
	}
	if rows[1].Tier != "small" || rows[1].Count != 2 || rows[1].Bytes != 32 {
		t.Fatalf("rows[1] = %+v, want small/16 count=2 bytes=32", rows[1])
	}
}

func TestRecordAllocOnNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.RecordAlloc("small", 16) // must not panic
}

func TestWriteProfileProducesNonEmptyOutput(t *testing.T) {
	r := NewRecorder()
	r.RecordAlloc("huge", 1<<20)

	var buf bytes.Buffer
	if err := r.WriteProfile(&buf); err != nil {
		t.Fatalf("WriteProfile failed: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected non-empty profile output")
	}
}

func TestWriteProfileEmptyRecorder(t *testing.T) {
	r := NewRecorder()
	var buf bytes.Buffer
	if err := r.WriteProfile(&buf); err != nil {
		t.Fatalf("WriteProfile on empty recorder failed: %v", err)
	}
}
