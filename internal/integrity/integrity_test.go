package integrity

import "testing"

func TestSumStableForIdenticalSequence(t *testing.T) {
	write := func(h *Hasher) {
		h.WriteByte(0xAA)
		h.WriteUintptr(0x1000)
		h.WriteUintptr(4096)
	}

	a, b := New(), New()
	write(a)
	write(b)

	if a.Sum() != b.Sum() {
		t.Fatal("identical write sequences produced different checksums")
	}
}

func TestSumDiffersForDifferentSequence(t *testing.T) {
	a, b := New(), New()
	a.WriteUintptr(0x1000)
	b.WriteUintptr(0x2000)

	if a.Sum() == b.Sum() {
		t.Fatal("different write sequences produced the same checksum")
	}
}

func TestSumOrderSensitive(t *testing.T) {
	a, b := New(), New()
	a.WriteUintptr(1)
	a.WriteUintptr(2)
	b.WriteUintptr(2)
	b.WriteUintptr(1)

	if a.Sum() == b.Sum() {
		t.Fatal("expected order to affect the checksum")
	}
}
