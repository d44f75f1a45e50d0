// Package padding implements the padded-chunk header: a tiny
// descriptor written immediately before an aligned-returning pointer,
// so Unpad can recover the true chunk base on free/realloc. Shared by
// the huge and medium chunk managers, the two managers that support
// alignment above BasicAlign.
package padding

import "github.com/go-hpcalloc/hpcalloc"

// header is 3 bytes: a 1-byte magic tag and a 16-bit padding amount.
const HeaderSize = 3

const magic byte = 0x5A

// Pad writes the header at contentAddr-HeaderSize. The caller already
// computed the aligned address; Pad just records how to undo it.
func Pad(contentAddr uintptr, delta uint16) {
	b := hpcalloc.Bytes(contentAddr-HeaderSize, HeaderSize)
	b[0] = magic
	b[1] = byte(delta)
	b[2] = byte(delta >> 8)
}

// Unpad returns the true chunk base for p: if p is preceded by a valid
// padding header, the recorded delta is subtracted; otherwise p is
// returned unchanged.
func Unpad(p uintptr) uintptr {
	b := hpcalloc.Bytes(p-HeaderSize, HeaderSize)
	if b[0] != magic {
		return p
	}
	delta := uint16(b[1]) | uint16(b[2])<<8
	return p - uintptr(delta)
}

// CalcPadding finds the smallest delta such that (chunkBase+delta) is a
// multiple of align and delta >= HeaderSize (room for the header
// itself), extending by align if the first candidate is too small. It
// fails if the padded content plus the request would overflow the
// chunk's inner capacity.
func CalcPadding(chunkBase uintptr, align uintptr, req uintptr, chunkInner uintptr) (delta uint16, ok bool) {
	d := hpcalloc.AlignUp(chunkBase, align) - chunkBase
	if d < HeaderSize {
		d += align
	}
	if d+req > chunkInner || d > 0xFFFF {
		return 0, false
	}
	return uint16(d), true
}
