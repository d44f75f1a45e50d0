package small

import "unsafe"

var headerSize = runHeaderSize()

func uintptrSizeofRun(r *Run) uintptr {
	return unsafe.Sizeof(*r)
}

func uintptrSizeofContainer(c *Container) uintptr {
	return unsafe.Sizeof(*c)
}

// bytesAsWords reinterprets a byte slice (already sized to a whole
// number of bitmapWords) as a []bitmapWord without copying, the same
// localized-unsafe-cast pattern the root package's addr.go uses for
// every other raw-memory view in this module.
func bytesAsWords(b []byte) []bitmapWord {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*bitmapWord)(unsafe.Pointer(&b[0])), len(b)/8)
}
