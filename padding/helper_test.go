package padding

import "unsafe"

func uintptrOfSlice(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}
