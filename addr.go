package hpcalloc

import "unsafe"

// This allocator manages memory outside the Go garbage collector: every
// macro-block comes from an OS mapping (or, in tests, a bump-pointer
// arena standing in for one) and its headers are written in place at
// raw addresses, manipulated via uintptr arithmetic rather than
// ordinary Go pointers — the same "//go:notinheap" discipline the Go
// runtime's own mheap/mspan/mcache structures follow. The helpers below
// are the single place that bridges uintptr addresses to typed access;
// every other package in this module goes through them instead of
// doing its own unsafe.Pointer casts, so the aliasing this requires is
// localized.

// Ptr reinterprets addr as a *T. The caller is responsible for addr
// actually pointing at live storage of at least sizeof(T), exactly as
// with any other manually-managed allocator.
func Ptr[T any](addr uintptr) *T {
	return (*T)(unsafe.Pointer(addr))
}

// AddrOf returns the address of a *T as a uintptr.
func AddrOf[T any](p *T) uintptr {
	return uintptr(unsafe.Pointer(p))
}

// Bytes returns a byte slice view of n bytes starting at addr, used for
// memset/memcpy-style bulk operations over manually managed storage.
func Bytes(addr uintptr, n uintptr) []byte {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(n))
}

// Memset zeroes n bytes at addr.
func Memset0(addr uintptr, n uintptr) {
	b := Bytes(addr, n)
	for i := range b {
		b[i] = 0
	}
}

// Memcpy copies n bytes from src to dst. The regions must not overlap
// (true for every call site in this module: copies only ever move live
// data into a freshly obtained, disjoint allocation).
func Memcpy(dst, src uintptr, n uintptr) {
	if n == 0 {
		return
	}
	copy(Bytes(dst, n), Bytes(src, n))
}
