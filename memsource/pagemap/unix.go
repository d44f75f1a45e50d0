//go:build linux || darwin

package pagemap

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Unix implements Mapper with real mmap(2)/munmap(2)/mremap(2) via
// golang.org/x/sys/unix, the same family of cgo-free raw syscalls
// runtime/mem_linux.go's sysAlloc/sysFree/sysReserve use; this package
// uses the x/sys/unix wrappers instead of hand-rolling the syscall
// numbers.
type Unix struct{}

var _ Mapper = Unix{}

func (Unix) Map(size uintptr) (uintptr, bool) {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return 0, false
	}
	return uintptr(unsafe.Pointer(&b[0])), true
}

func (Unix) Unmap(addr, size uintptr) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
	_ = unix.Munmap(b)
}

func (Unix) Remap(addr, oldSize, newSize uintptr) (uintptr, bool) {
	old := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(oldSize))
	newAddr, err := unix.Mremap(old, int(newSize), unix.MREMAP_MAYMOVE)
	if err != nil {
		return 0, false
	}
	return uintptr(unsafe.Pointer(&newAddr[0])), true
}
