package elfload

import (
	"reflect"
	"unsafe"
)

// unsafeBytes overlays a []byte of length n on top of a kernel-virtual
// address, the same trick vm.unsafeSlice uses, to write argument strings
// directly into a claimed stack frame without an intermediate allocation.
func unsafeBytes(addr uintptr, n uintptr) []byte {
	if n == 0 {
		return nil
	}
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: addr,
		Len:  int(n),
		Cap:  int(n),
	}))
}

// putU64 writes a little-endian 8-byte word at a kernel-virtual address, used
// for the argv pointer slots and the fake return address.
func putU64(addr uintptr, v uint64) {
	*(*uint64)(unsafe.Pointer(addr)) = v
}
