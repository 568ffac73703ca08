package syscall

import (
	"reflect"
	"unsafe"
)

// unsafeBytes overlays a []byte of length n on top of a kernel-virtual
// address, the same trick elfload.unsafeBytes and vm.unsafeSlice use to
// move bytes in and out of a claimed frame without an intermediate copy.
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

func readByte(addr uintptr) byte {
	return *(*byte)(unsafe.Pointer(addr))
}
