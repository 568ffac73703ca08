package vm

import (
	"reflect"
	"unsafe"
)

// unsafeSlice overlays a []byte of length n on top of the given
// kernel-virtual address, the same trick kernel.Memset/Memcopy use to treat
// a raw address as a Go slice without copying.
func unsafeSlice(addr uintptr, n uintptr) []byte {
	if n == 0 {
		return nil
	}
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: addr,
		Len:  int(n),
		Cap:  int(n),
	}))
}
