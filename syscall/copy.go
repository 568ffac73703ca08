// Package syscall implements the user<->kernel trap boundary: dispatching a
// trapped syscall number to its handler and the copy_in/copy_out/
// copy_in_string protocol every handler uses to move arguments across that
// boundary, grounded on userprog/syscall.c's syscall_handler and the
// marshalling style used throughout userprog/process.c.
package syscall

import (
	"gophkernel/kernel"
	"gophkernel/kernel/mm"
	"gophkernel/vm"
)

var (
	errBadPointer    = &kernel.Error{Module: "syscall", Message: "user pointer is null or outside user space"}
	errUnmappedPage  = &kernel.Error{Module: "syscall", Message: "user pointer is not backed by a registered page"}
	errStringTooLong = &kernel.Error{Module: "syscall", Message: "user string exceeds one page"}
)

// pageOffset returns the offset of va within its containing page.
func pageOffset(va uintptr) uintptr {
	return va & (mm.PageSize - 1)
}

// residentKVA validates va as a user address backed by a registered SPT
// page, claiming it (faulting it in) if it is not yet resident, and returns
// the kernel-virtual address its byte lives at.
func residentKVA(as *vm.AddressSpace, va uintptr) (uintptr, *kernel.Error) {
	if !vm.IsUserAddress(va) {
		return 0, errBadPointer
	}

	page := as.SPT.Find(va - pageOffset(va))
	if page == nil {
		return 0, errUnmappedPage
	}
	if page.Frame() == nil {
		if err := as.Claim(page); err != nil {
			return 0, err
		}
	}
	return page.Frame().KVA() + pageOffset(va), nil
}

// copyIn copies len(dst) bytes from the user address va into dst, page by
// page: validate the page, translate it, copy up to PAGE_SIZE-page_offset
// bytes, then advance. Mirrors copy_in.
func copyIn(as *vm.AddressSpace, dst []byte, va uintptr) *kernel.Error {
	var copied uintptr
	n := uintptr(len(dst))
	for copied < n {
		kva, err := residentKVA(as, va+copied)
		if err != nil {
			return err
		}
		chunk := mm.PageSize - pageOffset(va+copied)
		if chunk > n-copied {
			chunk = n - copied
		}
		copy(dst[copied:copied+chunk], unsafeBytes(kva, chunk))
		copied += chunk
	}
	return nil
}

// copyOut copies src into the user address va, page by page. Mirrors
// copy_out.
func copyOut(as *vm.AddressSpace, va uintptr, src []byte) *kernel.Error {
	var copied uintptr
	n := uintptr(len(src))
	for copied < n {
		kva, err := residentKVA(as, va+copied)
		if err != nil {
			return err
		}
		chunk := mm.PageSize - pageOffset(va+copied)
		if chunk > n-copied {
			chunk = n - copied
		}
		copy(unsafeBytes(kva, chunk), src[copied:copied+chunk])
		copied += chunk
	}
	return nil
}

// maxCopyString bounds copyInString at one page, minus the terminating NUL.
const maxCopyString = int(mm.PageSize) - 1

// copyInString reads a NUL-terminated string starting at the user address
// va, one byte at a time so each byte's page is independently validated and
// faulted in as needed. Mirrors copy_in_string, except the result is a
// regular Go string rather than a caller-owned kernel page: this package has
// a garbage collector, so there is no separate page to free.
func copyInString(as *vm.AddressSpace, va uintptr) (string, *kernel.Error) {
	buf := make([]byte, 0, 64)
	for i := 0; i <= maxCopyString; i++ {
		kva, err := residentKVA(as, va+uintptr(i))
		if err != nil {
			return "", err
		}
		b := readByte(kva)
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
	return "", errStringTooLong
}
