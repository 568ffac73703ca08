package vm

import "gophkernel/kernel/mm"

const (
	// userStackTop is the fixed top-of-stack virtual address for every user
	// process, matching Pintos' USER_STACK.
	userStackTop = uintptr(0x47480000)

	// maxStackBytes bounds how far the stack is allowed to grow down from
	// userStackTop.
	maxStackBytes = 1 << 20

	// rspSlackBytes accommodates the x86-64 PUSH pre-check pattern: a push
	// touches rsp-8 before rsp is adjusted, so a fault up to 8 bytes below
	// the recorded user rsp still counts as stack growth.
	rspSlackBytes = 8

	// userSpaceTop bounds the user-accessible portion of the address space;
	// addresses at or above this are kernel-only and never valid fault
	// targets or SPT entries.
	userSpaceTop = uintptr(0x00007fffffffffff)
)

// pageRoundDown rounds a virtual address down to its containing page.
func pageRoundDown(va uintptr) uintptr {
	return mm.PageFromAddress(va).Address()
}

// isUserAddress reports whether va is a valid (non-null, in-range) user
// virtual address.
func isUserAddress(va uintptr) bool {
	return va != 0 && va < userSpaceTop
}

// IsUserAddress reports whether va is a valid (non-null, in-range) user
// virtual address. Exported for elfload's program-header validation, which
// needs the same range check process.c's validate_segment applies via
// is_user_vaddr.
func IsUserAddress(va uintptr) bool {
	return isUserAddress(va)
}

// UserStackTop returns the fixed top-of-stack virtual address every user
// process is given, exported for elfload's initial stack construction.
func UserStackTop() uintptr { return userStackTop }
