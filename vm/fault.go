package vm

import (
	"gophkernel/kernel"
	"gophkernel/kernel/mm"
)

var (
	errNullOrKernelAddress = &kernel.Error{Module: "vm", Message: "fault address is null or outside user space"}
	errProtectionViolation = &kernel.Error{Module: "vm", Message: "protection violation (reserved for future COW)"}
	errWriteToReadOnly     = &kernel.Error{Module: "vm", Message: "write fault against a read-only page"}
	errInvalidFault        = &kernel.Error{Module: "vm", Message: "fault does not correspond to a valid access"}
)

// Fault carries the inputs the fault handler needs: the faulting address,
// whether the access originated in user mode, whether it was a write, and
// whether the page was not present (as opposed to a protection violation
// against a present page). UserRSP is the user stack pointer recorded on
// the most recent trap entry, used by the stack-growth heuristic.
type Fault struct {
	Addr       uintptr
	UserMode   bool
	Write      bool
	NotPresent bool
	UserRSP    uint64
}

// TryHandleFault implements the page-fault decision tree:
//  1. reject a null or non-user address;
//  2. reject a protection violation (present page, no COW support);
//  3. on an SPT hit, reject a disallowed write or else claim the page;
//  4. on a miss, apply the stack-growth heuristic and retry;
//  5. otherwise reject -- the caller kills the process.
func (as *AddressSpace) TryHandleFault(f Fault) *kernel.Error {
	if !isUserAddress(f.Addr) {
		return errNullOrKernelAddress
	}

	if !f.NotPresent {
		return errProtectionViolation
	}

	upage := pageRoundDown(f.Addr)
	if page := as.SPT.Find(upage); page != nil {
		if f.Write && !page.writable {
			return errWriteToReadOnly
		}
		return as.Claim(page)
	}

	if as.shouldGrowStack(f) {
		as.growStack(f.Addr)
		if page := as.SPT.Find(upage); page != nil && page.frame != nil {
			return nil
		}
	}

	return errInvalidFault
}

// shouldGrowStack implements the stack-growth candidate test: user-mode
// write, strictly below userStackTop, a recorded non-zero user RSP, the
// fault within rspSlackBytes of RSP, and growing to the fault page would
// not exceed maxStackBytes.
func (as *AddressSpace) shouldGrowStack(f Fault) bool {
	if !f.UserMode || !f.Write {
		return false
	}
	if f.UserRSP == 0 {
		return false
	}
	if f.Addr >= userStackTop {
		return false
	}
	if f.Addr+rspSlackBytes < uintptr(f.UserRSP) {
		return false
	}

	target := pageRoundDown(f.Addr)
	grown := userStackTop - target
	return grown <= maxStackBytes
}

// growStack reserves and claims fresh ANON pages one at a time, walking
// down from the current stack bottom to the fault's page, stopping at the
// 1 MiB limit or on any allocation failure. Mirrors vm_stack_growth.
func (as *AddressSpace) growStack(addr uintptr) {
	target := pageRoundDown(addr)

	for as.StackBottom > target {
		newPage := as.StackBottom - mm.PageSize

		grown := userStackTop - newPage
		if grown > maxStackBytes {
			break
		}

		page := newAnonPage(newPage, true)
		if err := as.SPT.Insert(page); err != nil {
			break
		}
		if err := as.Claim(page); err != nil {
			as.SPT.Remove(page, as)
			break
		}

		as.StackBottom = newPage
	}
}
