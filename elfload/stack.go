package elfload

import (
	"gophkernel/kernel"
	"gophkernel/kernel/mm"
	"gophkernel/vm"
)

var errArgvOverflowsStack = &kernel.Error{Module: "elfload", Message: "argument vector does not fit in the single mapped stack page"}

// buildInitialStack constructs the byte-exact initial user stack for a
// freshly loaded executable. A single ANON page is claimed at
// userStackTop-PageSize (mirroring setup_stack's "claim the page
// immediately" resolution of the VM branch's stub); writeArgsToStack then
// performs the actual pushes against its resident frame.
func buildInitialStack(as *vm.AddressSpace, argv []string) (rsp uintptr, argvPtr uintptr, err *kernel.Error) {
	stackBottom := vm.UserStackTop() - mm.PageSize

	page := vm.NewStackPage(stackBottom)
	if err := as.SPT.Insert(page); err != nil {
		return 0, 0, err
	}
	if err := as.Claim(page); err != nil {
		as.SPT.Remove(page, as)
		return 0, 0, err
	}
	as.StackBottom = stackBottom

	return writeArgsToStack(page.Frame().KVA(), stackBottom, argv)
}

// writeArgsToStack performs the byte-exact argument push sequence against a
// single page already resident at kva (whose virtual address range starts
// at stackBottom), in order:
//  1. push each argument string in reverse, NUL-terminated, recording its
//     address;
//  2. align rsp down to a multiple of 8;
//  3. push a zero 8-byte word (argv[argc]);
//  4. push argv[i] addresses in reverse so argv[0] sits at the lowest slot;
//  5. push a zero 8-byte fake return address.
//
// Split out from buildInitialStack so the push arithmetic can be tested
// directly against a plain heap buffer standing in for the resident frame,
// without driving the real claim/page-table path.
func writeArgsToStack(kva, stackBottom uintptr, argv []string) (rsp uintptr, argvPtr uintptr, err *kernel.Error) {
	toKVA := func(va uintptr) uintptr { return kva + (va - stackBottom) }

	rsp = stackBottom + mm.PageSize
	argAddrs := make([]uintptr, len(argv))

	// 1. strings, reverse order.
	for i := len(argv) - 1; i >= 0; i-- {
		s := argv[i]
		n := uintptr(len(s) + 1)
		if rsp < stackBottom+n {
			return 0, 0, errArgvOverflowsStack
		}
		rsp -= n
		dst := unsafeBytes(toKVA(rsp), n)
		copy(dst, s)
		dst[n-1] = 0
		argAddrs[i] = rsp
	}

	// 2. align down to a multiple of 8.
	rsp &^= 7

	// 3. argv[argc] = NULL.
	if rsp < stackBottom+8 {
		return 0, 0, errArgvOverflowsStack
	}
	rsp -= 8
	putU64(toKVA(rsp), 0)

	// 4. argv pointers, reverse order so argv[0] ends up lowest.
	for i := len(argv) - 1; i >= 0; i-- {
		if rsp < stackBottom+8 {
			return 0, 0, errArgvOverflowsStack
		}
		rsp -= 8
		putU64(toKVA(rsp), uint64(argAddrs[i]))
	}
	argvPtr = rsp

	// 5. fake return address.
	if rsp < stackBottom+8 {
		return 0, 0, errArgvOverflowsStack
	}
	rsp -= 8
	putU64(toKVA(rsp), 0)

	return rsp, argvPtr, nil
}
