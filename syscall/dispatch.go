package syscall

import (
	"gophkernel/kernel/gate"
	"gophkernel/kernel/kfmt"
	"gophkernel/kernel/mm"
	"gophkernel/proc"
)

// Syscall numbers, read from RAX on trap entry. Mirrors the SYS_* enum in
// syscall.c, restricted to the subset this package implements.
const (
	SysExit  = 0
	SysFork  = 1
	SysExec  = 2
	SysWait  = 3
	SysWrite = 4
)

// consoleFD is the only fd Write currently accepts, matching sys_write's
// fd == 1 check in the original.
const consoleFD = 1

// Dispatch handles one trapped syscall for p, reading the syscall number
// from regs.RAX and arguments from RDI, RSI, RDX, R10, R8, R9, and writing
// the return value back to regs.RAX. It reports whether p's kernel thread
// has terminated (EXIT, or an unknown syscall number, both of which route
// to sys_exit(-1) in the original and never return to the caller).
func Dispatch(p *proc.Process, regs *gate.Registers) (terminated bool) {
	switch regs.RAX {
	case SysExit:
		sysExit(p, regs)
		return true
	case SysFork:
		sysFork(p, regs)
		return false
	case SysExec:
		return sysExec(p, regs)
	case SysWait:
		sysWait(p, regs)
		return false
	case SysWrite:
		sysWrite(p, regs)
		return false
	default:
		p.Exit(-1)
		return true
	}
}

func sysExit(p *proc.Process, regs *gate.Registers) {
	p.Exit(int32(regs.RDI))
}

func sysFork(p *proc.Process, regs *gate.Registers) {
	name, err := copyInString(p.AddrSpace, uintptr(regs.RDI))
	if err != nil {
		regs.RAX = negOne
		return
	}

	childID, ferr := p.Fork(name, *regs)
	if ferr != nil {
		regs.RAX = negOne
		return
	}
	regs.RAX = uint64(childID)
}

// sysExec loads and replaces p's address space. On success regs is
// overwritten with the freshly loaded program's entry registers -- the
// syscall never returns to the caller's prior trap frame, mirroring
// process_exec's do_iret into the new program. On failure it returns -1 to
// the still-running caller, exactly as the original's exec() wrapper does
// when load() fails.
func sysExec(p *proc.Process, regs *gate.Registers) bool {
	cmdline, err := copyInString(p.AddrSpace, uintptr(regs.RDI))
	if err != nil {
		regs.RAX = negOne
		return false
	}

	if err := p.Exec(cmdline); err != nil {
		regs.RAX = negOne
		return false
	}

	*regs = p.Regs
	return false
}

func sysWait(p *proc.Process, regs *gate.Registers) {
	status := p.Wait(int(regs.RDI))
	regs.RAX = uint64(int64(status))
}

// sysWrite streams the user buffer through the console in chunks of at
// most one page, matching copy_in's own page-by-page shape. regs.RDX is
// untrusted: sizing a single kernel-side allocation directly from it would
// let a user program drive an arbitrarily large allocation before any page
// is even validated, so the chunk buffer is fixed at one page regardless
// of how large n is.
func sysWrite(p *proc.Process, regs *gate.Registers) {
	fd := int(regs.RDI)
	if fd != consoleFD {
		regs.RAX = negOne
		return
	}

	va := uintptr(regs.RSI)
	remaining := uintptr(regs.RDX)
	written := uintptr(0)

	var chunk [mm.PageSize]byte
	for remaining > 0 {
		n := uintptr(len(chunk))
		if n > remaining {
			n = remaining
		}
		buf := chunk[:n]
		if err := copyIn(p.AddrSpace, buf, va+written); err != nil {
			regs.RAX = negOne
			return
		}
		kfmt.Printf("%s", buf)
		written += n
		remaining -= n
	}

	regs.RAX = uint64(written)
}

// negOne is RAX's encoding of a -1 return value (syscalls return through an
// unsigned register; all-ones is -1 under two's complement).
const negOne = ^uint64(0)
