// Package proc implements process lifecycle: create, fork, exec, wait and
// exit, grounded on userprog/process.c's process_create_initd,
// process_fork/__do_fork, process_exec, process_wait and process_exit.
// Since gopher-os has no thread/scheduler layer of its own (the bootstrap
// thread scheduler is an explicit external collaborator), each process's
// kernel thread is realized as a goroutine; the blocking primitives the
// original expresses with synch.c's semaphore are realized with this
// package's own channel-backed semaphore.
package proc

import (
	"strings"
	"sync/atomic"

	"gophkernel/elfload"
	"gophkernel/kernel"
	"gophkernel/kernel/gate"
	"gophkernel/kernel/kfmt"
	"gophkernel/vm"
)

var (
	errForkFailed = &kernel.Error{Module: "proc", Message: "fork: child setup failed"}
	errExecFailed = &kernel.Error{Module: "proc", Message: "exec: load failed"}

	// loadFn is the seam tests use to avoid driving the real ELF loader
	// (and, transitively, vm.AddressSpace.Claim's hardware path).
	loadFn = elfload.Load

	// newAddressSpaceFn is the seam tests use to avoid vm.NewAddressSpace's
	// real page-table-root creation.
	newAddressSpaceFn = vm.NewAddressSpace
)

var nextPID int32

func allocPID() int {
	return int(atomic.AddInt32(&nextPID, 1))
}

// FileOpener is the filesystem collaborator this package needs: opening a
// command's first token by name to obtain the executable's vm.File.
// The filesystem implementation itself lives outside this package; every
// call must happen under vm.FSLock, since the filesystem is not re-entrant.
type FileOpener interface {
	Open(name string) (vm.File, *kernel.Error)
}

// Process is one schedulable user process: its address space, open file
// table, children bookkeeping and the WaitStatus its own parent (if any)
// uses to observe its exit.
type Process struct {
	ID   int
	Name string

	opener FileOpener
	frames *vm.FrameAllocator

	AddrSpace *vm.AddressSpace
	Regs      gate.Registers

	fds      fdTable
	children []*WaitStatus
	wstatus  *WaitStatus
}

// NewRoot creates the first process in the system (the kernel's own
// bootstrap identity), from which CreateInitd spawns the first real user
// process. It has no WaitStatus of its own since nothing waits on it.
func NewRoot(opener FileOpener, frames *vm.FrameAllocator) *Process {
	return &Process{ID: allocPID(), Name: "kernel", opener: opener, frames: frames}
}

func firstToken(cmdline string) string {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return cmdline
	}
	return fields[0]
}

// CreateInitd starts cmdline as a brand new user process, as
// process_create_initd does: a fresh WaitStatus(refcnt=2) is linked into
// the parent's children, and a goroutine is spawned to run exec on
// cmdline. Go strings are already immutable, so the defensive page copy
// process_create_initd performs against a racing load() has no Go
// equivalent to perform.
func (parent *Process) CreateInitd(cmdline string) (*Process, *kernel.Error) {
	w := newWaitStatus()
	child := &Process{
		ID:     allocPID(),
		Name:   firstToken(cmdline),
		opener: parent.opener,
		frames: parent.frames,
	}
	w.ChildID = child.ID
	child.wstatus = w

	parent.children = append(parent.children, w)

	go func() {
		if err := child.Exec(cmdline); err != nil {
			child.Exit(-1)
		}
	}()

	return child, nil
}

// forkHandoff is the one-shot packet process_fork hands to __do_fork: the
// parent's trap frame copy, a back-pointer to the parent (for fd/SPT
// copying), the shared WaitStatus, and the done semaphore the parent blocks
// on until the child reports success or failure.
type forkHandoff struct {
	parentRegs gate.Registers
	parent     *Process
	wstatus    *WaitStatus
	success    bool
	done       *semaphore
}

// Fork clones the calling process, as process_fork does: the parent blocks
// on a handoff semaphore until the child either finishes setting up its
// address space (page-table copy, SPT copy, fd duplication) or fails. The
// child's copy of parentRegs will have RAX forced to 0 before it resumes in
// user mode, giving fork's "0 to the child, child id to the parent" split.
func (parent *Process) Fork(name string, parentRegs gate.Registers) (int, *kernel.Error) {
	w := newWaitStatus()
	h := &forkHandoff{
		parentRegs: parentRegs,
		parent:     parent,
		wstatus:    w,
		done:       newSemaphore(),
	}

	child := &Process{
		ID:     allocPID(),
		Name:   name,
		opener: parent.opener,
		frames: parent.frames,
	}

	go child.doFork(h)

	h.done.down()

	if !h.success {
		w.drop()
		return -1, errForkFailed
	}

	w.ChildID = child.ID
	parent.children = append(parent.children, w)
	return child.ID, nil
}

// doFork is the child thread body __do_fork describes: copy the trap frame
// locally (1), create a fresh address space (2; it is not activated here), copy the
// parent's SPT into it (3), duplicate the parent's fd table under fs_lock
// (4), link the shared wstatus and force the child's return value to 0 (5).
// Any failure reports success=false on the handoff instead of exiting the
// process outright, since that decision belongs to the caller driving the
// goroutine, not this package.
func (c *Process) doFork(h *forkHandoff) {
	regs := h.parentRegs

	as, err := newAddressSpaceFn(c.frames)
	if err != nil {
		h.success = false
		h.done.up()
		return
	}

	if err := as.SPT.Copy(as, h.parent.AddrSpace.SPT); err != nil {
		_ = as.Destroy()
		h.success = false
		h.done.up()
		return
	}

	if err := c.fds.duplicateFrom(&h.parent.fds); err != nil {
		c.fds.closeAll()
		_ = as.Destroy()
		h.success = false
		h.done.up()
		return
	}

	c.AddrSpace = as
	c.wstatus = h.wstatus
	regs.RAX = 0
	c.Regs = regs

	h.success = true
	h.done.up()
}

// Exec replaces the calling process's address space with the program named
// by cmdline's first token, as process_exec does: tear down whatever
// address space is currently installed, load the new ELF image and initial
// stack, and install the resulting register file. Never "returns" to user
// mode in the original sense (that's the external scheduler's job once this
// call succeeds); callers observe success only through the returned error.
func (p *Process) Exec(cmdline string) *kernel.Error {
	argv := strings.Fields(cmdline)
	if len(argv) == 0 {
		return errExecFailed
	}

	if p.AddrSpace != nil {
		_ = p.AddrSpace.Destroy()
		p.AddrSpace = nil
	}

	as, err := newAddressSpaceFn(p.frames)
	if err != nil {
		return errExecFailed
	}

	vm.FSLock.Acquire()
	file, err := p.opener.Open(argv[0])
	vm.FSLock.Release()
	if err != nil {
		_ = as.Destroy()
		return errExecFailed
	}

	var regs gate.Registers
	if err := loadFn(as, file, argv, &regs); err != nil {
		_ = as.Destroy()
		return errExecFailed
	}

	p.AddrSpace = as
	p.Regs = regs
	return nil
}

// Wait blocks for childID to exit and returns its status, as process_wait
// does: if childID does not name a live entry in p's children (not a child,
// or already waited), it returns -1 immediately without blocking. The
// child id is removed from children before blocking so a second Wait on the
// same id is rejected instead of double-freeing the WaitStatus's share.
func (p *Process) Wait(childID int) int32 {
	idx := -1
	for i, w := range p.children {
		if w.ChildID == childID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return -1
	}

	w := p.children[idx]
	p.children = append(p.children[:idx], p.children[idx+1:]...)

	status := w.wait()
	w.drop()
	return status
}

// Exit terminates p with the given status, as process_exit/sys_exit do:
// print the exit banner, signal and detach this process's own WaitStatus if
// it has one, then detach (without waiting for) every remaining child so a
// parent that exits before its children does not leak their WaitStatus
// shares. Finally tears down the address space and closes every open fd.
func (p *Process) Exit(status int32) {
	kfmt.Printf("%s: exit(%d)\n", p.Name, int(status))

	if p.wstatus != nil {
		p.wstatus.markExited(status)
		p.wstatus.drop()
		p.wstatus = nil
	}

	for _, w := range p.children {
		w.drop()
	}
	p.children = nil

	p.fds.closeAll()

	if p.AddrSpace != nil {
		_ = p.AddrSpace.Destroy()
		p.AddrSpace = nil
	}
}
