package vm

import (
	"gophkernel/kernel"
	"gophkernel/kernel/mm"
	"gophkernel/kernel/mm/vmm"
	"gophkernel/kernel/sync"
)

var (
	errOutOfFrames = &kernel.Error{Module: "vm", Message: "no free frame and no eviction candidate"}

	// mapRegionFn and unmapPageFn are the seams tests use to avoid driving
	// the real MMU primitive layer.
	mapRegionFn = vmm.MapRegion
	unmapPageFn = vmm.Unmap
)

// Frame represents one physical user page, the higher-level counterpart to
// the raw mm.Frame index. kva is a kernel-addressable
// alias for the physical frame, obtained once via vmm.MapRegion so the vm
// package can read/write its contents directly (e.g. during a fork copy or
// swap I/O) without needing a permanent physical direct-map.
type Frame struct {
	kva        uintptr
	physFrame  mm.Frame
	owner      *Page
	ownerSpace *AddressSpace
}

// KVA returns the kernel-virtual address this frame's contents can be read
// or written through.
func (f *Frame) KVA() uintptr { return f.kva }

// Owner returns the Page that currently owns this frame, or nil.
func (f *Frame) Owner() *Page { return f.owner }

// VictimSelector picks the next page to evict, or nil if none is available.
// This is a replaceable eviction policy left open by design; the default
// FrameAllocator has none configured and simply fails allocation when the
// physical pool is exhausted.
type VictimSelector func() *Page

// FrameAllocator owns the user-pool physical frames backing every Frame in
// the system. The zero value has no eviction policy; construct with
// NewFrameAllocator and optionally set SelectVictim.
type FrameAllocator struct {
	mu           sync.Spinlock
	SelectVictim VictimSelector
}

// NewFrameAllocator creates a FrameAllocator with no eviction policy
// configured.
func NewFrameAllocator() *FrameAllocator {
	return &FrameAllocator{}
}

// GetFrame obtains one user-pool physical page and wraps it in a Frame whose
// owner is nil, mirroring get_frame(). On exhaustion it invokes the
// configured eviction policy; if none is configured, or the policy finds no
// victim, it returns errOutOfFrames instead of blocking -- the fault handler
// is expected to treat this as resource exhaustion and kill the faulting
// process.
func (a *FrameAllocator) GetFrame() (*Frame, *kernel.Error) {
	a.mu.Acquire()
	defer a.mu.Release()

	physFrame, err := mm.AllocFrame()
	if err == nil {
		return a.wrapPhysFrame(physFrame)
	}

	if a.SelectVictim == nil {
		return nil, errOutOfFrames
	}
	victim := a.SelectVictim()
	if victim == nil {
		return nil, errOutOfFrames
	}
	return a.evict(victim)
}

// wrapPhysFrame establishes a kernel-addressable alias for a freshly
// allocated physical frame and wraps it as an unowned Frame.
func (a *FrameAllocator) wrapPhysFrame(physFrame mm.Frame) (*Frame, *kernel.Error) {
	kernPage, err := mapRegionFn(physFrame, mm.PageSize, vmm.FlagPresent|vmm.FlagRW)
	if err != nil {
		_ = mm.FreeFrame(physFrame)
		return nil, err
	}
	return &Frame{kva: kernPage.Address(), physFrame: physFrame}, nil
}

// evict invokes the victim's swap_out, clears the victim's page-table entry
// using the victim's own owning address space (not the caller's),
// disconnects the page<->frame link and returns the now-empty frame ready
// for reuse.
func (a *FrameAllocator) evict(victim *Page) (*Frame, *kernel.Error) {
	frame := victim.frame
	if frame == nil {
		return nil, errOutOfFrames
	}

	dirty := false
	if frame.ownerSpace != nil {
		dirty = frame.ownerSpace.PDT.Dirty(victim.va)
	}

	if err := victim.swapOut(dirty); err != nil {
		return nil, err
	}

	if frame.ownerSpace != nil {
		_ = frame.ownerSpace.PDT.Unmap(mm.PageFromAddress(victim.va))
	}

	victim.frame = nil
	frame.owner = nil
	frame.ownerSpace = nil
	return frame, nil
}

// copyPageBytes byte-copies one full page from srcKVA to dstKVA, used by the
// fork SPT-copy path to duplicate resident page content.
func copyPageBytes(srcKVA, dstKVA uintptr) {
	kernel.Memcopy(srcKVA, dstKVA, mm.PageSize)
}

// FreeFrame releases a Frame back to the physical frame pool. The caller
// must have already detached it from any owning Page.
func (a *FrameAllocator) FreeFrame(f *Frame) *kernel.Error {
	a.mu.Acquire()
	defer a.mu.Release()

	if err := unmapPageFn(mm.PageFromAddress(f.kva)); err != nil {
		return err
	}
	return mm.FreeFrame(f.physFrame)
}

// PageTable is the narrow MMU primitive interface this package consumes:
// install/clear a mapping, translate a virtual address, read the
// dirty/writable bits, destroy/activate a root. Keeping it as
// an interface rather than depending on the concrete vmm.PageDirectoryTable
// means this package's own tests can exercise fault handling, mmap and
// fork logic against a fake without touching real page-table hardware;
// *vmm.PageDirectoryTable satisfies it unmodified.
type PageTable interface {
	Map(page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error
	Unmap(page mm.Page) *kernel.Error
	Translate(va uintptr) (uintptr, *kernel.Error)
	Dirty(va uintptr) bool
	ClearDirty(va uintptr)
	Writable(va uintptr) bool
	Activate()
	Destroy() *kernel.Error
}

// AddressSpace bundles the per-process page-table root, supplemental page
// table and stack-growth bookkeeping assigned to a Thread/Process.
// It is the receiver most vm operations (claim, fault handling, mmap) hang
// off of.
type AddressSpace struct {
	PDT         PageTable
	SPT         *SupplementalPageTable
	Frames      *FrameAllocator
	StackBottom uintptr
	MmapRegions []*MmapRegion
}

// createPDTFn is the seam tests use to avoid creating a real page directory
// table.
var createPDTFn = func() (PageTable, *kernel.Error) {
	pdt, err := vmm.Create()
	if err != nil {
		return nil, err
	}
	return &pdt, nil
}

// NewAddressSpace creates an address space backed by a freshly created page
// directory table and an empty supplemental page table.
func NewAddressSpace(frames *FrameAllocator) (*AddressSpace, *kernel.Error) {
	pdt, err := createPDTFn()
	if err != nil {
		return nil, err
	}
	return &AddressSpace{
		PDT:         pdt,
		SPT:         NewSupplementalPageTable(),
		Frames:      frames,
		StackBottom: userStackTop,
	}, nil
}

// Claim allocates a frame for page, installs the PTE with the page's
// writable bit, links page<->frame and populates the frame via swap_in. On
// any failure it unwinds the partial state: clears the PTE, detaches the
// frame and frees it. Mirrors vm_do_claim_page in vm/vm.c.
func (as *AddressSpace) Claim(page *Page) *kernel.Error {
	frame, err := as.Frames.GetFrame()
	if err != nil {
		return err
	}

	frame.owner = page
	frame.ownerSpace = as
	page.frame = frame

	flags := vmm.FlagPresent | vmm.FlagUserAccessible
	if page.writable {
		flags |= vmm.FlagRW
	}

	unwind := func() {
		_ = as.PDT.Unmap(mm.PageFromAddress(page.va))
		page.frame = nil
		frame.owner = nil
		frame.ownerSpace = nil
		_ = as.Frames.FreeFrame(frame)
	}

	if err := as.PDT.Map(mm.PageFromAddress(page.va), frame.physFrame, flags); err != nil {
		unwind()
		return err
	}

	if err := page.swapIn(frame.kva); err != nil {
		unwind()
		return err
	}

	return nil
}

// Destroy tears down this address space: every SPT page is destroyed (and
// its frame, if any, detached and freed) before the page directory table
// itself is released.
func (as *AddressSpace) Destroy() *kernel.Error {
	as.SPT.Kill(as)
	return as.PDT.Destroy()
}
