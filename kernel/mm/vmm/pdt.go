// Package vmm implements the MMU primitive layer: mapping, unmapping and
// translating virtual pages against a page directory table (PDT), including
// one that is not the currently active root. This is intentionally a thin,
// mechanical layer that knows nothing about page types, swapping or mmap;
// those concerns live in package vm, one level up, which treats this package
// as the narrow external interface: install/clear a mapping, translate a
// virtual address, read or clear the dirty bit, read the writable bit, and
// create/destroy/activate a root.
package vmm

import (
	"gophkernel/kernel"
	"gophkernel/kernel/cpu"
	"gophkernel/kernel/mm"
	"unsafe"
)

var (
	// activePDTFn is used by tests to override calls to activePDT which
	// will cause a fault if called in user-mode.
	activePDTFn = cpu.ActivePDT

	// switchPDTFn is used by tests to override calls to switchPDT which
	// will cause a fault if called in user-mode.
	switchPDTFn = cpu.SwitchPDT

	// mapFn is used by tests and is automatically inlined by the compiler.
	mapFn = Map

	// mapTemporaryFn is used by tests and is automatically inlined by the compiler.
	mapTemporaryFn = MapTemporary

	// unmapFn is used by tests and is automatically inlined by the compiler.
	unmapFn = Unmap
)

// PageDirectoryTable describes the top-most table in a multi-level paging
// scheme. Each process (and the kernel itself) owns exactly one. The zero
// value is not a usable table; obtain one via Create or Init.
type PageDirectoryTable struct {
	pdtFrame mm.Frame
}

// Create allocates a fresh physical frame for a new page directory table and
// initializes it (clears its contents and sets up the recursive mapping that
// lets Map/Unmap/Translate reach it even while inactive). This is the
// "create root" primitive used when spinning up a new address space, e.g.
// for a freshly forked or exec'd process.
func Create() (PageDirectoryTable, *kernel.Error) {
	frame, err := mm.AllocFrame()
	if err != nil {
		return PageDirectoryTable{}, err
	}

	var pdt PageDirectoryTable
	if err := pdt.Init(frame); err != nil {
		return PageDirectoryTable{}, err
	}
	return pdt, nil
}

// Destroy releases the physical frame backing this table back to the frame
// allocator. The caller must ensure every page mapped through this table has
// already been unmapped and that the table is not the currently active one.
func (pdt *PageDirectoryTable) Destroy() *kernel.Error {
	if pdt.pdtFrame == 0 {
		return nil
	}
	if err := mm.FreeFrame(pdt.pdtFrame); err != nil {
		return err
	}
	pdt.pdtFrame = 0
	return nil
}

// Frame returns the physical frame backing this table.
func (pdt PageDirectoryTable) Frame() mm.Frame { return pdt.pdtFrame }

// Init sets up the page table directory starting at the supplied physical
// address. If the supplied frame does not match the currently active PDT,
// then Init assumes that this is a new page table directory that needs
// bootstrapping. In such a case, a temporary mapping is established so that
// Init can:
//   - call kernel.Memset to clear the frame contents
//   - setup a recursive mapping for the last table entry to the page itself.
func (pdt *PageDirectoryTable) Init(pdtFrame mm.Frame) *kernel.Error {
	pdt.pdtFrame = pdtFrame

	// Check active PDT physical address. If it matches the input pdt then
	// nothing more needs to be done
	activePdtAddr := activePDTFn()
	if pdtFrame.Address() == activePdtAddr {
		return nil
	}

	// Create a temporary mapping for the pdt frame so we can work on it
	pdtPage, err := mapTemporaryFn(pdtFrame)
	if err != nil {
		return err
	}

	// Clear the page contents and setup recursive mapping for the last PDT entry
	kernel.Memset(pdtPage.Address(), 0, mm.PageSize)
	lastPdtEntry := (*pageTableEntry)(unsafe.Pointer(pdtPage.Address() + (((1 << pageLevelBits[0]) - 1) << mm.PointerShift)))
	*lastPdtEntry = 0
	lastPdtEntry.SetFlags(FlagPresent | FlagRW)
	lastPdtEntry.SetFrame(pdtFrame)

	// Remove temporary mapping
	_ = unmapFn(pdtPage)

	return nil
}

// withActivated temporarily swaps the recursive last entry of the currently
// active PDT so that it points at pdt instead, runs fn and then restores it.
// This is the trick that lets Map/Unmap/Translate/Dirty/Writable operate on
// a PDT that isn't currently active: every virtual-address calculation in
// this package assumes the table reachable through the recursive mapping is
// the one being operated on.
func (pdt PageDirectoryTable) withActivated(fn func()) {
	activePdtFrame := mm.Frame(activePDTFn() >> mm.PageShift)
	if activePdtFrame == pdt.pdtFrame {
		fn()
		return
	}

	lastPdtEntryAddr := activePdtFrame.Address() + (((1 << pageLevelBits[0]) - 1) << mm.PointerShift)
	lastPdtEntry := (*pageTableEntry)(unsafe.Pointer(lastPdtEntryAddr))
	lastPdtEntry.SetFrame(pdt.pdtFrame)
	flushTLBEntryFn(lastPdtEntryAddr)

	fn()

	lastPdtEntry.SetFrame(activePdtFrame)
	flushTLBEntryFn(lastPdtEntryAddr)
}

// Map establishes a mapping between a virtual page and a physical memory frame
// using this PDT. This method behaves in a similar fashion to the global Map()
// function with the difference that it also supports inactive PDTs by
// establishing a temporary mapping so that Map() can access the inactive PDT
// entries.
func (pdt PageDirectoryTable) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var err *kernel.Error
	pdt.withActivated(func() {
		err = mapFn(page, frame, flags)
	})
	return err
}

// Unmap removes a mapping previously installed by a call to Map() on this PDT.
// This method behaves in a similar fashion to the global Unmap() function with
// the difference that it also supports inactive PDTs by establishing a
// temporary mapping so that Unmap() can access the inactive PDT entries.
func (pdt PageDirectoryTable) Unmap(page mm.Page) *kernel.Error {
	var err *kernel.Error
	pdt.withActivated(func() {
		err = unmapFn(page)
	})
	return err
}

// Translate returns the physical address mapped to va by this PDT, or
// ErrInvalidMapping if va is not currently mapped. It supports inactive PDTs
// the same way Map and Unmap do.
func (pdt PageDirectoryTable) Translate(va uintptr) (uintptr, *kernel.Error) {
	var (
		addr uintptr
		err  *kernel.Error
	)
	pdt.withActivated(func() {
		addr, err = Translate(va)
	})
	return addr, err
}

// Dirty reports whether the page table entry for va has its dirty bit set.
// The frame eviction path uses this to decide whether a FILE-backed page's
// contents need to be written back before the frame is reused, and the mmap
// unmap path uses it to decide whether a mapped region needs flushing.
func (pdt PageDirectoryTable) Dirty(va uintptr) bool {
	var dirty bool
	pdt.withActivated(func() {
		if pte, err := pteForAddress(va); err == nil {
			dirty = pte.HasFlags(FlagDirty)
		}
	})
	return dirty
}

// ClearDirty clears the dirty bit for va. Callers invoke this right after
// writing a page's contents back to durable storage so a subsequent write
// is detected again.
func (pdt PageDirectoryTable) ClearDirty(va uintptr) {
	pdt.withActivated(func() {
		if pte, err := pteForAddress(va); err == nil {
			pte.ClearFlags(FlagDirty)
			flushTLBEntryFn(va)
		}
	})
}

// Writable reports whether the page table entry for va is mapped read-write.
func (pdt PageDirectoryTable) Writable(va uintptr) bool {
	var rw bool
	pdt.withActivated(func() {
		if pte, err := pteForAddress(va); err == nil {
			rw = pte.HasFlags(FlagRW)
		}
	})
	return rw
}

// Activate enables this page directory table and flushes the TLB
func (pdt PageDirectoryTable) Activate() {
	switchPDTFn(pdt.pdtFrame.Address())
}

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

// pageTableEntry describes a page table entry. These entries encode
// a physical frame address and a set of flags. The actual format
// of the entry and flags is architecture-dependent.
type pageTableEntry uintptr

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) | uintptr(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) &^ uintptr(flags))
}

// Frame returns the physical page frame that this page table entry points to.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.Frame((uintptr(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame updates the page table entry to point the the given physical frame .
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (pageTableEntry)((uintptr(*pte) &^ ptePhysPageMask) | frame.Address())
}

// pteForAddress returns the final page table entry that correspond to a
// particular virtual address. The function performs a page table walk till it
// reaches the final page table entry returning ErrInvalidMapping if the page
// is not present.
func pteForAddress(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	var (
		err   *kernel.Error
		entry *pageTableEntry
	)

	walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			entry = nil
			err = ErrInvalidMapping
			return false
		}

		entry = pte
		return true
	})

	return entry, err
}

var (
	// ptePtrFn returns a pointer to the supplied entry address. It is
	// used by tests to override the generated page table entry pointers so
	// walk() can be properly tested. When compiling the kernel this function
	// will be automatically inlined.
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(entryAddr)
	}
)

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments.  If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address. It calls the
// supplied walkFn with the page table entry that corresponds to each page
// table level. If walkFn returns false then the walk is aborted.
func walk(virtAddr uintptr, walkFn pageTableWalker) {
	var (
		level                            uint8
		tableAddr, entryAddr, entryIndex uintptr
		ok                               bool
	)

	// tableAddr is initially set to the recursively mapped virtual address for the
	// last entry in the top-most page table. Dereferencing a pointer to this address
	// will allow us to access
	for level, tableAddr = uint8(0), pdtVirtualAddr; level < pageLevels; level, tableAddr = level+1, entryAddr {
		// Extract the bits from virtual address that correspond to the
		// index in this level's page table
		entryIndex = (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)

		// By shifting the table virtual address left by pageLevelShifts[level] we add
		// a new level of indirection to our recursive mapping allowing us to access
		// the table pointed to by the page entry
		entryAddr = tableAddr + (entryIndex << mm.PointerShift)

		if ok = walkFn(level, (*pageTableEntry)(ptePtrFn(entryAddr))); !ok {
			return
		}

		// Shift left by the number of bits for this paging level to get
		// the virtual address of the table pointed to by entryAddr
		entryAddr <<= pageLevelBits[level]
	}
}
