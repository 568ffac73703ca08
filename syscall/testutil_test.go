package syscall

import (
	"gophkernel/kernel"
	"gophkernel/kernel/mm"
	"gophkernel/kernel/mm/vmm"
	"gophkernel/vm"
)

// fakePDT is a no-op stand-in for the real page directory table. None of
// this package's directly testable paths drive a page claim (that always
// touches real physical-frame and MMU hardware, see copy_test.go), so every
// method here is unreachable in practice -- it exists only to satisfy
// vm.PageTable so an AddressSpace can be constructed at all.
type fakePDT struct{}

func (fakePDT) Map(page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
	return nil
}
func (fakePDT) Unmap(page mm.Page) *kernel.Error { return nil }
func (fakePDT) Translate(va uintptr) (uintptr, *kernel.Error) {
	return 0, vmm.ErrInvalidMapping
}
func (fakePDT) Dirty(va uintptr) bool    { return false }
func (fakePDT) ClearDirty(va uintptr)    {}
func (fakePDT) Writable(va uintptr) bool { return true }
func (fakePDT) Activate()                {}
func (fakePDT) Destroy() *kernel.Error   { return nil }

func newTestAddressSpace() *vm.AddressSpace {
	return &vm.AddressSpace{
		PDT:    fakePDT{},
		SPT:    vm.NewSupplementalPageTable(),
		Frames: vm.NewFrameAllocator(),
	}
}
