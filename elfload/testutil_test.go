package elfload

import (
	"testing"

	"gophkernel/kernel"
	"gophkernel/kernel/mm"
	"gophkernel/kernel/mm/vmm"
	"gophkernel/vm"
)

// fakePDT is an in-memory stand-in for the real page directory table, used
// so segment registration and header validation can be exercised without
// touching real page-table hardware. Mirrors vm's own unexported fakePDT.
type fakePDT struct {
	mapped map[mm.Page]mm.Frame
}

func newFakePDT() *fakePDT {
	return &fakePDT{mapped: make(map[mm.Page]mm.Frame)}
}

func (f *fakePDT) Map(page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
	f.mapped[page] = frame
	return nil
}

func (f *fakePDT) Unmap(page mm.Page) *kernel.Error {
	delete(f.mapped, page)
	return nil
}

func (f *fakePDT) Translate(va uintptr) (uintptr, *kernel.Error) {
	frame, ok := f.mapped[mm.PageFromAddress(va)]
	if !ok {
		return 0, vmm.ErrInvalidMapping
	}
	return frame.Address() + vmm.PageOffset(va), nil
}

func (f *fakePDT) Dirty(va uintptr) bool    { return false }
func (f *fakePDT) ClearDirty(va uintptr)    {}
func (f *fakePDT) Writable(va uintptr) bool { return true }
func (f *fakePDT) Activate()                {}
func (f *fakePDT) Destroy() *kernel.Error   { return nil }

func newTestAddressSpace(t *testing.T) *vm.AddressSpace {
	t.Helper()
	return &vm.AddressSpace{
		SPT:         vm.NewSupplementalPageTable(),
		Frames:      vm.NewFrameAllocator(),
		PDT:         newFakePDT(),
		StackBottom: vm.UserStackTop(),
	}
}
