package vm

import (
	"gophkernel/kernel"
	"gophkernel/kernel/mm"
	"gophkernel/kernel/mm/vmm"
)

// fakePDT is an in-memory stand-in for *vmm.PageDirectoryTable used by
// tests so fault handling, mmap and fork logic can be exercised without
// touching real page-table hardware.
type fakePDT struct {
	mapped  map[mm.Page]mm.Frame
	dirty   map[uintptr]bool
	destroy bool
}

func newFakePDT() *fakePDT {
	return &fakePDT{mapped: make(map[mm.Page]mm.Frame), dirty: make(map[uintptr]bool)}
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

func (f *fakePDT) Dirty(va uintptr) bool {
	return f.dirty[mm.PageFromAddress(va).Address()]
}

func (f *fakePDT) ClearDirty(va uintptr) {
	f.dirty[mm.PageFromAddress(va).Address()] = false
}

func (f *fakePDT) Writable(va uintptr) bool { return true }

func (f *fakePDT) Activate() {}

func (f *fakePDT) Destroy() *kernel.Error {
	f.destroy = true
	return nil
}

// fakeFile is an in-process File backed by a byte slice, used instead of a
// real filesystem collaborator.
type fakeFile struct {
	data   []byte
	closed bool
}

func (f *fakeFile) ReadAt(buf []byte, offset int64) (int, *kernel.Error) {
	if offset >= int64(len(f.data)) {
		return 0, nil
	}
	n := copy(buf, f.data[offset:])
	return n, nil
}

func (f *fakeFile) WriteAt(buf []byte, offset int64) (int, *kernel.Error) {
	end := offset + int64(len(buf))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[offset:end], buf)
	return len(buf), nil
}

func (f *fakeFile) Length() int64 { return int64(len(f.data)) }

func (f *fakeFile) Reopen() (File, *kernel.Error) {
	return &fakeFile{data: f.data}, nil
}

func (f *fakeFile) Close() *kernel.Error {
	f.closed = true
	return nil
}
