package proc

import (
	"testing"

	"gophkernel/kernel"
	"gophkernel/kernel/gate"
	"gophkernel/kernel/mm"
	"gophkernel/kernel/mm/vmm"
	"gophkernel/vm"
)

// fakePDT is an in-memory stand-in for the real page directory table, so
// address-space lifecycle can be exercised without touching page-table
// hardware. Mirrors vm's and elfload's own unexported fakePDT.
type fakePDT struct {
	destroyed bool
}

func (f *fakePDT) Map(page mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
	return nil
}
func (f *fakePDT) Unmap(page mm.Page) *kernel.Error { return nil }
func (f *fakePDT) Translate(va uintptr) (uintptr, *kernel.Error) {
	return 0, vmm.ErrInvalidMapping
}
func (f *fakePDT) Dirty(va uintptr) bool    { return false }
func (f *fakePDT) ClearDirty(va uintptr)    {}
func (f *fakePDT) Writable(va uintptr) bool { return true }
func (f *fakePDT) Activate()                {}
func (f *fakePDT) Destroy() *kernel.Error   { f.destroyed = true; return nil }

// fakeAddressSpaceFn stands in for newAddressSpaceFn in tests, producing an
// address space backed by fakePDT instead of a real page-table root.
func fakeAddressSpaceFn(frames *vm.FrameAllocator) (*vm.AddressSpace, *kernel.Error) {
	return &vm.AddressSpace{
		PDT:    &fakePDT{},
		SPT:    vm.NewSupplementalPageTable(),
		Frames: frames,
	}, nil
}

// fakeFile is an in-process vm.File backed by a byte slice, used by tests
// that need something to Reopen/Close across fork's fd duplication.
type fakeFile struct {
	data   []byte
	closed bool
}

func (f *fakeFile) ReadAt(buf []byte, offset int64) (int, *kernel.Error) {
	if offset >= int64(len(f.data)) {
		return 0, nil
	}
	return copy(buf, f.data[offset:]), nil
}

func (f *fakeFile) WriteAt(buf []byte, offset int64) (int, *kernel.Error) {
	return len(buf), nil
}

func (f *fakeFile) Length() int64 { return int64(len(f.data)) }

func (f *fakeFile) Reopen() (vm.File, *kernel.Error) {
	return &fakeFile{data: f.data}, nil
}

func (f *fakeFile) Close() *kernel.Error {
	f.closed = true
	return nil
}

var errFakeReopenFailed = &kernel.Error{Module: "proc", Message: "fake reopen failure"}

// reopenFailAfter lets Reopen succeed on its first n calls across every
// fakeFileFailingReopen sharing it, then fail, so a test can put a
// duplicateFrom loop partway through a multi-fd table before forcing it to
// abort. made records every handle a successful Reopen returned.
type reopenFailAfter struct {
	n    int
	made []*fakeFile
}

// fakeFileFailingReopen is a fakeFile whose Reopen is driven by a shared
// reopenFailAfter counter instead of always succeeding, used to exercise
// fork's fd-duplication rollback path.
type fakeFileFailingReopen struct {
	fakeFile
	ctr *reopenFailAfter
}

func (f *fakeFileFailingReopen) Reopen() (vm.File, *kernel.Error) {
	if f.ctr.n <= 0 {
		return nil, errFakeReopenFailed
	}
	f.ctr.n--
	reopened := &fakeFile{data: f.data}
	f.ctr.made = append(f.ctr.made, reopened)
	return reopened, nil
}

// fakeOpener is a FileOpener that serves a fixed set of named files.
type fakeOpener struct {
	files map[string][]byte
}

func (o *fakeOpener) Open(name string) (vm.File, *kernel.Error) {
	data, ok := o.files[name]
	if !ok {
		return nil, &kernel.Error{Module: "proc", Message: "file not found: " + name}
	}
	return &fakeFile{data: data}, nil
}

// fakeLoad stands in for loadFn: it never touches vm.AddressSpace.Claim,
// just records that it ran and populates regs as a real load would.
func fakeLoadSuccess(as *vm.AddressSpace, file vm.File, argv []string, regs *gate.Registers) *kernel.Error {
	regs.RDI = uint64(len(argv))
	regs.RIP = 0x400000
	return nil
}

var errFakeLoadFailed = &kernel.Error{Module: "elfload", Message: "fake load failure"}

func fakeLoadFailure(as *vm.AddressSpace, file vm.File, argv []string, regs *gate.Registers) *kernel.Error {
	return errFakeLoadFailed
}

// withFakeSeams overrides newAddressSpaceFn and loadFn for the duration of
// a test, restoring the real implementations afterward.
func withFakeSeams(t *testing.T, load func(*vm.AddressSpace, vm.File, []string, *gate.Registers) *kernel.Error) {
	t.Helper()
	origNewAS, origLoad := newAddressSpaceFn, loadFn
	newAddressSpaceFn = fakeAddressSpaceFn
	loadFn = load
	t.Cleanup(func() {
		newAddressSpaceFn = origNewAS
		loadFn = origLoad
	})
}
