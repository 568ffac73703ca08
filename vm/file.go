package vm

import (
	"gophkernel/kernel"
	"gophkernel/kernel/mm"
	"gophkernel/kernel/sync"
)

// File is the narrow external filesystem collaborator this package needs:
// read/write at an offset, query length, obtain an independent reopened
// handle, and close. The filesystem itself is out of scope here; every
// operation is expected to be invoked under FSLock, since the filesystem
// collaborator is not re-entrant.
type File interface {
	ReadAt(buf []byte, offset int64) (int, *kernel.Error)
	WriteAt(buf []byte, offset int64) (int, *kernel.Error)
	Length() int64
	Reopen() (File, *kernel.Error)
	Close() *kernel.Error
}

// FSLock is the single global filesystem lock: acquired around
// reopen/close/read/write/seek/length/duplicate, since the filesystem
// collaborator is not re-entrant.
var FSLock sync.Spinlock

var reopenFileFn = func(f File) (File, *kernel.Error) {
	return f.Reopen()
}

// fileLazyAux is the aux packet an UNINIT->FILE page carries until its
// first fault: which file region to read, and how much of the page it
// covers (the remainder is zero-filled). Mirrors struct file_lazy_aux from
// vm/file.c's lazy file loader.
type fileLazyAux struct {
	file      File
	offset    int64
	readBytes uintptr
	zeroBytes uintptr
}

// fileInitializer converts an UNINIT page into a concrete FILE page. It is
// passed as the typeInitialize callback to newUninitPage when registering a
// FILE-backed lazy page: either an mmap region or an ELF PT_LOAD segment,
// both lazily populated on first fault via the same read-then-zero path.
func fileInitializer(p *Page, kva uintptr) *kernel.Error {
	aux := p.uninit.aux.(*fileLazyAux)
	p.kind = KindFile
	p.file = &fileData{
		file:      aux.file,
		offset:    aux.offset,
		readBytes: aux.readBytes,
		zeroBytes: aux.zeroBytes,
	}
	return nil
}

// fileLazyInit is the Initializer run immediately after fileInitializer: it
// performs the actual read-from-file-then-zero-remainder content fill. It is
// split from fileInitializer so that newUninitPage's generic
// (typeInitialize, init) pair stays uniform across ANON and FILE pages.
func fileLazyInit(p *Page, kva uintptr, aux interface{}) *kernel.Error {
	fd := p.file

	FSLock.Acquire()
	n, err := fd.file.ReadAt(kvaSlice(kva, fd.readBytes), fd.offset)
	FSLock.Release()
	if err != nil {
		return err
	}
	if uintptr(n) != fd.readBytes {
		return errShortFileRead
	}

	if fd.zeroBytes > 0 {
		kernel.Memset(kva+fd.readBytes, 0, fd.zeroBytes)
	}
	return nil
}

var errShortFileRead = &kernel.Error{Module: "vm", Message: "short read while lazily loading a file-backed page"}

// fileSwapIn re-reads a resident FILE page's content, used when a FILE page
// is re-claimed after being evicted without ever being written (write-back
// only applies to dirty pages; a clean FILE page can simply be re-read).
func (p *Page) fileSwapIn(kva uintptr) *kernel.Error {
	fd := p.file

	FSLock.Acquire()
	n, err := fd.file.ReadAt(kvaSlice(kva, fd.readBytes), fd.offset)
	FSLock.Release()
	if err != nil {
		return err
	}
	if uintptr(n) != fd.readBytes {
		return errShortFileRead
	}
	if fd.zeroBytes > 0 {
		kernel.Memset(kva+fd.readBytes, 0, fd.zeroBytes)
	}
	return nil
}

// fileSwapOut writes a FILE page's content back to its backing file if it
// is dirty, never writing past readBytes. Write-back failures are absorbed
// silently: the file may end up truncated or unwritable, and there is no
// retry.
func (p *Page) fileSwapOut(dirty bool) *kernel.Error {
	if !dirty {
		return nil
	}
	fd := p.file

	FSLock.Acquire()
	_, _ = fd.file.WriteAt(kvaSlice(p.frame.kva, fd.readBytes), fd.offset)
	FSLock.Release()
	return nil
}

// fileDestroy detaches this page's frame (clearing the owner's PTE) and
// drops its frame/slot state. The file handle itself belongs to the owning
// MmapRegion, which closes it exactly once at region teardown.
func (p *Page) fileDestroy(owner *AddressSpace) {
	if p.frame == nil {
		return
	}
	if owner != nil {
		_ = owner.PDT.Unmap(mm.PageFromAddress(p.va))
		_ = owner.Frames.FreeFrame(p.frame)
	}
	p.frame.owner = nil
	p.frame = nil
}

// kvaSlice overlays a []byte of length n on top of the kernel-virtual
// address kva, used to hand frame content to the File interface without an
// intermediate allocation.
func kvaSlice(kva uintptr, n uintptr) []byte {
	return unsafeSlice(kva, n)
}
