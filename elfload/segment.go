package elfload

import (
	"debug/elf"

	"gophkernel/kernel"
	"gophkernel/kernel/mm"
	"gophkernel/vm"
)

var (
	errSegmentMisaligned   = &kernel.Error{Module: "elfload", Message: "segment file offset and virtual address have different page offsets"}
	errSegmentPastFile     = &kernel.Error{Module: "elfload", Message: "segment file offset is past the end of the file"}
	errSegmentShrunk       = &kernel.Error{Module: "elfload", Message: "segment memsz is smaller than filesz"}
	errSegmentEmpty        = &kernel.Error{Module: "elfload", Message: "segment memsz is zero"}
	errSegmentOutOfRange   = &kernel.Error{Module: "elfload", Message: "segment is not entirely within user address space"}
	errSegmentWraps        = &kernel.Error{Module: "elfload", Message: "segment wraps across the address space"}
	errSegmentOverlapsZero = &kernel.Error{Module: "elfload", Message: "segment maps page 0"}
)

// validateSegment mirrors validate_segment in process.c: p_offset and
// p_vaddr must share a page offset, p_offset must lie within the file,
// p_memsz must be at least p_filesz and non-zero, the whole [vaddr,
// vaddr+memsz) range must lie within user space without wrapping, and page 0
// is never a valid target.
func validateSegment(ph *elf.ProgHeader, fileLen int64) *kernel.Error {
	if (ph.Off&uint64(mm.PageSize-1)) != (ph.Vaddr & uint64(mm.PageSize-1)) {
		return errSegmentMisaligned
	}
	if ph.Off > uint64(fileLen) {
		return errSegmentPastFile
	}
	if ph.Memsz < ph.Filesz {
		return errSegmentShrunk
	}
	if ph.Memsz == 0 {
		return errSegmentEmpty
	}
	if !vm.IsUserAddress(uintptr(ph.Vaddr)) || !vm.IsUserAddress(uintptr(ph.Vaddr+ph.Memsz)) {
		return errSegmentOutOfRange
	}
	if ph.Vaddr+ph.Memsz < ph.Vaddr {
		return errSegmentWraps
	}
	if ph.Vaddr < uint64(mm.PageSize) {
		return errSegmentOverlapsZero
	}
	return nil
}

// registerSegment lazily registers the pages backing one validated PT_LOAD
// segment, computing each page's read_bytes/zero_bytes split exactly as
// process.c's load() does ahead of load_segment(): page-align the segment
// down to filePage/memPage, read the in-page offset worth of bytes from the
// file for the first page, zero-fill past filesz, and zero-fill entirely any
// page beyond it.
func registerSegment(as *vm.AddressSpace, file vm.File, ph *elf.ProgHeader) *kernel.Error {
	writable := ph.Flags&elf.PF_W != 0

	filePage := ph.Off &^ uint64(mm.PageSize-1)
	memPage := uintptr(ph.Vaddr) &^ (mm.PageSize - 1)
	pageOffset := uintptr(ph.Vaddr) & (mm.PageSize - 1)

	var readBytes, zeroBytes uintptr
	if ph.Filesz > 0 {
		readBytes = pageOffset + uintptr(ph.Filesz)
		zeroBytes = roundUp(pageOffset+uintptr(ph.Memsz), mm.PageSize) - readBytes
	} else {
		readBytes = 0
		zeroBytes = roundUp(pageOffset+uintptr(ph.Memsz), mm.PageSize)
	}

	upage := memPage
	ofs := int64(filePage)
	for readBytes > 0 || zeroBytes > 0 {
		pageRead := readBytes
		if pageRead > mm.PageSize {
			pageRead = mm.PageSize
		}
		pageZero := mm.PageSize - pageRead

		if err := as.MapFileBacked(upage, writable, file, ofs, pageRead, pageZero); err != nil {
			return err
		}

		readBytes -= pageRead
		zeroBytes -= pageZero
		upage += mm.PageSize
		ofs += int64(pageRead)
	}
	return nil
}

func roundUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}
