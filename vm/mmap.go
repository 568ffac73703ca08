package vm

import (
	"gophkernel/kernel"
	"gophkernel/kernel/mm"
)

var (
	errMmapBadArgs     = &kernel.Error{Module: "vm", Message: "mmap arguments are invalid"}
	errMmapOverlap     = &kernel.Error{Module: "vm", Message: "mmap range overlaps an existing mapping"}
	errMunmapNotFound  = &kernel.Error{Module: "vm", Message: "no mmap region starts at this address"}
	errAddressOverflow = &kernel.Error{Module: "vm", Message: "mmap range overflows the user address space"}
)

// MmapRegion tracks one mmap call's worth of contiguous pages sharing a
// reopened file handle. The file handle is closed exactly once, at region
// teardown, never per page.
type MmapRegion struct {
	StartVA   uintptr
	PageCount uintptr
	file      File
	writable  bool
}

// Mmap registers a file-backed lazy mapping. addr must be non-null and page-aligned,
// length non-zero, offset page-aligned, and the whole rounded-up range must
// lie strictly within user space without overlapping any existing SPT
// entry. The file is reopened so the region owns an independent handle; its
// length is queried once up front to compute each page's read_bytes/
// zero_bytes split. Any failure mid-loop rolls back every page registered
// so far and closes the reopened handle.
func (as *AddressSpace) Mmap(addr uintptr, length uintptr, writable bool, file File, offset int64) (uintptr, *kernel.Error) {
	if addr == 0 || addr != pageRoundDown(addr) || length == 0 || offset%int64(mm.PageSize) != 0 {
		return 0, errMmapBadArgs
	}

	pageCount := (length + mm.PageSize - 1) / mm.PageSize
	end := addr + pageCount*mm.PageSize
	if end <= addr || end > userSpaceTop {
		return 0, errAddressOverflow
	}

	for va := addr; va < end; va += mm.PageSize {
		if as.SPT.Find(va) != nil {
			return 0, errMmapOverlap
		}
	}

	FSLock.Acquire()
	reopened, err := reopenFileFn(file)
	var fileLen int64
	if err == nil {
		fileLen = reopened.Length()
	}
	FSLock.Release()
	if err != nil {
		return 0, err
	}

	region := &MmapRegion{StartVA: addr, PageCount: pageCount, file: reopened, writable: writable}

	remaining := int64(length)
	registered := make([]uintptr, 0, pageCount)
	for i := uintptr(0); i < pageCount; i++ {
		va := addr + i*mm.PageSize
		ofs := offset + int64(i*mm.PageSize)

		avail := fileLen - ofs
		if avail < 0 {
			avail = 0
		}
		pageRead := mm.PageSize
		if avail < int64(pageRead) {
			pageRead = uintptr(avail)
		}
		if int64(pageRead) > remaining {
			pageRead = uintptr(remaining)
		}
		pageZero := mm.PageSize - pageRead
		remaining -= int64(pageRead)

		if err := as.MapFileBacked(va, writable, reopened, ofs, pageRead, pageZero); err != nil {
			for _, rva := range registered {
				if p := as.SPT.Find(rva); p != nil {
					as.SPT.Remove(p, as)
				}
			}
			FSLock.Acquire()
			_ = reopened.Close()
			FSLock.Release()
			return 0, err
		}
		registered = append(registered, va)
	}

	as.MmapRegions = append(as.MmapRegions, region)
	return addr, nil
}

// Munmap locates the region by start VA, writes back every frame-resident
// dirty page (up to read_bytes, at its file offset), unmaps and removes
// its SPT entry, then closes the region's file handle exactly once.
// Munmap of an already-removed address is a no-op.
func (as *AddressSpace) Munmap(addr uintptr) *kernel.Error {
	idx := -1
	for i, r := range as.MmapRegions {
		if r.StartVA == addr {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil
	}

	region := as.MmapRegions[idx]
	for i := uintptr(0); i < region.PageCount; i++ {
		va := region.StartVA + i*mm.PageSize
		page := as.SPT.Find(va)
		if page == nil {
			continue
		}
		if page.frame != nil && as.PDT.Dirty(va) {
			_ = page.fileSwapOut(true)
		}
		as.SPT.Remove(page, as)
	}

	as.MmapRegions = append(as.MmapRegions[:idx], as.MmapRegions[idx+1:]...)

	FSLock.Acquire()
	_ = region.file.Close()
	FSLock.Release()
	return nil
}
