package vm

import "gophkernel/kernel"

var errUnsupportedKind = &kernel.Error{Module: "vm", Message: "unsupported page kind for lazy registration"}

// AllocUninitPage reserves a lazily-populated page at va, failing if a page
// is already registered there. Mirrors
// vm_alloc_page_with_initializer in vm/vm.c: kind selects the concrete type
// the page becomes on first fault (KindAnon or KindFile; KindUninit itself
// is not a valid argument here, matching the original's assertion). A nil
// init for an ANON page defaults to zero-fill, matching anon_init_zero.
func (as *AddressSpace) AllocUninitPage(va uintptr, writable bool, kind Kind, init Initializer, aux interface{}) *kernel.Error {
	var typeInit func(p *Page, kva uintptr) *kernel.Error

	switch kind {
	case KindAnon:
		typeInit = anonInitializer
		if init == nil {
			init = anonZeroFillInit
		}
	case KindFile:
		typeInit = fileInitializer
	default:
		return errUnsupportedKind
	}

	page := newUninitPage(pageRoundDown(va), writable, kind, init, aux, typeInit)
	return as.SPT.Insert(page)
}

// MapFileBacked registers a lazily-populated FILE page at va, to be
// populated on first fault by reading readBytes from file at offset and
// zero-filling the remaining zeroBytes. Shared by Mmap's per-page loop and
// elfload's PT_LOAD segment registration, both of which compute the same
// read_bytes/zero_bytes split.
func (as *AddressSpace) MapFileBacked(va uintptr, writable bool, file File, offset int64, readBytes, zeroBytes uintptr) *kernel.Error {
	aux := &fileLazyAux{file: file, offset: offset, readBytes: readBytes, zeroBytes: zeroBytes}
	return as.AllocUninitPage(va, writable, KindFile, fileLazyInit, aux)
}

// ClaimVA looks up the page registered at va and claims it (allocates a
// frame, installs the PTE, populates content). Mirrors vm_claim_page.
func (as *AddressSpace) ClaimVA(va uintptr) *kernel.Error {
	page := as.SPT.Find(va)
	if page == nil {
		return errNotFound
	}
	return as.Claim(page)
}

var errNotFound = &kernel.Error{Module: "vm", Message: "no page registered at this address"}
