package vm

import "gophkernel/kernel"

var (
	errDuplicateVA = &kernel.Error{Module: "vm", Message: "a page is already registered at this virtual address"}
	errNotUninit   = &kernel.Error{Module: "vm", Message: "fork copy encountered a page in an unsupported state"}
)

// SupplementalPageTable maps page-aligned virtual addresses to Page headers.
// Each instance is owned by exactly one AddressSpace; like a process's fd
// table and children list, it is accessed without locking except during
// fork, where the child reads the parent's SPT while the parent is blocked
// on the handoff semaphore.
type SupplementalPageTable struct {
	pages map[uintptr]*Page
}

// NewSupplementalPageTable creates an empty table.
func NewSupplementalPageTable() *SupplementalPageTable {
	return &SupplementalPageTable{pages: make(map[uintptr]*Page)}
}

// Find looks up the page registered at va, rounding down to its page
// boundary first.
func (s *SupplementalPageTable) Find(va uintptr) *Page {
	return s.pages[pageRoundDown(va)]
}

// Insert registers page, failing if a page is already registered at the
// same VA.
func (s *SupplementalPageTable) Insert(page *Page) *kernel.Error {
	if _, exists := s.pages[page.va]; exists {
		return errDuplicateVA
	}
	s.pages[page.va] = page
	return nil
}

// Remove unregisters page and destroys it via the owning address space.
func (s *SupplementalPageTable) Remove(page *Page, owner *AddressSpace) {
	delete(s.pages, page.va)
	page.destroy(owner)
}

// Kill destroys every registered page and empties the table. Used when the
// owning address space is torn down (process exit or failed exec).
func (s *SupplementalPageTable) Kill(owner *AddressSpace) {
	for _, p := range s.pages {
		p.destroy(owner)
	}
	s.pages = make(map[uintptr]*Page)
}

// Copy implements the fork SPT-copy semantics: for each
// source entry (iterated in arbitrary order, which Go's map iteration
// already gives us for free):
//   - UNINIT: re-register on dst with the same initializer; FILE aux is
//     deep-copied with an independent reopened file handle, ANON aux passes
//     through unchanged.
//   - resident ANON: allocate+claim a fresh ANON page on dst, byte-copy.
//   - resident FILE: materialize on dst as an ANON copy (fork semantics: the
//     child's private copy diverges from the file), byte-copy.
//   - anything else fails the whole copy.
func (dst *SupplementalPageTable) Copy(dstSpace *AddressSpace, src *SupplementalPageTable) *kernel.Error {
	for _, srcPage := range src.pages {
		if err := dst.copyOne(dstSpace, srcPage); err != nil {
			return err
		}
	}
	return nil
}

func (dst *SupplementalPageTable) copyOne(dstSpace *AddressSpace, srcPage *Page) *kernel.Error {
	switch {
	case srcPage.kind == KindUninit:
		return dst.copyUninit(srcPage)
	case srcPage.kind == KindAnon && srcPage.frame != nil:
		return dst.copyResident(dstSpace, srcPage)
	case srcPage.kind == KindFile && srcPage.frame != nil:
		return dst.copyResident(dstSpace, srcPage)
	default:
		return errNotUninit
	}
}

func (dst *SupplementalPageTable) copyUninit(srcPage *Page) *kernel.Error {
	u := srcPage.uninit
	aux := u.aux

	if u.pendingKind == KindFile {
		srcAux := aux.(*fileLazyAux)
		FSLock.Acquire()
		reopened, err := reopenFileFn(srcAux.file)
		FSLock.Release()
		if err != nil {
			return err
		}
		aux = &fileLazyAux{
			file:      reopened,
			offset:    srcAux.offset,
			readBytes: srcAux.readBytes,
			zeroBytes: srcAux.zeroBytes,
		}
	}

	page := newUninitPage(srcPage.va, srcPage.writable, u.pendingKind, u.init, aux, u.typeInitialize)
	if err := dst.Insert(page); err != nil {
		if u.pendingKind == KindFile {
			FSLock.Acquire()
			_ = aux.(*fileLazyAux).file.Close()
			FSLock.Release()
		}
		return err
	}
	return nil
}

func (dst *SupplementalPageTable) copyResident(dstSpace *AddressSpace, srcPage *Page) *kernel.Error {
	page := newAnonPage(srcPage.va, srcPage.writable)
	if err := dst.Insert(page); err != nil {
		return err
	}
	if err := dstSpace.Claim(page); err != nil {
		return err
	}

	copyPageBytes(srcPage.frame.kva, page.frame.kva)
	return nil
}
