// Package vm implements the supplemental page table and frame layer: the
// polymorphic page header (UNINIT -> ANON | FILE), lazy loading, anonymous
// swap-backed pages, file-backed pages, memory-mapped regions, the page
// fault handler (including stack growth) and frame eviction. Grounded
// line-for-line on Pintos's vm/vm.c, vm/anon.c and vm/file.c; kernel/mm/vmm
// supplies the narrow "install/clear mapping, translate, dirty/writable
// bit" MMU primitive this package is built on top of.
package vm

import (
	"gophkernel/kernel"
)

// Kind identifies the concrete representation behind a Page's polymorphic
// header, mirroring the original's VM_UNINIT/VM_ANON/VM_FILE tags.
type Kind uint8

const (
	// KindUninit marks a page that has been reserved but not yet populated;
	// its content is produced by a one-shot initializer on first fault.
	KindUninit Kind = iota
	// KindAnon marks a page backed by the swap device (or zero-filled).
	KindAnon
	// KindFile marks a page backed by a region of a reopened file.
	KindFile
)

// String implements fmt.Stringer for log/debug output via kfmt.
func (k Kind) String() string {
	switch k {
	case KindUninit:
		return "UNINIT"
	case KindAnon:
		return "ANON"
	case KindFile:
		return "FILE"
	default:
		return "UNKNOWN"
	}
}

// Initializer is the one-shot closure an UNINIT page runs on first fault to
// convert itself into its pending concrete type and populate its content.
// It receives the kernel-virtual address the frame was mapped at and the
// page's aux payload; ownership of aux transfers to the initializer, which
// must release it exactly once.
type Initializer func(page *Page, kva uintptr, aux interface{}) *kernel.Error

// anonData is the ANON payload: a swap slot index, valid only while hasSlot
// is set. hasSlot is false if the page has never been swapped out (and is
// therefore zero-filled on first claim).
type anonData struct {
	slot    uint64
	hasSlot bool
}

// fileData is the FILE payload. readBytes+zeroBytes always equals
// mm.PageSize; write-back never writes past readBytes.
type fileData struct {
	file      File
	offset    int64
	readBytes uintptr
	zeroBytes uintptr
}

// uninitData is the UNINIT payload: the pending final Kind, the one-shot
// initializer and its aux, plus the initializer the concrete type needs to
// install itself (anonInitializer or fileInitializer below).
type uninitData struct {
	pendingKind    Kind
	init           Initializer
	aux            interface{}
	typeInitialize func(p *Page, kva uintptr) *kernel.Error
}

// Page is the polymorphic page header. va is page-aligned; frame is nil
// when the page is not resident.
type Page struct {
	va       uintptr
	writable bool
	frame    *Frame

	kind   Kind
	uninit *uninitData
	anon   *anonData
	file   *fileData
}

// VA returns the page-aligned virtual address this page header describes.
func (p *Page) VA() uintptr { return p.va }

// Writable reports whether this page's PTE should be installed read-write.
func (p *Page) Writable() bool { return p.writable }

// Frame returns the frame currently backing this page, or nil if the page
// is not resident.
func (p *Page) Frame() *Frame { return p.frame }

// Type returns the effective final type: for an UNINIT page, the pending
// type it will convert into; otherwise the page's current type. Mirrors
// page_get_type in vm/vm.c.
func (p *Page) Type() Kind {
	if p.kind == KindUninit {
		return p.uninit.pendingKind
	}
	return p.kind
}

// newUninitPage reserves a page header for lazy population. pendingKind is
// the type the page will become on first fault; typeInitialize installs
// that concrete representation (anonInitializer or fileInitializer).
func newUninitPage(va uintptr, writable bool, pendingKind Kind, init Initializer, aux interface{}, typeInitialize func(p *Page, kva uintptr) *kernel.Error) *Page {
	return &Page{
		va:       va,
		writable: writable,
		kind:     KindUninit,
		uninit: &uninitData{
			pendingKind:    pendingKind,
			init:           init,
			aux:            aux,
			typeInitialize: typeInitialize,
		},
	}
}

// newAnonPage creates an already-concrete, not-yet-resident ANON page (used
// by fork when materializing a resident source page on the child, and by
// stack growth).
func newAnonPage(va uintptr, writable bool) *Page {
	return &Page{va: va, writable: writable, kind: KindAnon, anon: &anonData{}}
}

// PendingFileSplit reports the read_bytes/zero_bytes split of an UNINIT
// page's pending FILE-backed aux, for callers (e.g. elfload) that need to
// inspect a lazily registered page without triggering its first fault. ok is
// false unless the page is UNINIT with a pending FILE type.
func (p *Page) PendingFileSplit() (readBytes, zeroBytes uintptr, ok bool) {
	if p.kind != KindUninit || p.uninit == nil || p.uninit.pendingKind != KindFile {
		return 0, 0, false
	}
	aux, ok := p.uninit.aux.(*fileLazyAux)
	if !ok {
		return 0, 0, false
	}
	return aux.readBytes, aux.zeroBytes, true
}

// NewStackPage creates an already-concrete, not-yet-resident writable ANON
// page for the initial user stack, exported for elfload's stack
// construction (the only external caller that needs to claim a page outside
// the normal lazy-fault path).
func NewStackPage(va uintptr) *Page {
	return newAnonPage(va, true)
}

// swapIn populates kva with this page's content, performing the UNINIT ->
// concrete-type transition if necessary. Mirrors the ops->swap_in dispatch
// table in vm/vm.c.
func (p *Page) swapIn(kva uintptr) *kernel.Error {
	switch p.kind {
	case KindUninit:
		u := p.uninit
		if err := u.typeInitialize(p, kva); err != nil {
			return err
		}
		aux := u.aux
		init := u.init
		p.uninit = nil
		if init != nil {
			if err := init(p, kva, aux); err != nil {
				return err
			}
		}
		return nil
	case KindAnon:
		return p.anonSwapIn(kva)
	case KindFile:
		return p.fileSwapIn(kva)
	}
	return &kernel.Error{Module: "vm", Message: "swapIn: unknown page kind"}
}

// swapOut writes this page's content back to its backing store (swap
// device or file) ahead of eviction. Mirrors the ops->swap_out table.
func (p *Page) swapOut(dirty bool) *kernel.Error {
	switch p.kind {
	case KindAnon:
		return p.anonSwapOut()
	case KindFile:
		return p.fileSwapOut(dirty)
	}
	return &kernel.Error{Module: "vm", Message: "swapOut: unsupported page kind"}
}

// destroy releases whatever this page owns: aux for UNINIT, the swap slot
// for ANON, the mapped frame for both ANON and FILE. Never closes a FILE
// page's file handle -- the owning MmapRegion does that exactly once, at
// region teardown.
func (p *Page) destroy(owner *AddressSpace) {
	switch p.kind {
	case KindUninit:
		// Aux is released exactly once; nothing has claimed it yet.
		p.uninit = nil
	case KindAnon:
		p.anonDestroy(owner)
	case KindFile:
		p.fileDestroy(owner)
	}
}
