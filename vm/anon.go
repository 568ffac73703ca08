package vm

import (
	"gophkernel/kernel"
	"gophkernel/kernel/mm"
)

// Swap is the process-independent swap slot allocator backing every ANON
// page in the system. It must be installed via SetSwap before any ANON page
// is swapped out; pages that are never evicted never touch it.
var Swap *SwapAllocator

// SetSwap installs the swap slot allocator used by anonSwapOut/anonSwapIn.
func SetSwap(s *SwapAllocator) { Swap = s }

// anonInitializer converts an UNINIT page into a concrete ANON page. Passed
// as the typeInitialize callback to newUninitPage for anonymous
// allocations (the zero-fill default, and stack growth).
func anonInitializer(p *Page, kva uintptr) *kernel.Error {
	p.kind = KindAnon
	p.anon = &anonData{}
	return nil
}

// anonZeroFillInit is the default Initializer for a freshly registered ANON
// page with no prior content: it simply zero-fills the frame. Mirrors
// anon_init_zero in vm/anon.c, used whenever vm_alloc_page_with_initializer
// is called with init == nil for an ANON page.
func anonZeroFillInit(p *Page, kva uintptr, aux interface{}) *kernel.Error {
	kernel.Memset(kva, 0, mm.PageSize)
	return nil
}

// anonSwapIn populates an ANON page's frame: zero-fill if it has never been
// swapped out, otherwise read its content back from its swap slot and
// release the slot. Mirrors anon_swap_in in vm/anon.c.
func (p *Page) anonSwapIn(kva uintptr) *kernel.Error {
	a := p.anon
	if !a.hasSlot {
		kernel.Memset(kva, 0, mm.PageSize)
		return nil
	}

	if err := Swap.ReadSlot(a.slot, unsafeSlice(kva, mm.PageSize)); err != nil {
		return err
	}
	Swap.FreeSlot(a.slot)
	a.hasSlot = false
	return nil
}

// anonSwapOut allocates a swap slot, writes the page's content to it and
// records the slot index. A full swap device is fatal (panic) since there
// is no admission control, matching the original's own lack of a policy
// for it.
func (p *Page) anonSwapOut() *kernel.Error {
	slot, err := Swap.AllocSlot()
	if err != nil {
		return err
	}
	if err := Swap.WriteSlot(slot, unsafeSlice(p.frame.kva, mm.PageSize)); err != nil {
		return err
	}
	p.anon.slot = slot
	p.anon.hasSlot = true
	return nil
}

// anonDestroy releases a held swap slot (if any) and detaches the frame,
// clearing the owner's PTE.
func (p *Page) anonDestroy(owner *AddressSpace) {
	if p.anon != nil && p.anon.hasSlot {
		Swap.FreeSlot(p.anon.slot)
		p.anon.hasSlot = false
	}
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
