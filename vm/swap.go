package vm

import (
	"gophkernel/kernel"
	"gophkernel/kernel/kfmt"
	"gophkernel/kernel/mm"
	"gophkernel/kernel/sync"

	"gophkernel/blockdev"
)

// sectorsPerSlot is the number of fixed-size block-device sectors one swap
// slot (one page) occupies: PAGE_SIZE / SECTOR_SIZE.
const sectorsPerSlot = mm.PageSize / blockdev.SectorSize

var errSwapSlotNotAllocated = &kernel.Error{Module: "vm", Message: "swap slot is already free"}

// SwapAllocator is a bitmap of fixed-size slots over a swap device; one
// slot equals one page occupying sectors [i*sectorsPerSlot,
// (i+1)*sectorsPerSlot). Guarded by its own lock, distinct from FSLock.
type SwapAllocator struct {
	mu        sync.Spinlock
	dev       blockdev.Device
	slotCount uint64
	allocated []uint64
}

// NewSwapAllocator creates a SwapAllocator over dev, sized to dev's full
// sector count.
func NewSwapAllocator(dev blockdev.Device) *SwapAllocator {
	slotCount := dev.SectorCount() / sectorsPerSlot
	words := (slotCount + 63) / 64
	return &SwapAllocator{dev: dev, slotCount: slotCount, allocated: make([]uint64, words)}
}

// AllocSlot reserves and returns the index of a free slot. A full swap
// device is fatal (panic) since there is no admission control, a
// deliberate educational limitation.
func (s *SwapAllocator) AllocSlot() (uint64, *kernel.Error) {
	s.mu.Acquire()
	defer s.mu.Release()

	for word := uint64(0); word < uint64(len(s.allocated)); word++ {
		if s.allocated[word] == ^uint64(0) {
			continue
		}
		for bit := uint64(0); bit < 64; bit++ {
			slot := word*64 + bit
			if slot >= s.slotCount {
				break
			}
			if s.allocated[word]&(1<<bit) == 0 {
				s.allocated[word] |= 1 << bit
				return slot, nil
			}
		}
	}

	kfmt.Panic(&kernel.Error{Module: "vm", Message: "swap device is full"})
	return 0, nil
}

// FreeSlot releases a previously allocated slot back to the pool.
func (s *SwapAllocator) FreeSlot(slot uint64) {
	s.mu.Acquire()
	defer s.mu.Release()

	word, bit := slot/64, slot%64
	s.allocated[word] &^= 1 << bit
}

// ReadSlot reads one page's worth of content from slot into buf.
func (s *SwapAllocator) ReadSlot(slot uint64, buf []byte) *kernel.Error {
	return s.dev.ReadAt(slot*sectorsPerSlot, buf)
}

// WriteSlot writes one page's worth of content from buf into slot.
func (s *SwapAllocator) WriteSlot(slot uint64, buf []byte) *kernel.Error {
	return s.dev.WriteAt(slot*sectorsPerSlot, buf)
}
