// Package pmm implements the physical frame allocator used for user process
// pages: stacks, argument pages, lazily-loaded segment pages and frames
// reclaimed from the swap path. Kernel-reserved frames are assumed to be
// carved out before Init is called; this allocator only ever hands out
// frames from the pool it is given.
package pmm

import (
	"gophkernel/kernel"
	"gophkernel/kernel/kfmt"
	"gophkernel/kernel/mm"
	"gophkernel/kernel/sync"
	"math"
)

var (
	errBitmapAllocOutOfMemory     = &kernel.Error{Module: "pmm", Message: "out of memory"}
	errBitmapAllocFrameNotManaged = &kernel.Error{Module: "pmm", Message: "frame not managed by this allocator"}
	errBitmapAllocDoubleFree      = &kernel.Error{Module: "pmm", Message: "frame is already free"}

	allocator BitmapAllocator
)

type markAs bool

const (
	markReserved markAs = false
	markFree            = true
)

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations across a single contiguous memory pool using a bitmap. One
// bit represents one frame; a set bit means the frame is reserved.
type BitmapAllocator struct {
	mutex sync.Spinlock

	// startFrame is the frame number of the first frame managed by this
	// allocator. Bit i of freeBitmap corresponds to frame startFrame+i.
	startFrame mm.Frame

	// frameCount is the total number of frames managed by this allocator.
	frameCount uint32

	// freeCount tracks the number of frames that are not currently
	// reserved.
	freeCount uint32

	freeBitmap []uint64
}

// Init resets the allocator so that it manages the frameCount frames
// starting at startFrame. All frames start out free.
func (alloc *BitmapAllocator) Init(startFrame mm.Frame, frameCount uint32) {
	alloc.mutex.Acquire()
	defer alloc.mutex.Release()

	alloc.startFrame = startFrame
	alloc.frameCount = frameCount
	alloc.freeCount = frameCount
	alloc.freeBitmap = make([]uint64, (frameCount+63)>>6)
}

// poolContains reports whether frame falls within the managed range.
func (alloc *BitmapAllocator) poolContains(frame mm.Frame) bool {
	return frame >= alloc.startFrame && frame < alloc.startFrame+mm.Frame(alloc.frameCount)
}

// markFrame updates the reservation flag for the bitmap entry that
// corresponds to the supplied frame. The caller must hold alloc.mutex.
func (alloc *BitmapAllocator) markFrame(frame mm.Frame, flag markAs) {
	relFrame := uint32(frame - alloc.startFrame)
	block := relFrame >> 6
	mask := uint64(1) << (63 - (relFrame - (block << 6)))

	switch flag {
	case markFree:
		alloc.freeBitmap[block] &^= mask
		alloc.freeCount++
	case markReserved:
		alloc.freeBitmap[block] |= mask
		alloc.freeCount--
	}
}

// AllocFrame reserves and returns a physical memory frame. An error is
// returned if no more memory can be allocated from this pool.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	alloc.mutex.Acquire()
	defer alloc.mutex.Release()

	if alloc.freeCount == 0 {
		return mm.InvalidFrame, errBitmapAllocOutOfMemory
	}

	fullBlock := uint64(math.MaxUint64)
	for blockIndex, block := range alloc.freeBitmap {
		if block == fullBlock {
			continue
		}

		for blockOffset, mask := 0, uint64(1<<63); mask > 0; blockOffset, mask = blockOffset+1, mask>>1 {
			if block&mask != 0 {
				continue
			}

			frame := alloc.startFrame + mm.Frame((blockIndex<<6)+blockOffset)
			if !alloc.poolContains(frame) {
				continue
			}

			alloc.markFrame(frame, markReserved)
			return frame, nil
		}
	}

	return mm.InvalidFrame, errBitmapAllocOutOfMemory
}

// FreeFrame releases a frame previously allocated via a call to AllocFrame.
// Trying to release a frame not part of this allocator's pool or a frame
// that is already marked as free returns an error.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	alloc.mutex.Acquire()
	defer alloc.mutex.Release()

	if !alloc.poolContains(frame) {
		return errBitmapAllocFrameNotManaged
	}

	relFrame := uint32(frame - alloc.startFrame)
	block := relFrame >> 6
	mask := uint64(1) << (63 - (relFrame - (block << 6)))

	if alloc.freeBitmap[block]&mask == 0 {
		return errBitmapAllocDoubleFree
	}

	alloc.markFrame(frame, markFree)
	return nil
}

// Stats returns the total and free frame counts managed by this allocator.
func (alloc *BitmapAllocator) Stats() (total, free uint32) {
	alloc.mutex.Acquire()
	defer alloc.mutex.Release()
	return alloc.frameCount, alloc.freeCount
}

// Init sets up the kernel's user-page physical memory allocator to manage
// frameCount frames starting at startFrame and installs it as the frame
// allocator used by package mm and, transitively, by vmm.Map/MapRegion. A
// deallocator is installed too so vmm.PageDirectoryTable.Destroy and the vm
// package's frame reclaim path can hand frames back.
func Init(startFrame mm.Frame, frameCount uint32) *kernel.Error {
	allocator.Init(startFrame, frameCount)
	mm.SetFrameAllocator(allocator.AllocFrame)
	mm.SetFrameDeallocator(allocator.FreeFrame)

	total, free := allocator.Stats()
	kfmt.Printf("[pmm] frame pool: %d/%d free\n", free, total)
	return nil
}
