// Package blockdev defines the narrow block-device interface that the swap
// slot allocator consumes, plus an in-process
// reference implementation used by tests and by callers that have no real
// disk backing (e.g. unit tests for the vm package's swap path).
package blockdev

import "gophkernel/kernel"

// SectorSize is the fixed sector size assumed throughout this module: the
// swap device offers fixed 512-byte sectors.
const SectorSize = 512

var (
	errOutOfRange = &kernel.Error{Module: "blockdev", Message: "sector range out of bounds"}
	errShortIO    = &kernel.Error{Module: "blockdev", Message: "buffer length is not a multiple of the sector size"}
)

// Device is the external block-device collaborator. One page equals
// PAGE_SIZE/SectorSize sectors; callers are expected to issue reads/writes
// in whole sectors starting at a sector-aligned offset.
type Device interface {
	// ReadAt reads len(buf)/SectorSize sectors starting at sector startSector
	// into buf. len(buf) must be a multiple of SectorSize.
	ReadAt(startSector uint64, buf []byte) *kernel.Error

	// WriteAt writes len(buf)/SectorSize sectors starting at sector
	// startSector from buf. len(buf) must be a multiple of SectorSize.
	WriteAt(startSector uint64, buf []byte) *kernel.Error

	// SectorCount returns the total number of addressable sectors.
	SectorCount() uint64
}

// Memory is an in-process Device backed by a plain byte slice. It exists so
// the swap allocator can be exercised by tests
// without a real disk driver.
type Memory struct {
	data []byte
}

// NewMemory allocates a Memory device with room for sectorCount sectors.
func NewMemory(sectorCount uint64) *Memory {
	return &Memory{data: make([]byte, sectorCount*SectorSize)}
}

// SectorCount implements Device.
func (m *Memory) SectorCount() uint64 {
	return uint64(len(m.data)) / SectorSize
}

// ReadAt implements Device.
func (m *Memory) ReadAt(startSector uint64, buf []byte) *kernel.Error {
	if len(buf)%SectorSize != 0 {
		return errShortIO
	}
	start := startSector * SectorSize
	end := start + uint64(len(buf))
	if end > uint64(len(m.data)) {
		return errOutOfRange
	}
	copy(buf, m.data[start:end])
	return nil
}

// WriteAt implements Device.
func (m *Memory) WriteAt(startSector uint64, buf []byte) *kernel.Error {
	if len(buf)%SectorSize != 0 {
		return errShortIO
	}
	start := startSector * SectorSize
	end := start + uint64(len(buf))
	if end > uint64(len(m.data)) {
		return errOutOfRange
	}
	copy(m.data[start:end], buf)
	return nil
}
