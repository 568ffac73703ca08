package elfload

import (
	"bytes"
	"encoding/binary"

	"gophkernel/kernel"
	"gophkernel/vm"
)

// testFile is an in-process vm.File backed by a byte slice.
type testFile struct {
	data []byte
}

func (f *testFile) ReadAt(buf []byte, offset int64) (int, *kernel.Error) {
	if offset >= int64(len(f.data)) {
		return 0, nil
	}
	n := copy(buf, f.data[offset:])
	return n, nil
}

func (f *testFile) WriteAt(buf []byte, offset int64) (int, *kernel.Error) {
	end := offset + int64(len(buf))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[offset:end], buf)
	return len(buf), nil
}

func (f *testFile) Length() int64 { return int64(len(f.data)) }

func (f *testFile) Reopen() (vm.File, *kernel.Error) {
	return &testFile{data: f.data}, nil
}

func (f *testFile) Close() *kernel.Error { return nil }

const (
	elf64EhdrSize = 64
	elf64PhdrSize = 56
)

// elfBuildOpts controls the synthetic ELF64 executable buildTestELF
// produces, so individual header/segment fields can be corrupted one at a
// time by the validation tests.
type elfBuildOpts struct {
	class    byte
	data     byte
	osabi    byte
	version  byte
	etype     uint16
	machine   uint16
	eversion  uint32
	entry     uint64
	phentsize uint16

	segments []testSegment
}

type testSegment struct {
	ptype  uint32
	flags  uint32
	off    uint64
	vaddr  uint64
	filesz uint64
	memsz  uint64

	content []byte
}

func defaultOpts() elfBuildOpts {
	return elfBuildOpts{
		class:    2, // ELFCLASS64
		data:     1, // ELFDATA2LSB
		osabi:    0, // ELFOSABI_NONE
		version:  1,
		etype:    2, // ET_EXEC
		machine:  62, // EM_X86_64
		eversion:  1,
		entry:     0x400000,
		phentsize: elf64PhdrSize,
	}
}

// buildTestELF serializes a minimal, byte-exact ELF64 executable with the
// given program headers and segment content appended after the header
// table, mirroring the layout real linkers produce closely enough for
// debug/elf to parse.
func buildTestELF(o elfBuildOpts) []byte {
	phoff := uint64(elf64EhdrSize)
	dataOff := phoff + uint64(len(o.segments))*elf64PhdrSize

	var buf bytes.Buffer

	// e_ident
	buf.WriteByte(0x7f)
	buf.WriteString("ELF")
	buf.WriteByte(o.class)
	buf.WriteByte(o.data)
	buf.WriteByte(o.version)
	buf.WriteByte(o.osabi)
	buf.Write(make([]byte, 8)) // ABI version + padding

	le := binary.LittleEndian
	put16 := func(v uint16) { var b [2]byte; le.PutUint16(b[:], v); buf.Write(b[:]) }
	put32 := func(v uint32) { var b [4]byte; le.PutUint32(b[:], v); buf.Write(b[:]) }
	put64 := func(v uint64) { var b [8]byte; le.PutUint64(b[:], v); buf.Write(b[:]) }

	put16(o.etype)
	put16(o.machine)
	put32(o.eversion)
	put64(o.entry)  // e_entry
	put64(phoff)    // e_phoff
	put64(0)        // e_shoff
	put32(0)        // e_flags
	put16(elf64EhdrSize) // e_ehsize
	put16(o.phentsize)   // e_phentsize
	put16(uint16(len(o.segments)))
	put16(0) // e_shentsize
	put16(0) // e_shnum
	put16(0) // e_shstrndx

	segData := make([]byte, 0)
	segOffs := make([]uint64, len(o.segments))
	for i, s := range o.segments {
		segOffs[i] = dataOff + uint64(len(segData))
		segData = append(segData, s.content...)
	}

	for i, s := range o.segments {
		off := s.off
		if off == 0 && len(s.content) > 0 {
			off = segOffs[i]
		}
		put32(s.ptype)
		put32(s.flags)
		put64(off)
		put64(s.vaddr)
		put64(s.vaddr) // p_paddr, unused
		put64(s.filesz)
		put64(s.memsz)
		put64(0x1000) // p_align
	}

	buf.Write(segData)
	return buf.Bytes()
}
