// Package elfload parses an ELF64 executable and registers its PT_LOAD
// segments lazily against a vm.AddressSpace, then constructs the initial
// user stack. Parsing itself is delegated to stdlib debug/elf the same way
// Oichkatzelesfrettschen-biscuit's chentry.go does (elf.NewFile, chkELF);
// the program-header validation, lazy registration and byte-exact stack
// construction are hand-written per userprog/process.c's load(),
// validate_segment() and setup_stack().
package elfload

import (
	"debug/elf"
	"encoding/binary"
	"unsafe"

	"gophkernel/kernel"
	"gophkernel/vm"
)

const maxProgramHeaders = 1024

// elfPhentsizeOffset is e_phentsize's byte offset in the ELF64 file header:
// 16 bytes of e_ident, then e_type, e_machine, e_version, e_entry, e_phoff,
// e_shoff, e_flags, e_ehsize each account for 2+2+4+8+8+8+4+2 = 38 bytes,
// landing e_phentsize at 16+38 = 54.
const elfPhentsizeOffset = 54

// wantPhentsize is sizeof(Elf64_Phdr): two 4-byte fields (p_type, p_flags)
// followed by six 8-byte fields, 56 bytes total.
var wantPhentsize = uint16(unsafe.Sizeof(elf.Prog64{}))

var (
	errBadClass               = &kernel.Error{Module: "elfload", Message: "not a 64-bit ELF"}
	errBadEndian              = &kernel.Error{Module: "elfload", Message: "not little-endian"}
	errBadABI                 = &kernel.Error{Module: "elfload", Message: "unsupported ABI"}
	errNotExecutable          = &kernel.Error{Module: "elfload", Message: "not an executable ELF"}
	errBadMachine             = &kernel.Error{Module: "elfload", Message: "not an x86-64 ELF"}
	errBadVersion             = &kernel.Error{Module: "elfload", Message: "unsupported ELF version"}
	errTooManyProgramHeaders  = &kernel.Error{Module: "elfload", Message: "too many program headers"}
	errZeroEntry              = &kernel.Error{Module: "elfload", Message: "zero entry point"}
	errBadPhentsize           = &kernel.Error{Module: "elfload", Message: "program header entry size mismatch"}
	errUnsupportedSegmentType = &kernel.Error{Module: "elfload", Message: "PT_DYNAMIC/PT_INTERP/PT_SHLIB are not supported"}
)

// validateHeader rejects anything this kernel's loader cannot run: not a
// 64-bit little-endian SysV x86-64 executable, too many program headers, or
// a zero entry point. Mirrors the error-checked chain in process.c's load().
func validateHeader(fh *elf.FileHeader, phnum int) *kernel.Error {
	switch {
	case fh.Class != elf.ELFCLASS64:
		return errBadClass
	case fh.Data != elf.ELFDATA2LSB:
		return errBadEndian
	case fh.OSABI != elf.ELFOSABI_NONE:
		return errBadABI
	case fh.Type != elf.ET_EXEC:
		return errNotExecutable
	case fh.Machine != elf.EM_X86_64:
		return errBadMachine
	case fh.Version != elf.EV_CURRENT:
		return errBadVersion
	case phnum > maxProgramHeaders:
		return errTooManyProgramHeaders
	case fh.Entry == 0:
		return errZeroEntry
	}
	return nil
}

// validatePhentsize reads e_phentsize directly out of the raw ELF64 file
// header and rejects anything other than exactly sizeof(Elf64_Phdr) bytes
// per program-header entry. elf.Prog/elf.FileHeader don't expose the raw
// field, and debug/elf itself only rejects phentsize < wantPhentsize
// (file.go's checkgoelf), so an oversized entry size that would misalign
// every program header this loader walks has to be caught here.
func validatePhentsize(file vm.File) *kernel.Error {
	var buf [2]byte
	vm.FSLock.Acquire()
	n, err := file.ReadAt(buf[:], elfPhentsizeOffset)
	vm.FSLock.Release()
	if err != nil {
		return err
	}
	if n != len(buf) || binary.LittleEndian.Uint16(buf[:]) != wantPhentsize {
		return errBadPhentsize
	}
	return nil
}
