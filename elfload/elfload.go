package elfload

import (
	"debug/elf"

	"gophkernel/kernel"
	"gophkernel/kernel/gate"
	"gophkernel/vm"
)

// readerAtAdapter lets debug/elf read through a vm.File, which returns a
// *kernel.Error instead of the stdlib error interface.
type readerAtAdapter struct {
	file vm.File
}

func (r readerAtAdapter) ReadAt(p []byte, off int64) (int, error) {
	vm.FSLock.Acquire()
	n, err := r.file.ReadAt(p, off)
	vm.FSLock.Release()
	if err != nil {
		return n, err
	}
	return n, nil
}

// Load parses file as an ELF64 executable, lazily registers its PT_LOAD
// segments against as, builds the initial user stack carrying argv, and
// populates regs with the entry point and argument registers a freshly
// started user program expects. Mirrors the success path of process.c's
// load(): any failure leaves as untouched beyond whatever pages were
// already registered (the caller is expected to discard the whole address
// space on failure, exactly as process_exec does via process_cleanup).
func Load(as *vm.AddressSpace, file vm.File, argv []string, regs *gate.Registers) *kernel.Error {
	ef, ferr := elf.NewFile(readerAtAdapter{file: file})
	if ferr != nil {
		return &kernel.Error{Module: "elfload", Message: ferr.Error()}
	}

	if err := validateHeader(&ef.FileHeader, len(ef.Progs)); err != nil {
		return err
	}
	if err := validatePhentsize(file); err != nil {
		return err
	}

	vm.FSLock.Acquire()
	fileLen := file.Length()
	vm.FSLock.Release()
	for _, prog := range ef.Progs {
		ph := &prog.ProgHeader
		switch ph.Type {
		case elf.PT_DYNAMIC, elf.PT_INTERP, elf.PT_SHLIB:
			return errUnsupportedSegmentType
		case elf.PT_LOAD:
			if err := validateSegment(ph, fileLen); err != nil {
				return err
			}
			if err := registerSegment(as, file, ph); err != nil {
				return err
			}
		default:
			// PT_NULL, PT_NOTE, PT_PHDR, PT_GNU_STACK and anything else this
			// loader doesn't recognize are ignored, matching load()'s default
			// case.
		}
	}

	rsp, argvPtr, err := buildInitialStack(as, argv)
	if err != nil {
		return err
	}

	regs.RDI = uint64(len(argv))
	regs.RSI = uint64(argvPtr)
	regs.RSP = uint64(rsp)
	regs.RIP = ef.Entry
	return nil
}
