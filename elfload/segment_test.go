package elfload

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/require"

	"gophkernel/kernel/mm"
)

func validProgHeader() elf.ProgHeader {
	return elf.ProgHeader{
		Type:   elf.PT_LOAD,
		Flags:  elf.PF_R | elf.PF_X,
		Off:    0x1000,
		Vaddr:  0x401000,
		Filesz: 0x200,
		Memsz:  0x200,
	}
}

func TestValidateSegmentAcceptsValid(t *testing.T) {
	ph := validProgHeader()
	require.Nil(t, validateSegment(&ph, 0x2000))
}

func TestValidateSegmentRejectsMisalignedOffsets(t *testing.T) {
	ph := validProgHeader()
	ph.Off = 0x1001
	require.Equal(t, errSegmentMisaligned, validateSegment(&ph, 0x2000))
}

func TestValidateSegmentRejectsOffsetPastFile(t *testing.T) {
	ph := validProgHeader()
	ph.Off = 0x9000
	ph.Vaddr = 0x409000
	require.Equal(t, errSegmentPastFile, validateSegment(&ph, 0x2000))
}

func TestValidateSegmentRejectsShrunkMemsz(t *testing.T) {
	ph := validProgHeader()
	ph.Memsz = 0x100
	ph.Filesz = 0x200
	require.Equal(t, errSegmentShrunk, validateSegment(&ph, 0x2000))
}

func TestValidateSegmentRejectsEmpty(t *testing.T) {
	ph := validProgHeader()
	ph.Memsz = 0
	ph.Filesz = 0
	require.Equal(t, errSegmentEmpty, validateSegment(&ph, 0x2000))
}

func TestValidateSegmentRejectsKernelAddress(t *testing.T) {
	ph := validProgHeader()
	ph.Vaddr = 0xffffffff80001000
	require.Equal(t, errSegmentOutOfRange, validateSegment(&ph, 0x2000))
}

func TestValidateSegmentRejectsPageZero(t *testing.T) {
	ph := validProgHeader()
	ph.Off = 0x800
	ph.Vaddr = 0x800
	require.Equal(t, errSegmentOverlapsZero, validateSegment(&ph, 0x2000))
}

func TestRegisterSegmentSplitsReadAndZeroBytes(t *testing.T) {
	as := newTestAddressSpace(t)
	content := make([]byte, 0x200)
	for i := range content {
		content[i] = byte(i)
	}
	f := &testFile{data: content}

	ph := elf.ProgHeader{
		Type:   elf.PT_LOAD,
		Flags:  elf.PF_R | elf.PF_W,
		Off:    0,
		Vaddr:  0x401000,
		Filesz: 0x200,
		Memsz:  mm.PageSize + 0x100,
	}

	require.Nil(t, registerSegment(as, f, &ph))

	first := as.SPT.Find(0x401000)
	require.NotNil(t, first)
	firstRead, firstZero, ok := first.PendingFileSplit()
	require.True(t, ok)
	require.EqualValues(t, 0x200, firstRead)
	require.EqualValues(t, mm.PageSize-0x200, firstZero)

	second := as.SPT.Find(0x401000 + mm.PageSize)
	require.NotNil(t, second)
	secondRead, secondZero, ok := second.PendingFileSplit()
	require.True(t, ok)
	require.Zero(t, secondRead)
	require.EqualValues(t, mm.PageSize, secondZero)
}
