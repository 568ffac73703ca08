package syscall

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// These tests exercise the validation and zero-length fast paths of
// copyIn/copyOut/copyInString, which never reach as.Claim. Claiming a page
// allocates a real physical frame and installs a real PTE (vm.FrameAllocator
// and vmm.MapRegion), so the resident-page success path is exercised by
// vm's own tests against its controlled seams, not reproducible from this
// package -- the same constraint elfload's stack construction runs into.
func TestCopyInRejectsNullPointer(t *testing.T) {
	as := newTestAddressSpace()
	err := copyIn(as, make([]byte, 4), 0)
	require.Equal(t, errBadPointer, err)
}

func TestCopyInRejectsKernelAddress(t *testing.T) {
	as := newTestAddressSpace()
	err := copyIn(as, make([]byte, 4), userSpaceTopForTest())
	require.Equal(t, errBadPointer, err)
}

func TestCopyInRejectsUnmappedUserAddress(t *testing.T) {
	as := newTestAddressSpace()
	err := copyIn(as, make([]byte, 4), 0x1000)
	require.Equal(t, errUnmappedPage, err)
}

func TestCopyInZeroLengthSucceedsWithoutTouchingPages(t *testing.T) {
	as := newTestAddressSpace()
	require.Nil(t, copyIn(as, nil, 0x1000))
}

func TestCopyOutRejectsNullPointer(t *testing.T) {
	as := newTestAddressSpace()
	err := copyOut(as, 0, []byte("x"))
	require.Equal(t, errBadPointer, err)
}

func TestCopyOutZeroLengthSucceedsWithoutTouchingPages(t *testing.T) {
	as := newTestAddressSpace()
	require.Nil(t, copyOut(as, 0x2000, nil))
}

func TestCopyInStringRejectsUnmappedAddress(t *testing.T) {
	as := newTestAddressSpace()
	_, err := copyInString(as, 0x3000)
	require.Equal(t, errUnmappedPage, err)
}

func TestPageOffsetComputation(t *testing.T) {
	require.EqualValues(t, 0, pageOffset(0x401000))
	require.EqualValues(t, 0x10, pageOffset(0x401010))
}

// userSpaceTopForTest mirrors vm's unexported userSpaceTop boundary closely
// enough to exercise the kernel-address rejection branch: any address at or
// above the canonical non-canonical split is never a valid user pointer.
func userSpaceTopForTest() uintptr {
	return 0xffff800000000000
}
