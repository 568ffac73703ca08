package syscall

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"gophkernel/kernel/gate"
	"gophkernel/kernel/kfmt"
	"gophkernel/proc"
)

// newTestProcess builds a root process whose address space is backed by
// fakePDT, sufficient for every Dispatch path this file exercises (none of
// them drive a page claim -- see copy_test.go for why that boundary can't
// be crossed from this package).
func newTestProcess() *proc.Process {
	p := proc.NewRoot(nil, nil)
	p.AddrSpace = newTestAddressSpace()
	return p
}

func TestDispatchExitTerminatesAndRecordsStatus(t *testing.T) {
	p := newTestProcess()
	regs := &gate.Registers{RAX: SysExit, RDI: 7}

	var out bytes.Buffer
	kfmt.SetOutputSink(&out)
	defer kfmt.SetOutputSink(nil)

	terminated := Dispatch(p, regs)
	require.True(t, terminated)
	require.Contains(t, out.String(), "kernel: exit(7)\n")
}

func TestDispatchUnknownSyscallTerminatesWithMinusOne(t *testing.T) {
	p := newTestProcess()
	regs := &gate.Registers{RAX: 999}

	var out bytes.Buffer
	kfmt.SetOutputSink(&out)
	defer kfmt.SetOutputSink(nil)

	terminated := Dispatch(p, regs)
	require.True(t, terminated)
	require.Contains(t, out.String(), "kernel: exit(-1)\n")
}

func TestDispatchWaitOnNonChildReturnsMinusOne(t *testing.T) {
	p := newTestProcess()
	regs := &gate.Registers{RAX: SysWait, RDI: 123}

	terminated := Dispatch(p, regs)
	require.False(t, terminated)
	require.Equal(t, negOne, regs.RAX)
}

func TestDispatchWriteRejectsNonConsoleFD(t *testing.T) {
	p := newTestProcess()
	regs := &gate.Registers{RAX: SysWrite, RDI: 5, RSI: 0x1000, RDX: 4}

	terminated := Dispatch(p, regs)
	require.False(t, terminated)
	require.Equal(t, negOne, regs.RAX)
}

func TestDispatchWriteConsoleZeroLengthSucceeds(t *testing.T) {
	p := newTestProcess()
	regs := &gate.Registers{RAX: SysWrite, RDI: consoleFD, RSI: 0, RDX: 0}

	terminated := Dispatch(p, regs)
	require.False(t, terminated)
	require.EqualValues(t, 0, regs.RAX)
}

func TestDispatchWriteRejectsHugeLengthWithoutUnboundedAllocation(t *testing.T) {
	p := newTestProcess()
	// regs.RDX is untrusted and unvalidated ahead of the copy loop; a
	// correct implementation must reject this on the first chunk via
	// residentKVA's unmapped-page check rather than ever sizing a kernel
	// buffer off this value.
	regs := &gate.Registers{RAX: SysWrite, RDI: consoleFD, RSI: 0x1000, RDX: 1 << 62}

	terminated := Dispatch(p, regs)
	require.False(t, terminated)
	require.Equal(t, negOne, regs.RAX)
}

func TestDispatchForkRejectsUnmappedNamePointer(t *testing.T) {
	p := newTestProcess()
	regs := &gate.Registers{RAX: SysFork, RDI: 0x4000}

	terminated := Dispatch(p, regs)
	require.False(t, terminated)
	require.Equal(t, negOne, regs.RAX)
}

func TestDispatchExecRejectsUnmappedCmdlinePointer(t *testing.T) {
	p := newTestProcess()
	regs := &gate.Registers{RAX: SysExec, RDI: 0x5000}

	terminated := Dispatch(p, regs)
	require.False(t, terminated)
	require.Equal(t, negOne, regs.RAX)
}
