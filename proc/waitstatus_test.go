package proc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewWaitStatusStartsAtRefcntTwo(t *testing.T) {
	w := newWaitStatus()
	require.EqualValues(t, 2, w.RefCount())
	require.False(t, w.Dead())
}

func TestWaitStatusDropDecrementsRefcount(t *testing.T) {
	w := newWaitStatus()
	w.drop()
	require.EqualValues(t, 1, w.RefCount())
	w.drop()
	require.EqualValues(t, 0, w.RefCount())
}

func TestWaitStatusWaitBlocksUntilMarkExited(t *testing.T) {
	w := newWaitStatus()
	result := make(chan int32)

	go func() {
		result <- w.wait()
	}()

	select {
	case <-result:
		t.Fatal("wait returned before markExited was called")
	case <-time.After(20 * time.Millisecond):
	}

	w.markExited(42)

	select {
	case status := <-result:
		require.EqualValues(t, 42, status)
	case <-time.After(time.Second):
		t.Fatal("wait never returned after markExited")
	}

	require.True(t, w.Dead())
	require.EqualValues(t, 42, w.ExitStatus())
}

func TestWaitStatusWaitReturnsImmediatelyIfAlreadyDead(t *testing.T) {
	w := newWaitStatus()
	w.markExited(7)

	done := make(chan int32, 1)
	go func() { done <- w.wait() }()

	select {
	case status := <-done:
		require.EqualValues(t, 7, status)
	case <-time.After(time.Second):
		t.Fatal("wait blocked despite the child already being dead")
	}
}

func TestWaitStatusEachHasADistinctTraceID(t *testing.T) {
	a := newWaitStatus()
	b := newWaitStatus()
	require.NotEqual(t, a.TraceID, b.TraceID)
}
