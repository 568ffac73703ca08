package proc

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// WaitStatus is the shared parent/child rendezvous object process lifecycle
// uses for exit synchronization, realizing Design Notes §9's "shared
// immutable handle (atomic refcount + mutex/semaphore)" in place of the
// original's hand-written struct wait_status refcount. Either party's drop
// decrements the refcount; the last drop lets it become garbage.
//
// refcnt starts at 2 (parent + child) and only ever decreases; the
// semaphore is upped at most once, by the child at exit.
type WaitStatus struct {
	refcnt     int32
	dead       int32
	exitStatus int32
	sema       *semaphore

	// ChildID is the id of the process this status tracks, set once before
	// either party can observe it.
	ChildID int

	// TraceID is a debug-only identifier distinguishing fork races in log
	// output; it has no effect on any behavior this package implements.
	TraceID uuid.UUID
}

// newWaitStatus creates a WaitStatus with refcnt=2 (one share for the
// parent, one for the child being created) and an unsignalled semaphore.
func newWaitStatus() *WaitStatus {
	return &WaitStatus{
		refcnt:  2,
		sema:    newSemaphore(),
		TraceID: uuid.New(),
	}
}

// Dead reports whether the child has already exited.
func (w *WaitStatus) Dead() bool {
	return atomic.LoadInt32(&w.dead) != 0
}

// ExitStatus returns the child's reported exit status. Only meaningful once
// Dead reports true.
func (w *WaitStatus) ExitStatus() int32 {
	return atomic.LoadInt32(&w.exitStatus)
}

// markExited records the child's exit status and wakes exactly one blocked
// wait, called by the child exactly once on its own exit path.
func (w *WaitStatus) markExited(status int32) {
	atomic.StoreInt32(&w.exitStatus, status)
	atomic.StoreInt32(&w.dead, 1)
	w.sema.up()
}

// wait blocks until the child has exited, returning immediately if it
// already has.
func (w *WaitStatus) wait() int32 {
	if !w.Dead() {
		w.sema.down()
	}
	return w.ExitStatus()
}

// drop releases this party's share of w. The object becomes eligible for
// collection once both parent and child have dropped it; Go's garbage
// collector performs the actual reclamation the original's free(w) did
// explicitly.
func (w *WaitStatus) drop() {
	atomic.AddInt32(&w.refcnt, -1)
}

// RefCount returns the current share count, for tests asserting the
// invariant refcnt ∈ {0,1,2}.
func (w *WaitStatus) RefCount() int32 {
	return atomic.LoadInt32(&w.refcnt)
}
