// Package timer implements the tick-driven sleep scheduler: threads block on
// an absolute wake-up deadline and are woken from interrupt context when the
// tick handler runs. Grounded on devices/timer.c's timer_sleep/
// timer_interrupt pair; the "interrupts disabled, never a lock" mutation
// discipline mirrors kernel/sync.Spinlock being deliberately absent from
// this path (spinlocks can't protect state that an ISR must also touch
// without blocking).
package timer

import (
	"gophkernel/kernel/cpu"
)

var (
	// disableInterruptsFn and enableInterruptsFn are the seams tests use to
	// avoid touching real CPU flags.
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
)

// Sleeper is a thread that can be put to sleep on the tick list. The
// bootstrap thread scheduler itself lives outside this package; Sleeper is
// the narrow view this package needs of it.
type Sleeper interface {
	// Priority returns the thread's scheduling priority. Higher values run
	// first; used to order same-tick wakeups.
	Priority() int
}

// Blocker is the narrow external scheduler interface this package drives.
// It mirrors kernel/sync.Spinlock's yieldFn seam, generalized into an
// injectable interface instead of a bare function var since this package
// needs both Block and Unblock, not just yield.
type Blocker interface {
	// Block suspends the calling thread (RUNNING -> BLOCKED) until a later
	// Unblock call names it.
	Block()

	// Unblock transitions a previously-blocked thread back to ready.
	Unblock(t Sleeper)

	// RequestYieldOnReturn asks the scheduler to yield the CPU once the
	// current interrupt handler returns. Never call Block/Unblock/yield
	// directly from interrupt context; this is the deferred alternative.
	RequestYieldOnReturn()
}

// sleepEntry is one node in the sorted sleep list.
type sleepEntry struct {
	wakeTick int64
	sleeper  Sleeper
}

// Scheduler implements the absolute-deadline sleep list that backs
// timer_sleep/timer_interrupt. The zero value is not usable; construct
// with New.
type Scheduler struct {
	ticks     int64
	sleepList []sleepEntry
	blocker   Blocker
}

// New creates a Scheduler that suspends and resumes threads through blocker.
func New(blocker Blocker) *Scheduler {
	return &Scheduler{blocker: blocker}
}

// Ticks returns the number of timer ticks since boot. Reads happen with
// interrupts disabled so a torn read (e.g. on a 32-bit tick counter) can
// never be observed.
func (s *Scheduler) Ticks() int64 {
	disableInterruptsFn()
	t := s.ticks
	enableInterruptsFn()
	return t
}

// Elapsed returns the number of ticks that have passed since then, a value
// previously returned by Ticks.
func (s *Scheduler) Elapsed(then int64) int64 {
	return s.Ticks() - then
}

// Sleep suspends the calling thread for approximately ticks timer ticks.
// Non-positive arguments return immediately. The insert-then-block sequence
// runs with interrupts disabled throughout to avoid a lost wakeup: if the
// tick handler could run between recording wake_at and blocking, it could
// find nothing to wake and the thread would sleep forever.
func (s *Scheduler) Sleep(ticks int64, self Sleeper) {
	if ticks <= 0 {
		return
	}

	disableInterruptsFn()
	wakeAt := s.ticks + ticks
	s.insertSorted(sleepEntry{wakeTick: wakeAt, sleeper: self})
	s.blocker.Block()
	enableInterruptsFn()
}

// insertSorted inserts e into the sleep list keeping it ordered by
// (wake_tick ascending, priority descending), the invariant Tick's wake
// scan relies on to stop at the first not-yet-due entry. Callers must
// already hold the interrupts-disabled critical section.
func (s *Scheduler) insertSorted(e sleepEntry) {
	idx := len(s.sleepList)
	for i, cur := range s.sleepList {
		if e.wakeTick < cur.wakeTick ||
			(e.wakeTick == cur.wakeTick && e.sleeper.Priority() > cur.sleeper.Priority()) {
			idx = i
			break
		}
	}

	s.sleepList = append(s.sleepList, sleepEntry{})
	copy(s.sleepList[idx+1:], s.sleepList[idx:])
	s.sleepList[idx] = e
}

// Tick is the timer interrupt handler's body. It advances the tick counter
// and wakes every thread whose deadline has arrived. If a woken thread
// outranks curPriority (the priority of the thread that was interrupted),
// it requests a deferred yield on interrupt return instead of yielding
// immediately, since yielding from interrupt context is never allowed.
func (s *Scheduler) Tick(curPriority int) {
	s.ticks++

	needYield := false
	now := s.ticks

	i := 0
	for ; i < len(s.sleepList); i++ {
		if s.sleepList[i].wakeTick > now {
			break
		}
		if s.sleepList[i].sleeper.Priority() > curPriority {
			needYield = true
		}
		s.blocker.Unblock(s.sleepList[i].sleeper)
	}
	if i > 0 {
		s.sleepList = s.sleepList[i:]
	}

	if needYield {
		s.blocker.RequestYieldOnReturn()
	}
}
