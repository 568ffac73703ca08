package proc

// semaphore is a binary counting semaphore used for the two rendezvous
// points process lifecycle needs: a wait_status's exit signal and a fork
// handoff's done signal. Both are initialized at count zero and signalled
// at most once per their owner's lifetime, so a channel of capacity one is
// sufficient; mirrors how synch.c's semaphore is used at every call site
// in this package, with no scheduler to block a thread against.
type semaphore struct {
	ch chan struct{}
}

// newSemaphore creates a semaphore initialized to count zero.
func newSemaphore() *semaphore {
	return &semaphore{ch: make(chan struct{}, 1)}
}

// up signals the semaphore, waking one blocked down. Safe to call from a
// goroutine the waiter never directly synchronizes with otherwise.
func (s *semaphore) up() {
	s.ch <- struct{}{}
}

// down blocks until up has been called.
func (s *semaphore) down() {
	<-s.ch
}
