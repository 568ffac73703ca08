// Package kernel contains types and helpers shared by every other package in
// the tree: the non-exceptional Error value, and a couple of low-level memory
// primitives that don't have a more specific home.
package kernel

// Error is the non-exceptional error value used throughout the kernel
// instead of the stdlib error-wrapping idiom. Allocating a *kernel.Error is
// cheap (no formatting, no stack unwinding) which matters on paths that may
// run with interrupts disabled or before a heap is available.
type Error struct {
	// Module names the subsystem that raised the error (e.g. "vmm", "vm", "proc").
	Module string
	// Message is a short, human-readable description.
	Message string
}

// Error implements the standard error interface so a *kernel.Error can be
// passed anywhere Go code expects one (e.g. when wrapping a stdlib error at a
// package boundary).
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Module + ": " + e.Message
}
