// Package api
// Author: momentics
//
// Executor contract for the CPU-bound work offloaded from the I/O path.

package api

// Executor abstracts parallel task dispatch.
type Executor interface {
	// Submit schedules task for execution. It must never block the caller.
	Submit(task func()) error

	// NumWorkers returns the number of worker routines.
	NumWorkers() int
}
