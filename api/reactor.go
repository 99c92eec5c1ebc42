// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for readiness-based event reactors
// used to multiplex connections across poll-mode backends.

package api

// IOEvents is a bitmask of readiness conditions.
type IOEvents uint32

const (
	EventRead IOEvents = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// Event encapsulates the result of an OS-level readiness notification.
type Event struct {
	Fd     int
	Events IOEvents
}

// Reactor defines the common interface for a readiness poller.
type Reactor interface {
	// Register associates a descriptor with the poller for the given interest.
	Register(fd int, events IOEvents) error

	// Unregister removes a descriptor.
	Unregister(fd int) error

	// Wait blocks until at least one descriptor is ready or Wake is called,
	// and fills events. timeoutMs < 0 blocks indefinitely.
	Wait(events []Event, timeoutMs int) (int, error)

	// Wake interrupts a concurrent Wait.
	Wake() error

	// Close releases the poller.
	Close() error
}
