// File: internal/session/session.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Core connection state with idempotent close signalling.

package session

import (
	"sync"
	"sync/atomic"
)

// Conn holds the engine-independent state of one client connection. Engines
// embed it next to their own socket handle.
type Conn struct {
	id     uint64
	Reader *FrameReader
	Out    *Outbound

	closed atomic.Bool
	done   chan struct{}
	once   sync.Once
}

// NewConn creates the state for a freshly accepted connection. release
// receives written response buffers and may be nil.
func NewConn(id uint64, maxFrame int, release func([]byte)) *Conn {
	return &Conn{
		id:     id,
		Reader: NewFrameReader(maxFrame),
		Out:    NewOutbound(release),
		done:   make(chan struct{}),
	}
}

// ID returns the engine-local connection identifier.
func (c *Conn) ID() uint64 {
	return c.id
}

// MarkClosed transitions the connection to closed. Only the first caller
// gets true and is responsible for releasing the socket.
func (c *Conn) MarkClosed() bool {
	if !c.closed.CompareAndSwap(false, true) {
		return false
	}
	c.once.Do(func() { close(c.done) })
	return true
}

// Closed reports whether MarkClosed has been called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// Done returns a channel closed upon MarkClosed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}
