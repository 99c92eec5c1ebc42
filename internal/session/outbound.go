// File: internal/session/outbound.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// Outbound is the pipelined response queue of one connection.
//
// Push may be called from any goroutine. Current, Wrote and Complete belong
// to the single writer that owns the connection's write side; the pending
// counter guarantees there is at most one such writer at a time.
type Outbound struct {
	mu      sync.Mutex // guards q only, never held across I/O
	q       *queue.Queue
	pending atomic.Int32
	release func([]byte)

	current []byte
	off     int
}

// NewOutbound returns an empty queue. When release is non-nil every fully
// written buffer is handed to it.
func NewOutbound(release func([]byte)) *Outbound {
	return &Outbound{q: queue.New(), release: release}
}

// Push appends an encoded frame. It returns true when the connection was
// write-idle and the caller must kick the writer.
func (o *Outbound) Push(frame []byte) (kick bool) {
	o.mu.Lock()
	o.q.Add(frame)
	o.mu.Unlock()
	return o.pending.Add(1) == 1
}

// Current returns the unwritten remainder of the buffer being written,
// taking the next queued buffer when none is active. nil means nothing is
// queued.
func (o *Outbound) Current() []byte {
	if o.current == nil {
		o.mu.Lock()
		if o.q.Length() > 0 {
			o.current = o.q.Remove().([]byte)
			o.off = 0
		}
		o.mu.Unlock()
		if o.current == nil {
			return nil
		}
	}
	return o.current[o.off:]
}

// Wrote records that n bytes of Current reached the socket and reports
// whether the active buffer is now fully written.
func (o *Outbound) Wrote(n int) (drained bool) {
	o.off += n
	return o.off >= len(o.current)
}

// Complete discards the fully written buffer and decrements the pending
// counter. It returns true when more output is pending and the writer must
// continue; false means the connection is write-idle until the next kick.
func (o *Outbound) Complete() (more bool) {
	if o.release != nil && o.current != nil {
		o.release(o.current)
	}
	o.current = nil
	o.off = 0
	return o.pending.Add(-1) > 0
}

// Pending returns the number of enqueued-but-undelivered buffers.
func (o *Outbound) Pending() int {
	return int(o.pending.Load())
}
