// File: internal/transport/async.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Completion-style listener and connection over net.Listener / net.Conn.

package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/momentics/sortbench/api"
)

// ErrOperationPending is returned when a second read (or write) is started
// before the first one completed.
var ErrOperationPending = errors.New("transport: operation already pending")

// CompletionHandler receives the byte count of a finished read or write. n is
// meaningful only when err is nil; a read that hits end of stream reports
// io.EOF.
type CompletionHandler func(n int, err error)

// AcceptHandler receives a freshly accepted connection.
type AcceptHandler func(c *AsyncConn, err error)

// dispatch hands fn to exec. When the dispatcher no longer accepts work the
// completion runs on the calling goroutine so that handlers always observe
// the outcome of the operation they started.
func dispatch(exec api.Executor, fn func()) {
	if err := exec.Submit(fn); err != nil {
		fn()
	}
}

// AsyncListener accepts connections one operation at a time.
type AsyncListener struct {
	ln        net.Listener
	exec      api.Executor
	accepting atomic.Bool
	closed    atomic.Bool
}

// Listen binds a TCP listener on host:port. Completions are delivered on
// exec.
func Listen(host string, port int, exec api.Executor) (*AsyncListener, error) {
	if exec == nil {
		return nil, fmt.Errorf("listen: nil dispatcher: %w", api.ErrInvalidArgument)
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	return &AsyncListener{ln: ln, exec: exec}, nil
}

// Addr returns the bound address.
func (l *AsyncListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept starts one accept operation. The accepted connection shares the
// listener's dispatcher.
func (l *AsyncListener) Accept(h AcceptHandler) error {
	if l.closed.Load() {
		return api.ErrConnectionClosed
	}
	if !l.accepting.CompareAndSwap(false, true) {
		return ErrOperationPending
	}
	go func() {
		nc, err := l.ln.Accept()
		l.accepting.Store(false)
		var c *AsyncConn
		if err == nil {
			c = newAsyncConn(nc, l.exec)
		}
		dispatch(l.exec, func() { h(c, err) })
	}()
	return nil
}

// Close stops the listener; a pending Accept completes with an error.
func (l *AsyncListener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return l.ln.Close()
}

// Closed reports whether Close has been called.
func (l *AsyncListener) Closed() bool {
	return l.closed.Load()
}

// AsyncConn allows one outstanding read and one outstanding write.
type AsyncConn struct {
	conn    net.Conn
	exec    api.Executor
	reading atomic.Bool
	writing atomic.Bool
	closed  atomic.Bool
}

func newAsyncConn(nc net.Conn, exec api.Executor) *AsyncConn {
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &AsyncConn{conn: nc, exec: exec}
}

// Read starts a read into buf. buf must not be touched until h runs.
func (c *AsyncConn) Read(buf []byte, h CompletionHandler) error {
	if c.closed.Load() {
		return api.ErrConnectionClosed
	}
	if !c.reading.CompareAndSwap(false, true) {
		return ErrOperationPending
	}
	go func() {
		n, err := c.conn.Read(buf)
		if n > 0 {
			// Bytes delivered together with an error are reported first;
			// the error resurfaces on the next read.
			err = nil
		}
		c.reading.Store(false)
		dispatch(c.exec, func() { h(n, err) })
	}()
	return nil
}

// Write starts writing buf. The completion reports how many bytes reached the
// socket, which may be fewer than len(buf) only when err is non-nil.
func (c *AsyncConn) Write(buf []byte, h CompletionHandler) error {
	if c.closed.Load() {
		return api.ErrConnectionClosed
	}
	if !c.writing.CompareAndSwap(false, true) {
		return ErrOperationPending
	}
	go func() {
		n, err := c.conn.Write(buf)
		c.writing.Store(false)
		dispatch(c.exec, func() { h(n, err) })
	}()
	return nil
}

// RemoteAddr returns the peer address.
func (c *AsyncConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the socket. Pending operations complete with an error.
func (c *AsyncConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}
