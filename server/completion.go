// File: server/completion.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Completion-based engine: every finished read, write or accept runs a
// handler on the dispatcher pool, which issues the follow-up operation.

package server

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/sortbench/api"
	"github.com/momentics/sortbench/internal/concurrency"
	"github.com/momentics/sortbench/internal/session"
	"github.com/momentics/sortbench/internal/transport"
	"go.uber.org/zap"
)

type completionConn struct {
	*session.Conn
	ac *transport.AsyncConn
}

type completionEngine struct {
	*engineBase

	mu         sync.Mutex
	running    bool
	ln         *transport.AsyncListener
	pool       *concurrency.Executor
	dispatcher *concurrency.Executor
	conns      *session.Registry[*completionConn]
	nextID     atomic.Uint64

	// Touched only by the accept chain, which has one accept outstanding.
	acceptDelay time.Duration
}

func newCompletionEngine(base *engineBase) *completionEngine {
	return &completionEngine{engineBase: base}
}

func (e *completionEngine) Start(port int, workers int) error {
	if err := e.checkWorkers(workers); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return api.ErrAlreadyRunning
	}
	dispatcher := concurrency.NewExecutor(e.cfg.Dispatchers,
		concurrency.WithName(e.kind.String()+"-dispatch"),
		concurrency.WithLogger(e.log))
	ln, err := transport.Listen(e.cfg.Host, port, dispatcher)
	if err != nil {
		dispatcher.Close()
		return e.bindError(port, err)
	}
	e.ln = ln
	e.dispatcher = dispatcher
	e.pool = e.newSortPool(workers)
	e.conns = session.NewRegistry[*completionConn](16)
	e.running = true

	e.accept(ln)
	e.log.Info("engine started",
		zap.Stringer("addr", ln.Addr()),
		zap.Int("workers", workers),
		zap.Int("dispatchers", dispatcher.NumWorkers()))
	return nil
}

func (e *completionEngine) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	return e.ln.Addr()
}

// accept arms one accept; its completion re-arms the next.
func (e *completionEngine) accept(ln *transport.AsyncListener) {
	err := ln.Accept(func(ac *transport.AsyncConn, err error) {
		if err != nil {
			if ln.Closed() {
				return
			}
			e.acceptDelay = nextAcceptBackoff(e.acceptDelay)
			e.log.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", e.acceptDelay))
			time.AfterFunc(e.acceptDelay, func() { e.accept(ln) })
			return
		}
		e.acceptDelay = 0
		c := &completionConn{
			Conn: session.NewConn(e.nextID.Add(1), e.cfg.MaxFrameSize, e.frames.PutBuffer),
			ac:   ac,
		}
		e.conns.Add(c.ID(), c)
		e.metrics.ConnOpened()
		e.log.Debug("connection accepted",
			zap.Uint64("conn", c.ID()),
			zap.Stringer("remote", ac.RemoteAddr()))
		e.accept(ln)
		if ln.Closed() {
			// Shutdown may have taken its snapshot before Add.
			e.closeConn(c, nil)
			return
		}
		e.read(c)
	})
	if err != nil && !ln.Closed() {
		e.log.Error("accept not armed", zap.Error(err))
	}
}

// read arms one read into the unfilled part of the active buffer.
func (e *completionEngine) read(c *completionConn) {
	if err := c.ac.Read(c.Reader.Buffer(), func(n int, err error) {
		e.onRead(c, n, err)
	}); err != nil {
		e.closeConn(c, err)
	}
}

func (e *completionEngine) onRead(c *completionConn, n int, err error) {
	if c.Closed() {
		return
	}
	if err != nil || n <= 0 {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		e.closeConn(c, err)
		return
	}
	e.metrics.Read(n)
	payload, done, err := c.Reader.Advance(n)
	if err != nil {
		e.closeConn(c, err)
		return
	}
	if !done {
		e.read(c)
		return
	}
	// The next length read runs concurrently with the sort.
	e.read(c)
	rec, keep := e.decode(c.Conn, payload)
	if !keep {
		e.closeConn(c, nil)
		return
	}
	if rec != nil {
		e.dispatch(e.pool, c.Conn, rec, func() { e.write(c) })
	}
}

// write arms one write of the remainder of the current output buffer.
func (e *completionEngine) write(c *completionConn) {
	buf := c.Out.Current()
	if buf == nil || c.Closed() {
		return
	}
	if err := c.ac.Write(buf, func(n int, err error) {
		e.onWrite(c, n, err)
	}); err != nil {
		e.closeConn(c, err)
	}
}

func (e *completionEngine) onWrite(c *completionConn, n int, err error) {
	if c.Closed() {
		return
	}
	if err != nil || n < 0 {
		e.closeConn(c, err)
		return
	}
	e.metrics.Wrote(n)
	if !c.Out.Wrote(n) {
		e.write(c)
		return
	}
	if c.Out.Complete() {
		e.write(c)
	}
}

func (e *completionEngine) closeConn(c *completionConn, cause error) {
	if !c.MarkClosed() {
		return
	}
	_ = c.ac.Close()
	e.conns.Remove(c.ID())
	e.connClosed(c.Conn, cause)
}

func (e *completionEngine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	var errs []error
	if err := e.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	e.pool.Close()
	for _, c := range e.conns.Snapshot() {
		e.closeConn(c, nil)
	}
	// Completions of the operations failed by the closes above run here or
	// inline once the dispatcher is closed; both paths see closed state.
	e.dispatcher.Close()

	e.running = false
	e.log.Info("engine stopped")
	return e.shutdownError(errs)
}
