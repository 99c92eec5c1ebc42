//go:build linux
// +build linux

// File: server/multiplexed_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Readiness-multiplexed engine: one epoll read loop and one epoll write loop
// shared by every connection, over raw non-blocking sockets.

package server

import (
	"context"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/sortbench/affinity"
	"github.com/momentics/sortbench/api"
	"github.com/momentics/sortbench/internal/concurrency"
	"github.com/momentics/sortbench/internal/session"
	"github.com/momentics/sortbench/internal/transport"
	"github.com/momentics/sortbench/reactor"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// muxConn is shared by both loops. The descriptor is closed when both loops
// have let go of it, so neither can touch a reused fd number.
type muxConn struct {
	*session.Conn
	fd   int
	refs atomic.Int32

	readReleased    bool // read loop only
	writeReleased   bool // write loop only
	writeRegistered bool // write loop only
}

// loopQueue hands connections to a loop and wakes its poller.
type loopQueue struct {
	mu     sync.Mutex
	q      *queue.Queue
	poller *reactor.Poller
}

func newLoopQueue(p *reactor.Poller) *loopQueue {
	return &loopQueue{q: queue.New(), poller: p}
}

func (lq *loopQueue) push(c *muxConn) {
	lq.mu.Lock()
	lq.q.Add(c)
	lq.mu.Unlock()
	_ = lq.poller.Wake()
}

func (lq *loopQueue) drain(fn func(*muxConn)) {
	lq.mu.Lock()
	var batch []*muxConn
	for lq.q.Length() > 0 {
		batch = append(batch, lq.q.Remove().(*muxConn))
	}
	lq.mu.Unlock()
	for _, c := range batch {
		fn(c)
	}
}

type multiplexedEngine struct {
	*engineBase

	mu      sync.Mutex
	running bool
	lfd     int
	addr    *net.TCPAddr
	pool    *concurrency.Executor
	conns   *session.Registry[*muxConn]
	nextID  atomic.Uint64

	acceptPoller *reactor.Poller
	readPoller   *reactor.Poller
	writePoller  *reactor.Poller
	registered   *loopQueue // accepted, waiting for read interest
	kicked       *loopQueue // pending output or retired by the read loop

	acceptCtx  context.Context
	stopAccept context.CancelFunc
	loopsCtx   context.Context
	stopLoops  context.CancelFunc
	acceptWG   sync.WaitGroup
	loopsWG    sync.WaitGroup
}

func newMultiplexedEngine(base *engineBase) (api.Engine, error) {
	return &multiplexedEngine{engineBase: base, lfd: -1}, nil
}

func (e *multiplexedEngine) Start(port int, workers int) error {
	if err := e.checkWorkers(workers); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return api.ErrAlreadyRunning
	}
	lfd, addr, err := transport.ListenNonblock(e.cfg.Host, port)
	if err != nil {
		return e.bindError(port, err)
	}
	pollers := make([]*reactor.Poller, 0, 3)
	for i := 0; i < 3; i++ {
		p, err := reactor.NewPoller(e.cfg.PollBatch)
		if err != nil {
			for _, p := range pollers {
				_ = p.Close()
			}
			_ = transport.Close(lfd)
			return api.WrapError(api.ErrCodeInternal, "create poller", err)
		}
		pollers = append(pollers, p)
	}
	if err := pollers[0].Register(lfd, api.EventRead); err != nil {
		for _, p := range pollers {
			_ = p.Close()
		}
		_ = transport.Close(lfd)
		return api.WrapError(api.ErrCodeInternal, "register listener", err)
	}

	e.lfd, e.addr = lfd, addr
	e.acceptPoller, e.readPoller, e.writePoller = pollers[0], pollers[1], pollers[2]
	e.registered = newLoopQueue(e.readPoller)
	e.kicked = newLoopQueue(e.writePoller)
	e.pool = e.newSortPool(workers)
	e.conns = session.NewRegistry[*muxConn](16)
	e.acceptCtx, e.stopAccept = context.WithCancel(context.Background())
	e.loopsCtx, e.stopLoops = context.WithCancel(context.Background())
	e.running = true

	e.acceptWG.Add(1)
	go e.acceptLoop()
	e.loopsWG.Add(2)
	go e.readLoop()
	go e.writeLoop()
	e.log.Info("engine started",
		zap.Stringer("addr", addr),
		zap.Int("workers", workers))
	return nil
}

func (e *multiplexedEngine) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	return e.addr
}

func (e *multiplexedEngine) acceptLoop() {
	defer e.acceptWG.Done()
	events := make([]api.Event, 1)
	var delay time.Duration
	for {
		if e.acceptCtx.Err() != nil {
			return
		}
		n, err := e.acceptPoller.Wait(events, -1)
		if err != nil {
			e.log.Error("accept poll failed", zap.Error(err))
			return
		}
		if n == 0 {
			continue
		}
		for {
			fd, remote, err := transport.AcceptNonblock(e.lfd)
			if err != nil {
				if transport.IsWouldBlock(err) {
					break
				}
				// The listener stays readable, so back off instead of spinning.
				delay = nextAcceptBackoff(delay)
				e.log.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", delay))
				select {
				case <-e.acceptCtx.Done():
					return
				case <-time.After(delay):
				}
				break
			}
			delay = 0
			c := &muxConn{
				Conn: session.NewConn(e.nextID.Add(1), e.cfg.MaxFrameSize, e.frames.PutBuffer),
				fd:   fd,
			}
			c.refs.Store(2)
			e.conns.Add(c.ID(), c)
			e.metrics.ConnOpened()
			e.log.Debug("connection accepted",
				zap.Uint64("conn", c.ID()),
				zap.Stringer("remote", remote))
			e.registered.push(c)
		}
	}
}

func (e *multiplexedEngine) readLoop() {
	defer e.loopsWG.Done()
	runtime.LockOSThread()
	if !e.pin("read", e.cfg.ReadLoopCPU) {
		defer runtime.UnlockOSThread()
	}

	conns := make(map[int]*muxConn)
	events := make([]api.Event, e.cfg.PollBatch)
	for {
		if e.loopsCtx.Err() != nil {
			return
		}
		e.registered.drain(func(c *muxConn) {
			if c.Closed() {
				e.releaseReader(conns, c)
				return
			}
			if err := e.readPoller.Register(c.fd, api.EventRead); err != nil {
				e.closeConn(c, err)
				e.releaseReader(conns, c)
				return
			}
			conns[c.fd] = c
		})
		n, err := e.readPoller.Wait(events, -1)
		if err != nil {
			e.log.Error("read poll failed", zap.Error(err))
			return
		}
		for _, ev := range events[:n] {
			if c := conns[ev.Fd]; c != nil {
				e.readReady(conns, c)
			}
		}
	}
}

// pin binds the locked loop thread to cpu and reports whether it did. A
// pinned thread stays locked so the runtime discards it when the loop exits.
func (e *multiplexedEngine) pin(loop string, cpu int) bool {
	if cpu < 0 {
		return false
	}
	if err := affinity.SetAffinity(cpu); err != nil {
		e.log.Warn("loop affinity not applied",
			zap.String("loop", loop),
			zap.Int("cpu", cpu),
			zap.Error(err))
		return false
	}
	return true
}

// readReady reads until the socket has nothing more to offer, dispatching
// every completed frame.
func (e *multiplexedEngine) readReady(conns map[int]*muxConn, c *muxConn) {
	kick := func() { e.kicked.push(c) }
	for !c.Closed() {
		n, err := transport.Read(c.fd, c.Reader.Buffer())
		if err != nil {
			if transport.IsWouldBlock(err) {
				return
			}
			e.closeConn(c, err)
			break
		}
		if n <= 0 {
			e.closeConn(c, nil)
			break
		}
		e.metrics.Read(n)
		payload, done, err := c.Reader.Advance(n)
		if err != nil {
			e.closeConn(c, err)
			break
		}
		if !done {
			continue
		}
		rec, keep := e.decode(c.Conn, payload)
		if !keep {
			e.closeConn(c, nil)
			break
		}
		if rec != nil {
			e.dispatch(e.pool, c.Conn, rec, kick)
		}
	}
	e.releaseReader(conns, c)
}

func (e *multiplexedEngine) releaseReader(conns map[int]*muxConn, c *muxConn) {
	if c.readReleased {
		return
	}
	c.readReleased = true
	if conns[c.fd] == c {
		_ = e.readPoller.Unregister(c.fd)
		delete(conns, c.fd)
	}
	e.release(c)
	// The write loop holds the other reference.
	e.kicked.push(c)
}

func (e *multiplexedEngine) writeLoop() {
	defer e.loopsWG.Done()
	runtime.LockOSThread()
	if !e.pin("write", e.cfg.WriteLoopCPU) {
		defer runtime.UnlockOSThread()
	}

	conns := make(map[int]*muxConn)
	events := make([]api.Event, e.cfg.PollBatch)
	for {
		if e.loopsCtx.Err() != nil {
			return
		}
		e.kicked.drain(func(c *muxConn) {
			if c.Closed() {
				e.releaseWriter(conns, c)
				return
			}
			if c.writeRegistered || c.writeReleased {
				return
			}
			if err := e.writePoller.Register(c.fd, api.EventWrite); err != nil {
				e.closeConn(c, err)
				e.releaseWriter(conns, c)
				return
			}
			c.writeRegistered = true
			conns[c.fd] = c
		})
		n, err := e.writePoller.Wait(events, -1)
		if err != nil {
			e.log.Error("write poll failed", zap.Error(err))
			return
		}
		for _, ev := range events[:n] {
			c := conns[ev.Fd]
			if c == nil {
				continue
			}
			if c.Closed() {
				e.releaseWriter(conns, c)
				continue
			}
			e.writeReady(conns, c)
		}
	}
}

// writeReady writes as much queued output as the socket accepts. Write
// interest is dropped once the connection has nothing pending.
func (e *multiplexedEngine) writeReady(conns map[int]*muxConn, c *muxConn) {
	for {
		buf := c.Out.Current()
		if buf == nil {
			e.stopWriting(conns, c)
			return
		}
		n, err := transport.Write(c.fd, buf)
		if err != nil {
			if transport.IsWouldBlock(err) {
				return
			}
			e.closeConn(c, err)
			e.releaseWriter(conns, c)
			return
		}
		e.metrics.Wrote(n)
		if !c.Out.Wrote(n) {
			continue
		}
		if !c.Out.Complete() {
			e.stopWriting(conns, c)
			return
		}
	}
}

func (e *multiplexedEngine) stopWriting(conns map[int]*muxConn, c *muxConn) {
	if !c.writeRegistered {
		return
	}
	_ = e.writePoller.Unregister(c.fd)
	delete(conns, c.fd)
	c.writeRegistered = false
}

func (e *multiplexedEngine) releaseWriter(conns map[int]*muxConn, c *muxConn) {
	if c.writeReleased {
		return
	}
	e.stopWriting(conns, c)
	c.writeReleased = true
	e.release(c)
}

// closeConn marks c closed and shuts the socket down. Shutting down rather
// than closing makes the peer loop observe hang-up on its next wait.
func (e *multiplexedEngine) closeConn(c *muxConn, cause error) {
	if !c.MarkClosed() {
		return
	}
	_ = unix.Shutdown(c.fd, unix.SHUT_RDWR)
	e.connClosed(c.Conn, cause)
}

func (e *multiplexedEngine) release(c *muxConn) {
	if c.refs.Add(-1) == 0 {
		_ = transport.Close(c.fd)
		e.conns.Remove(c.ID())
	}
}

func (e *multiplexedEngine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	var errs []error

	e.stopAccept()
	_ = e.acceptPoller.Wake()
	e.acceptWG.Wait()
	if err := transport.Close(e.lfd); err != nil {
		errs = append(errs, err)
	}

	// Queued sorts enqueue their responses before the loops stop.
	e.pool.Close()

	e.stopLoops()
	_ = e.readPoller.Wake()
	_ = e.writePoller.Wake()
	e.loopsWG.Wait()

	for _, c := range e.conns.Snapshot() {
		if c.MarkClosed() {
			e.connClosed(c.Conn, nil)
		}
		if c.refs.Swap(0) > 0 {
			if err := transport.Close(c.fd); err != nil {
				errs = append(errs, err)
			}
		}
		e.conns.Remove(c.ID())
	}
	for _, p := range []*reactor.Poller{e.acceptPoller, e.readPoller, e.writePoller} {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	e.lfd = -1
	e.running = false
	e.log.Info("engine stopped")
	return e.shutdownError(errs)
}
