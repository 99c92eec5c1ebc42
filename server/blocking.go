// File: server/blocking.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Goroutine-per-direction engine over blocking net.Conn calls.

package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/sortbench/api"
	"github.com/momentics/sortbench/core/protocol"
	"github.com/momentics/sortbench/internal/concurrency"
	"github.com/momentics/sortbench/internal/session"
	"go.uber.org/zap"
)

type blockingConn struct {
	*session.Conn
	nc   net.Conn
	kick chan struct{}
}

type blockingEngine struct {
	*engineBase

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	ln      net.Listener
	pool    *concurrency.Executor
	conns   *session.Registry[*blockingConn]
	nextID  atomic.Uint64

	acceptWG sync.WaitGroup
	connWG   sync.WaitGroup
}

func newBlockingEngine(base *engineBase) *blockingEngine {
	return &blockingEngine{engineBase: base}
}

func (e *blockingEngine) Start(port int, workers int) error {
	if err := e.checkWorkers(workers); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return api.ErrAlreadyRunning
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(e.cfg.Host, strconv.Itoa(port)))
	if err != nil {
		return e.bindError(port, err)
	}
	e.ln = ln
	e.pool = e.newSortPool(workers)
	e.conns = session.NewRegistry[*blockingConn](16)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.running = true

	e.acceptWG.Add(1)
	go e.acceptLoop()
	e.log.Info("engine started",
		zap.Stringer("addr", ln.Addr()),
		zap.Int("workers", workers))
	return nil
}

func (e *blockingEngine) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	return e.ln.Addr()
}

func (e *blockingEngine) acceptLoop() {
	defer e.acceptWG.Done()
	var delay time.Duration
	for {
		nc, err := e.ln.Accept()
		if err != nil {
			if e.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			delay = nextAcceptBackoff(delay)
			e.log.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", delay))
			select {
			case <-e.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		delay = 0
		if tc, ok := nc.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		c := &blockingConn{
			Conn: session.NewConn(e.nextID.Add(1), e.cfg.MaxFrameSize, e.frames.PutBuffer),
			nc:   nc,
			kick: make(chan struct{}, 1),
		}
		e.conns.Add(c.ID(), c)
		e.metrics.ConnOpened()
		e.log.Debug("connection accepted",
			zap.Uint64("conn", c.ID()),
			zap.Stringer("remote", nc.RemoteAddr()))

		e.connWG.Add(2)
		go e.readLoop(c)
		go e.writeLoop(c)
	}
}

func (e *blockingEngine) readLoop(c *blockingConn) {
	defer e.connWG.Done()
	r := bufio.NewReader(countingReader{c.nc, e})
	kick := func() {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
	for {
		rec, err := protocol.ReadFrame(r, e.cfg.MaxFrameSize)
		if err != nil {
			if api.CodeOf(err) == api.ErrCodeMalformedPayload && e.malformed(c.Conn, err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				err = nil
			}
			e.closeConn(c, err)
			return
		}
		e.dispatch(e.pool, c.Conn, rec, kick)
	}
}

func (e *blockingEngine) writeLoop(c *blockingConn) {
	defer e.connWG.Done()
	for {
		select {
		case <-c.Done():
			return
		case <-c.kick:
		}
		for {
			buf := c.Out.Current()
			if buf == nil {
				break
			}
			n, err := c.nc.Write(buf)
			e.metrics.Wrote(n)
			if err != nil {
				e.closeConn(c, err)
				return
			}
			c.Out.Wrote(n)
			if !c.Out.Complete() {
				break
			}
		}
	}
}

func (e *blockingEngine) closeConn(c *blockingConn, cause error) {
	if !c.MarkClosed() {
		return
	}
	_ = c.nc.Close()
	e.conns.Remove(c.ID())
	e.connClosed(c.Conn, cause)
}

func (e *blockingEngine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	var errs []error
	e.cancel()
	if err := e.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	e.acceptWG.Wait()

	// Queued sorts finish and enqueue their responses before sockets go.
	e.pool.Close()
	for _, c := range e.conns.Snapshot() {
		e.closeConn(c, nil)
	}
	e.connWG.Wait()

	e.running = false
	e.log.Info("engine stopped")
	return e.shutdownError(errs)
}

// countingReader feeds read volume into the engine metrics.
type countingReader struct {
	r io.Reader
	e *blockingEngine
}

func (cr countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.e.metrics.Read(n)
	return n, err
}
