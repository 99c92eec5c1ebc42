// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Engine factory and the request dispatch path shared by all engines.

package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/momentics/sortbench/api"
	"github.com/momentics/sortbench/control"
	"github.com/momentics/sortbench/core/protocol"
	"github.com/momentics/sortbench/internal/concurrency"
	"github.com/momentics/sortbench/internal/session"
	"github.com/momentics/sortbench/pool"
	"go.uber.org/zap"
)

// New builds an engine of the given kind. It does not bind until Start.
func New(kind Kind, opts ...Option) (api.Engine, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	base := newEngineBase(kind, cfg)
	switch kind {
	case KindBlocking:
		return newBlockingEngine(base), nil
	case KindMultiplexed:
		return newMultiplexedEngine(base)
	case KindCompletion:
		return newCompletionEngine(base), nil
	}
	return nil, api.WrapError(api.ErrCodeInvalidArgument, "new engine", api.ErrInvalidArgument).
		WithContext("kind", int(kind))
}

// engineBase carries configuration and the decode/sort/enqueue path.
type engineBase struct {
	kind    Kind
	cfg     Config
	log     *zap.Logger
	hooks   api.LatencyHooks
	metrics *control.EngineMetrics
	frames  *pool.BytePool
}

const (
	frameSizeHint  = 4 << 10
	frameRetainCap = 1 << 20

	acceptBackoffMin = 5 * time.Millisecond
	acceptBackoffMax = time.Second
)

// nextAcceptBackoff returns the pause before retrying a failed accept: it
// starts at acceptBackoffMin and doubles up to acceptBackoffMax.
func nextAcceptBackoff(d time.Duration) time.Duration {
	if d < acceptBackoffMin {
		return acceptBackoffMin
	}
	d *= 2
	if d > acceptBackoffMax {
		d = acceptBackoffMax
	}
	return d
}

func newEngineBase(kind Kind, cfg *Config) *engineBase {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	hooks := cfg.Hooks
	if hooks == nil {
		hooks = api.NopLatencyHooks{}
	}
	return &engineBase{
		kind:    kind,
		cfg:     *cfg,
		log:     log.With(zap.String("engine", kind.String())),
		hooks:   hooks,
		metrics: cfg.Metrics.For(kind.String()),
		frames:  pool.NewBytePool(frameSizeHint, frameRetainCap),
	}
}

func (b *engineBase) checkWorkers(workers int) error {
	if workers <= 0 {
		return api.WrapError(api.ErrCodeInvalidArgument, "start", concurrency.ErrInvalidWorkerCount).
			WithContext("workers", workers)
	}
	return nil
}

// newSortPool creates the worker pool used for sorting.
func (b *engineBase) newSortPool(workers int) *concurrency.Executor {
	return concurrency.NewExecutor(workers,
		concurrency.WithName(b.kind.String()+"-sort"),
		concurrency.WithLogger(b.log),
		concurrency.WithPanicHandler(func(any) { b.metrics.Panic() }))
}

func (b *engineBase) bindError(port int, err error) error {
	return api.WrapError(api.ErrCodeBind, "listen", err).
		WithContext("host", b.cfg.Host).
		WithContext("port", port)
}

// decode parses a payload. On failure it applies the malformed policy and
// reports whether the connection may stay open.
func (b *engineBase) decode(conn *session.Conn, payload []byte) (*protocol.Record, bool) {
	rec, err := protocol.Decode(payload)
	if err != nil {
		return nil, b.malformed(conn, err)
	}
	return rec, true
}

func (b *engineBase) malformed(conn *session.Conn, err error) (keep bool) {
	b.metrics.Malformed()
	b.log.Warn("dropping malformed frame",
		zap.Uint64("conn", conn.ID()),
		zap.Stringer("policy", b.cfg.MalformedPolicy),
		zap.Error(err))
	return b.cfg.MalformedPolicy != MalformedClose
}

// dispatch records the start of rec and hands it to the sort pool. The task
// sorts, enqueues the encoded response on conn and calls kick when the
// connection was write-idle.
func (b *engineBase) dispatch(pool api.Executor, conn *session.Conn, rec *protocol.Record, kick func()) {
	id := rec.ID
	b.hooks.StartMeasure(id)
	b.metrics.Decoded()
	err := pool.Submit(func() {
		rec.Sort()
		frame := protocol.AppendFrame(b.frames.GetBuffer(), rec)
		wake := conn.Out.Push(frame)
		b.hooks.EndMeasure(id)
		b.metrics.Enqueued()
		if wake {
			kick()
		}
	})
	if err != nil {
		b.log.Debug("sort pool rejected request",
			zap.Uint64("conn", conn.ID()),
			zap.Int32("id", id),
			zap.Error(err))
	}
}

// connClosed counts and logs a closed connection.
func (b *engineBase) connClosed(conn *session.Conn, cause error) {
	b.metrics.ConnClosed()
	if cause != nil {
		b.log.Debug("connection closed",
			zap.Uint64("conn", conn.ID()),
			zap.Error(api.WrapError(api.ErrCodeConnectionIO, "connection", cause)))
		return
	}
	b.log.Debug("connection closed", zap.Uint64("conn", conn.ID()))
}

// shutdownError folds release failures into one ErrCodeShutdown error.
func (b *engineBase) shutdownError(errs []error) error {
	joined := errors.Join(errs...)
	if joined == nil {
		return nil
	}
	b.log.Warn("shutdown completed with errors", zap.Error(joined))
	return api.WrapError(api.ErrCodeShutdown, "shutdown", fmt.Errorf("%s engine: %w", b.kind, joined))
}
