// File: internal/concurrency/executor.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor dispatches tasks across a fixed set of worker goroutines. Tasks go
// to a bounded lock-free ring first and spill into an unbounded overflow FIFO,
// so Submit never blocks and never drops.

package concurrency

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"go.uber.org/zap"
)

// TaskFunc is a unit of work to execute.
type TaskFunc func()

const defaultRingCapacity = 4096

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used to report task panics.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPanicHandler registers fn to observe recovered task panics.
func WithPanicHandler(fn func(any)) Option {
	return func(e *Executor) { e.onPanic = fn }
}

// WithRingCapacity sets the capacity of the lock-free fast path.
func WithRingCapacity(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.ringCap = n
		}
	}
}

// WithName labels the executor in log output.
func WithName(name string) Option {
	return func(e *Executor) { e.name = name }
}

// Executor manages a pool of worker goroutines.
type Executor struct {
	name    string
	ringCap int
	ring    *LockFreeQueue[TaskFunc]

	overflowMu  sync.Mutex
	overflow    *queue.Queue
	overflowLen atomic.Int64

	wake    chan struct{}
	closeCh chan struct{}

	// gate orders Submit against Close: once Close holds it exclusively no
	// submission can be half-way through an enqueue.
	gate   sync.RWMutex
	closed bool

	wg         sync.WaitGroup
	numWorkers int
	logger     *zap.Logger
	onPanic    func(any)

	submitted atomic.Int64
	completed atomic.Int64
	panics    atomic.Int64
}

// NewExecutor creates a new Executor with the given number of workers.
// If numWorkers <= 0, defaults to runtime.NumCPU().
func NewExecutor(numWorkers int, opts ...Option) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e := &Executor{
		name:       "executor",
		ringCap:    defaultRingCapacity,
		overflow:   queue.New(),
		closeCh:    make(chan struct{}),
		numWorkers: numWorkers,
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	e.ring = NewLockFreeQueue[TaskFunc](e.ringCap)
	e.wake = make(chan struct{}, numWorkers)
	e.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go e.run()
	}
	return e
}

// Submit enqueues a task. Returns ErrExecutorClosed once Close has begun.
func (e *Executor) Submit(task func()) error {
	if task == nil {
		return fmt.Errorf("submit: nil task")
	}
	e.gate.RLock()
	if e.closed {
		e.gate.RUnlock()
		return ErrExecutorClosed
	}
	if !e.ring.Enqueue(task) {
		e.overflowMu.Lock()
		e.overflow.Add(TaskFunc(task))
		e.overflowLen.Add(1)
		e.overflowMu.Unlock()
	}
	e.submitted.Add(1)
	e.gate.RUnlock()

	select {
	case e.wake <- struct{}{}:
	default:
		// every worker already has a pending wake-up
	}
	return nil
}

// NumWorkers returns the configured worker count.
func (e *Executor) NumWorkers() int {
	return e.numWorkers
}

// Close stops accepting tasks, lets the workers drain everything already
// queued and waits for them to exit. It is safe to call more than once.
func (e *Executor) Close() {
	e.gate.Lock()
	if e.closed {
		e.gate.Unlock()
		e.wg.Wait()
		return
	}
	e.closed = true
	e.gate.Unlock()
	close(e.closeCh)
	e.wg.Wait()
}

// Stats returns basic executor metrics.
func (e *Executor) Stats() map[string]int64 {
	submitted := e.submitted.Load()
	completed := e.completed.Load()
	return map[string]int64{
		"submitted_tasks": submitted,
		"completed_tasks": completed,
		"pending_tasks":   submitted - completed,
		"panicked_tasks":  e.panics.Load(),
		"num_workers":     int64(e.numWorkers),
	}
}

func (e *Executor) next() (TaskFunc, bool) {
	if t, ok := e.ring.Dequeue(); ok {
		return t, true
	}
	if e.overflowLen.Load() == 0 {
		return nil, false
	}
	e.overflowMu.Lock()
	defer e.overflowMu.Unlock()
	if e.overflow.Length() == 0 {
		return nil, false
	}
	e.overflowLen.Add(-1)
	return e.overflow.Remove().(TaskFunc), true
}

func (e *Executor) run() {
	defer e.wg.Done()
	for {
		if task, ok := e.next(); ok {
			e.safeExecute(task)
			continue
		}
		select {
		case <-e.wake:
		case <-e.closeCh:
			for {
				task, ok := e.next()
				if !ok {
					return
				}
				e.safeExecute(task)
			}
		}
	}
}

func (e *Executor) safeExecute(task TaskFunc) {
	defer func() {
		e.completed.Add(1)
		if r := recover(); r != nil {
			e.panics.Add(1)
			e.logger.Error("task panicked",
				zap.String("executor", e.name),
				zap.Any("panic", r),
				zap.Stack("stack"))
			if e.onPanic != nil {
				e.onPanic(r)
			}
		}
	}()
	task()
}
