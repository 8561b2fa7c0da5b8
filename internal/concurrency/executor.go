// File: internal/concurrency/executor.go
// Package concurrency implements the I/O completion executor.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor runs blocking socket operations on a bounded goroutine pool. Each
// task ends by enqueueing its completion into a Channel, so the pool plays the
// role of the operating system completion threads.

package concurrency

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
)

// TaskFunc is a unit of work to execute.
type TaskFunc func()

// Executor manages a pool of worker goroutines.
type Executor struct {
	pool     *ants.Pool
	closed   atomic.Bool
	overflow atomic.Uint64
}

// NewExecutor creates an executor with size workers. Submissions never block:
// when every worker is busy the task runs on a dedicated goroutine instead.
func NewExecutor(size int, logger *slog.Logger) (*Executor, error) {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	p, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithExpiryDuration(10*time.Second),
		ants.WithPanicHandler(func(r any) {
			logger.Error("completion worker panicked", "panic", r)
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Executor{pool: p}, nil
}

// Submit schedules task. It fails only after Close.
func (e *Executor) Submit(task TaskFunc) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}
	err := e.pool.Submit(task)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ants.ErrPoolOverload):
		e.overflow.Add(1)
		go task()
		return nil
	case errors.Is(err, ants.ErrPoolClosed):
		return ErrExecutorClosed
	default:
		return err
	}
}

// Running returns the number of busy workers.
func (e *Executor) Running() int {
	return e.pool.Running()
}

// Overflow returns how many tasks ran outside the pool because it was full.
func (e *Executor) Overflow() uint64 {
	return e.overflow.Load()
}

// Close stops accepting tasks and waits up to timeout for workers to finish.
func (e *Executor) Close(timeout time.Duration) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if timeout <= 0 {
		e.pool.Release()
		return nil
	}
	return e.pool.ReleaseTimeout(timeout)
}
