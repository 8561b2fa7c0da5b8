// File: internal/concurrency/eventloop.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoop is the single consumer of a Channel. It runs on one goroutine
// locked to its OS thread, optionally pinned to a CPU, and hands every
// drained event to one handler in batch order.

package concurrency

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"
)

// EventHandler processes a single event on the loop goroutine.
type EventHandler[T any] func(ev T)

// EventLoop drains a Channel and dispatches events sequentially.
type EventLoop[T any] struct {
	ch      *Channel[T]
	handler EventHandler[T]
	cpu     int
	logger  *slog.Logger

	running atomic.Bool
	doneCh  chan struct{}
	handled atomic.Uint64
	panics  atomic.Uint64
}

// NewEventLoop creates a loop over ch. cpu < 0 disables pinning.
func NewEventLoop[T any](ch *Channel[T], handler EventHandler[T], cpu int, logger *slog.Logger) *EventLoop[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLoop[T]{
		ch:      ch,
		handler: handler,
		cpu:     cpu,
		logger:  logger,
		doneCh:  make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled or the channel is closed and
// drained. It blocks the calling goroutine, which becomes the loop thread.
func (el *EventLoop[T]) Run(ctx context.Context) error {
	if !el.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	return el.run(ctx)
}

func (el *EventLoop[T]) run(ctx context.Context) error {
	defer close(el.doneCh)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if el.cpu >= 0 {
		if err := PinCurrentThread(el.cpu); err != nil {
			el.logger.Warn("engine loop pinning failed", "cpu", el.cpu, "error", err)
		}
	}

	stop := context.AfterFunc(ctx, el.ch.Close)
	defer stop()

	for {
		batch, ok := el.ch.DrainBlocking()
		if !ok {
			return ctx.Err()
		}
		for {
			ev, ok := batch.Next()
			if !ok {
				break
			}
			el.dispatch(ev)
		}
	}
}

// dispatch runs the handler and keeps the loop alive if it panics.
func (el *EventLoop[T]) dispatch(ev T) {
	defer func() {
		if r := recover(); r != nil {
			el.panics.Add(1)
			el.logger.Error("engine loop: event handler panicked", "panic", r)
		}
	}()
	el.handler(ev)
	el.handled.Add(1)
}

// Start runs the loop on a new goroutine. Stop may be called as soon as
// Start returns.
func (el *EventLoop[T]) Start(ctx context.Context) error {
	if !el.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	go func() {
		if err := el.run(ctx); err != nil && err != context.Canceled {
			el.logger.Debug("engine loop exited", "error", err)
		}
	}()
	return nil
}

// Stop closes the channel and waits for queued events to be processed.
// It returns immediately when the loop never ran.
func (el *EventLoop[T]) Stop() {
	el.ch.Close()
	if el.running.Load() {
		<-el.doneCh
	}
}

// Done is closed after Run returns.
func (el *EventLoop[T]) Done() <-chan struct{} {
	return el.doneCh
}

// Handled returns the number of events processed without panicking.
func (el *EventLoop[T]) Handled() uint64 {
	return el.handled.Load()
}

// Panics returns the number of events whose handler panicked.
func (el *EventLoop[T]) Panics() uint64 {
	return el.panics.Load()
}

// Pending returns approximate count of buffered events waiting in the channel.
func (el *EventLoop[T]) Pending() int {
	return el.ch.Len()
}
