// File: internal/concurrency/channel.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel marshals completions produced on arbitrary goroutines into a single
// consumer. Producers append to the incoming queue under a short critical
// section; the consumer swaps the incoming queue with its drained processing
// queue and works through the batch without holding the lock.

package concurrency

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// Channel is a multi-producer/single-consumer event queue with batch swap.
// Events from one producer are delivered in the order they were enqueued.
type Channel[T any] struct {
	mu         sync.Mutex
	ready      *sync.Cond
	incoming   *queue.Queue
	processing *queue.Queue
	closed     bool
	pending    atomic.Int64
}

// NewChannel creates an empty open channel.
func NewChannel[T any]() *Channel[T] {
	c := &Channel[T]{
		incoming:   queue.New(),
		processing: queue.New(),
	}
	c.ready = sync.NewCond(&c.mu)
	return c
}

// Enqueue appends ev and wakes the consumer. It fails once the channel is closed.
func (c *Channel[T]) Enqueue(ev T) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.incoming.Add(ev)
	c.pending.Add(1)
	c.mu.Unlock()
	c.ready.Signal()
	return nil
}

// DrainBlocking waits until at least one event is queued and returns the
// batch. Only the consumer may call it, and it must empty the previous batch
// first; a partially consumed batch is returned again as is.
// ok is false once the channel is closed and fully drained.
func (c *Channel[T]) DrainBlocking() (batch Batch[T], ok bool) {
	if c.processing.Length() > 0 {
		return Batch[T]{q: c.processing, pending: &c.pending}, true
	}

	c.mu.Lock()
	for c.incoming.Length() == 0 && !c.closed {
		c.ready.Wait()
	}
	if c.incoming.Length() == 0 {
		c.mu.Unlock()
		return Batch[T]{}, false
	}
	c.incoming, c.processing = c.processing, c.incoming
	c.mu.Unlock()

	return Batch[T]{q: c.processing, pending: &c.pending}, true
}

// Close stops accepting events and wakes the consumer. Already queued events
// are still delivered. Calling Close more than once is safe.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.ready.Broadcast()
}

// Closed reports whether Close has been called.
func (c *Channel[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Len returns the number of events enqueued but not yet consumed.
func (c *Channel[T]) Len() int {
	return int(c.pending.Load())
}

// Batch is a set of events taken from the channel in one swap.
type Batch[T any] struct {
	q       *queue.Queue
	pending *atomic.Int64
}

// Len returns the number of events left in the batch.
func (b Batch[T]) Len() int {
	if b.q == nil {
		return 0
	}
	return b.q.Length()
}

// Next removes and returns the oldest event of the batch.
func (b Batch[T]) Next() (T, bool) {
	if b.q == nil || b.q.Length() == 0 {
		var zero T
		return zero, false
	}
	ev := b.q.Remove().(T)
	b.pending.Add(-1)
	return ev, true
}
