// File: facade/controller.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Controller is the view of one client handed to a handler. It is created
// for a single handler call and goes inert when that call returns.

package facade

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/momentics/hipiol/api"
	"github.com/momentics/hipiol/internal/network"
	"github.com/momentics/hipiol/pool"
)

// Controller exposes client operations to handlers. Its methods run on the
// engine loop and need no synchronization; a controller kept past its
// handler call returns api.ErrStaleController.
type Controller struct {
	pool   *Pool
	slot   *network.Slot
	client api.Client
	block  *pool.Block
	done   atomic.Bool
}

// Client returns the handle of the controlled client. The handle outlives
// the controller and may be passed to Pool methods from other goroutines.
func (c *Controller) Client() api.Client {
	return c.client
}

// Pool returns the pool that owns the client.
func (c *Controller) Pool() *Pool {
	return c.pool
}

// Tag returns the user tag of the client.
func (c *Controller) Tag() api.Tag {
	if c.done.Load() {
		return nil
	}
	return c.slot.Tag()
}

// SetTag attaches t to the client until it disconnects.
func (c *Controller) SetTag(t api.Tag) {
	if c.done.Load() {
		return
	}
	c.slot.SetTag(t)
}

// ArrivalTime returns when the client was accepted.
func (c *Controller) ArrivalTime() time.Time {
	if c.done.Load() {
		return time.Time{}
	}
	return c.slot.ArrivalTime()
}

// RemoteAddr returns the peer address.
func (c *Controller) RemoteAddr() net.Addr {
	if c.done.Load() {
		return nil
	}
	return c.slot.RemoteAddr()
}

// ReceivedBytes returns how many bytes of the received block are valid.
// It is zero outside a data handler and when no data is available.
func (c *Controller) ReceivedBytes() int {
	if c.done.Load() {
		return 0
	}
	return c.slot.Received()
}

// Received returns the valid bytes of the received block.
func (c *Controller) Received() []byte {
	if c.done.Load() || c.block == nil {
		return nil
	}
	return c.block.Bytes()[:c.slot.Received()]
}

// AllowReceive enables receiving. Receiving is off for new clients. Once
// enabled, every completed receive is reported and the next one is issued
// automatically. A zero timeout waits indefinitely.
func (c *Controller) AllowReceive(timeout time.Duration) error {
	s, err := c.resolve()
	if s == nil {
		return err
	}
	return c.pool.mgr.StartReceiving(s, timeout)
}

// StopReceive stops issuing receives after the outstanding one completes.
func (c *Controller) StopReceive() {
	if s, _ := c.resolve(); s != nil {
		c.pool.mgr.StopReceiving(s)
	}
}

// Send queues the whole block. Sends to one client reach the wire in call
// order and each is confirmed by exactly one sent handler call.
func (c *Controller) Send(b *pool.Block) error {
	if b == nil {
		return api.ErrInvalidArgument.WithContext("block", nil)
	}
	return c.SendRange(b, 0, b.Len())
}

// SendRange queues length bytes of b starting at offset.
func (c *Controller) SendRange(b *pool.Block, offset, length int) error {
	if err := network.ValidateRange(b, offset, length); err != nil {
		return err
	}
	s, err := c.resolve()
	if s == nil {
		return err
	}
	return c.pool.mgr.Send(s, b, offset, length)
}

// Disconnect closes the client. The disconnected handler runs before
// Disconnect returns. Calling it again is a no-op.
func (c *Controller) Disconnect() {
	if s, _ := c.resolve(); s != nil {
		c.pool.mgr.Disconnect(s)
	}
}

// resolve returns the slot while the client is connected. A nil slot with a
// nil error means the client is gone and the call is silently ignored.
func (c *Controller) resolve() (*network.Slot, error) {
	if c.done.Load() {
		return nil, api.ErrStaleController.WithContext("client", c.client)
	}
	s, ok := c.pool.mgr.Resolve(c.client)
	if !ok {
		return nil, nil
	}
	return s, nil
}

// dispatcher adapts Pool handlers to network.Callbacks.
type dispatcher struct {
	p *Pool
}

func (d dispatcher) controller(s *network.Slot, b *pool.Block) *Controller {
	return &Controller{pool: d.p, slot: s, client: s.Client(), block: b}
}

func (d dispatcher) Accepted(s *network.Slot) {
	c := d.controller(s, nil)
	defer c.done.Store(true)
	d.p.onAccepted(c)
}

func (d dispatcher) Disconnected(s *network.Slot) {
	c := d.controller(s, nil)
	defer c.done.Store(true)
	d.p.onDisconnected(c)
}

func (d dispatcher) Received(s *network.Slot, b *pool.Block) {
	c := d.controller(s, b)
	defer c.done.Store(true)
	d.p.onReceived(c, b)
}

func (d dispatcher) Sent(s *network.Slot) {
	c := d.controller(s, nil)
	defer c.done.Store(true)
	d.p.onSent(c)
}

var _ network.Callbacks = dispatcher{}
