// File: internal/network/slot.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-capacity client registry. Slots are preallocated and recycled through
// a free-index stack; each slot carries a generation that advances on every
// disconnect so handles issued earlier stop resolving.

package network

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/momentics/hipiol/api"
	"github.com/momentics/hipiol/pool"
)

// Slot is the engine-side state of one connection. It is mutated only on the
// engine loop and must not be retained by user code.
type Slot struct {
	handle  api.Client
	state   api.SlotState
	conn    net.Conn
	arrival time.Time
	tag     api.Tag

	// receive side
	receiving       bool // re-arm after each completed receive
	recvOutstanding bool
	recvTimeout     time.Duration
	recvBlock       *pool.Block
	received        int // bytes delivered by the current receive callback

	// send side
	pending  chain
	inflight *segment
}

// Client returns the public handle of the slot's current connection.
func (s *Slot) Client() api.Client { return s.handle }

// State returns the lifecycle state.
func (s *Slot) State() api.SlotState { return s.state }

// Tag returns the user tag.
func (s *Slot) Tag() api.Tag { return s.tag }

// SetTag replaces the user tag.
func (s *Slot) SetTag(t api.Tag) { s.tag = t }

// ArrivalTime returns when the connection was accepted.
func (s *Slot) ArrivalTime() time.Time { return s.arrival }

// Received returns the byte count of the receive being delivered.
func (s *Slot) Received() int { return s.received }

// Receiving reports whether receives are re-armed automatically.
func (s *Slot) Receiving() bool { return s.receiving }

// RemoteAddr returns the peer address, or nil once disconnected.
func (s *Slot) RemoteAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.RemoteAddr()
}

// live reports whether the slot holds a connection that user code may act on.
func (s *Slot) live() bool {
	return s.state == api.SlotRegistered || s.state == api.SlotReceiving
}

// SlotTable is a generational arena of client slots.
type SlotTable struct {
	slots  []Slot
	free   []uint32
	active atomic.Int64
}

// NewSlotTable preallocates capacity slots.
func NewSlotTable(capacity int) *SlotTable {
	t := &SlotTable{
		slots: make([]Slot, capacity),
		free:  make([]uint32, 0, capacity),
	}
	// lowest index on top of the stack
	for i := capacity - 1; i >= 0; i-- {
		t.slots[i].handle.Index = uint32(i)
		t.free = append(t.free, uint32(i))
	}
	return t
}

// Register assigns a free slot to conn. The generation is left as the last
// disconnect set it.
func (t *SlotTable) Register(conn net.Conn, arrival time.Time) (*Slot, error) {
	n := len(t.free)
	if n == 0 {
		return nil, api.ErrCapacityExceeded.WithContext("max_clients", len(t.slots))
	}
	idx := t.free[n-1]
	t.free = t.free[:n-1]

	s := &t.slots[idx]
	s.conn = conn
	s.arrival = arrival
	s.state = api.SlotAccepted
	t.active.Add(1)
	return s, nil
}

// Resolve returns the slot addressed by h only if h is still current.
func (t *SlotTable) Resolve(h api.Client) (*Slot, bool) {
	if int(h.Index) >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[h.Index]
	if s.handle.Generation != h.Generation {
		return nil, false
	}
	switch s.state {
	case api.SlotAccepted, api.SlotRegistered, api.SlotReceiving:
		return s, true
	}
	return nil, false
}

// release advances the generation and returns the slot to the free stack.
// The caller has already torn down the connection state.
func (t *SlotTable) release(s *Slot) {
	s.handle.Generation++
	s.state = api.SlotFree
	s.conn = nil
	s.arrival = time.Time{}
	s.tag = nil
	s.receiving = false
	s.recvOutstanding = false
	s.recvTimeout = 0
	s.recvBlock = nil
	s.received = 0
	s.pending = chain{}
	s.inflight = nil
	t.free = append(t.free, s.handle.Index)
	t.active.Add(-1)
}

// Capacity returns the number of slots.
func (t *SlotTable) Capacity() int { return len(t.slots) }

// Active returns the number of occupied slots. Safe from any goroutine.
func (t *SlotTable) Active() int { return int(t.active.Load()) }

// Free returns the number of free slots. Engine loop only.
func (t *SlotTable) Free() int { return len(t.free) }

// each calls fn for every occupied slot.
func (t *SlotTable) each(fn func(*Slot)) {
	for i := range t.slots {
		if t.slots[i].state != api.SlotFree {
			fn(&t.slots[i])
		}
	}
}
