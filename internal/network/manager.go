// File: internal/network/manager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Manager owns the client lifecycle: accepted -> registered -> receiving ->
// disconnected -> free. Every method except Post and AcceptLoop runs on the
// engine loop; blocking socket calls are handed to the executor and come back
// as events.

package network

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/momentics/hipiol/api"
	"github.com/momentics/hipiol/control"
	"github.com/momentics/hipiol/internal/concurrency"
	"github.com/momentics/hipiol/internal/transport"
	"github.com/momentics/hipiol/pool"
)

// Callbacks receives lifecycle notifications on the engine loop.
type Callbacks interface {
	Accepted(s *Slot)
	Disconnected(s *Slot)
	// Received is called with a nil block when no data is available: the
	// receive timed out, the peer closed or the socket failed.
	Received(s *Slot, b *pool.Block)
	// Sent is called once per Send after all of its bytes were written.
	Sent(s *Slot)
}

// Manager is the engine-side network layer of one pool.
type Manager struct {
	table    *SlotTable
	arena    *pool.Arena
	ch       *concurrency.Channel[*Event]
	exec     *concurrency.Executor
	events   *pool.SyncPool[*Event]
	segments segmentList
	cb       Callbacks
	logger   *slog.Logger
	connOpts transport.ConnOptions

	accepted     *control.Counter
	disconnected *control.Counter
	rejected     *control.Counter
	bytesIn      *control.Counter
	bytesOut     *control.Counter
	sends        *control.Counter
	stale        *control.Counter
	panics       *control.Counter
}

// NewManager builds a manager with cfg.MaxClientCount slots.
func NewManager(
	cfg *control.Config,
	arena *pool.Arena,
	ch *concurrency.Channel[*Event],
	exec *concurrency.Executor,
	metrics *control.MetricsRegistry,
	cb Callbacks,
) *Manager {
	return &Manager{
		table:  NewSlotTable(cfg.MaxClientCount()),
		arena:  arena,
		ch:     ch,
		exec:   exec,
		events: newEventPool(),
		cb:     cb,
		logger: cfg.Logger(),
		connOpts: transport.ConnOptions{
			NoDelay:   cfg.NoDelay(),
			KeepAlive: cfg.KeepAlive(),
		},
		accepted:     metrics.Counter(control.MetricAccepted),
		disconnected: metrics.Counter(control.MetricDisconnected),
		rejected:     metrics.Counter(control.MetricRejected),
		bytesIn:      metrics.Counter(control.MetricBytesIn),
		bytesOut:     metrics.Counter(control.MetricBytesOut),
		sends:        metrics.Counter(control.MetricSendsCompleted),
		stale:        metrics.Counter(control.MetricStaleDropped),
		panics:       metrics.Counter(control.MetricCallbackPanics),
	}
}

// Table exposes the slot table for inspection.
func (m *Manager) Table() *SlotTable { return m.table }

// NewEvent takes a cleared event from the pool. Safe from any goroutine.
func (m *Manager) NewEvent(kind Kind) *Event {
	ev := m.events.Get()
	ev.Kind = kind
	return ev
}

// Post enqueues ev for the engine loop. Safe from any goroutine. When the
// channel is closed the event is recycled and its connection, if any, closed.
func (m *Manager) Post(ev *Event) error {
	if err := m.ch.Enqueue(ev); err != nil {
		if ev.Kind == KindClientAccepted && ev.Conn != nil {
			ev.Conn.Close()
		}
		m.events.Put(ev)
		return err
	}
	return nil
}

// AcceptLoop accepts connections until ln is closed. Temporary accept errors
// back off exponentially up to one second.
func (m *Manager) AcceptLoop(ln net.Listener) {
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else if delay *= 2; delay > time.Second {
					delay = time.Second
				}
				m.logger.Warn("accept error, retrying", "error", err, "delay", delay)
				time.Sleep(delay)
				continue
			}
			m.logger.Error("accept loop stopped", "error", err)
			return
		}
		delay = 0

		ev := m.NewEvent(KindClientAccepted)
		ev.Conn = conn
		ev.Arrival = time.Now()
		if m.Post(ev) != nil {
			return
		}
	}
}

// Dispatch handles one event. Engine loop only.
func (m *Manager) Dispatch(ev *Event) {
	switch ev.Kind {
	case KindClientAccepted:
		m.onAccepted(ev)
	case KindDataReceived:
		m.onReceived(ev)
	case KindDataSend:
		m.onSendRequest(ev)
	case KindDataSent:
		m.onSent(ev)
	case KindReceiveRequest:
		m.onReceiveRequest(ev)
	case KindDisconnectRequest:
		if s, ok := m.Resolve(ev.Handle); ok {
			m.Disconnect(s)
		} else {
			m.stale.Inc()
		}
	case KindShutdown:
		m.DisconnectAll()
	default:
		m.logger.Error("unknown event kind", "kind", ev.Kind)
	}
	m.events.Put(ev)
}

// Resolve returns the slot addressed by h while h is current.
func (m *Manager) Resolve(h api.Client) (*Slot, bool) {
	return m.table.Resolve(h)
}

func (m *Manager) onAccepted(ev *Event) {
	s, err := m.table.Register(ev.Conn, ev.Arrival)
	if err != nil {
		m.rejected.Inc()
		m.logger.Warn("client rejected", "remote", ev.Conn.RemoteAddr(), "error", err)
		ev.Conn.Close()
		return
	}
	if err := transport.Tune(s.conn, m.connOpts); err != nil {
		m.logger.Debug("socket tuning failed", "client", s.handle, "error", err)
	}
	m.accepted.Inc()
	s.state = api.SlotRegistered
	m.logger.Debug("client accepted", "client", s.handle, "remote", s.RemoteAddr())
	m.fireAccepted(s)
}

// StartReceiving enables receiving for s and issues the first receive.
// timeout zero waits indefinitely.
func (m *Manager) StartReceiving(s *Slot, timeout time.Duration) error {
	if timeout < 0 {
		return api.ErrInvalidArgument.WithContext("timeout", timeout)
	}
	if s.recvOutstanding {
		return api.ErrAlreadyReceiving.WithContext("client", s.handle)
	}
	s.receiving = true
	s.recvTimeout = timeout
	return m.armReceive(s)
}

// StopReceiving keeps the outstanding receive, if any, but stops re-arming.
func (m *Manager) StopReceiving(s *Slot) {
	s.receiving = false
}

func (m *Manager) armReceive(s *Slot) error {
	b, err := m.arena.GetIOBlock()
	if err != nil {
		return err
	}
	s.recvBlock = b
	s.recvOutstanding = true
	s.state = api.SlotReceiving

	conn, buf, h, timeout := s.conn, b.Bytes(), s.handle, s.recvTimeout
	err = m.exec.Submit(func() {
		var deadline time.Time
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}
		var n int
		err := conn.SetReadDeadline(deadline)
		if err == nil {
			n, err = conn.Read(buf)
		}
		ev := m.NewEvent(KindDataReceived)
		ev.Handle = h
		ev.Block = b
		ev.N = n
		ev.Err = err
		m.Post(ev)
	})
	if err != nil {
		s.recvBlock = nil
		s.recvOutstanding = false
		m.arena.Release(b)
		return err
	}
	return nil
}

func (m *Manager) onReceiveRequest(ev *Event) {
	s, ok := m.Resolve(ev.Handle)
	if !ok {
		m.stale.Inc()
		return
	}
	if err := m.StartReceiving(s, ev.Timeout); err != nil {
		m.logger.Debug("receive request refused", "client", s.handle, "error", err)
	}
}

func (m *Manager) onReceived(ev *Event) {
	s, ok := m.Resolve(ev.Handle)
	if !ok || s.recvBlock != ev.Block {
		// the slot was disconnected while the read was outstanding
		m.arena.Release(ev.Block)
		m.stale.Inc()
		return
	}
	b := s.recvBlock
	s.recvBlock = nil
	s.recvOutstanding = false

	if ev.N > 0 {
		m.bytesIn.Add(uint64(ev.N))
		s.received = ev.N
		m.fireReceived(s, b)
		s.received = 0
	}
	m.arena.Release(b)

	if ev.N > 0 && ev.Err == nil {
		if s.handle == ev.Handle && s.receiving && !s.recvOutstanding {
			if err := m.armReceive(s); err != nil {
				m.logger.Warn("receive re-arm failed", "client", s.handle, "error", err)
				m.Disconnect(s)
			}
		}
		return
	}

	if s.handle != ev.Handle {
		return
	}
	switch {
	case ev.Err == nil, errors.Is(ev.Err, io.EOF):
		m.logger.Debug("peer closed", "client", s.handle)
	case errors.Is(ev.Err, os.ErrDeadlineExceeded):
		m.logger.Debug("receive timed out", "client", s.handle, "timeout", s.recvTimeout)
	default:
		m.logger.Warn("receive failed", "client", s.handle, "error", ev.Err)
	}
	m.fireReceived(s, nil)
	m.Disconnect(s)
}

// Send queues length bytes of b starting at offset. If no write is in
// flight the queue is flushed immediately as one vectored write. When that
// write cannot be issued the client is disconnected and api.ErrClosed
// returned.
func (m *Manager) Send(s *Slot, b *pool.Block, offset, length int) error {
	if err := ValidateRange(b, offset, length); err != nil {
		return err
	}
	m.arena.Retain(b)
	seg := m.segments.get()
	seg.block = b
	seg.offset = offset
	seg.length = length
	s.pending.push(seg)
	if s.inflight == nil {
		return m.flush(s)
	}
	return nil
}

// ValidateRange checks that [offset, offset+length) lies inside b.
func ValidateRange(b *pool.Block, offset, length int) error {
	if b == nil {
		return api.ErrInvalidArgument.WithContext("block", nil)
	}
	if offset < 0 || length < 0 || offset > b.Len() || length > b.Len()-offset {
		return api.ErrInvalidArgument.
			WithContext("offset", offset).
			WithContext("length", length).
			WithContext("block_len", b.Len())
	}
	return nil
}

// flush issues every pending segment as one write. If the write cannot be
// submitted the client is disconnected and api.ErrClosed returned.
func (m *Manager) flush(s *Slot) error {
	head, n := s.pending.take()
	if head == nil {
		return nil
	}
	s.inflight = head

	conn, h, bufs := s.conn, s.handle, buffers(head, n)
	err := m.exec.Submit(func() {
		written, err := bufs.WriteTo(conn)
		ev := m.NewEvent(KindDataSent)
		ev.Handle = h
		ev.N = int(written)
		ev.Err = err
		ev.batch = head
		m.Post(ev)
	})
	if err != nil {
		s.inflight = nil
		m.releaseSegments(head)
		m.logger.Warn("write submit failed", "client", h, "error", err)
		m.Disconnect(s)
		return api.ErrClosed.WithContext("client", h)
	}
	return nil
}

func (m *Manager) onSendRequest(ev *Event) {
	s, ok := m.Resolve(ev.Handle)
	if !ok {
		m.stale.Inc()
		return
	}
	if err := m.Send(s, ev.Block, ev.Offset, ev.Length); err != nil {
		m.logger.Debug("send request refused", "client", s.handle, "error", err)
	}
}

func (m *Manager) onSent(ev *Event) {
	s, ok := m.Resolve(ev.Handle)
	if !ok || s.inflight != ev.batch {
		m.releaseSegments(ev.batch)
		m.stale.Inc()
		return
	}
	s.inflight = nil
	if ev.Err != nil {
		m.releaseSegments(ev.batch)
		m.logger.Warn("send failed", "client", s.handle, "error", ev.Err)
		m.Disconnect(s)
		return
	}
	m.bytesOut.Add(uint64(ev.N))
	h := s.handle

	// keep the wire busy while callbacks run
	if !s.pending.empty() {
		// a failed submit disconnects; the callbacks below are then skipped
		_ = m.flush(s)
	}

	for seg := ev.batch; seg != nil; {
		next := seg.next
		m.arena.Release(seg.block)
		m.segments.put(seg)
		m.sends.Inc()
		if s.handle == h && s.live() {
			m.fireSent(s)
		}
		seg = next
	}
}

func (m *Manager) releaseSegments(head *segment) {
	for seg := head; seg != nil; {
		next := seg.next
		m.arena.Release(seg.block)
		m.segments.put(seg)
		seg = next
	}
}

// Disconnect closes the connection, drops queued sends, reports the
// disconnection once and recycles the slot. Repeated calls are no-ops.
func (m *Manager) Disconnect(s *Slot) {
	if !s.live() && s.state != api.SlotAccepted {
		return
	}
	s.state = api.SlotDisconnected
	if err := s.conn.Close(); err != nil {
		m.logger.Debug("close failed", "client", s.handle, "error", err)
	}

	head, _ := s.pending.take()
	m.releaseSegments(head)
	// blocks of an outstanding read or write are released by its completion
	if !s.recvOutstanding && s.recvBlock != nil {
		m.arena.Release(s.recvBlock)
	}
	s.recvBlock = nil
	s.receiving = false

	m.disconnected.Inc()
	m.logger.Debug("client disconnected", "client", s.handle)
	m.fireDisconnected(s)
	m.table.release(s)
}

// DisconnectAll disconnects every occupied slot.
func (m *Manager) DisconnectAll() {
	m.table.each(m.Disconnect)
}

func (m *Manager) fireAccepted(s *Slot) {
	defer m.recoverCallback("accepted", s)
	m.cb.Accepted(s)
}

func (m *Manager) fireDisconnected(s *Slot) {
	defer m.recoverCallback("disconnected", s)
	m.cb.Disconnected(s)
}

func (m *Manager) fireReceived(s *Slot, b *pool.Block) {
	defer m.recoverCallback("received", s)
	m.cb.Received(s, b)
}

func (m *Manager) fireSent(s *Slot) {
	defer m.recoverCallback("sent", s)
	m.cb.Sent(s)
}

func (m *Manager) recoverCallback(name string, s *Slot) {
	if r := recover(); r != nil {
		m.panics.Inc()
		m.logger.Error("callback panicked", "callback", name, "client", s.handle, "panic", r)
	}
}
