package network_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hipiol/api"
	"github.com/momentics/hipiol/control"
	"github.com/momentics/hipiol/internal/concurrency"
	"github.com/momentics/hipiol/internal/network"
	"github.com/momentics/hipiol/pool"
)

const waitTimeout = 3 * time.Second

// hooks records callbacks and lets a test act on the engine loop. Hook
// bodies run on the loop goroutine, so they assert instead of require.
type hooks struct {
	mgr      *network.Manager
	exec     *concurrency.Executor
	log      chan string
	accepted func(s *network.Slot)
}

func (h *hooks) Accepted(s *network.Slot) {
	h.log <- "accepted"
	if h.accepted != nil {
		h.accepted(s)
	}
}

func (h *hooks) Disconnected(*network.Slot) { h.log <- "disconnected" }

func (h *hooks) Received(s *network.Slot, b *pool.Block) {
	if b == nil {
		h.log <- "received:nil"
		return
	}
	h.log <- fmt.Sprintf("received:%d", s.Received())
}

func (h *hooks) Sent(*network.Slot) { h.log <- "sent" }

type harness struct {
	*hooks
	arena   *pool.Arena
	metrics *control.MetricsRegistry
}

func newHarness(t *testing.T, cfg *control.Config, accepted func(h *hooks, s *network.Slot)) *harness {
	t.Helper()
	if cfg == nil {
		cfg = control.NewConfig()
	}
	require.NoError(t, cfg.SetMaxClientCount(4))
	cfg.Freeze()

	arena := pool.NewArena(cfg)
	metrics := control.NewMetricsRegistry()
	ch := concurrency.NewChannel[*network.Event]()
	exec, err := concurrency.NewExecutor(8, nil)
	require.NoError(t, err)

	h := &hooks{log: make(chan string, 256), exec: exec}
	if accepted != nil {
		h.accepted = func(s *network.Slot) { accepted(h, s) }
	}
	h.mgr = network.NewManager(cfg, arena, ch, exec, metrics, h)
	loop := concurrency.NewEventLoop(ch, h.mgr.Dispatch, -1, nil)
	require.NoError(t, loop.Start(context.Background()))

	t.Cleanup(func() {
		_ = h.mgr.Post(h.mgr.NewEvent(network.KindShutdown))
		loop.Stop()
		_ = exec.Close(time.Second)
	})
	return &harness{hooks: h, arena: arena, metrics: metrics}
}

// connect hands the server end of a pipe to the manager and returns the client end.
func (h *harness) connect(t *testing.T) net.Conn {
	t.Helper()
	server, client := net.Pipe()
	ev := h.mgr.NewEvent(network.KindClientAccepted)
	ev.Conn = server
	ev.Arrival = time.Now()
	require.NoError(t, h.mgr.Post(ev))
	t.Cleanup(func() { client.Close() })
	return client
}

func (h *harness) expect(t *testing.T, want ...string) {
	t.Helper()
	for _, w := range want {
		select {
		case got := <-h.log:
			require.Equal(t, w, got)
		case <-time.After(waitTimeout):
			t.Fatalf("timed out waiting for %q", w)
		}
	}
}

func (h *harness) counter(name string) uint64 {
	return h.metrics.Counter(name).Load()
}

func TestManagerSendOrder(t *testing.T) {
	var blocks []*pool.Block
	h := newHarness(t, nil, func(h *hooks, s *network.Slot) {
		for _, b := range blocks {
			assert.NoError(t, h.mgr.Send(s, b, 0, b.Len()))
		}
	})
	for _, p := range []string{"a", "bb", "ccc"} {
		b, err := h.arena.CreateConstantBlock([]byte(p))
		require.NoError(t, err)
		blocks = append(blocks, b)
	}

	client := h.connect(t)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(waitTimeout)))
	buf := make([]byte, 6)
	_, err := io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "abbccc", string(buf))

	h.expect(t, "accepted", "sent", "sent", "sent")
	assert.EqualValues(t, 3, h.counter(control.MetricSendsCompleted))
	assert.EqualValues(t, 6, h.counter(control.MetricBytesOut))
}

func TestManagerSendRange(t *testing.T) {
	var blk *pool.Block
	h := newHarness(t, nil, func(h *hooks, s *network.Slot) {
		assert.ErrorIs(t, h.mgr.Send(s, blk, 4, 10), api.ErrInvalidArgument)
		assert.NoError(t, h.mgr.Send(s, blk, 2, 3))
	})
	var err error
	blk, err = h.arena.CreateConstantBlock([]byte("0123456"))
	require.NoError(t, err)

	client := h.connect(t)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(waitTimeout)))
	buf := make([]byte, 3)
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "234", string(buf))
	h.expect(t, "accepted", "sent")
}

func TestManagerReceiveThenTimeout(t *testing.T) {
	cfg := control.NewConfig()
	require.NoError(t, cfg.SetIOBlockSize(1024))
	h := newHarness(t, cfg, func(h *hooks, s *network.Slot) {
		assert.NoError(t, h.mgr.StartReceiving(s, 100*time.Millisecond))
		assert.ErrorIs(t, h.mgr.StartReceiving(s, time.Second), api.ErrAlreadyReceiving)
	})

	client := h.connect(t)
	h.expect(t, "accepted")

	require.NoError(t, client.SetWriteDeadline(time.Now().Add(waitTimeout)))
	_, err := client.Write(make([]byte, 1024))
	require.NoError(t, err)

	h.expect(t, "received:1024", "received:nil", "disconnected")
	assert.EqualValues(t, 1024, h.counter(control.MetricBytesIn))
	assert.Eventually(t, func() bool {
		return h.arena.Stats().IOBytesInUse == 0
	}, waitTimeout, 10*time.Millisecond)
}

func TestManagerPeerClose(t *testing.T) {
	h := newHarness(t, nil, func(h *hooks, s *network.Slot) {
		assert.NoError(t, h.mgr.StartReceiving(s, 0))
	})
	client := h.connect(t)
	h.expect(t, "accepted")
	require.NoError(t, client.Close())
	h.expect(t, "received:nil", "disconnected")
	assert.EqualValues(t, 1, h.counter(control.MetricDisconnected))
}

func TestManagerStaleHandle(t *testing.T) {
	handles := make(chan api.Client, 4)
	h := newHarness(t, nil, func(h *hooks, s *network.Slot) {
		handles <- s.Client()
		h.mgr.Disconnect(s)
		h.mgr.Disconnect(s)
	})
	blk, err := h.arena.CreateConstantBlock([]byte("late"))
	require.NoError(t, err)

	h.connect(t)
	h.expect(t, "accepted", "disconnected")
	old := <-handles
	assert.Equal(t, api.Client{Index: 0, Generation: 0}, old)

	ev := h.mgr.NewEvent(network.KindDataSend)
	ev.Handle = old
	ev.Block = blk
	ev.Length = blk.Len()
	require.NoError(t, h.mgr.Post(ev))

	h.connect(t)
	h.expect(t, "accepted", "disconnected")
	assert.Equal(t, api.Client{Index: 0, Generation: 1}, <-handles)
	assert.EqualValues(t, 1, h.counter(control.MetricStaleDropped))
	assert.EqualValues(t, 2, h.counter(control.MetricDisconnected))
}

func TestManagerRejectsWhenFull(t *testing.T) {
	h := newHarness(t, nil, nil)
	for i := 0; i < 4; i++ {
		h.connect(t)
		h.expect(t, "accepted")
	}
	extra := h.connect(t)
	require.NoError(t, extra.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, err := extra.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
	assert.EqualValues(t, 1, h.counter(control.MetricRejected))
	assert.Equal(t, 4, h.mgr.Table().Active())
}

func TestManagerCallbackPanic(t *testing.T) {
	h := newHarness(t, nil, func(*hooks, *network.Slot) { panic("handler bug") })
	h.connect(t)
	h.expect(t, "accepted")

	ev := h.mgr.NewEvent(network.KindDisconnectRequest)
	ev.Handle = api.Client{Index: 0}
	require.NoError(t, h.mgr.Post(ev))
	h.expect(t, "disconnected")
	assert.EqualValues(t, 1, h.counter(control.MetricCallbackPanics))
}

func TestValidateRange(t *testing.T) {
	arena := pool.NewArena(control.NewConfig())
	b, err := arena.CreateConstantBlock([]byte("abc"))
	require.NoError(t, err)

	require.NoError(t, network.ValidateRange(b, 0, 3))
	require.NoError(t, network.ValidateRange(b, 3, 0))
	require.ErrorIs(t, network.ValidateRange(b, 1, 3), api.ErrInvalidArgument)
	require.ErrorIs(t, network.ValidateRange(b, -1, 1), api.ErrInvalidArgument)
	require.ErrorIs(t, network.ValidateRange(nil, 0, 0), api.ErrInvalidArgument)
}

// A client disconnected while a receive and a write are outstanding: both
// late completions are dropped and the reused slot sends normally.
func TestManagerReuseAfterInflightOperations(t *testing.T) {
	var big, hi *pool.Block
	handles := make(chan api.Client, 2)
	clients := 0
	h := newHarness(t, nil, func(h *hooks, s *network.Slot) {
		handles <- s.Client()
		clients++
		if clients == 1 {
			assert.NoError(t, h.mgr.StartReceiving(s, 0))
			assert.NoError(t, h.mgr.Send(s, big, 0, big.Len()))
			assert.NoError(t, h.mgr.Send(s, big, 0, big.Len()))
			return
		}
		assert.NoError(t, h.mgr.Send(s, hi, 0, hi.Len()))
	})
	var err error
	big, err = h.arena.CreateConstantBlock(make([]byte, control.MB))
	require.NoError(t, err)
	hi, err = h.arena.CreateConstantBlock([]byte("hi"))
	require.NoError(t, err)

	h.connect(t)
	h.expect(t, "accepted")
	old := <-handles

	ev := h.mgr.NewEvent(network.KindDisconnectRequest)
	ev.Handle = old
	require.NoError(t, h.mgr.Post(ev))
	h.expect(t, "disconnected")
	assert.Eventually(t, func() bool {
		return h.counter(control.MetricStaleDropped) == 2
	}, waitTimeout, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return h.arena.Stats().IOBytesInUse == 0
	}, waitTimeout, 10*time.Millisecond)

	client := h.connect(t)
	h.expect(t, "accepted")
	assert.Equal(t, api.Client{Index: old.Index, Generation: old.Generation + 1}, <-handles)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(waitTimeout)))
	buf := make([]byte, 2)
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf))
	h.expect(t, "sent")
	assert.EqualValues(t, 1, h.counter(control.MetricSendsCompleted))
	assert.Zero(t, h.counter(control.MetricBytesIn))
}

func TestManagerWriteErrorDisconnects(t *testing.T) {
	var blk *pool.Block
	h := newHarness(t, nil, func(h *hooks, s *network.Slot) {
		assert.NoError(t, h.mgr.Send(s, blk, 0, blk.Len()))
	})
	var err error
	blk, err = h.arena.CreateConstantBlock([]byte("payload"))
	require.NoError(t, err)

	client := h.connect(t)
	require.NoError(t, client.Close())

	h.expect(t, "accepted", "disconnected")
	assert.Zero(t, h.counter(control.MetricSendsCompleted))
	assert.EqualValues(t, 1, h.counter(control.MetricDisconnected))
	assert.Zero(t, h.mgr.Table().Active())
}

func TestManagerSendFailsWhenWriteCannotStart(t *testing.T) {
	var blk *pool.Block
	errs := make(chan error, 1)
	h := newHarness(t, nil, func(h *hooks, s *network.Slot) {
		assert.NoError(t, h.exec.Close(0))
		errs <- h.mgr.Send(s, blk, 0, blk.Len())
	})
	var err error
	blk, err = h.arena.CreateConstantBlock([]byte("dropped"))
	require.NoError(t, err)

	h.connect(t)
	h.expect(t, "accepted", "disconnected")
	require.ErrorIs(t, <-errs, api.ErrClosed)
	assert.Zero(t, h.counter(control.MetricSendsCompleted))
}
