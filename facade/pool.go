// File: facade/pool.go
// Unified facade layer for the hipiol engine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pool aggregates the arena, completion channel, engine loop, executor and
// network manager behind a single entry point. Handlers are registered once,
// listening starts once, and from then on every callback runs on the engine
// loop goroutine.

package facade

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/momentics/hipiol/api"
	"github.com/momentics/hipiol/control"
	"github.com/momentics/hipiol/internal/concurrency"
	"github.com/momentics/hipiol/internal/network"
	"github.com/momentics/hipiol/internal/transport"
	"github.com/momentics/hipiol/pool"
)

// ClientHandler is invoked on client acceptance, disconnection and send completion.
type ClientHandler func(c *Controller)

// DataHandler is invoked when a receive completes. A nil block means no data
// is available: the receive timed out or the connection ended, and the client
// is disconnected once the handler returns.
type DataHandler func(c *Controller, b *pool.Block)

// shutdownTimeout bounds how long Close waits for completion workers.
const shutdownTimeout = 5 * time.Second

// Pool is the public entry point of the engine.
type Pool struct {
	cfg     *control.Config
	arena   *pool.Arena
	metrics *control.MetricsRegistry
	probes  *control.DebugProbes
	ch      *concurrency.Channel[*network.Event]

	mu             sync.Mutex
	onAccepted     ClientHandler
	onDisconnected ClientHandler
	onReceived     DataHandler
	onSent         ClientHandler
	clientSet      bool
	dataSet        bool
	started        bool
	closed         bool

	mgr        *network.Manager
	loop       *concurrency.EventLoop[*network.Event]
	exec       *concurrency.Executor
	ln         net.Listener
	acceptDone chan struct{}
	cancel     context.CancelFunc
}

// New creates a pool. A nil cfg uses control.NewConfig defaults. The
// configuration stays mutable until listening starts or the first block is
// allocated.
func New(cfg *control.Config) *Pool {
	if cfg == nil {
		cfg = control.NewConfig()
	}
	p := &Pool{
		cfg:     cfg,
		arena:   pool.NewArena(cfg),
		metrics: control.NewMetricsRegistry(),
		probes:  control.NewDebugProbes(),
		ch:      concurrency.NewChannel[*network.Event](),
	}
	p.probes.RegisterProbe("config", func() any { return p.cfg.Snapshot() })
	p.probes.RegisterProbe("arena", func() any { return p.arena.Stats() })
	p.probes.RegisterProbe("events.pending", func() any { return p.ch.Len() })
	control.RegisterPlatformProbes(p.probes)
	return p
}

// Config returns the pool configuration.
func (p *Pool) Config() *control.Config {
	return p.cfg
}

// SetClientHandlers registers the acceptance and disconnection handlers.
// It may be called once.
func (p *Pool) SetClientHandlers(accepted, disconnected ClientHandler) error {
	if accepted == nil || disconnected == nil {
		return api.ErrInvalidArgument.WithContext("handlers", "client")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clientSet {
		return api.ErrAlreadySet.WithContext("handlers", "client")
	}
	p.onAccepted, p.onDisconnected = accepted, disconnected
	p.clientSet = true
	return nil
}

// SetDataHandlers registers the receive and send-completion handlers.
// It may be called once.
func (p *Pool) SetDataHandlers(received DataHandler, sent ClientHandler) error {
	if received == nil || sent == nil {
		return api.ErrInvalidArgument.WithContext("handlers", "data")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dataSet {
		return api.ErrAlreadySet.WithContext("handlers", "data")
	}
	p.onReceived, p.onSent = received, sent
	p.dataSet = true
	return nil
}

// StartListening freezes the configuration, starts the engine loop and
// accepts TCP connections on localPort. Port 0 picks an ephemeral port; see Addr.
func (p *Pool) StartListening(localPort int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return api.ErrClosed
	case p.started:
		return api.ErrAlreadyStarted
	case !p.clientSet || !p.dataSet:
		return api.ErrNotReady.
			WithContext("client_handlers", p.clientSet).
			WithContext("data_handlers", p.dataSet)
	}

	p.cfg.Freeze()
	logger := p.cfg.Logger()

	exec, err := concurrency.NewExecutor(p.cfg.CompletionWorkers(), logger)
	if err != nil {
		return err
	}
	ln, err := transport.Listen(transport.ListenerConfig{
		Port:    localPort,
		Backlog: p.cfg.AcceptBacklog(),
	})
	if err != nil {
		exec.Close(0)
		return err
	}

	p.exec = exec
	p.ln = ln
	p.mgr = network.NewManager(p.cfg, p.arena, p.ch, exec, p.metrics, dispatcher{p})
	p.loop = concurrency.NewEventLoop(p.ch, p.mgr.Dispatch, p.cfg.EngineCPU(), logger)

	table := p.mgr.Table()
	p.probes.RegisterProbe("slots.active", func() any { return table.Active() })
	p.probes.RegisterProbe("slots.capacity", func() any { return table.Capacity() })
	p.probes.RegisterProbe("executor.running", func() any { return exec.Running() })
	p.probes.RegisterProbe("executor.overflow", func() any { return exec.Overflow() })

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	if err := p.loop.Start(ctx); err != nil {
		cancel()
		ln.Close()
		exec.Close(0)
		return err
	}

	p.acceptDone = make(chan struct{})
	go func() {
		defer close(p.acceptDone)
		p.mgr.AcceptLoop(ln)
	}()

	p.started = true
	logger.Info("pool listening", "addr", ln.Addr().String(), "max_clients", p.cfg.MaxClientCount())
	return nil
}

// Addr returns the listening address, or nil before StartListening.
func (p *Pool) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ln == nil {
		return nil
	}
	return p.ln.Addr()
}

// CreateConstantBlock copies data into a new immutable block that may be
// sent to any number of clients.
func (p *Pool) CreateConstantBlock(data []byte) (*pool.Block, error) {
	return p.arena.CreateConstantBlock(data)
}

// Send queues b for client from any goroutine. Stale handles are ignored.
// Only constant blocks may be sent this way; IO blocks belong to the engine
// loop and are sent through a Controller.
func (p *Pool) Send(client api.Client, b *pool.Block) error {
	if b == nil {
		return api.ErrInvalidArgument.WithContext("block", nil)
	}
	return p.SendRange(client, b, 0, b.Len())
}

// SendRange queues length bytes of b starting at offset for client.
func (p *Pool) SendRange(client api.Client, b *pool.Block, offset, length int) error {
	if err := network.ValidateRange(b, offset, length); err != nil {
		return err
	}
	if !b.IsConstant() {
		return api.ErrNotSupported.WithContext("block", "io block outside callback")
	}
	mgr, err := p.manager()
	if err != nil {
		return err
	}
	ev := mgr.NewEvent(network.KindDataSend)
	ev.Handle = client
	ev.Block = b
	ev.Offset = offset
	ev.Length = length
	return p.post(mgr, ev)
}

// AllowReceive enables receiving for client from any goroutine. A zero
// timeout waits indefinitely; otherwise each receive that sees no data
// within timeout is reported with a nil block.
func (p *Pool) AllowReceive(client api.Client, timeout time.Duration) error {
	if timeout < 0 {
		return api.ErrInvalidArgument.WithContext("timeout", timeout)
	}
	mgr, err := p.manager()
	if err != nil {
		return err
	}
	ev := mgr.NewEvent(network.KindReceiveRequest)
	ev.Handle = client
	ev.Timeout = timeout
	return p.post(mgr, ev)
}

// Disconnect disconnects client from any goroutine. Stale handles are ignored.
func (p *Pool) Disconnect(client api.Client) {
	mgr, err := p.manager()
	if err != nil {
		return
	}
	ev := mgr.NewEvent(network.KindDisconnectRequest)
	ev.Handle = client
	_ = p.post(mgr, ev)
}

// Stats returns engine counters. Safe from any goroutine.
func (p *Pool) Stats() api.Stats {
	m := p.metrics
	arena := p.arena.Stats()
	st := api.Stats{
		Accepted:        m.Counter(control.MetricAccepted).Load(),
		Disconnected:    m.Counter(control.MetricDisconnected).Load(),
		Rejected:        m.Counter(control.MetricRejected).Load(),
		InboundTraffic:  m.Counter(control.MetricBytesIn).Load(),
		OutboundTraffic: m.Counter(control.MetricBytesOut).Load(),
		SendsCompleted:  m.Counter(control.MetricSendsCompleted).Load(),
		StaleDropped:    m.Counter(control.MetricStaleDropped).Load(),
		CallbackPanics:  m.Counter(control.MetricCallbackPanics).Load(),
		ConstantBytes:   arena.ConstantBytes,
		IOBytesInUse:    arena.IOBytesInUse,
		PendingEvents:   p.ch.Len(),
		StartedAt:       m.StartedAt(),
	}
	if mgr, err := p.manager(); err == nil {
		st.ActiveClients = mgr.Table().Active()
	}
	return st
}

// DebugState returns the output of every registered debug probe.
func (p *Pool) DebugState() map[string]any {
	out := p.probes.DumpState()
	out["metrics"] = p.metrics.GetSnapshot()
	return out
}

// Close stops accepting, disconnects every client, drains the engine loop
// and stops the completion workers. It must not be called from a handler.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	if !started {
		p.ch.Close()
		return nil
	}

	err := p.ln.Close()
	<-p.acceptDone
	_ = p.mgr.Post(p.mgr.NewEvent(network.KindShutdown))
	p.loop.Stop()
	p.cancel()
	if cerr := p.exec.Close(shutdownTimeout); cerr != nil && err == nil {
		err = cerr
	}
	p.cfg.Logger().Info("pool closed", "accepted", p.metrics.Counter(control.MetricAccepted).Load())
	return err
}

func (p *Pool) manager() (*network.Manager, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, api.ErrClosed
	}
	if !p.started {
		return nil, api.ErrNotReady.WithContext("listening", false)
	}
	return p.mgr, nil
}

func (p *Pool) post(mgr *network.Manager, ev *network.Event) error {
	if err := mgr.Post(ev); err != nil {
		return api.ErrClosed
	}
	return nil
}
