package conn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/crimecity-live/internal/codec"
	"github.com/DoyleJ11/crimecity-live/internal/dispatch"
	"github.com/DoyleJ11/crimecity-live/internal/sched"
	"github.com/DoyleJ11/crimecity-live/internal/types"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultDialTimeout    = 10 * time.Second
	DefaultWriteTimeout   = 3 * time.Second

	outboxSize = 16
	inboxSize  = 64
)

type Options struct {
	URL            string
	Dialer         Dialer
	Router         *dispatch.Router
	Scheduler      sched.Scheduler
	Logger         *zap.Logger
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	WriteTimeout   time.Duration

	// Resume is sent right after every successful handshake.
	Resume *types.Command

	// OnStateChange runs after each transition, on the manager goroutine or,
	// for Closed, on the goroutine calling Shutdown.
	OnStateChange func(from, to State)
}

type msg interface{ isConnMsg() }

type ensure struct{}

type dialed struct {
	gen int
	t   Transport
	err error
}

type frame struct {
	gen  int
	data []byte
}

type lost struct {
	gen int
	err error
}

type retry struct{ gen int }

func (ensure) isConnMsg() {}
func (dialed) isConnMsg() {}
func (frame) isConnMsg()  {}
func (lost) isConnMsg()   {}
func (retry) isConnMsg()  {}

type outbox struct{ ch chan []byte }

// Manager owns the single game socket of a page: it connects on demand,
// reconnects after a fixed delay and dispatches decoded frames, in arrival
// order, on its own goroutine.
type Manager struct {
	inbox  chan msg
	state  atomic.Int32
	out    atomic.Pointer[outbox]
	resume atomic.Pointer[types.Command]

	// owned by loop
	gen        int
	transport  Transport
	connCancel context.CancelFunc
	retryTimer sched.Timer

	url            string
	dialer         Dialer
	router         *dispatch.Router
	sched          sched.Scheduler
	log            *zap.Logger
	reconnectDelay time.Duration
	dialTimeout    time.Duration
	writeTimeout   time.Duration
	onStateChange  func(from, to State)

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func New(parent context.Context, opts Options) *Manager {
	ctx, cancel := context.WithCancel(parent)

	m := &Manager{
		inbox:          make(chan msg, inboxSize),
		url:            opts.URL,
		dialer:         opts.Dialer,
		router:         opts.Router,
		sched:          opts.Scheduler,
		log:            opts.Logger,
		reconnectDelay: opts.ReconnectDelay,
		dialTimeout:    opts.DialTimeout,
		writeTimeout:   opts.WriteTimeout,
		onStateChange:  opts.OnStateChange,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	m.log = m.log.Named("conn")
	if m.dialer == nil {
		m.dialer = WSDialer{}
	}
	if m.router == nil {
		m.router = dispatch.NewRouter(m.log)
	}
	if m.sched == nil {
		m.sched = sched.Real()
	}
	if m.reconnectDelay <= 0 {
		m.reconnectDelay = DefaultReconnectDelay
	}
	if m.dialTimeout <= 0 {
		m.dialTimeout = DefaultDialTimeout
	}
	if m.writeTimeout <= 0 {
		m.writeTimeout = DefaultWriteTimeout
	}
	if opts.Resume != nil {
		cmd := *opts.Resume
		m.resume.Store(&cmd)
	}

	go m.loop()
	return m
}

func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) Router() *dispatch.Router { return m.router }

func (m *Manager) URL() string { return m.url }

// Done is closed once the manager goroutine has exited after Shutdown.
func (m *Manager) Done() <-chan struct{} { return m.done }

// EnsureConnected starts the first connection. Later calls are no-ops.
func (m *Manager) EnsureConnected() {
	if m.State() != StateIdle {
		return
	}
	m.post(ensure{})
}

// Subscribe registers h on the manager's router.
func (m *Manager) Subscribe(tag types.Tag, h dispatch.Handler) func() {
	return m.router.Subscribe(tag, h)
}

// SetResume replaces the command sent after each handshake; nil clears it.
func (m *Manager) SetResume(cmd *types.Command) {
	if cmd == nil {
		m.resume.Store(nil)
		return
	}
	c := *cmd
	m.resume.Store(&c)
}

// Send queues cmd for the open socket. It never blocks; when the socket
// is not open, or its outbox is full, the command is dropped.
func (m *Manager) Send(cmd types.Command) {
	data, err := codec.Encode(cmd)
	if err != nil {
		m.log.Warn("dropping invalid command", zap.Error(err))
		return
	}

	ob := m.out.Load()
	if ob == nil || m.State() != StateOpen {
		m.log.Debug("not open, dropping command",
			zap.String("action", string(cmd.Action)), zap.Stringer("state", m.State()))
		return
	}
	select {
	case ob.ch <- data:
	default:
		m.log.Warn("outbox full, dropping command", zap.String("action", string(cmd.Action)))
	}
}

// Shutdown closes the socket and cancels any pending reconnect. The state
// is Closed when Shutdown returns; Done reports when teardown finished.
func (m *Manager) Shutdown() {
	m.closeOnce.Do(func() {
		m.apply(trigShutdown)
		m.cancel()
	})
}

func (m *Manager) post(in msg) bool {
	select {
	case m.inbox <- in:
		return true
	case <-m.ctx.Done():
		return false
	}
}

func (m *Manager) loop() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			m.teardown()
			return

		case in := <-m.inbox:
			if m.State() == StateClosed {
				discard(in)
				continue
			}
			switch msg := in.(type) {
			case ensure:
				if m.apply(trigEnsure) {
					m.dial()
				}

			case dialed:
				m.handleDialed(msg)

			case frame:
				if msg.gen == m.gen && m.State() == StateOpen {
					m.handleFrame(msg.data)
				}

			case lost:
				if msg.gen == m.gen {
					m.handleLost(msg.err)
				}

			case retry:
				if msg.gen != m.gen {
					break
				}
				m.retryTimer = nil
				if m.apply(trigRetry) {
					m.dial()
				}
			}
		}
	}
}

func (m *Manager) dial() {
	m.gen++
	gen := m.gen
	m.log.Debug("dialing", zap.String("url", m.url), zap.Int("gen", gen))

	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.dialTimeout)
		defer cancel()
		t, err := m.dialer.Dial(ctx, m.url)
		if err == nil && m.ctx.Err() != nil {
			_ = t.Close()
			return
		}
		if !m.post(dialed{gen: gen, t: t, err: err}) && t != nil {
			_ = t.Close()
		}
	}()
}

func (m *Manager) handleDialed(d dialed) {
	if d.gen != m.gen || m.State() != StateConnecting {
		discard(d)
		return
	}
	if d.err != nil {
		m.log.Warn("dial failed", zap.String("url", m.url), zap.Error(d.err))
		m.fail()
		return
	}

	connCtx, cancel := context.WithCancel(m.ctx)
	ob := &outbox{ch: make(chan []byte, outboxSize)}
	m.transport = d.t
	m.connCancel = cancel
	m.out.Store(ob)
	go m.reader(d.gen, d.t)
	go m.writer(connCtx, d.gen, d.t, ob.ch)

	if !m.apply(trigHandshake) {
		m.release()
		return
	}
	m.log.Info("connected", zap.String("url", m.url))

	if cmd := m.resume.Load(); cmd != nil {
		m.Send(*cmd)
	}
}

func (m *Manager) handleFrame(data []byte) {
	ev, err := codec.Decode(data)
	if err != nil {
		if errors.Is(err, codec.ErrUnknownType) {
			m.log.Debug("dropping frame", zap.Error(err))
		} else {
			m.log.Warn("dropping frame", zap.Error(err), zap.Int("bytes", len(data)))
		}
		return
	}
	// handler failures are logged by the router
	_, _ = m.router.Dispatch(ev)
}

func (m *Manager) handleLost(err error) {
	if s := m.State(); s != StateOpen && s != StateConnecting {
		return
	}
	if status := websocket.CloseStatus(err); status != -1 {
		m.log.Info("closed by server", zap.Int("status", int(status)), zap.Error(err))
	} else {
		m.log.Warn("transport error", zap.Error(err))
	}
	m.fail()
}

// fail drops the current transport and schedules the single retry.
func (m *Manager) fail() {
	m.release()
	if !m.apply(trigFailure) {
		return
	}
	gen := m.gen
	m.retryTimer = m.sched.AfterFunc(m.reconnectDelay, func() {
		m.post(retry{gen: gen})
	})
	m.log.Info("reconnect scheduled", zap.Duration("delay", m.reconnectDelay))
}

func (m *Manager) release() {
	m.out.Store(nil)
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	if t := m.transport; t != nil {
		m.transport = nil
		// a polite close may wait on the peer; never block the loop on it
		go func() { _ = t.Close() }()
	}
}

func (m *Manager) teardown() {
	m.apply(trigShutdown)
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.release()
	for {
		select {
		case in := <-m.inbox:
			discard(in)
		default:
			m.log.Info("shut down")
			return
		}
	}
}

func discard(in msg) {
	if d, ok := in.(dialed); ok && d.t != nil {
		go func() { _ = d.t.Close() }()
	}
}

func (m *Manager) apply(t trigger) bool {
	for {
		cur := State(m.state.Load())
		nxt, err := next(cur, t)
		if err != nil {
			m.log.Debug("transition ignored", zap.Error(err))
			return false
		}
		if m.state.CompareAndSwap(int32(cur), int32(nxt)) {
			m.log.Debug("state", zap.Stringer("from", cur), zap.Stringer("to", nxt))
			if m.onStateChange != nil {
				m.onStateChange(cur, nxt)
			}
			return true
		}
	}
}

func (m *Manager) reader(gen int, t Transport) {
	for {
		data, err := t.Read(m.ctx)
		if err != nil {
			m.post(lost{gen: gen, err: err})
			return
		}
		if !m.post(frame{gen: gen, data: data}) {
			return
		}
	}
}

func (m *Manager) writer(ctx context.Context, gen int, t Transport, ch <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-ch:
			wctx, cancel := context.WithTimeout(ctx, m.writeTimeout)
			err := t.Write(wctx, data)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					m.post(lost{gen: gen, err: err})
				}
				return
			}
		}
	}
}
