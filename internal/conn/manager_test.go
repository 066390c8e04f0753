package conn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/crimecity-live/internal/codec"
	"github.com/DoyleJ11/crimecity-live/internal/dispatch"
	"github.com/DoyleJ11/crimecity-live/internal/sched/schedtest"
	"github.com/DoyleJ11/crimecity-live/internal/types"
)

const waitFor = time.Second
const tick = 5 * time.Millisecond

var errRemoteClosed = errors.New("remote closed")

type fakeTransport struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.frames:
		return data, nil
	case <-f.closed:
		return nil, errRemoteClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Write(ctx context.Context, data []byte) error {
	select {
	case <-f.closed:
		return errRemoteClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	for i, w := range f.written {
		out[i] = string(w)
	}
	return out
}

func (f *fakeTransport) push(frame string) { f.frames <- []byte(frame) }

// fakeDialer hands out fresh transports. When block is set, dials after
// the first wait until the context ends.
type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	failures int // number of upcoming dials that fail
	block    bool
	conns    chan *fakeTransport
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeTransport, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	if d.failures > 0 {
		d.failures--
		d.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	block := d.block && n > 1
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	t := newFakeTransport()
	d.conns <- t
	return t, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func recvTransport(t *testing.T, d *fakeDialer) *fakeTransport {
	t.Helper()
	select {
	case tr := <-d.conns:
		return tr
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for dial")
		return nil
	}
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, waitFor, tick,
		"want state %s, have %s", want, m.State())
}

type harness struct {
	m      *Manager
	dialer *fakeDialer
	clk    *schedtest.Manual
	router *dispatch.Router
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		dialer: newFakeDialer(),
		clk:    schedtest.NewManual(),
		router: dispatch.NewRouter(nil),
	}
	opts := Options{
		URL:       "ws://game.test/ws/game/",
		Dialer:    h.dialer,
		Router:    h.router,
		Scheduler: h.clk,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.m = New(context.Background(), opts)
	t.Cleanup(func() {
		h.m.Shutdown()
		<-h.m.Done()
	})
	return h
}

func (h *harness) open(t *testing.T) *fakeTransport {
	t.Helper()
	h.m.EnsureConnected()
	tr := recvTransport(t, h.dialer)
	waitState(t, h.m, StateOpen)
	return tr
}

func TestManager_StartsIdleAndConnectsOnDemand(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, StateIdle, h.m.State())
	assert.Zero(t, h.dialer.count())

	h.m.EnsureConnected()
	h.m.EnsureConnected()
	h.open(t)
	h.m.EnsureConnected()

	assert.Equal(t, 1, h.dialer.count(), "one transport per manager")
}

func TestManager_DispatchesInArrivalOrder(t *testing.T) {
	h := newHarness(t, nil)
	stream := h.router.Stream(types.TagNotification, 8)
	tr := h.open(t)

	for _, msg := range []string{"one", "two", "three"} {
		tr.push(`{"type":"notification","message":"` + msg + `"}`)
	}

	var got []string
	for len(got) < 3 {
		select {
		case ev := <-stream.C():
			got = append(got, ev.(types.Notification).Message)
		case <-time.After(waitFor):
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestManager_UnknownAndMalformedFramesAreDropped(t *testing.T) {
	h := newHarness(t, nil)

	var calls atomic.Int32
	for _, tag := range []types.Tag{
		types.TagCombatUpdate, types.TagCombatStatus, types.TagPlayerStatus,
		types.TagPlayerUpdate, types.TagNotification, types.TagError,
	} {
		h.m.Subscribe(tag, func(types.Event) error {
			calls.Add(1)
			return nil
		})
	}
	marker := h.router.Stream(types.TagError, 1)

	tr := h.open(t)
	tr.push(`{"type":"unknown_tag","data":{}}`)
	tr.push(`{"type":"player_status","data":`)
	tr.push(`not json at all`)
	tr.push(`{"type":"error","message":"marker"}`)

	select {
	case <-marker.C():
	case <-time.After(waitFor):
		t.Fatal("session stopped dispatching after bad frames")
	}
	assert.Equal(t, int32(1), calls.Load(), "only the marker frame reaches handlers")
	assert.Equal(t, StateOpen, h.m.State())
	assert.Equal(t, 1, h.dialer.count())
}

func TestManager_CloseSchedulesExactlyOneReconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.block = true
	tr := h.open(t)

	tr.Close()
	waitState(t, h.m, StateReconnecting)
	require.Eventually(t, func() bool { return h.clk.Pending() == 1 }, waitFor, tick)

	h.clk.Advance(DefaultReconnectDelay - time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateReconnecting, h.m.State())
	assert.Equal(t, 1, h.dialer.count())

	h.clk.Advance(time.Millisecond)
	waitState(t, h.m, StateConnecting)
	require.Eventually(t, func() bool { return h.dialer.count() == 2 }, waitFor, tick)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, h.dialer.count(), "exactly one reconnect attempt")
	assert.Zero(t, h.clk.Pending())
}

func TestManager_FailedDialKeepsRetryingAtFixedDelay(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ReconnectDelay = time.Second })
	h.dialer.failures = 3

	h.m.EnsureConnected()
	for attempt := 1; attempt <= 3; attempt++ {
		waitState(t, h.m, StateReconnecting)
		require.Eventually(t, func() bool { return h.clk.Pending() == 1 }, waitFor, tick)
		assert.Equal(t, attempt, h.dialer.count())
		h.clk.Advance(time.Second)
	}

	recvTransport(t, h.dialer)
	waitState(t, h.m, StateOpen)
	assert.Equal(t, 4, h.dialer.count())
}

func TestManager_ResumeSentOnEveryOpen(t *testing.T) {
	resume := types.RefreshCombat("17")
	h := newHarness(t, func(o *Options) { o.Resume = &resume })
	want, err := codec.Encode(resume)
	require.NoError(t, err)

	first := h.open(t)
	require.Eventually(t, func() bool { return len(first.writes()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{string(want)}, first.writes())

	first.Close()
	waitState(t, h.m, StateReconnecting)
	require.Eventually(t, func() bool { return h.clk.Pending() == 1 }, waitFor, tick)
	h.clk.Advance(DefaultReconnectDelay)

	second := recvTransport(t, h.dialer)
	waitState(t, h.m, StateOpen)
	require.Eventually(t, func() bool { return len(second.writes()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{string(want)}, second.writes())
}

func TestManager_SendOnlyWhileOpen(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Send(types.GetStatus()) // idle: dropped

	tr := h.open(t)
	h.m.Send(types.GetStatus())
	h.m.Send(types.Command{}) // invalid: dropped

	require.Eventually(t, func() bool { return len(tr.writes()) == 1 }, waitFor, tick)
	assert.JSONEq(t, `{"action":"get_status"}`, tr.writes()[0])

	tr.Close()
	waitState(t, h.m, StateReconnecting)
	h.m.Send(types.GetStatus())
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, tr.writes(), 1)
}

func TestManager_HandlerFailureIsolated(t *testing.T) {
	h := newHarness(t, nil)
	var second atomic.Int32
	h.m.Subscribe(types.TagCombatUpdate, func(types.Event) error { panic("first handler blew up") })
	h.m.Subscribe(types.TagCombatUpdate, func(types.Event) error {
		second.Add(1)
		return nil
	})

	tr := h.open(t)
	tr.push(`{"type":"combat_update","data":{"message":"hit"}}`)

	require.Eventually(t, func() bool { return second.Load() == 1 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), second.Load())
	assert.Equal(t, StateOpen, h.m.State())
}

func TestManager_ShutdownCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.open(t)

	tr.Close()
	waitState(t, h.m, StateReconnecting)
	require.Eventually(t, func() bool { return h.clk.Pending() == 1 }, waitFor, tick)

	h.m.Shutdown()
	assert.Equal(t, StateClosed, h.m.State())
	select {
	case <-h.m.Done():
	case <-time.After(waitFor):
		t.Fatal("manager did not stop")
	}

	assert.Zero(t, h.clk.Pending())
	h.clk.Advance(10 * DefaultReconnectDelay)
	h.m.EnsureConnected()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.dialer.count())
	assert.Equal(t, StateClosed, h.m.State())
}

func TestManager_ShutdownClosesTransport(t *testing.T) {
	var transitions []string
	var mu sync.Mutex
	h := newHarness(t, func(o *Options) {
		o.OnStateChange = func(from, to State) {
			mu.Lock()
			transitions = append(transitions, from.String()+"->"+to.String())
			mu.Unlock()
		}
	})
	tr := h.open(t)

	h.m.Shutdown()
	<-h.m.Done()
	require.Eventually(t, tr.isClosed, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"idle->connecting", "connecting->open", "open->closed"}, transitions)
}

func TestManager_ShutdownFromHandlerDoesNotDeadlock(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Subscribe(types.TagError, func(types.Event) error {
		h.m.Send(types.GetStatus())
		h.m.Shutdown()
		return nil
	})

	tr := h.open(t)
	tr.push(`{"type":"error","message":"bye"}`)

	select {
	case <-h.m.Done():
	case <-time.After(waitFor):
		t.Fatal("shutdown from a handler hung")
	}
	assert.Equal(t, StateClosed, h.m.State())
}

func TestManager_ParentContextCancelClosesManager(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := New(ctx, Options{URL: "ws://game.test/ws/game/", Dialer: newFakeDialer(), Scheduler: schedtest.NewManual()})

	cancel()
	select {
	case <-m.Done():
	case <-time.After(waitFor):
		t.Fatal("manager ignored parent cancellation")
	}
	assert.Equal(t, StateClosed, m.State())
}
