package chatkit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// discardErrors is a no-op ErrorHandler used in tests that don't assert error handler behavior.
var discardErrors = func(SDKError) {}

// --- fake clock ---

type fakeTimer struct {
	clk     *fakeClock
	when    time.Time
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clk: c, when: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and fires every due timer.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.when.After(c.now) {
			t.stopped = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// --- fake transport ---

type emittedEvent struct {
	event   string
	payload any
}

type fakeTransport struct {
	mu           sync.Mutex
	connectErr   error
	emitErr      error
	connected    bool
	closed       bool
	emitted      []emittedEvent
	handlers     map[string][]eventCallback
	disconnectFn func(error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string][]eventCallback)}
}

func (f *fakeTransport) connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emitted = append(f.emitted, emittedEvent{event: event, payload: payload})
	return nil
}

func (f *fakeTransport) on(event string, fn eventCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], fn)
}

func (f *fakeTransport) off(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, event)
}

func (f *fakeTransport) onDisconnect(fn func(error)) {
	f.disconnectFn = fn
}

func (f *fakeTransport) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fire dispatches a server event to the attached handlers.
func (f *fakeTransport) fire(event, payload string) {
	f.mu.Lock()
	callbacks := make([]eventCallback, len(f.handlers[event]))
	copy(callbacks, f.handlers[event])
	f.mu.Unlock()
	for _, fn := range callbacks {
		fn(json.RawMessage(payload))
	}
}

// dropConnection simulates an unexpected transport-level disconnect.
func (f *fakeTransport) dropConnection(err error) {
	if f.disconnectFn != nil {
		f.disconnectFn(err)
	}
}

func (f *fakeTransport) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) countEmits(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.emitted {
		if e.event == event {
			n++
		}
	}
	return n
}

func (f *fakeTransport) lastEmit(event string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.emitted) - 1; i >= 0; i-- {
		if f.emitted[i].event == event {
			return f.emitted[i].payload, true
		}
	}
	return nil, false
}

// transportFactory hands out fake transports per connect attempt. The first
// `failures` transports refuse to connect.
type transportFactory struct {
	mu       sync.Mutex
	created  []*fakeTransport
	failures int
}

func (f *transportFactory) new(token string) transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	ft := newFakeTransport()
	if len(f.created) < f.failures {
		ft.connectErr = errors.New("dial refused")
	}
	f.created = append(f.created, ft)
	return ft
}

func (f *transportFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *transportFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

// --- harness ---

// newTestClient builds a client wired to a fake clock and fake transports.
func newTestClient(t *testing.T, opts ...Option) (*Client, *fakeClock, *transportFactory) {
	t.Helper()

	c, err := NewClient(Config{
		ServerURL:   "ws://test.invalid/socket",
		RESTBaseURL: "http://test.invalid/api",
		UserID:      "user-1",
		Token:       "test-token",
	}, discardErrors, opts...)
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	clk := newFakeClock()
	c.clk = clk
	f := &transportFactory{}
	c.newTransport = f.new
	return c, clk, f
}

// connectTestClient brings the harness client to Connected.
func connectTestClient(t *testing.T, c *Client, f *transportFactory) *fakeTransport {
	t.Helper()
	if err := c.EnsureConnected(); err != nil {
		t.Fatalf("EnsureConnected() error: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StateConnected })
	return f.last()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
