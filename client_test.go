package chatkit

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient_NilErrorHandler(t *testing.T) {
	_, err := NewClient(Config{
		ServerURL:   "ws://localhost:4000/socket",
		RESTBaseURL: "http://localhost:4000/api",
		UserID:      "user-1",
	}, nil)
	if err == nil {
		t.Fatal("NewClient() should error when ErrorHandler is nil")
	}
}

func TestNewClient_ValidConfig(t *testing.T) {
	client, err := NewClient(Config{
		ServerURL:   "ws://localhost:4000/socket",
		RESTBaseURL: "http://localhost:4000/api",
		UserID:      "user-1",
		Token:       "tok",
	}, discardErrors)
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	if client == nil {
		t.Fatal("NewClient() returned nil")
	}
	if client.State() != StateDisconnected {
		t.Errorf("initial state = %v, want disconnected", client.State())
	}
}

func TestNewClient_MissingServerURL(t *testing.T) {
	_, err := NewClient(Config{RESTBaseURL: "http://x", UserID: "u"}, discardErrors)
	if err == nil {
		t.Fatal("NewClient() should error when ServerURL is missing")
	}
}

func TestEnsureConnected_SingleAttempt(t *testing.T) {
	c, _, f := newTestClient(t)

	// N calls while disconnected/connecting must produce one transport.
	for i := 0; i < 10; i++ {
		if err := c.EnsureConnected(); err != nil {
			t.Fatalf("EnsureConnected() error: %v", err)
		}
	}
	waitFor(t, func() bool { return c.State() == StateConnected })

	if got := f.count(); got != 1 {
		t.Errorf("transport connections = %d, want 1", got)
	}

	// Still idempotent once connected.
	for i := 0; i < 10; i++ {
		c.EnsureConnected()
	}
	if got := f.count(); got != 1 {
		t.Errorf("transport connections after repeat = %d, want 1", got)
	}
}

func TestEnsureConnected_NoToken(t *testing.T) {
	c, _, f := newTestClient(t)
	c.UpdateToken("")

	if err := c.EnsureConnected(); !errors.Is(err, ErrNoToken) {
		t.Fatalf("EnsureConnected() error = %v, want ErrNoToken", err)
	}
	if f.count() != 0 {
		t.Error("no transport should be created without a token")
	}

	c.UpdateToken("fresh-token")
	if err := c.EnsureConnected(); err != nil {
		t.Fatalf("EnsureConnected() after UpdateToken error: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StateConnected })
}

func TestEnsureConnected_Closed(t *testing.T) {
	c, _, _ := newTestClient(t)
	c.Close()
	if err := c.EnsureConnected(); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("EnsureConnected() error = %v, want ErrClientClosed", err)
	}
}

func TestConnect_RetryWithBackoff(t *testing.T) {
	c, clk, f := newTestClient(t)
	f.failures = 2

	c.EnsureConnected()
	waitFor(t, func() bool { return c.State() == StateReconnecting })

	// First retry fires after base delay (2s).
	clk.Advance(2 * time.Second)
	waitFor(t, func() bool { return f.count() == 2 && c.State() == StateReconnecting })

	// Second retry after base×1.5 (3s); this transport connects.
	clk.Advance(3 * time.Second)
	waitFor(t, func() bool { return c.State() == StateConnected })

	if got := f.count(); got != 3 {
		t.Errorf("transport connections = %d, want 3", got)
	}
}

func TestConnect_RetryBound(t *testing.T) {
	var exhausted atomic.Int32
	c, err := NewClient(Config{
		ServerURL:   "ws://test.invalid/socket",
		RESTBaseURL: "http://test.invalid/api",
		UserID:      "user-1",
		Token:       "tok",
	}, func(e SDKError) {
		if e.Kind == ErrConnectExhausted {
			exhausted.Add(1)
		}
	})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	defer c.Close()

	clk := newFakeClock()
	c.clk = clk
	f := &transportFactory{failures: 100}
	c.newTransport = f.new

	var lastEvent atomic.Value
	c.OnState(func(ev StateEvent) { lastEvent.Store(ev) })

	c.EnsureConnected()
	waitFor(t, func() bool { return c.State() == StateReconnecting })

	// Drive retries 2..5. The fifth consecutive failure exhausts the budget.
	for i := 1; i < 5; i++ {
		clk.Advance(time.Hour)
		want := i + 1
		waitFor(t, func() bool { return f.count() == want && c.State() != StateConnecting })
	}

	waitFor(t, func() bool { return c.State() == StateDisconnected })
	if got := f.count(); got != 5 {
		t.Errorf("transport connections = %d, want 5 (maxAttempts)", got)
	}
	if got := exhausted.Load(); got != 1 {
		t.Errorf("ErrConnectExhausted surfaced %d times, want 1", got)
	}
	ev, _ := lastEvent.Load().(StateEvent)
	if !errors.Is(ev.Err, ErrRetriesExhausted) {
		t.Errorf("terminal state event err = %v, want ErrRetriesExhausted", ev.Err)
	}

	// No further automatic retry is scheduled.
	if got := clk.pendingTimers(); got != 0 {
		t.Errorf("pending timers after exhaustion = %d, want 0", got)
	}
	clk.Advance(24 * time.Hour)
	if got := f.count(); got != 5 {
		t.Errorf("transport connections after idle = %d, want still 5", got)
	}

	// ManualReconnect resets the budget and succeeds.
	f.mu.Lock()
	f.failures = 5
	f.mu.Unlock()
	if err := c.ManualReconnect(); err != nil {
		t.Fatalf("ManualReconnect() error: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StateConnected })
}

func TestManualReconnect_WhileConnected(t *testing.T) {
	c, _, f := newTestClient(t)
	old := connectTestClient(t, c, f)

	if err := c.ManualReconnect(); err != nil {
		t.Fatalf("ManualReconnect() error: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StateConnected && f.count() == 2 })

	old.mu.Lock()
	closed := old.closed
	old.mu.Unlock()
	if !closed {
		t.Error("ManualReconnect should close the previous socket first")
	}
}

func TestUnexpectedDisconnect_Reconnects(t *testing.T) {
	c, clk, f := newTestClient(t)
	tr := connectTestClient(t, c, f)

	tr.dropConnection(errors.New("connection reset"))
	waitFor(t, func() bool { return c.State() == StateReconnecting })

	// The dead transport is released; its conn and goroutines must not
	// linger until the replacement arrives.
	waitFor(t, func() bool { return tr.wasClosed() })

	clk.Advance(2 * time.Second)
	waitFor(t, func() bool { return c.State() == StateConnected && f.count() == 2 })

	if f.last() == tr {
		t.Fatal("reconnect should dial a fresh transport")
	}
}

func TestReconnect_ReplaysHandlersAndRejoinsRooms(t *testing.T) {
	c, clk, f := newTestClient(t)
	tr := connectTestClient(t, c, f)

	var custom atomic.Int32
	c.On("typing", func(payload json.RawMessage) { custom.Add(1) })

	if !c.Join("general") {
		t.Fatal("Join() should emit while connected")
	}
	tr.fire(EventRoomJoined, `{"roomId":"general"}`)
	waitFor(t, func() bool { return c.RoomConfirmed("general") })

	tr.dropConnection(errors.New("connection reset"))
	waitFor(t, func() bool { return c.State() == StateReconnecting })
	// Confirmation must not survive the socket it arrived on.
	waitFor(t, func() bool { return !c.RoomConfirmed("general") })

	clk.Advance(2 * time.Second)
	waitFor(t, func() bool { return c.State() == StateConnected && f.count() == 2 })
	fresh := f.last()

	// The wanted room is rejoined on the fresh socket.
	waitFor(t, func() bool { return fresh.countEmits(eventJoinRoom) == 1 })
	fresh.fire(EventRoomJoined, `{"roomId":"general"}`)
	waitFor(t, func() bool { return c.RoomConfirmed("general") })

	// The view-layer subscription was replayed too.
	fresh.fire("typing", `{"roomId":"general"}`)
	waitFor(t, func() bool { return custom.Load() == 1 })
}

func TestSetVisible_TriggersReconnect(t *testing.T) {
	c, _, f := newTestClient(t)
	connectTestClient(t, c, f)

	// Going hidden leaves the connection intact.
	c.SetVisible(false)
	if c.State() != StateConnected {
		t.Errorf("state after hide = %v, want connected", c.State())
	}
	if f.count() != 1 {
		t.Error("hiding must not touch the transport")
	}

	// Socket dies silently while backgrounded; explicit disconnect stands in
	// for the drop since retries were already covered above.
	c.Disconnect()
	waitFor(t, func() bool { return c.State() == StateDisconnected })

	c.SetVisible(true)
	waitFor(t, func() bool { return c.State() == StateConnected && f.count() == 2 })
}

func TestDisconnect_ClearsRetryTimer(t *testing.T) {
	c, clk, f := newTestClient(t)
	f.failures = 100

	c.EnsureConnected()
	waitFor(t, func() bool { return c.State() == StateReconnecting })

	c.Disconnect()
	if got := c.State(); got != StateDisconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
	if got := clk.pendingTimers(); got != 0 {
		t.Errorf("pending timers after Disconnect = %d, want 0", got)
	}
	clk.Advance(time.Hour)
	if got := f.count(); got != 1 {
		t.Errorf("transports after Disconnect = %d, want 1", got)
	}
}

func TestStaleDial_DoesNotClobberNewSocket(t *testing.T) {
	c, _, f := newTestClient(t)
	old := connectTestClient(t, c, f)

	// A disconnect result arriving for a superseded transport is ignored.
	c.ManualReconnect()
	waitFor(t, func() bool { return c.State() == StateConnected && f.count() == 2 })

	old.dropConnection(errors.New("late failure from old socket"))
	time.Sleep(20 * time.Millisecond)
	if got := c.State(); got != StateConnected {
		t.Errorf("state = %v, want connected (stale disconnect ignored)", got)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{ConnectionState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
