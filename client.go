package chatkit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// Client is the main entry point of the SDK. It owns the connection state
// machine and the single transport instance; rooms and message timelines are
// reached through it so nothing else can emit on a stale socket.
type Client struct {
	cfg  Config
	opts clientOptions

	onError  ErrorHandler
	registry *eventRegistry
	rooms    *roomSet
	engine   *syncEngine
	rest     *historyClient
	clk      clock

	// newTransport builds a fresh transport per connect attempt.
	// Overridden in tests.
	newTransport func(token string) transport

	mu         sync.Mutex
	state      ConnectionState
	connecting bool // reentrancy lock: at most one in-flight connect attempt
	closed     bool
	visible    bool
	tr         transport
	failures   int
	retryTimer timer
	stateFn    StateHandler
}

// NewClient creates a new chatkit client with the given configuration.
// The onError handler is called for SDK-level errors that cannot be returned
// to a direct caller (e.g., inbound parse failures, stray acknowledgements).
// The client is not connected until EnsureConnected() is called.
func NewClient(cfg Config, onError ErrorHandler, opts ...Option) (*Client, error) {
	resolved, err := resolveConfig(cfg)
	if err != nil {
		return nil, err
	}

	if onError == nil {
		return nil, errors.New("ErrorHandler must not be nil")
	}

	o := clientDefaults()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		cfg:      resolved,
		opts:     o,
		onError:  onError,
		registry: newEventRegistry(),
		clk:      realClock{},
		state:    StateDisconnected,
		visible:  true,
	}
	c.newTransport = func(token string) transport {
		return newSocket(resolved.ServerURL, token, resolved.UserID, o.heartbeat)
	}
	c.rest = newHistoryClient(resolved.RESTBaseURL, c.token, o.httpClient)
	c.rooms = newRoomSet(c)
	c.engine = newSyncEngine(c)

	c.registry.register(EventRoomJoined, c.rooms.handleRoomJoined)
	c.registry.register(EventRoomError, c.rooms.handleRoomError)
	c.registry.register(EventReceiveMessage, c.engine.handleReceiveMessage)
	c.registry.register(EventMessageSent, c.engine.handleMessageSent)
	c.registry.register(EventMessageError, c.engine.handleMessageError)
	c.registry.register(EventMessageUpdated, c.engine.handleMessageUpdated)

	return c, nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnState registers a callback invoked on every connection state transition.
func (c *Client) OnState(fn StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateFn = fn
}

// On registers a durable subscription for an inbound named event. The
// subscription survives reconnects: it is replayed onto every fresh socket.
// The returned handle removes exactly this subscription via Off; every call
// is a distinct subscription, even for the same function value.
func (c *Client) On(event string, fn func(payload json.RawMessage)) Subscription {
	return c.registry.register(event, fn)
}

// Off removes the subscription identified by sub. A zero sub clears all
// handlers for the event.
func (c *Client) Off(event string, sub Subscription) {
	c.registry.unregister(event, sub)
}

// EnsureConnected asks the client to reach the Connected state. It is
// idempotent: when already Connected there is nothing to do, and when a
// connect attempt is in flight the call returns and lets it resolve. Without
// a token it returns ErrNoToken and schedules nothing; supply one with
// UpdateToken and call again.
func (c *Client) EnsureConnected() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.state != StateDisconnected {
		// Connected, or an in-flight attempt / armed retry timer will
		// resolve the state on its own.
		c.mu.Unlock()
		return nil
	}
	if c.connecting {
		c.mu.Unlock()
		return nil
	}
	if c.cfg.Token == "" {
		c.mu.Unlock()
		return ErrNoToken
	}
	notify := c.startAttemptLocked()
	c.mu.Unlock()
	notify()
	return nil
}

// ManualReconnect forces a fresh connection attempt regardless of current
// state. An existing socket is torn down first so the new attempt starts
// clean, and the retry counter is reset.
func (c *Client) ManualReconnect() error {
	c.teardown(nil)
	return c.EnsureConnected()
}

// Disconnect tells the client connectivity is no longer needed: the socket
// is closed, pending retry and join timers are cleared, and the state
// becomes Disconnected. Wanted rooms are kept and rejoined on the next
// connect.
func (c *Client) Disconnect() {
	c.teardown(nil)
}

// Close shuts the client down permanently.
func (c *Client) Close() error {
	c.teardown(func() {
		c.closed = true
	})
	c.engine.shutdown()
	return nil
}

// SetVisible informs the client of host visibility. Becoming hidden takes no
// action — the connection is left intact. Becoming visible triggers a
// connect attempt when the socket silently died in the background.
func (c *Client) SetVisible(visible bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	wasVisible := c.visible
	c.visible = visible
	st := c.state
	c.mu.Unlock()

	if !visible || wasVisible {
		return
	}
	if st != StateConnected && st != StateConnecting {
		_ = c.EnsureConnected()
	}
}

// UpdateToken supplies a fresh bearer token for subsequent connect attempts
// and REST calls.
func (c *Client) UpdateToken(token string) {
	c.mu.Lock()
	c.cfg.Token = token
	c.mu.Unlock()
}

// Join marks a room as wanted and requests membership. Returns true when a
// join request was emitted now; false when the request is deferred until the
// connection is up, in which case the room is joined automatically on
// connect.
func (c *Client) Join(roomID string) bool {
	_ = c.EnsureConnected()
	return c.rooms.join(roomID)
}

// Leave clears room membership. The leave request is fire-and-forget; the
// server owns membership cleanup. Any pending join retry for the room is
// cancelled, and in-flight history fetches for it are discarded.
func (c *Client) Leave(roomID string) {
	c.rooms.leave(roomID)
	c.engine.dropRoom(roomID)
}

// RoomConfirmed reports whether the server has acknowledged membership.
func (c *Client) RoomConfirmed(roomID string) bool {
	return c.rooms.confirmed(roomID)
}

// OnRoomState registers a callback for per-room membership transitions.
func (c *Client) OnRoomState(fn RoomStateHandler) {
	c.rooms.onState(fn)
}

// OnTimeline registers a callback invoked whenever a room's message
// timeline changes.
func (c *Client) OnTimeline(fn func(roomID string)) {
	c.engine.onTimeline(fn)
}

// Messages returns a copy of the room's timeline, ordered oldest to newest.
func (c *Client) Messages(roomID string) []Message {
	return c.engine.messages(roomID)
}

// HasMore reports whether older history remains beyond the fetched pages.
func (c *Client) HasMore(roomID string) bool {
	return c.engine.hasMore(roomID)
}

// FetchLatest loads the newest page of history for a room.
func (c *Client) FetchLatest(ctx context.Context, roomID string) error {
	return c.engine.fetchPage(ctx, roomID, "")
}

// FetchBefore loads the page of history older than the given message id.
func (c *Client) FetchBefore(ctx context.Context, roomID, beforeID string) error {
	return c.engine.fetchPage(ctx, roomID, beforeID)
}

// FetchOlder loads the next older page, using the oldest held confirmed
// message as the cursor.
func (c *Client) FetchOlder(ctx context.Context, roomID string) error {
	return c.engine.fetchPage(ctx, roomID, c.engine.oldestID(roomID))
}

// Send appends an optimistic local echo to the room timeline and emits the
// message. The echo is replaced in place once the server confirms it. An
// identical send while the first is still pending returns ErrDuplicateSend.
func (c *Client) Send(roomID string, sender Sender, content string) (Message, error) {
	return c.engine.sendOptimistic(roomID, sender, content)
}

// RetrySend re-emits a previously failed optimistic echo. Failed sends are
// never retried automatically; this is the explicit user action.
func (c *Client) RetrySend(roomID, tempID string) error {
	return c.engine.retrySend(roomID, tempID)
}

// Edit requests a content change for a confirmed message. The timeline is
// updated only once the server confirms via a message_updated event; edits
// are not applied optimistically.
func (c *Client) Edit(ctx context.Context, roomID, messageID, newContent string) error {
	return c.engine.edit(ctx, roomID, messageID, newContent)
}

// Remove deletes a confirmed message. The timeline entry is removed only on
// success; on failure the state is untouched and the error returned.
func (c *Client) Remove(ctx context.Context, roomID, messageID string) error {
	return c.engine.remove(ctx, roomID, messageID)
}

// --- connection state machine internals ---

// token returns the current bearer token. Used by the REST collaborator so
// it always sees the freshest token.
func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Token
}

func (c *Client) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// emit writes a named event on the current socket. Components never hold a
// transport reference of their own; everything goes through here so a
// superseded socket can never be written to.
func (c *Client) emit(event string, payload any) error {
	c.mu.Lock()
	if c.state != StateConnected || c.tr == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	t := c.tr
	c.mu.Unlock()
	return t.emit(event, payload)
}

// setStateLocked records a transition and returns the deferred notification,
// to be invoked after the client mutex is released.
func (c *Client) setStateLocked(st ConnectionState, cause error) func() {
	if st == c.state && cause == nil {
		return func() {}
	}
	ev := StateEvent{Old: c.state, New: st, Err: cause}
	c.state = st
	fn := c.stateFn
	return func() {
		if fn != nil {
			fn(ev)
		}
	}
}

func (c *Client) stopRetryTimerLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// startAttemptLocked transitions to Connecting and dials a fresh transport.
// Callers must hold the mutex and have verified the reentrancy lock is free.
func (c *Client) startAttemptLocked() func() {
	c.connecting = true
	c.stopRetryTimerLocked()
	notify := c.setStateLocked(StateConnecting, nil)

	t := c.newTransport(c.cfg.Token)
	c.tr = t
	t.onDisconnect(func(err error) { c.handleDisconnect(t, err) })
	c.registry.replayOnto(t)

	go c.dial(t)
	return notify
}

func (c *Client) dial(t transport) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	c.finishAttempt(t, t.connect(ctx))
}

func (c *Client) finishAttempt(t transport, err error) {
	c.mu.Lock()
	if c.closed || c.tr != t {
		c.mu.Unlock()
		t.close()
		return
	}
	c.connecting = false

	if err == nil {
		c.failures = 0
		notify := c.setStateLocked(StateConnected, nil)
		c.mu.Unlock()
		notify()
		c.rooms.rejoinAll()
		return
	}

	c.registry.detach(t)
	c.tr = nil
	notify := c.scheduleRetryLocked(err)
	c.mu.Unlock()
	notify()
}

// handleDisconnect reacts to an unexpected transport drop. Explicit local
// closes never reach here; the socket suppresses its disconnect callback
// once close() was called.
func (c *Client) handleDisconnect(t transport, err error) {
	c.mu.Lock()
	if c.closed || c.tr != t {
		c.mu.Unlock()
		return
	}
	c.tr = nil
	c.connecting = false
	c.registry.detach(t)
	notify := c.scheduleRetryLocked(err)
	c.mu.Unlock()

	// Release the dead socket's conn and goroutines; close is idempotent.
	t.close()
	c.rooms.suspend()
	notify()
}

// scheduleRetryLocked counts a failure and either arms the next retry timer
// or gives up and surfaces the terminal failure. Returns the deferred
// notification.
func (c *Client) scheduleRetryLocked(cause error) func() {
	c.failures++
	if c.opts.schedule.exhausted(c.failures) {
		notify := c.setStateLocked(StateDisconnected, ErrRetriesExhausted)
		onError := c.onError
		now := c.clk.Now()
		return func() {
			onError(SDKError{Kind: ErrConnectExhausted, Cause: cause, Timestamp: now})
			notify()
		}
	}
	notify := c.setStateLocked(StateReconnecting, nil)
	c.retryTimer = c.clk.AfterFunc(c.opts.schedule.delay(c.failures), c.retryFire)
	return notify
}

func (c *Client) retryFire() {
	c.mu.Lock()
	if c.closed || c.state != StateReconnecting || c.connecting {
		c.mu.Unlock()
		return
	}
	if c.cfg.Token == "" {
		notify := c.setStateLocked(StateDisconnected, ErrNoToken)
		c.mu.Unlock()
		notify()
		return
	}
	notify := c.startAttemptLocked()
	c.mu.Unlock()
	notify()
}

// teardown closes the socket and clears every pending timer. mark, when
// non-nil, runs under the mutex before state is settled.
func (c *Client) teardown(mark func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if mark != nil {
		mark()
	}
	c.stopRetryTimerLocked()
	t := c.tr
	c.tr = nil
	c.connecting = false
	c.failures = 0
	if t != nil {
		c.registry.detach(t)
	}
	notify := c.setStateLocked(StateDisconnected, nil)
	c.mu.Unlock()

	if t != nil {
		t.close()
	}
	c.rooms.suspend()
	notify()
}
