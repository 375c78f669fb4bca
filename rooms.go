package chatkit

import (
	"encoding/json"
	"sync"
	"time"
)

// RoomState describes the membership status of a wanted room.
type RoomState int

const (
	// RoomJoining means a join request is in flight or deferred.
	RoomJoining RoomState = iota

	// RoomJoined means the server acknowledged membership.
	RoomJoined

	// RoomFailed means the join was rejected or went unconfirmed after all
	// retries. Other rooms and the connection itself are unaffected.
	RoomFailed
)

func (s RoomState) String() string {
	switch s {
	case RoomJoining:
		return "joining"
	case RoomJoined:
		return "joined"
	case RoomFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RoomStateHandler is called for per-room membership transitions.
type RoomStateHandler func(roomID string, state RoomState, err error)

type roomMembership struct {
	wanted      bool
	confirmed   bool
	failed      bool
	attempts    int
	lastRequest time.Time
	retryTimer  timer
}

// roomSet tracks which rooms are wanted and drives join/leave requests.
// Confirmation comes only from a server room_joined event; an emitted join
// without one is retried on a timeout that grows with the attempt number.
type roomSet struct {
	c *Client

	mu      sync.Mutex
	rooms   map[string]*roomMembership
	stateFn RoomStateHandler
}

func newRoomSet(c *Client) *roomSet {
	return &roomSet{
		c:     c,
		rooms: make(map[string]*roomMembership),
	}
}

func (r *roomSet) onState(fn RoomStateHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stateFn = fn
}

// join marks the room wanted and emits a join request when connected.
// Returns false when the request is deferred; rejoinAll sends it once the
// connection comes up.
func (r *roomSet) join(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.rooms[roomID]
	if m == nil {
		m = &roomMembership{}
		r.rooms[roomID] = m
	}
	m.wanted = true
	m.failed = false

	if m.confirmed {
		return true
	}
	if m.retryTimer != nil {
		// A join is already in flight; its timeout drives any retry.
		return true
	}
	return r.emitJoinLocked(roomID, m)
}

// leave clears membership, cancels any pending join retry, and emits a
// fire-and-forget leave request. A leave during an unconfirmed join must
// cancel the retry sequence so the join cannot race the leave.
func (r *roomSet) leave(roomID string) {
	r.mu.Lock()
	m := r.rooms[roomID]
	if m != nil {
		if m.retryTimer != nil {
			m.retryTimer.Stop()
			m.retryTimer = nil
		}
		delete(r.rooms, roomID)
	}
	r.mu.Unlock()

	if m != nil {
		_ = r.c.emit(eventLeaveRoom, leaveRoomPayload{RoomID: roomID})
	}
}

func (r *roomSet) wanted(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.rooms[roomID]
	return m != nil && m.wanted
}

func (r *roomSet) confirmed(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.rooms[roomID]
	return m != nil && m.confirmed
}

// rejoinAll re-requests membership for every wanted room. Called by the
// connection manager after each successful (re)connect; confirmations from
// a previous socket are meaningless on the new one.
func (r *roomSet) rejoinAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID, m := range r.rooms {
		if !m.wanted {
			continue
		}
		m.confirmed = false
		m.failed = false
		m.attempts = 0
		r.emitJoinLocked(roomID, m)
	}
}

// suspend cancels pending join timers and drops confirmations. Called when
// the connection is lost or torn down; wanted flags survive.
func (r *roomSet) suspend() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.rooms {
		if m.retryTimer != nil {
			m.retryTimer.Stop()
			m.retryTimer = nil
		}
		m.confirmed = false
	}
}

// emitJoinLocked sends a join request and arms the confirmation timeout.
func (r *roomSet) emitJoinLocked(roomID string, m *roomMembership) bool {
	err := r.c.emit(eventJoinRoom, joinRoomPayload{RoomID: roomID, UserID: r.c.cfg.UserID})
	if err != nil {
		return false
	}
	m.lastRequest = r.c.clk.Now()

	timeout := r.c.opts.joinTimeoutBase + time.Duration(m.attempts)*r.c.opts.joinTimeoutStep
	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}
	m.retryTimer = r.c.clk.AfterFunc(timeout, func() { r.joinTimeout(roomID) })
	return true
}

// joinTimeout fires when a join went unconfirmed. The room is looked up
// again under the lock: if it was left (or confirmed) in the meantime the
// timer is stale and must not touch anything.
func (r *roomSet) joinTimeout(roomID string) {
	r.mu.Lock()
	m := r.rooms[roomID]
	if m == nil || !m.wanted || m.confirmed {
		r.mu.Unlock()
		return
	}
	m.retryTimer = nil
	m.attempts++

	if m.attempts >= r.c.opts.maxJoinAttempts {
		m.failed = true
		fn := r.stateFn
		r.mu.Unlock()
		if fn != nil {
			fn(roomID, RoomFailed, &RoomError{RoomID: roomID, Message: "join unconfirmed after retries"})
		}
		return
	}

	r.emitJoinLocked(roomID, m)
	r.mu.Unlock()
}

func (r *roomSet) handleRoomJoined(payload json.RawMessage) {
	var p roomJoinedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.c.onError(SDKError{Kind: ErrParseFailure, Event: EventRoomJoined, Raw: payload, Cause: err, Timestamp: r.c.clk.Now()})
		return
	}

	r.mu.Lock()
	m := r.rooms[p.RoomID]
	if m == nil || !m.wanted {
		r.mu.Unlock()
		return
	}
	m.confirmed = true
	m.failed = false
	m.attempts = 0
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	fn := r.stateFn
	r.mu.Unlock()

	if fn != nil {
		fn(p.RoomID, RoomJoined, nil)
	}
}

func (r *roomSet) handleRoomError(payload json.RawMessage) {
	var p roomErrorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.c.onError(SDKError{Kind: ErrParseFailure, Event: EventRoomError, Raw: payload, Cause: err, Timestamp: r.c.clk.Now()})
		return
	}

	r.mu.Lock()
	m := r.rooms[p.RoomID]
	if m == nil || !m.wanted {
		r.mu.Unlock()
		return
	}
	m.failed = true
	m.confirmed = false
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	fn := r.stateFn
	r.mu.Unlock()

	if fn != nil {
		fn(p.RoomID, RoomFailed, &RoomError{RoomID: p.RoomID, Message: p.Message})
	}
}
