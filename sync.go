package chatkit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
)

// pendingSend tracks one optimistic echo between emit and server
// acknowledgement. Its existence suppresses an identical double-submit; its
// expiry timer marks the echo failed when no acknowledgement arrives.
type pendingSend struct {
	tempID string
	expiry timer
}

func dedupeKey(roomID, senderID, content string) string {
	return roomID + "\x00" + senderID + "\x00" + content
}

// roomTimeline couples a room's ordered sequence with its pagination state.
// fetchToken sequences overlapping history fetches: only the response
// matching the latest issued token is merged, stale responses are discarded.
type roomTimeline struct {
	timeline
	fetchToken uint64
	hasMore    bool
}

// syncEngine owns the per-room message timelines: optimistic local echo on
// send, reconciliation with server-confirmed messages, deduplication, and
// cursor-based backward pagination.
type syncEngine struct {
	c *Client

	mu         sync.Mutex
	rooms      map[string]*roomTimeline
	pending    map[string]*pendingSend // dedupe key → pending echo
	timelineFn func(roomID string)
	closed     bool
}

func newSyncEngine(c *Client) *syncEngine {
	return &syncEngine{
		c:       c,
		rooms:   make(map[string]*roomTimeline),
		pending: make(map[string]*pendingSend),
	}
}

func (e *syncEngine) onTimeline(fn func(roomID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timelineFn = fn
}

func (e *syncEngine) notify(roomID string) {
	e.mu.Lock()
	fn := e.timelineFn
	e.mu.Unlock()
	if fn != nil {
		fn(roomID)
	}
}

func (e *syncEngine) ensureRoomLocked(roomID string) *roomTimeline {
	rt := e.rooms[roomID]
	if rt == nil {
		rt = &roomTimeline{}
		e.rooms[roomID] = rt
	}
	return rt
}

func (e *syncEngine) messages(roomID string) []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	rt := e.rooms[roomID]
	if rt == nil {
		return nil
	}
	return rt.snapshot()
}

func (e *syncEngine) hasMore(roomID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	rt := e.rooms[roomID]
	return rt != nil && rt.hasMore
}

// oldestID returns the backward-pagination cursor for a room.
func (e *syncEngine) oldestID(roomID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	rt := e.rooms[roomID]
	if rt == nil {
		return ""
	}
	return rt.oldestConfirmedID()
}

// fetchPage loads one page of history — newest when beforeID is empty,
// older-than-beforeID otherwise — and merges it as a set-union by id. The
// merge re-sorts, so the server's newest-first page order lands
// chronologically. A response that lost the token race, or whose room was
// dropped mid-flight, is discarded without touching any state.
func (e *syncEngine) fetchPage(ctx context.Context, roomID, beforeID string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClientClosed
	}
	rt := e.ensureRoomLocked(roomID)
	rt.fetchToken++
	token := rt.fetchToken
	limit := e.c.opts.pageSize
	e.mu.Unlock()

	msgs, hasMore, err := e.c.rest.fetchMessages(ctx, roomID, beforeID, limit)
	if err != nil {
		return err
	}

	e.mu.Lock()
	rt = e.rooms[roomID]
	if rt == nil || rt.fetchToken != token {
		e.mu.Unlock()
		return nil
	}
	e.reconcileEchoesLocked(rt, msgs)
	rt.merge(msgs)
	rt.hasMore = hasMore
	e.mu.Unlock()

	e.notify(roomID)
	return nil
}

// reconcileEchoesLocked replaces optimistic echoes satisfied by messages in
// a fetched history page, the same correlation used for live receive_message
// events. A page can contain the confirmed copy of a send whose ack never
// arrived; without this the id-union merge would show the message twice.
func (e *syncEngine) reconcileEchoesLocked(rt *roomTimeline, page []Message) {
	now := e.c.clk.Now()
	for _, m := range page {
		if m.ID == "" || rt.contains(m.ID) {
			continue
		}
		i := rt.indexTempMatch(m.Sender.ID, m.Content, now, e.c.opts.dedupeWindow)
		if i < 0 {
			continue
		}
		tempID := rt.msgs[i].TempID
		m.IsTemporary = false
		m.TempID = ""
		rt.msgs[i] = m
		e.clearPendingLocked(tempID)
	}
}

// sendOptimistic appends a temporary echo for immediate display and emits
// the message. An identical (room, sender, content) send while the first is
// still pending is rejected, guarding against rapid double-submit.
func (e *syncEngine) sendOptimistic(roomID string, sender Sender, content string) (Message, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Message{}, ErrClientClosed
	}
	rt := e.ensureRoomLocked(roomID)
	now := e.c.clk.Now()
	key := dedupeKey(roomID, sender.ID, content)

	if _, ok := e.pending[key]; ok {
		e.mu.Unlock()
		return Message{}, ErrDuplicateSend
	}
	if rt.hasRecentTemp(sender.ID, content, now, e.c.opts.dedupeWindow) {
		e.mu.Unlock()
		return Message{}, ErrDuplicateSend
	}

	m := Message{
		TempID:      generateTempID(),
		RoomID:      roomID,
		Sender:      sender,
		Content:     content,
		CreatedAt:   now,
		IsTemporary: true,
	}
	rt.append(m)
	e.pending[key] = &pendingSend{tempID: m.TempID}
	e.mu.Unlock()

	e.notify(roomID)
	return m, e.emitSend(roomID, key, m)
}

// retrySend re-emits a failed echo. This is the only retry path for sends;
// the engine never retries on its own, which would risk duplicates.
func (e *syncEngine) retrySend(roomID, tempID string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClientClosed
	}
	rt := e.rooms[roomID]
	if rt == nil {
		e.mu.Unlock()
		return ErrUnknownMessage
	}
	i := rt.indexByTempID(tempID)
	if i < 0 {
		e.mu.Unlock()
		return ErrUnknownMessage
	}
	m := rt.msgs[i]
	if !m.Failed {
		e.mu.Unlock()
		return nil
	}
	rt.msgs[i].Failed = false
	key := dedupeKey(roomID, m.Sender.ID, m.Content)
	e.pending[key] = &pendingSend{tempID: tempID}
	e.mu.Unlock()

	e.notify(roomID)
	return e.emitSend(roomID, key, m)
}

// emitSend writes the send_message event and settles the pending entry:
// on a write failure the echo is marked failed immediately; on success the
// acknowledgement timeout is armed.
func (e *syncEngine) emitSend(roomID, key string, m Message) error {
	err := e.c.emit(eventSendMessage, sendMessagePayload{
		RoomID: roomID,
		Message: outboundMessage{
			Content: m.Content,
			Sender:  m.Sender,
			TempID:  m.TempID,
		},
	})

	e.mu.Lock()
	p := e.pending[key]
	if p == nil || p.tempID != m.TempID {
		// Reconciled (or dropped) while the write was in flight.
		e.mu.Unlock()
		return err
	}
	if err != nil {
		delete(e.pending, key)
		if rt := e.rooms[roomID]; rt != nil {
			if i := rt.indexByTempID(m.TempID); i >= 0 {
				rt.msgs[i].Failed = true
			}
		}
		e.mu.Unlock()
		e.notify(roomID)
		return err
	}
	p.expiry = e.c.clk.AfterFunc(e.c.opts.pendingTTL, func() {
		e.ackTimeout(roomID, key, m.TempID)
	})
	e.mu.Unlock()
	return nil
}

// ackTimeout fires when no acknowledgement arrived for an emitted send. The
// echo is left in the timeline marked failed — never silently removed — so
// the caller can distinguish "sending" from "failed" and offer a retry.
func (e *syncEngine) ackTimeout(roomID, key, tempID string) {
	e.mu.Lock()
	p := e.pending[key]
	if p == nil || p.tempID != tempID {
		e.mu.Unlock()
		return
	}
	delete(e.pending, key)
	changed := false
	if rt := e.rooms[roomID]; rt != nil {
		if i := rt.indexByTempID(tempID); i >= 0 {
			rt.msgs[i].Failed = true
			changed = true
		}
	}
	e.mu.Unlock()

	if changed {
		e.notify(roomID)
	}
}

// clearPendingLocked removes the pending entry tracking tempID, if any, and
// stops its expiry timer.
func (e *syncEngine) clearPendingLocked(tempID string) bool {
	for key, p := range e.pending {
		if p.tempID != tempID {
			continue
		}
		if p.expiry != nil {
			p.expiry.Stop()
		}
		delete(e.pending, key)
		return true
	}
	return false
}

// edit requests a content change. Unlike send there is no optimistic local
// application: the timeline changes only when the server confirms via a
// message_updated event. The socket carries the request when connected; the
// REST collaborator is the fallback.
func (e *syncEngine) edit(ctx context.Context, roomID, messageID, newContent string) error {
	e.mu.Lock()
	rt := e.rooms[roomID]
	if rt == nil || !rt.contains(messageID) {
		e.mu.Unlock()
		return ErrUnknownMessage
	}
	e.mu.Unlock()

	if e.c.isConnected() {
		return e.c.emit(eventEditMessage, editMessagePayload{
			RoomID:     roomID,
			MessageID:  messageID,
			NewContent: newContent,
		})
	}
	return e.c.rest.editMessage(ctx, messageID, newContent)
}

// remove deletes a message server-side and drops it from the timeline only
// on success. On failure the sequence is untouched and the error surfaced.
func (e *syncEngine) remove(ctx context.Context, roomID, messageID string) error {
	if err := e.c.rest.deleteMessage(ctx, messageID); err != nil {
		return err
	}

	e.mu.Lock()
	changed := false
	if rt := e.rooms[roomID]; rt != nil {
		if i := rt.indexByID(messageID); i >= 0 {
			rt.removeAt(i)
			changed = true
		}
	}
	e.mu.Unlock()

	if changed {
		e.notify(roomID)
	}
	return nil
}

// dropRoom discards a room's timeline and anything in flight for it:
// pending sends, ack timers, and (via the token lookup failing) any fetch
// response still travelling.
func (e *syncEngine) dropRoom(roomID string) {
	e.mu.Lock()
	delete(e.rooms, roomID)
	prefix := roomID + "\x00"
	for key, p := range e.pending {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if p.expiry != nil {
			p.expiry.Stop()
		}
		delete(e.pending, key)
	}
	e.mu.Unlock()
}

func (e *syncEngine) shutdown() {
	e.mu.Lock()
	e.closed = true
	for key, p := range e.pending {
		if p.expiry != nil {
			p.expiry.Stop()
		}
		delete(e.pending, key)
	}
	e.mu.Unlock()
}

// handleReceiveMessage reconciles a server-confirmed message into its room.
// Correlation prefers the end-to-end tempId when the server echoes it and
// falls back to content+sender matching inside the dedupe window. A replaced
// echo keeps its list position; a message from another client is appended
// and the sequence re-sorted. Redeliveries of an already-held id are
// dropped.
func (e *syncEngine) handleReceiveMessage(payload json.RawMessage) {
	m, err := parseMessage(payload)
	if err != nil || m.RoomID == "" {
		if err == nil {
			err = errors.New("missing roomId")
		}
		e.c.onError(SDKError{Kind: ErrParseFailure, Event: EventReceiveMessage, Raw: payload, Cause: err, Timestamp: e.c.clk.Now()})
		return
	}

	e.mu.Lock()
	rt := e.rooms[m.RoomID]
	if rt == nil {
		// Live event for a room with no timeline yet (joined, never
		// fetched). Start one rather than losing the message.
		if !e.c.rooms.wanted(m.RoomID) {
			e.mu.Unlock()
			return
		}
		rt = e.ensureRoomLocked(m.RoomID)
	}

	if m.ID != "" && rt.contains(m.ID) {
		e.mu.Unlock()
		return
	}

	tempID := m.TempID
	m.IsTemporary = false
	m.TempID = ""

	now := e.c.clk.Now()
	if i := rt.indexByTempID(tempID); i >= 0 {
		rt.msgs[i] = m
	} else if i := rt.indexTempMatch(m.Sender.ID, m.Content, now, e.c.opts.dedupeWindow); i >= 0 {
		rt.msgs[i] = m
	} else {
		rt.append(m)
		rt.sortChronological()
	}

	if tempID != "" {
		e.clearPendingLocked(tempID)
	} else {
		e.clearPendingLocked(pendingTempIDLocked(e, m))
	}
	e.mu.Unlock()

	e.notify(m.RoomID)
}

// pendingTempIDLocked maps a confirmed message back to the tempID of the
// pending entry it satisfies when the server did not echo the tempId.
func pendingTempIDLocked(e *syncEngine, m Message) string {
	p := e.pending[dedupeKey(m.RoomID, m.Sender.ID, m.Content)]
	if p == nil {
		return ""
	}
	return p.tempID
}

// handleMessageSent applies a send acknowledgement: the echo gains its
// server id and stops being temporary, in place.
func (e *syncEngine) handleMessageSent(payload json.RawMessage) {
	var p messageSentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		e.c.onError(SDKError{Kind: ErrParseFailure, Event: EventMessageSent, Raw: payload, Cause: err, Timestamp: e.c.clk.Now()})
		return
	}

	e.mu.Lock()
	var room string
	for roomID, rt := range e.rooms {
		i := rt.indexByTempID(p.TempID)
		if i < 0 {
			continue
		}
		if p.MessageID != "" && rt.contains(p.MessageID) {
			// The confirmed message already arrived via receive_message;
			// the echo is redundant.
			rt.removeAt(i)
		} else {
			rt.msgs[i].ID = p.MessageID
			rt.msgs[i].IsTemporary = false
			rt.msgs[i].TempID = ""
			rt.msgs[i].Failed = false
		}
		room = roomID
		break
	}
	cleared := e.clearPendingLocked(p.TempID)
	e.mu.Unlock()

	if room == "" {
		if !cleared {
			e.c.onError(SDKError{Kind: ErrStrayAck, Event: EventMessageSent, Timestamp: e.c.clk.Now()})
		}
		return
	}
	e.notify(room)
}

// handleMessageError marks the matching echo failed. The entry stays in the
// timeline; retrying is an explicit user action via RetrySend.
func (e *syncEngine) handleMessageError(payload json.RawMessage) {
	var p messageErrorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		e.c.onError(SDKError{Kind: ErrParseFailure, Event: EventMessageError, Raw: payload, Cause: err, Timestamp: e.c.clk.Now()})
		return
	}

	e.mu.Lock()
	var room string
	for roomID, rt := range e.rooms {
		if i := rt.indexByTempID(p.TempID); i >= 0 {
			rt.msgs[i].Failed = true
			room = roomID
			break
		}
	}
	e.clearPendingLocked(p.TempID)
	e.mu.Unlock()

	e.c.onError(SDKError{
		Kind:      ErrServerReject,
		Event:     EventMessageError,
		RoomID:    room,
		Cause:     errors.New(p.Error),
		Timestamp: e.c.clk.Now(),
	})
	if room != "" {
		e.notify(room)
	}
}

// handleMessageUpdated applies a confirmed edit in place.
func (e *syncEngine) handleMessageUpdated(payload json.RawMessage) {
	m, err := parseMessage(payload)
	if err != nil || m.ID == "" {
		if err == nil {
			err = errors.New("missing id")
		}
		e.c.onError(SDKError{Kind: ErrParseFailure, Event: EventMessageUpdated, Raw: payload, Cause: err, Timestamp: e.c.clk.Now()})
		return
	}

	e.mu.Lock()
	changed := false
	rt := e.rooms[m.RoomID]
	if rt != nil {
		if i := rt.indexByID(m.ID); i >= 0 {
			rt.msgs[i].Content = m.Content
			rt.msgs[i].IsEdited = true
			rt.msgs[i].EditedAt = m.EditedAt
			changed = true
		}
	}
	e.mu.Unlock()

	if changed {
		e.notify(m.RoomID)
	}
}
