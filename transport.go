package chatkit

import (
	"context"
	"encoding/json"
)

// eventCallback receives the raw payload of a named event.
type eventCallback func(payload json.RawMessage)

// transport is the internal interface for the socket connection to the chat
// server. The current implementation uses WebSocket (socket.go).
//
// A transport instance is single-use: the connection manager creates a fresh
// one for every connect attempt and the event registry replays all durable
// subscriptions onto it. A transport's own listener set is a disposable
// projection of the registry, never the source of truth.
type transport interface {
	// connect opens the socket authenticated with the client's token and user id.
	connect(ctx context.Context) error

	// emit marshals payload and writes a named event to the connection.
	emit(event string, payload any) error

	// on attaches a callback for an inbound named event.
	on(event string, fn eventCallback)

	// off removes all callbacks for an inbound named event.
	off(event string)

	// onDisconnect registers a callback for an unexpected connection drop.
	// It is not invoked on explicit close().
	onDisconnect(fn func(error))

	// close shuts down the connection.
	close() error
}
