package chatkit

import (
	"errors"
	"fmt"
	"log"
	"time"
)

// Sentinel errors for client state.
var (
	ErrNotConnected     = errors.New("client is not connected")
	ErrClientClosed     = errors.New("client is closed")
	ErrNoToken          = errors.New("no auth token available")
	ErrDuplicateSend    = errors.New("identical send already pending")
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	ErrUnknownMessage   = errors.New("message not found in room timeline")
)

// ConnectionError represents a failure to connect or maintain the connection
// to the chat server.
type ConnectionError struct {
	URL    string
	Reason string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error [%s]: %s", e.URL, e.Reason)
}

// RoomError represents a per-room membership failure: the server rejected a
// join, or a join went unconfirmed after all retries. It does not imply
// anything about the connection itself or about other rooms.
type RoomError struct {
	RoomID  string
	Message string
}

func (e *RoomError) Error() string {
	return fmt.Sprintf("room error [%s]: %s", e.RoomID, e.Message)
}

// ServerError represents a rejection from the chat REST API.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error [%d]: %s", e.Status, e.Message)
}

// ErrorKind classifies SDK-level errors that cannot be returned to a caller.
type ErrorKind int

const (
	ErrParseFailure     ErrorKind = iota // inbound event payload couldn't be parsed
	ErrStrayAck                          // ack for a temp id the engine no longer tracks
	ErrServerReject                      // server refused a sent message
	ErrTransportWrite                    // failed to write to connection
	ErrConnectExhausted                  // automatic reconnection gave up
)

var errorKindNames = [...]string{
	ErrParseFailure:     "ErrParseFailure",
	ErrStrayAck:         "ErrStrayAck",
	ErrServerReject:     "ErrServerReject",
	ErrTransportWrite:   "ErrTransportWrite",
	ErrConnectExhausted: "ErrConnectExhausted",
}

func (k ErrorKind) String() string {
	if int(k) >= 0 && int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// SDKError represents an error that the SDK could not deliver to a direct caller.
// These errors are routed to the ErrorHandler provided at client creation.
type SDKError struct {
	Kind      ErrorKind
	Event     string // inbound event name, if known
	RoomID    string // affected room, if known
	Cause     error
	Raw       []byte // raw payload (for parse failures)
	Timestamp time.Time
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v (event=%s room=%s)", e.Kind, e.Cause, e.Event, e.RoomID)
	}
	return fmt.Sprintf("%s (event=%s room=%s)", e.Kind, e.Event, e.RoomID)
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ErrorHandler is called for every SDK-level error that cannot be returned
// to a direct caller. It MUST be provided when creating a client.
type ErrorHandler func(SDKError)

// LogErrors returns an ErrorHandler that logs all SDK errors to the given logger.
func LogErrors(logger *log.Logger) ErrorHandler {
	return func(e SDKError) {
		if e.Cause != nil {
			logger.Printf("[chatkit] %s: %v (event=%s room=%s)", e.Kind, e.Cause, e.Event, e.RoomID)
		} else {
			logger.Printf("[chatkit] %s (event=%s room=%s)", e.Kind, e.Event, e.RoomID)
		}
	}
}
