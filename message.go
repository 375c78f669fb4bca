package chatkit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Sender identifies the author of a message.
type Sender struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

// Message is a single chat message in a room timeline.
//
// Server-confirmed messages carry ID and no TempID. Optimistic local echoes
// carry TempID, IsTemporary=true and no ID until the server confirms them.
// Failed is set when the server rejected the echo or the acknowledgement
// never arrived; the entry stays in the timeline so the caller can render
// "failed" and offer an explicit retry.
type Message struct {
	ID        string     `json:"id,omitempty"`
	TempID    string     `json:"tempId,omitempty"`
	RoomID    string     `json:"roomId"`
	Sender    Sender     `json:"sender"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
	IsEdited  bool       `json:"isEdited,omitempty"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`

	IsTemporary bool `json:"-"`
	Failed      bool `json:"-"`
}

// generateTempID returns a new client-assigned id for an optimistic echo.
func generateTempID() string {
	return uuid.New().String()
}

// Named events, client → server.
const (
	eventJoinRoom    = "join_room"
	eventLeaveRoom   = "leave_room"
	eventSendMessage = "send_message"
	eventEditMessage = "edit_message"
)

// Named events, server → client. Exported so callers can subscribe to them
// directly via Client.On for concerns the engine does not own.
const (
	EventRoomJoined     = "room_joined"
	EventRoomError      = "room_error"
	EventReceiveMessage = "receive_message"
	EventMessageSent    = "message_sent"
	EventMessageError   = "message_error"
	EventMessageUpdated = "message_updated"
)

type joinRoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type leaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

// outboundMessage is the message body of a send_message event. The tempId
// travels to the server so acknowledgements and echoes can be correlated
// without content matching.
type outboundMessage struct {
	Content string `json:"content"`
	Sender  Sender `json:"sender"`
	TempID  string `json:"tempId"`
}

type sendMessagePayload struct {
	RoomID  string          `json:"roomId"`
	Message outboundMessage `json:"message"`
}

type editMessagePayload struct {
	RoomID     string `json:"roomId"`
	MessageID  string `json:"messageId"`
	NewContent string `json:"newContent"`
}

type roomJoinedPayload struct {
	RoomID string `json:"roomId"`
}

type roomErrorPayload struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type messageSentPayload struct {
	TempID    string `json:"tempId"`
	MessageID string `json:"messageId"`
}

type messageErrorPayload struct {
	TempID string `json:"tempId"`
	Error  string `json:"error"`
}

// parseMessage decodes a server message payload (receive_message,
// message_updated) into a Message.
func parseMessage(payload json.RawMessage) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}
