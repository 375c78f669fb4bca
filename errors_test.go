package chatkit

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
)

func TestErrorKindString(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want string
	}{
		{ErrParseFailure, "ErrParseFailure"},
		{ErrStrayAck, "ErrStrayAck"},
		{ErrServerReject, "ErrServerReject"},
		{ErrTransportWrite, "ErrTransportWrite"},
		{ErrConnectExhausted, "ErrConnectExhausted"},
		{ErrorKind(99), "ErrorKind(99)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestSDKErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &SDKError{Kind: ErrParseFailure, Event: EventReceiveMessage, Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
	if !strings.Contains(err.Error(), "ErrParseFailure") || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestRoomErrorMessage(t *testing.T) {
	err := &RoomError{RoomID: "general", Message: "room is full"}
	if got := err.Error(); !strings.Contains(got, "general") || !strings.Contains(got, "room is full") {
		t.Errorf("Error() = %q", got)
	}
}

func TestServerErrorMessage(t *testing.T) {
	err := &ServerError{Status: 403, Message: "forbidden"}
	if got := err.Error(); !strings.Contains(got, "403") || !strings.Contains(got, "forbidden") {
		t.Errorf("Error() = %q", got)
	}
}

func TestLogErrors(t *testing.T) {
	var buf bytes.Buffer
	handler := LogErrors(log.New(&buf, "", 0))

	handler(SDKError{Kind: ErrStrayAck, Event: EventMessageSent})
	handler(SDKError{Kind: ErrParseFailure, Event: EventReceiveMessage, Cause: errors.New("bad json")})

	out := buf.String()
	if !strings.Contains(out, "ErrStrayAck") {
		t.Errorf("log output missing kind: %q", out)
	}
	if !strings.Contains(out, "bad json") {
		t.Errorf("log output missing cause: %q", out)
	}
}
