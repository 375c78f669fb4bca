package chatkit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wireEvent is the JSON envelope for named events in both directions.
type wireEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// socket implements the transport interface over a WebSocket connection.
type socket struct {
	wsURL  string
	token  string
	userID string

	conn *websocket.Conn
	mu   sync.Mutex // protects conn writes and handlers

	handlers map[string][]eventCallback

	disconnectFn func(error)

	heartbeat time.Duration
	done      chan struct{}
}

func newSocket(wsURL, token, userID string, heartbeat time.Duration) *socket {
	return &socket{
		wsURL:     wsURL,
		token:     token,
		userID:    userID,
		handlers:  make(map[string][]eventCallback),
		heartbeat: heartbeat,
		done:      make(chan struct{}),
	}
}

func (s *socket) connect(ctx context.Context) error {
	u, err := url.Parse(s.wsURL)
	if err != nil {
		return fmt.Errorf("parse URL: %w", err)
	}
	q := u.Query()
	q.Set("token", s.token)
	q.Set("userId", s.userID)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return &ConnectionError{URL: s.wsURL, Reason: err.Error()}
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop()
	go s.heartbeatLoop()

	return nil
}

func (s *socket) emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.writeMsg(wireEvent{Event: event, Payload: data})
}

func (s *socket) on(event string, fn eventCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = append(s.handlers[event], fn)
}

func (s *socket) off(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, event)
}

func (s *socket) onDisconnect(fn func(error)) {
	s.disconnectFn = fn
}

func (s *socket) close() error {
	select {
	case <-s.done:
		return nil // already closed
	default:
		close(s.done)
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (s *socket) readLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return // explicit close, not an unexpected drop
			default:
				if s.disconnectFn != nil {
					s.disconnectFn(err)
				}
				return
			}
		}

		var msg wireEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		s.dispatch(msg)
	}
}

func (s *socket) dispatch(msg wireEvent) {
	s.mu.Lock()
	callbacks := make([]eventCallback, len(s.handlers[msg.Event]))
	copy(callbacks, s.handlers[msg.Event])
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(msg.Payload)
	}
}

func (s *socket) heartbeatLoop() {
	if s.heartbeat <= 0 {
		return // heartbeat disabled
	}
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn == nil {
				return
			}
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (s *socket) writeMsg(msg wireEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}
