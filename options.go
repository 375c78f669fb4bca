package chatkit

import (
	"net/http"
	"time"
)

// Option configures client behavior.
type Option func(*clientOptions)

type clientOptions struct {
	schedule        retrySchedule
	heartbeat       time.Duration
	pageSize        int
	joinTimeoutBase time.Duration
	joinTimeoutStep time.Duration
	maxJoinAttempts int
	pendingTTL      time.Duration
	dedupeWindow    time.Duration
	httpClient      *http.Client
}

func clientDefaults() clientOptions {
	return clientOptions{
		schedule:        defaultRetrySchedule(),
		heartbeat:       30 * time.Second,
		pageSize:        50,
		joinTimeoutBase: 5 * time.Second,
		joinTimeoutStep: 2 * time.Second,
		maxJoinAttempts: 5,
		pendingTTL:      3 * time.Second,
		dedupeWindow:    5 * time.Second,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
	}
}

// WithPageSize sets the number of messages requested per history page.
func WithPageSize(n int) Option {
	return func(o *clientOptions) {
		o.pageSize = n
	}
}

// WithMaxConnectAttempts bounds the automatic reconnect attempts before the
// client gives up and waits for ManualReconnect.
func WithMaxConnectAttempts(n int) Option {
	return func(o *clientOptions) {
		o.schedule.maxAttempts = n
	}
}

// WithBaseDelay sets the first reconnect delay. Subsequent delays grow by
// the backoff factor.
func WithBaseDelay(d time.Duration) Option {
	return func(o *clientOptions) {
		o.schedule.base = d
	}
}

// WithHeartbeatInterval sets the websocket ping interval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *clientOptions) {
		o.heartbeat = d
	}
}

// WithMaxJoinAttempts bounds join retries per room before the room is
// surfaced as failed.
func WithMaxJoinAttempts(n int) Option {
	return func(o *clientOptions) {
		o.maxJoinAttempts = n
	}
}

// WithHTTPClient replaces the HTTP client used for history and message CRUD.
func WithHTTPClient(h *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = h
	}
}
