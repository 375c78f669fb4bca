package chatkit

import (
	"fmt"
	"os"
)

// Config holds the configuration for a chatkit client.
type Config struct {
	// ServerURL is the WebSocket URL of the chat server.
	// Fallback: CHATKIT_SERVER_URL environment variable.
	ServerURL string

	// RESTBaseURL is the base URL of the chat REST API used for
	// message history and message CRUD.
	// Fallback: CHATKIT_REST_URL environment variable.
	RESTBaseURL string

	// UserID identifies the local user on the socket and in sent messages.
	// Fallback: CHATKIT_USER_ID environment variable.
	UserID string

	// Token is the bearer token used to authenticate the socket and REST
	// calls. May be empty at construction time; connect attempts fail with
	// ErrNoToken until UpdateToken supplies one. Token refresh is the
	// caller's responsibility.
	// Fallback: CHATKIT_TOKEN environment variable.
	Token string
}

// resolveConfig fills empty fields from environment variables and validates required fields.
func resolveConfig(cfg Config) (Config, error) {
	if cfg.ServerURL == "" {
		cfg.ServerURL = os.Getenv("CHATKIT_SERVER_URL")
	}
	if cfg.RESTBaseURL == "" {
		cfg.RESTBaseURL = os.Getenv("CHATKIT_REST_URL")
	}
	if cfg.UserID == "" {
		cfg.UserID = os.Getenv("CHATKIT_USER_ID")
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("CHATKIT_TOKEN")
	}

	if cfg.ServerURL == "" {
		return cfg, fmt.Errorf("ServerURL is required (set in Config or CHATKIT_SERVER_URL env)")
	}
	if cfg.RESTBaseURL == "" {
		return cfg, fmt.Errorf("RESTBaseURL is required (set in Config or CHATKIT_REST_URL env)")
	}
	if cfg.UserID == "" {
		return cfg, fmt.Errorf("UserID is required (set in Config or CHATKIT_USER_ID env)")
	}

	return cfg, nil
}
