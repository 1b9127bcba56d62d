// Package types defines core domain types shared by the nimbus companion layer.
package types

import (
	"errors"
	"fmt"
)

// LoopbackHost is the only host the backend binds to.
const LoopbackHost = "127.0.0.1"

// tokenPrefixLen is the longest token prefix ever shown in diagnostics.
const tokenPrefixLen = 5

// ErrEmptyToken is returned when a server config carries no token.
var ErrEmptyToken = errors.New("server token is empty")

// ServerConfig is the per-session {port, token} pair handed from the host
// context to the backend (via environment) and to the gateway.
// Immutable once produced.
type ServerConfig struct {
	// Port is the loopback port the backend listens on (1-65535).
	Port int `json:"port" msgpack:"port" yaml:"port"`
	// Token is the per-session bearer secret. Never log it; use TokenPrefix.
	Token string `json:"token" msgpack:"token" yaml:"token"`
}

// Validate checks the config is usable for a secure channel.
func (c ServerConfig) Validate() error {
	if c.Token == "" {
		return ErrEmptyToken
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	return nil
}

// BaseURL returns the backend root URL, e.g. http://127.0.0.1:9000.
func (c ServerConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", LoopbackHost, c.Port)
}

// TokenPrefix returns a short diagnostic prefix of the token.
// At most five characters and never more than half the token are revealed.
func (c ServerConfig) TokenPrefix() string {
	n := min(tokenPrefixLen, len(c.Token)/2)
	if n <= 0 {
		return "..."
	}
	return c.Token[:n] + "..."
}

// Redact returns a copy safe for logging and rendering.
func (c ServerConfig) Redact() ServerConfigRedacted {
	return ServerConfigRedacted{
		Port:        c.Port,
		TokenPrefix: c.TokenPrefix(),
	}
}

// String implements fmt.Stringer without exposing the token.
func (c ServerConfig) String() string {
	return fmt.Sprintf("port=%d token=%s", c.Port, c.TokenPrefix())
}

// GoString keeps %#v from printing the token.
func (c ServerConfig) GoString() string {
	return "types.ServerConfig{" + c.String() + "}"
}

// ServerConfigRedacted is ServerConfig without the secret.
type ServerConfigRedacted struct {
	Port        int    `json:"port"`
	TokenPrefix string `json:"token_prefix"`
}
