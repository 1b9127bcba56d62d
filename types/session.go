package types

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionMeta identifies one app session (one backend instance).
type SessionMeta struct {
	// SessionID is a random UUID assigned at session creation.
	SessionID string `json:"session_id"`
	// StartedAt is when the session was created.
	StartedAt time.Time `json:"started_at"`
}

// NewSessionMeta creates metadata with a fresh session ID.
func NewSessionMeta() *SessionMeta {
	return &SessionMeta{
		SessionID: uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
}

// Validate checks the metadata is usable for log context.
func (m *SessionMeta) Validate() error {
	if m == nil {
		return errors.New("session metadata is nil")
	}
	if m.SessionID == "" {
		return errors.New("session_id is required")
	}
	return nil
}

// ShortID returns the first eight characters of the session ID.
func (m *SessionMeta) ShortID() string {
	if len(m.SessionID) <= 8 {
		return m.SessionID
	}
	return m.SessionID[:8]
}
