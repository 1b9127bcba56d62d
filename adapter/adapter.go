// Package adapter publishes session lifecycle notifications to downstream
// systems (webhooks, Redis pub/sub).
//
// The session owns adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"time"
)

// Event types.
const (
	EventSessionReady      = "session_ready"
	EventSessionDegraded   = "session_degraded"
	EventSessionFailed     = "session_failed"
	EventTransferCompleted = "transfer_completed"
	EventTransferFailed    = "transfer_failed"
)

// SessionEvent is the published payload.
type SessionEvent struct {
	EventType string `json:"event_type"`
	SessionID string `json:"session_id"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"` // RFC 3339
	UptimeMs  int64  `json:"uptime_ms"`

	// Readiness events
	State  string `json:"state,omitempty"`
	Signal string `json:"signal,omitempty"`

	// Transfer events
	TransferKey string `json:"transfer_key,omitempty"`
	Direction   string `json:"direction,omitempty"`
	StoredAs    string `json:"stored_as,omitempty"`

	Error string `json:"error,omitempty"`
}

// Adapter publishes session events to a downstream system.
type Adapter interface {
	// Publish sends an event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *SessionEvent) error

	// Close releases adapter resources.
	Close() error
}

// Backoff returns the delay before retry attempt i (1-based): 500ms, 1s, 2s, ...
func Backoff(i int) time.Duration {
	if i < 1 {
		return 0
	}
	return time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
}

// Retry calls fn up to 1+retries times with exponential backoff between
// attempts. It stops early when ctx ends or permanent(err) is true.
// Returns the last error.
func Retry(ctx context.Context, retries int, fn func(ctx context.Context) error, permanent func(error) bool) (attempts int, err error) {
	for i := range 1 + retries {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err == nil {
				err = ctxErr
			}
			return attempts, err
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return attempts, err
			case <-time.After(Backoff(i)):
			}
		}

		attempts++
		err = fn(ctx)
		if err == nil {
			return attempts, nil
		}
		if permanent != nil && permanent(err) {
			return attempts, err
		}
	}
	return attempts, err
}
