package session

import (
	"slices"
	"sync"
)

// Status messages shown to the user.
const (
	StatusIdle         = "Idle"
	StatusInitializing = "Initializing System..."
	StatusOnline       = "System Online"
	StatusFailed       = "Initialization Failed"
	StatusDegraded     = "Backend not confirmed ready"
	StatusOffline      = "Backend Offline"
)

// statusBoard holds the current status message and its listeners.
type statusBoard struct {
	mu        sync.Mutex
	current   string
	listeners []func(string)
}

func newStatusBoard() *statusBoard {
	return &statusBoard{current: StatusIdle}
}

func (b *statusBoard) listen(fn func(string)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// set updates the message. Failed is sticky. Returns false when unchanged.
func (b *statusBoard) set(msg string) bool {
	b.mu.Lock()
	if b.current == msg || b.current == StatusFailed {
		b.mu.Unlock()
		return false
	}
	b.current = msg
	listeners := slices.Clone(b.listeners)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(msg)
	}
	return true
}

func (b *statusBoard) get() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (s *Session) setStatus(msg string) {
	if s.status.set(msg) {
		s.logger.Info("status", map[string]any{"status": msg})
	}
}

// Status returns the current status message.
func (s *Session) Status() string {
	return s.status.get()
}
