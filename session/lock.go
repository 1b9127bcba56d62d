package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned when another session holds the lock.
var ErrAlreadyRunning = errors.New("another nimbus session is already running")

// instanceLock guards against two sessions spawning backends from the same
// config. A nil *instanceLock is a no-op.
type instanceLock struct {
	path string
	fl   *flock.Flock
	held bool
}

func newInstanceLock(path string) *instanceLock {
	return &instanceLock{path: path, fl: flock.New(path)}
}

func (l *instanceLock) acquire() error {
	if l == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, l.path)
	}
	l.held = true
	return nil
}

func (l *instanceLock) release() error {
	if l == nil || !l.held {
		return nil
	}
	l.held = false
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
