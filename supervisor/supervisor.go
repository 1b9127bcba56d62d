// Package supervisor owns the backend child process.
//
// A Supervisor spawns the backend at most once per session, injects the
// ServerConfig through the environment, and appends every output line to
// the session logbook in the order the process emitted it.
//
// State machine: idle -> spawning -> running -> {terminated | failed}.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/nimbus/log"
	"github.com/pithecene-io/nimbus/logbook"
	"github.com/pithecene-io/nimbus/metrics"
	"github.com/pithecene-io/nimbus/types"
)

// Environment variables carrying the ServerConfig to the backend.
const (
	EnvPort  = "API_PORT"
	EnvToken = "API_SECRET_TOKEN"
)

// DefaultKillGrace is how long Stop waits after SIGTERM before killing.
const DefaultKillGrace = 3 * time.Second

// maxLineSize bounds a single output line.
const maxLineSize = 1024 * 1024

// State is the supervisor lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateSpawning   State = "spawning"
	StateRunning    State = "running"
	StateTerminated State = "terminated"
	StateFailed     State = "failed"
)

// SpawnError indicates the backend could not be started.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ErrNotStarted is returned by Stop before a process was spawned.
var ErrNotStarted = errors.New("backend not started")

// Config configures the backend process.
type Config struct {
	// Binary is the backend executable (e.g. bin/api).
	Binary string
	// Args are extra command-line arguments.
	Args []string
	// Dir is the working directory.
	Dir string
	// Env holds extra KEY=VALUE entries layered over os.Environ().
	Env []string
	// KillGrace overrides DefaultKillGrace when positive.
	KillGrace time.Duration
}

// Supervisor manages one backend process.
type Supervisor struct {
	book      *logbook.Book
	launcher  Launcher
	terminate TreeTerminator
	logger    *log.Logger
	collector *metrics.Collector

	mu        sync.Mutex
	state     State
	proc      Process
	pid       int
	err       error
	exit      ExitResult
	killGrace time.Duration
	done      chan struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLauncher replaces ExecLauncher.
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) { s.launcher = l }
}

// WithTreeTerminator replaces the process-tree terminator used by Stop.
func WithTreeTerminator(t TreeTerminator) Option {
	return func(s *Supervisor) { s.terminate = t }
}

// WithLogger sets the structured logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithCollector sets the metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(s *Supervisor) { s.collector = c }
}

// New creates an idle supervisor writing output to book.
func New(book *logbook.Book, opts ...Option) *Supervisor {
	s := &Supervisor{
		book:      book,
		launcher:  ExecLauncher,
		terminate: KillTree,
		logger:    log.Nop(),
		state:     StateIdle,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start spawns the backend with server injected as API_PORT and
// API_SECRET_TOKEN. Only the first call spawns; later or concurrent calls
// are no-ops that return the recorded spawn error, if any.
//
// ctx bounds the process lifetime: cancelling it kills the backend.
func (s *Supervisor) Start(ctx context.Context, cfg Config, server types.ServerConfig) error {
	s.mu.Lock()
	if s.state != StateIdle {
		err := s.err
		s.mu.Unlock()
		return err
	}
	s.state = StateSpawning
	s.killGrace = cfg.KillGrace
	if s.killGrace <= 0 {
		s.killGrace = DefaultKillGrace
	}
	s.mu.Unlock()

	env := append(os.Environ(), cfg.Env...)
	env = append(env,
		EnvPort+"="+strconv.Itoa(server.Port),
		EnvToken+"="+server.Token,
	)

	proc, err := s.launcher(ctx, LaunchSpec{
		Binary: cfg.Binary,
		Args:   cfg.Args,
		Dir:    cfg.Dir,
		Env:    deduplicateEnv(env),
	})
	if err != nil {
		spawnErr := &SpawnError{Binary: cfg.Binary, Err: err}
		s.mu.Lock()
		s.state = StateFailed
		s.err = spawnErr
		s.mu.Unlock()

		s.collector.IncSpawnFailure()
		s.logger.Error("backend spawn failed", map[string]any{
			"binary": cfg.Binary,
			"error":  err.Error(),
		})
		s.book.Criticalf("Failed to spawn backend: %v", err)
		s.book.Close()
		close(s.done)
		return spawnErr
	}

	s.mu.Lock()
	s.state = StateRunning
	s.proc = proc
	s.pid = proc.PID()
	s.mu.Unlock()

	s.collector.IncSpawnSuccess()
	s.logger.Info("backend spawned", map[string]any{
		"binary": cfg.Binary,
		"pid":    proc.PID(),
		"server": server.Redact(),
	})
	s.book.Systemf("Sidecar PID: %d | Port: %d", proc.PID(), server.Port)

	var wg sync.WaitGroup
	wg.Add(2)
	go s.pump(&wg, proc.Stdout(), types.LogSourceStdout)
	go s.pump(&wg, proc.Stderr(), types.LogSourceStderr)
	go s.wait(&wg, proc)

	return nil
}

// pump appends each line of r to the book.
func (s *Supervisor) pump(wg *sync.WaitGroup, r io.Reader, src types.LogSource) {
	defer wg.Done()
	if r == nil {
		return
	}

	err := readLines(r, maxLineSize, func(line string) {
		s.book.Append(src, line)
		s.collector.IncLine(string(src))
	})
	if err != nil {
		s.book.Systemf("%s stream error: %v", src, err)
	}
}

// readLines calls emit for every line of r with the line ending removed.
// A line longer than limit is cut at limit bytes and marked with the number
// of bytes dropped; reading continues with the next line. A final line
// without a newline is still emitted. Returns nil at EOF.
func readLines(r io.Reader, limit int, emit func(string)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var (
		line    []byte
		dropped int
	)
	flush := func() {
		text := strings.TrimRight(string(line), "\r")
		if dropped > 0 {
			text += fmt.Sprintf(" [truncated %d bytes]", dropped)
		}
		emit(text)
		line, dropped = line[:0], 0
	}

	for {
		chunk, err := br.ReadSlice('\n')
		complete := err == nil
		if complete {
			chunk = chunk[:len(chunk)-1]
		}
		if room := limit - len(line); room < len(chunk) {
			line = append(line, chunk[:max(room, 0)]...)
			dropped += len(chunk) - max(room, 0)
		} else {
			line = append(line, chunk...)
		}

		switch {
		case complete:
			flush()
		case errors.Is(err, bufio.ErrBufferFull):
			// rest of the line follows
		case errors.Is(err, io.EOF):
			if len(line) > 0 || dropped > 0 {
				flush()
			}
			return nil
		default:
			if len(line) > 0 || dropped > 0 {
				flush()
			}
			return err
		}
	}
}

// wait reaps the process once both streams are drained.
func (s *Supervisor) wait(wg *sync.WaitGroup, proc Process) {
	wg.Wait()
	res, err := proc.Wait()

	s.mu.Lock()
	s.state = StateTerminated
	s.exit = res
	s.mu.Unlock()

	s.collector.IncBackendExit()
	fields := map[string]any{"pid": proc.PID(), "exit_code": res.ExitCode}
	if err != nil {
		fields["error"] = err.Error()
	}
	s.logger.Info("backend exited", fields)
	s.book.Systemf("Backend exited with code %d", res.ExitCode)
	s.book.Close()
	close(s.done)
}

// Stop terminates the backend and its descendants, then waits for exit or
// ctx. Stop on an exited backend is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	state, proc, pid, grace := s.state, s.proc, s.pid, s.killGrace
	s.mu.Unlock()

	switch state {
	case StateIdle, StateSpawning:
		return ErrNotStarted
	case StateFailed, StateTerminated:
		return nil
	}

	s.logger.Info("stopping backend", map[string]any{"pid": pid})
	if err := s.terminate(ctx, pid, grace, s.done); err != nil {
		s.logger.Warn("process tree termination failed, killing root", map[string]any{
			"pid":   pid,
			"error": err.Error(),
		})
		_ = proc.Kill()
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		_ = proc.Kill()
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID returns the backend pid, or 0 before spawn.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// Err returns the recorded spawn error.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Exit returns the exit result once Done is closed.
func (s *Supervisor) Exit() ExitResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exit
}

// Done is closed when the backend has exited or failed to spawn.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}
