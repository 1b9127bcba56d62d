// Package readiness decides when the backend is usable.
//
// Two signals race: the readiness marker in the backend's output, and a
// health poll against the gateway. Whichever fires first moves the state to
// Ready exactly once and schedules the one-shot reveal. If neither fires
// before the safety timeout, the reveal is forced but the state stays
// non-Ready (degraded start).
package readiness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/nimbus/log"
	"github.com/pithecene-io/nimbus/metrics"
	"github.com/pithecene-io/nimbus/types"
)

// Defaults.
const (
	DefaultMarker       = "Application startup complete"
	DefaultPollInterval = time.Second
	DefaultTimeout      = 5 * time.Second
	DefaultRevealDelay  = 500 * time.Millisecond
)

var (
	// ErrNotReady is returned by RequireReady while the backend is not Ready.
	ErrNotReady = errors.New("backend not ready")
	// ErrBackendExited is recorded when output ends before readiness.
	ErrBackendExited = errors.New("backend exited before becoming ready")
)

// Config configures a Monitor. Zero fields take the defaults.
type Config struct {
	Marker       string
	PollInterval time.Duration
	Timeout      time.Duration
	RevealDelay  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Marker == "" {
		c.Marker = DefaultMarker
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RevealDelay < 0 {
		c.RevealDelay = 0
	}
	return c
}

// Revealer performs the one-shot UI reveal.
type Revealer interface {
	Reveal() error
}

// RevealFunc adapts a function to Revealer.
type RevealFunc func() error

// Reveal implements Revealer.
func (f RevealFunc) Reveal() error { return f() }

// HealthChecker probes the backend. Implemented by *gateway.Client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (*types.HealthCheck, error)
}

// EventKind classifies monitor notifications.
type EventKind string

const (
	EventReady    EventKind = "ready"
	EventDegraded EventKind = "degraded"
	EventFailed   EventKind = "failed"
	EventRevealed EventKind = "revealed"
)

// Event is delivered to listeners on every notable change.
type Event struct {
	Kind   EventKind
	State  types.ReadinessState
	Signal types.ReadySignal
	Err    error
	At     time.Time
}

// Listener receives monitor events. Called synchronously; must not block.
type Listener func(Event)

// Transition records one state change.
type Transition struct {
	From   types.ReadinessState
	To     types.ReadinessState
	Signal types.ReadySignal
	At     time.Time
}

// Monitor tracks readiness for one session.
type Monitor struct {
	cfg       Config
	revealer  Revealer
	logger    *log.Logger
	collector *metrics.Collector
	listeners []Listener

	mu          sync.Mutex
	state       types.ReadinessState
	signal      types.ReadySignal
	err         error
	degraded    bool
	transitions []Transition

	settled    chan struct{}
	revealed   chan struct{}
	revealOnce sync.Once

	// revealMu serializes the reveal against Stop.
	revealMu    sync.Mutex
	revealTimer *time.Timer
	stopped     bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the structured logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithCollector sets the metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(m *Monitor) { m.collector = c }
}

// WithListener registers a listener.
func WithListener(fn Listener) Option {
	return func(m *Monitor) { m.listeners = append(m.listeners, fn) }
}

// New creates a monitor in the Init state. revealer may be nil.
func New(cfg Config, revealer Revealer, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:      cfg.withDefaults(),
		revealer: revealer,
		logger:   log.Nop(),
		state:    types.ReadinessInit,
		settled:  make(chan struct{}),
		revealed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current readiness state.
func (m *Monitor) State() types.ReadinessState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Signal returns which signal produced Ready, if any.
func (m *Monitor) Signal() types.ReadySignal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signal
}

// Err returns the failure recorded by Fail.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Degraded reports whether the reveal was forced by the safety timeout
// without the backend being Ready.
func (m *Monitor) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded && m.state != types.ReadinessReady
}

// Transitions returns a copy of the transition history.
func (m *Monitor) Transitions() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.transitions...)
}

// Settled is closed once the state is Ready or Failed.
func (m *Monitor) Settled() <-chan struct{} { return m.settled }

// Revealed is closed once the reveal has fired.
func (m *Monitor) Revealed() <-chan struct{} { return m.revealed }

// RequireReady returns ErrNotReady unless the backend is Ready.
func (m *Monitor) RequireReady() error {
	if s := m.State(); s != types.ReadinessReady {
		return fmt.Errorf("%w (state %s)", ErrNotReady, s)
	}
	return nil
}

// WaitReady blocks until the state settles or ctx ends.
// Returns nil on Ready and the recorded failure on Failed.
func (m *Monitor) WaitReady(ctx context.Context) error {
	select {
	case <-m.settled:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := m.Err(); err != nil {
		return err
	}
	return nil
}

// MarkStarting moves Init to Starting. Returns false if already past Init.
func (m *Monitor) MarkStarting() bool {
	return m.transition(types.ReadinessStarting, types.SignalNone, nil)
}

// Observe inspects one line. A process line containing the marker moves
// the state to Ready; repeats are ignored. Returns true on the transition.
func (m *Monitor) Observe(line types.LogLine) bool {
	if !line.Source.IsProcess() || !strings.Contains(line.Text, m.cfg.Marker) {
		return false
	}
	return m.markReady(types.SignalMarker)
}

// Fail moves the state to Failed and reveals immediately so the user sees
// the failure. No-op once settled.
func (m *Monitor) Fail(err error) bool {
	if err == nil {
		err = errors.New("unknown failure")
	}
	if !m.transition(types.ReadinessFailed, types.SignalNone, err) {
		return false
	}
	m.collector.IncReadiness(metrics.ReadinessFailed)
	m.logger.Error("readiness failed", map[string]any{"error": err.Error()})
	m.emit(Event{Kind: EventFailed, State: types.ReadinessFailed, Err: err})
	m.reveal(0)
	return true
}

func (m *Monitor) markReady(sig types.ReadySignal) bool {
	if !m.transition(types.ReadinessReady, sig, nil) {
		return false
	}
	m.collector.IncReadiness(string(sig))
	m.logger.Info("backend ready", map[string]any{"signal": string(sig)})
	m.emit(Event{Kind: EventReady, State: types.ReadinessReady, Signal: sig})
	m.reveal(m.cfg.RevealDelay)
	return true
}

// transition applies a forward transition. Returns false if invalid.
func (m *Monitor) transition(next types.ReadinessState, sig types.ReadySignal, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.CanTransition(next) {
		return false
	}
	m.transitions = append(m.transitions, Transition{
		From:   m.state,
		To:     next,
		Signal: sig,
		At:     time.Now(),
	})
	m.state = next
	if sig != types.SignalNone {
		m.signal = sig
	}
	if err != nil {
		m.err = err
	}
	if next.IsTerminal() {
		close(m.settled)
	}
	return true
}

// reveal fires the revealer once, after delay.
func (m *Monitor) reveal(delay time.Duration) {
	m.revealOnce.Do(func() {
		if delay <= 0 {
			m.fire()
			return
		}
		m.revealMu.Lock()
		if !m.stopped {
			m.revealTimer = time.AfterFunc(delay, m.fire)
		}
		m.revealMu.Unlock()
	})
}

func (m *Monitor) fire() {
	m.revealMu.Lock()
	if m.stopped {
		m.revealMu.Unlock()
		return
	}
	if m.revealer != nil {
		if err := m.revealer.Reveal(); err != nil {
			m.logger.Warn("reveal failed", map[string]any{"error": err.Error()})
		}
	}
	close(m.revealed)
	m.revealMu.Unlock()

	m.emit(Event{Kind: EventRevealed, State: m.State()})
}

// Stop cancels a pending reveal and suppresses any later one. After Stop
// returns the revealer is never called again. Revealed stays open if the
// reveal had not fired.
func (m *Monitor) Stop() {
	m.revealMu.Lock()
	defer m.revealMu.Unlock()
	m.stopped = true
	if m.revealTimer != nil {
		m.revealTimer.Stop()
	}
}

func (m *Monitor) emit(ev Event) {
	ev.At = time.Now()
	for _, fn := range m.listeners {
		fn(ev)
	}
}

// Run drives detection until the state settles or ctx ends.
//
// Every line from lines is passed to Observe. When health is non-nil it is
// polled every PollInterval until it succeeds. The safety timeout forces
// the reveal and marks the session degraded but Run keeps watching, so a
// late marker or health success still moves the state to Ready. If lines
// closes before Ready, the state fails with ErrBackendExited.
//
// Returns nil on Ready, the failure on Failed, or ctx.Err().
func (m *Monitor) Run(ctx context.Context, lines <-chan types.LogLine, health HealthChecker) error {
	m.MarkStarting()

	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()
	if health != nil {
		go m.poll(pollCtx, health)
	}

	timeout := time.NewTimer(m.cfg.Timeout)
	defer timeout.Stop()

	for {
		select {
		case <-m.settled:
			return m.Err()
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			m.degrade()
		case line, ok := <-lines:
			if !ok {
				m.Fail(ErrBackendExited)
				return m.Err()
			}
			m.Observe(line)
		}
	}
}

// degrade handles the safety timeout.
func (m *Monitor) degrade() {
	m.mu.Lock()
	if m.state.IsTerminal() || m.degraded {
		m.mu.Unlock()
		return
	}
	m.degraded = true
	state := m.state
	m.mu.Unlock()

	m.collector.IncReadiness(metrics.ReadinessTimeout)
	m.logger.Warn("readiness timeout, revealing degraded", map[string]any{
		"timeout": m.cfg.Timeout.String(),
		"state":   string(state),
	})
	m.emit(Event{Kind: EventDegraded, State: state})
	m.reveal(0)
}

// poll probes health until success, settle, or cancellation.
func (m *Monitor) poll(ctx context.Context, health HealthChecker) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.settled:
			return
		case <-ticker.C:
		}

		m.collector.IncHealthPoll()
		if _, err := health.HealthCheck(ctx); err == nil {
			m.markReady(types.SignalHealth)
			return
		}
	}
}
