package readiness

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/nimbus/metrics"
	"github.com/pithecene-io/nimbus/types"
)

type revealCounter struct {
	n atomic.Int32
}

func (r *revealCounter) Reveal() error {
	r.n.Add(1)
	return nil
}

func fastConfig() Config {
	return Config{
		PollInterval: 5 * time.Millisecond,
		Timeout:      time.Minute,
		RevealDelay:  time.Millisecond,
	}
}

func out(text string) types.LogLine {
	return types.LogLine{Source: types.LogSourceStdout, Text: text}
}

func waitRevealed(t *testing.T, m *Monitor) {
	t.Helper()
	select {
	case <-m.Revealed():
	case <-time.After(2 * time.Second):
		t.Fatal("reveal did not fire")
	}
}

func TestObserve_MarkerOnce(t *testing.T) {
	r := &revealCounter{}
	c := metrics.NewCollector("sess", "fs")
	m := New(fastConfig(), r, WithCollector(c))
	m.MarkStarting()

	if !m.Observe(out("INFO:     Application startup complete.")) {
		t.Fatal("first marker should transition")
	}
	if m.Observe(out("Application startup complete")) {
		t.Error("second marker should be ignored")
	}
	if m.State() != types.ReadinessReady {
		t.Errorf("State = %s, want ready", m.State())
	}

	trs := m.Transitions()
	if len(trs) != 2 {
		t.Fatalf("transitions = %+v, want 2", trs)
	}
	if trs[1].From != types.ReadinessStarting || trs[1].To != types.ReadinessReady || trs[1].Signal != types.SignalMarker {
		t.Errorf("transition = %+v", trs[1])
	}

	waitRevealed(t, m)
	time.Sleep(10 * time.Millisecond)
	if r.n.Load() != 1 {
		t.Errorf("reveal fired %d times, want 1", r.n.Load())
	}
	if got := c.Snapshot().Readiness[metrics.ReadinessMarker]; got != 1 {
		t.Errorf("marker readiness count = %d, want 1", got)
	}
}

func TestObserve_IgnoresSystemLinesAndOthers(t *testing.T) {
	m := New(fastConfig(), nil)
	m.MarkStarting()

	if m.Observe(types.LogLine{Source: types.LogSourceSystem, Text: "[SYS] Application startup complete"}) {
		t.Error("system lines must not count as the marker")
	}
	if m.Observe(out("Waiting for application startup.")) {
		t.Error("unrelated line transitioned")
	}
	if m.State() != types.ReadinessStarting {
		t.Errorf("State = %s, want starting", m.State())
	}
}

func TestObserve_StderrMarker(t *testing.T) {
	m := New(fastConfig(), nil)
	m.MarkStarting()
	if !m.Observe(types.LogLine{Source: types.LogSourceStderr, Text: "INFO: Application startup complete."}) {
		t.Error("marker on stderr should transition")
	}
}

func TestObserve_CustomMarker(t *testing.T) {
	cfg := fastConfig()
	cfg.Marker = "listening on"
	m := New(cfg, nil)
	m.MarkStarting()
	if !m.Observe(out("server listening on :8080")) {
		t.Error("custom marker not detected")
	}
}

func TestFail_RevealsImmediatelyAndAbsorbs(t *testing.T) {
	r := &revealCounter{}
	cfg := fastConfig()
	cfg.RevealDelay = time.Hour
	m := New(cfg, r)
	m.MarkStarting()

	boom := errors.New("spawn failed")
	if !m.Fail(boom) {
		t.Fatal("Fail should transition")
	}
	waitRevealed(t, m)

	if m.Observe(out("Application startup complete")) {
		t.Error("Failed must be absorbing")
	}
	if m.Fail(errors.New("again")) {
		t.Error("second Fail should be a no-op")
	}
	if m.State() != types.ReadinessFailed {
		t.Errorf("State = %s, want failed", m.State())
	}
	if !errors.Is(m.Err(), boom) {
		t.Errorf("Err = %v, want %v", m.Err(), boom)
	}
	if r.n.Load() != 1 {
		t.Errorf("reveal fired %d times, want 1", r.n.Load())
	}
}

func TestRequireReady(t *testing.T) {
	m := New(fastConfig(), nil)
	if err := m.RequireReady(); !errors.Is(err, ErrNotReady) {
		t.Errorf("RequireReady before ready = %v, want ErrNotReady", err)
	}
	m.MarkStarting()
	m.Observe(out(DefaultMarker))
	if err := m.RequireReady(); err != nil {
		t.Errorf("RequireReady after ready = %v", err)
	}
}

func TestRun_MarkerFromStream(t *testing.T) {
	r := &revealCounter{}
	m := New(fastConfig(), r)

	lines := make(chan types.LogLine, 3)
	lines <- out("booting")
	lines <- out("Application startup complete")
	lines <- out("Application startup complete")

	if err := m.Run(t.Context(), lines, nil); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
	if m.Signal() != types.SignalMarker {
		t.Errorf("Signal = %q, want marker", m.Signal())
	}
	waitRevealed(t, m)
}

type flakyHealth struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (h *flakyHealth) HealthCheck(context.Context) (*types.HealthCheck, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.calls <= h.failures {
		return nil, errors.New("connection refused")
	}
	return &types.HealthCheck{Status: "online"}, nil
}

func TestRun_HealthFallback(t *testing.T) {
	r := &revealCounter{}
	h := &flakyHealth{failures: 2}
	m := New(fastConfig(), r)

	lines := make(chan types.LogLine)
	if err := m.Run(t.Context(), lines, h); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
	if m.Signal() != types.SignalHealth {
		t.Errorf("Signal = %q, want health", m.Signal())
	}
	h.mu.Lock()
	calls := h.calls
	h.mu.Unlock()
	if calls != 3 {
		t.Errorf("health calls = %d, want 3", calls)
	}
	waitRevealed(t, m)
}

func TestRun_TimeoutRevealsDegraded(t *testing.T) {
	r := &revealCounter{}
	cfg := fastConfig()
	cfg.Timeout = 20 * time.Millisecond
	m := New(cfg, r)

	lines := make(chan types.LogLine)
	done := make(chan error, 1)
	go func() { done <- m.Run(t.Context(), lines, nil) }()

	waitRevealed(t, m)
	if m.State() == types.ReadinessReady {
		t.Fatal("timeout must not mark Ready")
	}
	if !m.Degraded() {
		t.Error("Degraded should be true after timeout")
	}
	if err := m.RequireReady(); !errors.Is(err, ErrNotReady) {
		t.Errorf("RequireReady = %v, want ErrNotReady", err)
	}

	// A late marker still completes readiness without a second reveal.
	lines <- out("Application startup complete")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after late marker")
	}
	if m.State() != types.ReadinessReady {
		t.Errorf("State = %s, want ready", m.State())
	}
	if m.Degraded() {
		t.Error("Degraded should clear once Ready")
	}
	if r.n.Load() != 1 {
		t.Errorf("reveal fired %d times, want 1", r.n.Load())
	}
}

func TestRun_StreamEndsBeforeReady(t *testing.T) {
	r := &revealCounter{}
	m := New(fastConfig(), r)

	lines := make(chan types.LogLine, 1)
	lines <- out("crashing")
	close(lines)

	err := m.Run(t.Context(), lines, nil)
	if !errors.Is(err, ErrBackendExited) {
		t.Fatalf("Run = %v, want ErrBackendExited", err)
	}
	if m.State() != types.ReadinessFailed {
		t.Errorf("State = %s, want failed", m.State())
	}
	waitRevealed(t, m)
}

func TestRun_ContextCancelled(t *testing.T) {
	m := New(fastConfig(), nil)
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	err := m.Run(ctx, make(chan types.LogLine), nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run = %v, want DeadlineExceeded", err)
	}
}

func TestWaitReady(t *testing.T) {
	m := New(fastConfig(), nil)
	m.MarkStarting()

	go func() {
		time.Sleep(5 * time.Millisecond)
		m.Observe(out(DefaultMarker))
	}()

	if err := m.WaitReady(t.Context()); err != nil {
		t.Errorf("WaitReady = %v", err)
	}
}

func TestListener(t *testing.T) {
	var mu sync.Mutex
	var kinds []EventKind
	m := New(fastConfig(), nil, WithListener(func(ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	}))
	m.MarkStarting()
	m.Observe(out(DefaultMarker))
	waitRevealed(t, m)
	time.Sleep(5 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 2 || kinds[0] != EventReady || kinds[1] != EventRevealed {
		t.Errorf("events = %v", kinds)
	}
}

func TestStop_CancelsPendingReveal(t *testing.T) {
	r := &revealCounter{}
	cfg := fastConfig()
	cfg.RevealDelay = 50 * time.Millisecond
	m := New(cfg, r)
	m.MarkStarting()
	m.Observe(out("Application startup complete"))

	m.Stop()
	time.Sleep(150 * time.Millisecond)

	if got := r.n.Load(); got != 0 {
		t.Errorf("reveal fired %d times after Stop", got)
	}
	select {
	case <-m.Revealed():
		t.Error("Revealed closed without a reveal")
	default:
	}
}

func TestStop_SuppressesFailureReveal(t *testing.T) {
	r := &revealCounter{}
	m := New(fastConfig(), r)
	m.MarkStarting()

	m.Stop()
	m.Fail(ErrBackendExited)

	if got := r.n.Load(); got != 0 {
		t.Errorf("reveal fired %d times after Stop", got)
	}
	if m.State() != types.ReadinessFailed {
		t.Errorf("State = %s, want failed", m.State())
	}
}
