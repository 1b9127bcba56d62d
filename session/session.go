// Package session wires the companion layer together for one app session:
// provision -> lock -> configure gateway -> spawn backend -> readiness.
//
// A Session is created once per process and owns every component it
// constructs. Consumers reach the backend only through the session's
// gateway; the process, log and readiness state are read-only from outside.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/nimbus/adapter"
	"github.com/pithecene-io/nimbus/gateway"
	"github.com/pithecene-io/nimbus/log"
	"github.com/pithecene-io/nimbus/logbook"
	"github.com/pithecene-io/nimbus/metrics"
	"github.com/pithecene-io/nimbus/provision"
	"github.com/pithecene-io/nimbus/readiness"
	"github.com/pithecene-io/nimbus/store"
	"github.com/pithecene-io/nimbus/supervisor"
	"github.com/pithecene-io/nimbus/transfer"
	"github.com/pithecene-io/nimbus/types"
)

// DefaultStopTimeout bounds backend teardown in Close.
const DefaultStopTimeout = 5 * time.Second

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("session closed")

// Config configures a Session.
type Config struct {
	Backend   supervisor.Config
	Readiness readiness.Config
	Transfer  transfer.Config
	// GatewayTimeout bounds health, file-list and status calls. Zero uses the
	// gateway default. Login and transfers are bounded by their context only.
	GatewayTimeout time.Duration
	// LockPath enables the single-instance lock when non-empty.
	LockPath string
}

// Session is one app session.
type Session struct {
	cfg         Config
	meta        *types.SessionMeta
	logger      *log.Logger
	collector   *metrics.Collector
	provisioner provision.Provisioner

	book       *logbook.Book
	gateway    *gateway.Client
	supervisor *supervisor.Supervisor
	monitor    *readiness.Monitor
	tracker    *transfer.Tracker
	saver      store.Saver
	notifier   *adapter.Notifier
	lock       *instanceLock

	// Construction-time inputs consumed by New.
	launcher   supervisor.Launcher
	terminator supervisor.TreeTerminator
	gwOpts     []gateway.Option
	revealer   readiness.Revealer
	sink       logbook.Sink
	adapter    adapter.Adapter

	status *statusBoard

	startOnce sync.Once
	startErr  error
	server    types.ServerConfig

	mu     sync.Mutex
	files  []types.DriveFile
	closed bool
	cancel context.CancelFunc
	runWG  sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Session.
type Option func(*Session)

// WithMeta sets the session metadata. Defaults to a fresh session ID.
func WithMeta(meta *types.SessionMeta) Option {
	return func(s *Session) { s.meta = meta }
}

// WithLogger sets the structured logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithCollector sets the metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(s *Session) { s.collector = c }
}

// WithLauncher replaces the process launcher.
func WithLauncher(l supervisor.Launcher) Option {
	return func(s *Session) { s.launcher = l }
}

// WithTreeTerminator replaces the process-tree terminator.
func WithTreeTerminator(t supervisor.TreeTerminator) Option {
	return func(s *Session) { s.terminator = t }
}

// WithGatewayOptions passes extra options to the gateway client.
func WithGatewayOptions(opts ...gateway.Option) Option {
	return func(s *Session) { s.gwOpts = append(s.gwOpts, opts...) }
}

// WithRevealer sets the UI reveal target (splash -> main view).
func WithRevealer(r readiness.Revealer) Option {
	return func(s *Session) { s.revealer = r }
}

// WithSaver sets where downloads are persisted. Defaults to memory.
func WithSaver(sv store.Saver) Option {
	return func(s *Session) { s.saver = sv }
}

// WithAdapter enables lifecycle notifications.
func WithAdapter(a adapter.Adapter) Option {
	return func(s *Session) { s.adapter = a }
}

// WithLogSink adds a sink receiving every log line.
func WithLogSink(sink logbook.Sink) Option {
	return func(s *Session) { s.sink = sink }
}

// WithStatusListener registers fn for status message changes.
func WithStatusListener(fn func(string)) Option {
	return func(s *Session) { s.status.listen(fn) }
}

// New builds an idle session. Nothing is provisioned or spawned until Start.
func New(cfg Config, p provision.Provisioner, opts ...Option) *Session {
	s := &Session{
		cfg:         cfg,
		provisioner: p,
		logger:      log.Nop(),
		status:      newStatusBoard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.meta == nil {
		s.meta = types.NewSessionMeta()
	}
	if s.saver == nil {
		s.saver = store.NewMemorySaver().WithCollector(s.collector)
	}

	s.book = logbook.New()
	s.book.AddSink(&logbook.LoggerSink{Logger: s.logger.Named("backend")})
	if s.sink != nil {
		s.book.AddSink(s.sink)
	}

	gwOpts := append([]gateway.Option{
		gateway.WithLogger(s.logger.Named("gateway")),
		gateway.WithCollector(s.collector),
	}, s.gwOpts...)
	if cfg.GatewayTimeout > 0 {
		gwOpts = append(gwOpts, gateway.WithTimeout(cfg.GatewayTimeout))
	}
	s.gateway = gateway.New(gwOpts...)

	supOpts := []supervisor.Option{
		supervisor.WithLogger(s.logger.Named("supervisor")),
		supervisor.WithCollector(s.collector),
	}
	if s.launcher != nil {
		supOpts = append(supOpts, supervisor.WithLauncher(s.launcher))
	}
	if s.terminator != nil {
		supOpts = append(supOpts, supervisor.WithTreeTerminator(s.terminator))
	}
	s.supervisor = supervisor.New(s.book, supOpts...)

	s.monitor = readiness.New(cfg.Readiness, s.revealer,
		readiness.WithLogger(s.logger.Named("readiness")),
		readiness.WithCollector(s.collector),
		readiness.WithListener(s.onReadiness),
	)

	s.tracker = transfer.New(s.gateway, cfg.Transfer,
		transfer.WithLogger(s.logger.Named("transfer")),
		transfer.WithCollector(s.collector),
	)

	s.notifier = adapter.NewNotifier(s.adapter, s.meta, s.logger.Named("adapter"))
	if cfg.LockPath != "" {
		s.lock = newInstanceLock(cfg.LockPath)
	}
	return s
}

// Start runs the bootstrap sequence once. Later calls return the first
// call's result.
//
// Provisioning, lock, configuration and spawn failures are terminal: the
// status becomes StatusFailed, a [CRITICAL] line is logged, readiness
// fails (forcing the reveal) and the error is returned. Readiness detection
// continues in the background after a successful Start; use WaitReady.
func (s *Session) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		s.startErr = s.start(ctx)
	})
	return s.startErr
}

func (s *Session) start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.setStatus(StatusInitializing)
	s.logger.Info("session starting", map[string]any{
		"version": types.Version,
		"binary":  s.cfg.Backend.Binary,
	})

	if err := s.lock.acquire(); err != nil {
		return s.fail(err, "Another session is already running: %v")
	}

	server, err := provision.Obtain(ctx, s.provisioner)
	if err != nil {
		return s.fail(err, "Failed to get server config: %v")
	}
	s.server = server
	s.book.Systemf("Server config received: port %d, token %s", server.Port, server.TokenPrefix())

	if err := s.gateway.Configure(server); err != nil {
		return s.fail(err, "Gateway configuration failed: %v")
	}

	// The supervisor logs its own [CRITICAL] line on spawn failure.
	if err := s.supervisor.Start(runCtx, s.cfg.Backend, server); err != nil {
		return s.fail(err, "")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		// Close ran while spawning and found nothing to stop.
		stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultStopTimeout)
		defer stopCancel()
		_ = s.supervisor.Stop(stopCtx)
		return ErrClosed
	}
	s.runWG.Add(2)
	s.mu.Unlock()

	followCtx, stopFollow := context.WithCancel(runCtx)
	lines := s.book.Follow(followCtx)
	go func() {
		defer s.runWG.Done()
		defer stopFollow()
		if err := s.monitor.Run(runCtx, lines, s.gateway); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("readiness detection ended", map[string]any{"error": err.Error()})
		}
	}()
	go func() {
		defer s.runWG.Done()
		s.watchExit(runCtx)
	}()
	return nil
}

// fail records a terminal bootstrap error.
func (s *Session) fail(err error, critical string) error {
	if critical != "" {
		s.book.Criticalf(critical, err)
	}
	s.logger.Error("session bootstrap failed", map[string]any{"error": err.Error()})
	s.monitor.Fail(err)
	s.setStatus(StatusFailed)
	s.book.Close()
	return err
}

// watchExit reports a backend that exits after the session came up.
func (s *Session) watchExit(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-s.supervisor.Done():
	}
	if s.monitor.State() == types.ReadinessReady {
		s.setStatus(StatusOffline)
	}
}

// onReadiness maps readiness events to status and notifications.
func (s *Session) onReadiness(ev readiness.Event) {
	switch ev.Kind {
	case readiness.EventReady:
		s.setStatus(StatusOnline)
		s.book.Systemf("Backend ready (%s)", ev.Signal)
		s.notifier.Notify(adapter.SessionEvent{
			EventType: adapter.EventSessionReady,
			State:     string(ev.State),
			Signal:    string(ev.Signal),
		})
	case readiness.EventDegraded:
		s.setStatus(StatusDegraded)
		s.book.Systemf("Backend not confirmed ready after %s; continuing", s.readinessTimeout())
		s.notifier.Notify(adapter.SessionEvent{
			EventType: adapter.EventSessionDegraded,
			State:     string(ev.State),
		})
	case readiness.EventFailed:
		s.setStatus(StatusFailed)
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		if errors.Is(ev.Err, readiness.ErrBackendExited) {
			s.book.Criticalf("%v", ev.Err)
		}
		s.notifier.Notify(adapter.SessionEvent{
			EventType: adapter.EventSessionFailed,
			State:     string(ev.State),
			Error:     msg,
		})
	case readiness.EventRevealed:
		s.logger.Debug("ui revealed", map[string]any{"state": string(ev.State)})
	}
}

func (s *Session) readinessTimeout() time.Duration {
	if s.cfg.Readiness.Timeout > 0 {
		return s.cfg.Readiness.Timeout
	}
	return readiness.DefaultTimeout
}

// WaitReady blocks until readiness settles. Returns nil on Ready.
func (s *Session) WaitReady(ctx context.Context) error {
	return s.monitor.WaitReady(ctx)
}

// WaitRevealed blocks until the reveal has fired.
func (s *Session) WaitRevealed(ctx context.Context) error {
	select {
	case <-s.monitor.Revealed():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the backend and releases session resources. Safe to call
// more than once and before Start.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close(ctx)
	})
	return s.closeErr
}

func (s *Session) close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	// Nothing may reach the host once teardown starts, including the
	// failure reveal triggered by the backend exiting below.
	s.monitor.Stop()

	stopCtx, stopCancel := context.WithTimeout(ctx, DefaultStopTimeout)
	defer stopCancel()

	var errs []error
	if err := s.supervisor.Stop(stopCtx); err != nil && !errors.Is(err, supervisor.ErrNotStarted) {
		errs = append(errs, fmt.Errorf("stop backend: %w", err))
	}
	if cancel != nil {
		cancel()
	}
	s.runWG.Wait()
	s.book.Close()

	if err := s.gateway.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.notifier.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close adapter: %w", err))
	}
	if err := s.lock.release(); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("session closed", map[string]any{
		"state":  string(s.monitor.State()),
		"status": s.Status(),
	})
	return errors.Join(errs...)
}

// Meta returns the session metadata.
func (s *Session) Meta() *types.SessionMeta { return s.meta }

// Book returns the diagnostic log.
func (s *Session) Book() *logbook.Book { return s.book }

// Gateway returns the session's backend client.
func (s *Session) Gateway() *gateway.Client { return s.gateway }

// Monitor returns the readiness monitor.
func (s *Session) Monitor() *readiness.Monitor { return s.monitor }

// Tracker returns the transfer tracker.
func (s *Session) Tracker() *transfer.Tracker { return s.tracker }

// Supervisor returns the backend supervisor.
func (s *Session) Supervisor() *supervisor.Supervisor { return s.supervisor }

// Collector returns the metrics collector, which may be nil.
func (s *Session) Collector() *metrics.Collector { return s.collector }

// Server returns the redacted server config once provisioned.
func (s *Session) Server() types.ServerConfigRedacted { return s.server.Redact() }

// Readiness returns the current readiness state.
func (s *Session) Readiness() types.ReadinessState { return s.monitor.State() }

// Degraded reports a timeout-forced reveal without readiness.
func (s *Session) Degraded() bool { return s.monitor.Degraded() }

// LogSince returns log lines after cursor since and the next cursor.
func (s *Session) LogSince(since uint64, limit int) ([]types.LogLine, uint64) {
	return s.book.Since(since, limit)
}
