package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/nimbus/adapter"
	"github.com/pithecene-io/nimbus/adapter/redis"
	"github.com/pithecene-io/nimbus/adapter/webhook"
	"github.com/pithecene-io/nimbus/cli/config"
	"github.com/pithecene-io/nimbus/iox"
	"github.com/pithecene-io/nimbus/log"
	"github.com/pithecene-io/nimbus/metrics"
	"github.com/pithecene-io/nimbus/provision"
	"github.com/pithecene-io/nimbus/readiness"
	"github.com/pithecene-io/nimbus/session"
	"github.com/pithecene-io/nimbus/store"
	"github.com/pithecene-io/nimbus/supervisor"
	"github.com/pithecene-io/nimbus/transfer"
	"github.com/pithecene-io/nimbus/types"
)

// Exit codes shared by all session commands.
const (
	exitSuccess        = 0
	exitOperationError = 1
	exitBootstrapError = 2
	exitNotReady       = 3
)

// shutdownTimeout bounds session teardown after a command finishes.
const shutdownTimeout = 10 * time.Second

// loadConfig reads .env, the config file (explicit or discovered) and
// overlays command-line flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if err := config.LoadDotEnv(config.DotEnvFile); err != nil {
		return nil, err
	}

	path := c.String("config")
	if path == "" {
		path = config.Discover(".")
	}
	cfg := &config.Config{}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyFlags(c, cfg)
	if cfg.Backend.Binary == "" {
		return nil, errors.New("no backend configured: set backend.binary in nimbus.yaml or pass --backend")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyFlags overlays explicitly set flags onto cfg.
func applyFlags(c *cli.Context, cfg *config.Config) {
	cfg.Backend.Binary = resolveString(c, "backend", cfg.Backend.Binary)
	cfg.Server.Port = resolveInt(c, "port", cfg.Server.Port)
	cfg.Downloads.Path = resolveString(c, "downloads", cfg.Downloads.Path)
	cfg.Downloads.Backend = resolveString(c, "downloads-backend", cfg.Downloads.Backend)
	cfg.Readiness.Timeout.Duration = resolveDuration(c, "ready-timeout", cfg.Readiness.Timeout.Duration)
	cfg.Adapter.Type = resolveString(c, "adapter", cfg.Adapter.Type)
	cfg.Adapter.URL = resolveString(c, "adapter-url", cfg.Adapter.URL)
	cfg.Log.Level = resolveString(c, "log-level", cfg.Log.Level)
	cfg.Log.File = resolveString(c, "log-file", cfg.Log.File)
	if c.Bool("no-lock") {
		cfg.Session.LockPath = ""
	}
}

// sessionConfig maps the file config onto session.Config.
func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Backend: supervisor.Config{
			Binary:    cfg.Backend.Binary,
			Args:      cfg.Backend.Args,
			Dir:       cfg.Backend.Dir,
			Env:       cfg.Backend.EnvList(),
			KillGrace: cfg.Backend.KillGrace.Duration,
		},
		Readiness: readiness.Config{
			Marker:       cfg.Readiness.Marker,
			PollInterval: cfg.Readiness.PollInterval.Duration,
			Timeout:      cfg.Readiness.Timeout.Duration,
			RevealDelay:  cfg.Readiness.RevealDelay.Duration,
		},
		Transfer: transfer.Config{
			PollInterval: cfg.Transfer.PollInterval.Duration,
			StallAfter:   cfg.Transfer.StallAfter,
		},
		GatewayTimeout: cfg.Gateway.Timeout.Duration,
		LockPath:       cfg.Session.LockPath,
	}
}

// buildProvisioner picks static provisioning when a token is configured
// and in-process host provisioning otherwise.
func buildProvisioner(cfg *config.Config) provision.Provisioner {
	if cfg.Server.Token != "" {
		return &provision.StaticProvisioner{Config: types.ServerConfig{
			Port:  cfg.Server.Port,
			Token: cfg.Server.Token,
		}}
	}
	return &provision.HostProvisioner{Port: cfg.Server.Port}
}

// downloadsBackend returns the configured storage backend name.
func downloadsBackend(cfg *config.Config) string {
	if cfg.Downloads.Backend == "" {
		return config.DownloadsFS
	}
	return cfg.Downloads.Backend
}

// defaultDownloadsDir is ~/Downloads, or ./downloads without a home.
func defaultDownloadsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "downloads"
	}
	return filepath.Join(home, "Downloads")
}

// buildSaver creates the download store.
func buildSaver(ctx context.Context, cfg *config.Config, collector *metrics.Collector) (*store.LodeSaver, error) {
	var (
		saver *store.LodeSaver
		err   error
	)
	switch downloadsBackend(cfg) {
	case config.DownloadsFS:
		dir := cfg.Downloads.Path
		if dir == "" {
			dir = defaultDownloadsDir()
		}
		saver, err = store.NewFSSaver(dir)
	case config.DownloadsS3:
		bucket, prefix := store.ParseS3Path(cfg.Downloads.Path)
		saver, err = store.NewS3Saver(ctx, store.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Downloads.Region,
			Endpoint:     cfg.Downloads.Endpoint,
			UsePathStyle: cfg.Downloads.S3PathStyle,
		})
	case config.DownloadsMemory:
		saver = store.NewMemorySaver()
	default:
		return nil, fmt.Errorf("unknown downloads backend %q (must be fs, s3 or memory)", cfg.Downloads.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create download store: %w", err)
	}
	return saver.WithCollector(collector), nil
}

// buildAdapter creates the lifecycle notification adapter, or nil when
// none is configured.
func buildAdapter(cfg *config.Config) (adapter.Adapter, error) {
	ac := cfg.Adapter
	retries := -1
	if ac.Retries != nil {
		retries = *ac.Retries
	}

	switch ac.Type {
	case "":
		return nil, nil
	case config.AdapterWebhook:
		if retries < 0 {
			retries = webhook.DefaultRetries
		}
		return webhook.New(webhook.Config{
			URL:     ac.URL,
			Headers: ac.Headers,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
	case config.AdapterRedis:
		if retries < 0 {
			retries = redis.DefaultRetries
		}
		return redis.New(redis.Config{
			URL:             ac.URL,
			Channel:         ac.Channel,
			PerEventChannel: ac.PerEventChannel,
			SnapshotTTL:     ac.SnapshotTTL.Duration,
			Timeout:         ac.Timeout.Duration,
			Retries:         retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q (must be webhook or redis)", ac.Type)
	}
}

// buildLogger creates the structured logger. The returned closer releases
// the log file, if any.
func buildLogger(cfg *config.Config, meta *types.SessionMeta) (*log.Logger, io.Closer, error) {
	level := zapcore.InfoLevel
	if cfg.Log.Level != "" {
		var err error
		level, err = log.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
		}
	}

	if cfg.Log.File == "" {
		return log.NewLoggerWithWriter(meta, os.Stderr, level), iox.NopCloser{}, nil
	}
	f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return log.NewLoggerWithWriter(meta, f, level), f, nil
}

// env is a configured, not yet started session plus its resources.
type env struct {
	cfg       *config.Config
	meta      *types.SessionMeta
	logger    *log.Logger
	logOut    io.Closer
	collector *metrics.Collector
	saver     *store.LodeSaver
	session   *session.Session
}

// newEnv wires config, logger, store, adapter and session together.
// Extra options are applied after the defaults.
func newEnv(c *cli.Context, p provision.Provisioner, extra ...session.Option) (*env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return newEnvFromConfig(c.Context, cfg, p, extra...)
}

// newEnvFromConfig is newEnv without the flag layer. A nil provisioner
// selects one from cfg.
func newEnvFromConfig(ctx context.Context, cfg *config.Config, p provision.Provisioner, extra ...session.Option) (*env, error) {
	meta := types.NewSessionMeta()
	logger, logOut, err := buildLogger(cfg, meta)
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector(meta.SessionID, downloadsBackend(cfg))
	saver, err := buildSaver(ctx, cfg, collector)
	if err != nil {
		_ = logOut.Close()
		return nil, err
	}
	a, err := buildAdapter(cfg)
	if err != nil {
		_ = logOut.Close()
		return nil, fmt.Errorf("failed to create adapter: %w", err)
	}
	if p == nil {
		p = buildProvisioner(cfg)
	}

	opts := []session.Option{
		session.WithMeta(meta),
		session.WithLogger(logger),
		session.WithCollector(collector),
		session.WithSaver(saver),
	}
	if a != nil {
		opts = append(opts, session.WithAdapter(a))
	}
	opts = append(opts, extra...)

	logger.Info("session configured", map[string]any{
		"backend":   cfg.Backend.Binary,
		"downloads": saver.Backend(),
		"location":  saver.Location(),
		"adapter":   cfg.Adapter.Type,
	})

	return &env{
		cfg:       cfg,
		meta:      meta,
		logger:    logger,
		logOut:    logOut,
		collector: collector,
		saver:     saver,
		session:   session.New(sessionConfig(cfg), p, opts...),
	}, nil
}

// close tears the session down and flushes the logger.
func (e *env) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := e.session.Close(ctx)
	e.logger.Info("session metrics", map[string]any{"metrics": e.collector.Snapshot()})
	_ = e.logger.Sync()
	return errors.Join(err, e.logOut.Close())
}

// awaitReady starts the session and blocks until the reveal: the backend
// is Ready, readiness failed, or the safety timeout fired. The returned error is a
// cli.ExitCoder carrying the bootstrap or not-ready exit code.
func (e *env) awaitReady(ctx context.Context) error {
	if err := e.session.Start(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("session bootstrap failed: %v", err), exitBootstrapError)
	}

	// Every readiness outcome ends in the reveal, after its status update.
	mon := e.session.Monitor()
	select {
	case <-mon.Revealed():
	case <-ctx.Done():
		return cli.Exit("interrupted", exitOperationError)
	}

	if err := mon.Err(); err != nil {
		return cli.Exit(fmt.Sprintf("backend failed: %v", err), exitBootstrapError)
	}
	if err := mon.RequireReady(); err != nil {
		return cli.Exit(fmt.Sprintf("%s: %v", e.session.Status(), err), exitNotReady)
	}
	return nil
}

// withSession runs fn against a Ready session and tears it down.
func withSession(c *cli.Context, fn func(ctx context.Context, e *env) error) error {
	e, err := newEnv(c, nil)
	if err != nil {
		return cli.Exit(err.Error(), exitBootstrapError)
	}

	ctx, stop := signalContext(c.Context)
	defer stop()

	runErr := e.awaitReady(ctx)
	if runErr == nil {
		runErr = fn(ctx, e)
	}
	if err := e.close(); err != nil {
		e.logger.Warn("session teardown failed", map[string]any{"error": err.Error()})
	}
	return runErr
}

// operationError wraps a failed call with the operation exit code.
func operationError(what string, err error) error {
	return cli.Exit(fmt.Sprintf("%s: %v", what, err), exitOperationError)
}
