package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/nimbus/cli/config"
	"github.com/pithecene-io/nimbus/cli/tui"
	"github.com/pithecene-io/nimbus/ipc"
	"github.com/pithecene-io/nimbus/logbook"
	"github.com/pithecene-io/nimbus/provision"
	"github.com/pithecene-io/nimbus/session"
	"github.com/pithecene-io/nimbus/types"
)

var _ tui.Controller = (*session.Session)(nil)

// DefaultTUILogFile receives structured logs while the TUI owns the terminal.
const DefaultTUILogFile = "nimbus.log"

// RunCommand returns the run command.
// Without --host-ipc it shows the interactive TUI; with it, nimbus runs
// headless under a native host shell that speaks frames on stdin/stdout.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the backend and the interactive session",
		Flags: append(SessionFlags(),
			&cli.BoolFlag{
				Name:  "host-ipc",
				Usage: "Run headless: read server_config from stdin, write status frames to stdout",
			},
		),
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitBootstrapError)
	}

	ctx, stop := signalContext(c.Context)
	defer stop()

	if c.Bool("host-ipc") {
		return runHostIPC(ctx, cfg, os.Stdin, os.Stdout, os.Stderr)
	}

	if cfg.Log.File == "" {
		cfg.Log.File = filepath.Join(os.TempDir(), DefaultTUILogFile)
	}
	e, err := newEnvFromConfig(ctx, cfg, nil)
	if err != nil {
		return cli.Exit(err.Error(), exitBootstrapError)
	}
	return runTUI(ctx, e)
}

// runTUI starts the session in the background so the splash is visible
// during bootstrap, then hands the terminal to the TUI.
func runTUI(ctx context.Context, e *env) error {
	startErr := make(chan error, 1)
	go func() { startErr <- e.session.Start(ctx) }()

	uiErr := tui.Run(ctx, e.session)
	if err := e.close(); err != nil {
		e.logger.Warn("session teardown failed", map[string]any{"error": err.Error()})
	}

	if uiErr != nil {
		return cli.Exit(fmt.Sprintf("tui: %v", uiErr), exitOperationError)
	}
	select {
	case err := <-startErr:
		if err != nil {
			return cli.Exit(fmt.Sprintf("session bootstrap failed: %v", err), exitBootstrapError)
		}
	default:
	}
	return nil
}

// runHostIPC runs the session under a host shell. The host sends the
// server config, receives close_splashscreen and status frames, and drives
// the session with menu events until it quits or closes the pipe.
func runHostIPC(ctx context.Context, cfg *config.Config, in io.Reader, out, logOut io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	channel := ipc.NewHostChannel(in, out)
	var echo atomic.Bool

	e, err := newEnvFromConfig(ctx, cfg, &provision.HostChannelProvisioner{Reader: channel},
		session.WithRevealer(channel),
		session.WithStatusListener(func(msg string) {
			_ = channel.SendStatus(msg)
		}),
		session.WithLogSink(logbook.FuncSink(func(line types.LogLine) {
			if echo.Load() {
				_, _ = fmt.Fprintln(logOut, line.String())
			}
		})),
	)
	if err != nil {
		return cli.Exit(err.Error(), exitBootstrapError)
	}

	startErr := e.session.Start(ctx)

	serveErr := channel.Serve(ctx, func(event string) {
		e.logger.Debug("menu event", map[string]any{"event": event})
		switch event {
		case ipc.MenuRefresh:
			go func() {
				_, _ = e.session.RefreshFiles(ctx)
			}()
		case ipc.MenuToggleLogs:
			echo.Store(!echo.Load())
		case ipc.MenuQuit:
			cancel()
		default:
			e.logger.Warn("unknown menu event", map[string]any{"event": event})
		}
	})

	if err := e.close(); err != nil {
		e.logger.Warn("session teardown failed", map[string]any{"error": err.Error()})
	}

	if startErr != nil {
		return cli.Exit(fmt.Sprintf("session bootstrap failed: %v", startErr), exitBootstrapError)
	}
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return cli.Exit(fmt.Sprintf("host channel: %v", serveErr), exitOperationError)
	}
	return nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
