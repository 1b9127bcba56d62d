// Package main provides the nimbus CLI entrypoint.
//
// Usage:
//
//	nimbus <command> [options]
//
// Exit codes for session commands:
//   - 0: success
//   - 1: operation error (the backend answered with a failure)
//   - 2: session bootstrap failure (config, provisioning, spawn)
//   - 3: backend not ready (degraded start)
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/nimbus/cli/cmd"
	"github.com/pithecene-io/nimbus/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "nimbus",
		Usage:          "Run and supervise a local backend behind an authenticated gateway",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.PingCommand(),
			cmd.LoginCommand(),
			cmd.FilesCommand(),
			cmd.DownloadCommand(),
			cmd.UploadCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler prints the message and exits with the code carried by
// cli.Exit errors, including wrapped and joined ones.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code, msg := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus maps err to a process exit code and the line to print on
// stderr, if any.
func exitStatus(err error) (int, string) {
	var ec cli.ExitCoder
	if !errors.As(err, &ec) {
		return 1, "Error: " + err.Error()
	}
	code, msg := ec.ExitCode(), ec.Error()
	// cli.Exit("", n) renders as "exit status n".
	if msg == fmt.Sprintf("exit status %d", code) {
		msg = ""
	}
	return code, msg
}
