// Package cmd provides CLI commands for the nimbus binary.
package cmd

import (
	"time"

	"github.com/urfave/cli/v2"
)

// Output flags shared by every command that renders a result.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}
)

// OutputFlags returns the rendering flags.
func OutputFlags() []cli.Flag {
	return []cli.Flag{FormatFlag, NoColorFlag}
}

// SessionFlags returns the flags of every command that boots a backend.
// Values override the config file.
func SessionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to nimbus.yaml or nimbus.toml (default: discovered in the working directory)",
		},
		&cli.StringFlag{
			Name:  "backend",
			Usage: "Path to the backend executable",
		},
		&cli.IntFlag{
			Name:  "port",
			Usage: "Pin the backend port (0 picks a free one)",
		},
		&cli.StringFlag{
			Name:  "downloads",
			Usage: "Download destination: a directory (fs) or bucket/prefix (s3)",
		},
		&cli.StringFlag{
			Name:  "downloads-backend",
			Usage: "Download storage: fs, s3 or memory",
		},
		&cli.DurationFlag{
			Name:  "ready-timeout",
			Usage: "Reveal degraded if the backend is not ready after this long",
		},
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Lifecycle notification adapter: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Webhook endpoint or redis:// URL",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Structured log level: debug, info, warn, error",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "Write structured logs to this file instead of stderr",
		},
		&cli.BoolFlag{
			Name:  "no-lock",
			Usage: "Skip the single-instance lock",
		},
	}
}

// resolveString returns the flag value when set on the command line,
// otherwise the config value.
func resolveString(c *cli.Context, name, fromConfig string) string {
	if c.IsSet(name) {
		return c.String(name)
	}
	return fromConfig
}

func resolveInt(c *cli.Context, name string, fromConfig int) int {
	if c.IsSet(name) {
		return c.Int(name)
	}
	return fromConfig
}

func resolveDuration(c *cli.Context, name string, fromConfig time.Duration) time.Duration {
	if c.IsSet(name) {
		return c.Duration(name)
	}
	return fromConfig
}
