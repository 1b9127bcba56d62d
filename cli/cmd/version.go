package cmd

import (
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/nimbus/cli/render"
	"github.com/pithecene-io/nimbus/types"
)

// VersionCommand prints build information. It reads no config and never
// spawns a backend, so it works on a machine where nimbus is not set up.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: OutputFlags(),
		Action: func(c *cli.Context) error {
			r, err := render.NewRenderer(c)
			if err != nil {
				return cli.Exit(err.Error(), exitOperationError)
			}
			return r.Render(buildInfo(commit))
		},
	}
}

func buildInfo(commit string) render.VersionInfo {
	return render.VersionInfo{
		Version:   types.Version,
		Commit:    commit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
