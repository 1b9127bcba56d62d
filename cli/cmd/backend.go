package cmd

import (
	"context"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/nimbus/cli/render"
)

func oneShotFlags() []cli.Flag {
	return append(SessionFlags(), OutputFlags()...)
}

// PingCommand returns the ping command.
func PingCommand() *cli.Command {
	return &cli.Command{
		Name:   "ping",
		Usage:  "Start the backend, wait for readiness and query its health endpoint",
		Flags:  oneShotFlags(),
		Action: pingAction,
	}
}

func pingAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitOperationError)
	}
	return withSession(c, func(ctx context.Context, e *env) error {
		health, err := e.session.Ping(ctx)
		if err != nil {
			return operationError("ping failed", err)
		}
		return r.Render(render.PingResult{
			Status:  e.session.Status(),
			Summary: health.Summary(),
			Server:  e.session.Server(),
			Ready:   string(e.session.Readiness()),
		})
	})
}

// LoginCommand returns the login command.
func LoginCommand() *cli.Command {
	return &cli.Command{
		Name:   "login",
		Usage:  "Run the backend's login flow",
		Flags:  oneShotFlags(),
		Action: loginAction,
	}
}

func loginAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitOperationError)
	}
	return withSession(c, func(ctx context.Context, e *env) error {
		resp, err := e.session.Login(ctx)
		if err != nil {
			return operationError("login failed", err)
		}
		if err := r.Render(render.LoginResult{
			Authenticated: resp.Authenticated(),
			Status:        resp.Status,
			Scopes:        resp.Scopes,
			Error:         resp.Error,
		}); err != nil {
			return err
		}
		if !resp.Authenticated() {
			return cli.Exit("", exitOperationError)
		}
		return nil
	})
}

// FilesCommand returns the files command.
func FilesCommand() *cli.Command {
	return &cli.Command{
		Name:   "files",
		Usage:  "List remote files",
		Flags:  oneShotFlags(),
		Action: filesAction,
	}
}

func filesAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitOperationError)
	}
	return withSession(c, func(ctx context.Context, e *env) error {
		files, err := e.session.RefreshFiles(ctx)
		if err != nil {
			return operationError("list files failed", err)
		}
		return r.Render(render.FileList(files))
	})
}

// DownloadCommand returns the download command.
func DownloadCommand() *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "Download a remote file into the configured store",
		ArgsUsage: "<file-id>",
		Flags:     oneShotFlags(),
		Action:    downloadAction,
	}
}

func downloadAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exactly one file ID required", exitOperationError)
	}
	id := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitOperationError)
	}
	return withSession(c, func(ctx context.Context, e *env) error {
		key, err := e.session.Download(ctx, id)
		if err != nil {
			return operationError("download failed", err)
		}
		return r.Render(render.DownloadResult{
			ID:       id,
			StoredAs: key,
			Backend:  e.saver.Backend(),
			Location: e.saver.Location(),
		})
	})
}

// UploadCommand returns the upload command.
func UploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload a local file through the backend",
		ArgsUsage: "<path>",
		Flags:     oneShotFlags(),
		Action:    uploadAction,
	}
}

func uploadAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exactly one path required", exitOperationError)
	}
	path, err := filepath.Abs(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), exitOperationError)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitOperationError)
	}
	return withSession(c, func(ctx context.Context, e *env) error {
		res, err := e.session.Upload(ctx, path)
		if err != nil {
			return operationError("upload failed", err)
		}
		return r.Render(render.UploadResult{Path: path, ID: res.ID})
	})
}
