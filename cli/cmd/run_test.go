package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/nimbus/cli/config"
	"github.com/pithecene-io/nimbus/ipc"
	"github.com/pithecene-io/nimbus/provision"
	"github.com/pithecene-io/nimbus/session"
	"github.com/pithecene-io/nimbus/supervisor"
	"github.com/pithecene-io/nimbus/types"
)

// TestHelperBackend is not a real test. It is re-executed as the backend
// by the end-to-end command tests.
func TestHelperBackend(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_BACKEND") != "1" {
		return
	}
	if os.Getenv("HELPER_MODE") == "silent" {
		time.Sleep(time.Minute)
		os.Exit(0)
	}

	port := os.Getenv(supervisor.EnvPort)
	portNum, _ := strconv.Atoi(port)
	token := os.Getenv(supervisor.EnvToken)
	authed := func(r *http.Request) bool {
		return r.Header.Get("Authorization") == "Bearer "+token
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "running", "system": "helper", "port": portNum})
	})
	mux.HandleFunc("GET /auth/files", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(types.FileListResponse{Files: []types.DriveFile{
			{ID: "f1", Name: "notes.txt", MimeType: "text/plain", Size: "2048"},
		}})
	})

	l, err := net.Listen("tcp", net.JoinHostPort(types.LoopbackHost, port))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("Application startup complete")
	_ = http.Serve(l, mux)
	os.Exit(0)
}

// writeHelperConfig writes a nimbus.yaml that runs TestHelperBackend.
func writeHelperConfig(t *testing.T, mode string) string {
	t.Helper()
	body := fmt.Sprintf(`backend:
  binary: %q
  args: ["-test.run=TestHelperBackend"]
  env:
    GO_WANT_HELPER_BACKEND: "1"
    HELPER_MODE: %q
  kill_grace: 200ms
readiness:
  reveal_delay: 10ms
  timeout: 10s
downloads:
  backend: memory
log:
  level: error
`, os.Args[0], mode)
	path := filepath.Join(t.TempDir(), "nimbus.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// newTestApp wires the commands with an ExitErrHandler that does not exit.
func newTestApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:           "nimbus",
		Writer:         out,
		ErrWriter:      io.Discard,
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			PingCommand(),
			FilesCommand(),
			VersionCommand("abc123"),
		},
	}
}

func exitCode(err error) int {
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	if err != nil {
		return exitOperationError
	}
	return exitSuccess
}

func TestPingCommand_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a backend")
	}
	var out bytes.Buffer
	app := newTestApp(&out)

	err := app.Run([]string{"nimbus", "ping", "--config", writeHelperConfig(t, "serve"), "--format", "json"})
	if err != nil {
		t.Fatalf("ping failed (exit %d): %v", exitCode(err), err)
	}

	var res struct {
		Status    string `json:"status"`
		Summary   string `json:"summary"`
		Readiness string `json:"readiness"`
	}
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if res.Status != session.StatusOnline {
		t.Errorf("status = %q, want %q", res.Status, session.StatusOnline)
	}
	if !strings.HasPrefix(res.Summary, "helper is running") {
		t.Errorf("summary = %q", res.Summary)
	}
	if res.Readiness != string(types.ReadinessReady) {
		t.Errorf("readiness = %q", res.Readiness)
	}
}

func TestFilesCommand_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a backend")
	}
	var out bytes.Buffer
	app := newTestApp(&out)

	err := app.Run([]string{"nimbus", "files", "--config", writeHelperConfig(t, "serve"), "--format", "json"})
	if err != nil {
		t.Fatalf("files failed (exit %d): %v", exitCode(err), err)
	}
	if !strings.Contains(out.String(), "notes.txt") {
		t.Errorf("output missing file: %s", out.String())
	}
}

func TestPingCommand_DegradedExitCode(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a backend")
	}
	app := newTestApp(io.Discard)

	err := app.Run([]string{"nimbus", "ping",
		"--config", writeHelperConfig(t, "silent"),
		"--ready-timeout", "300ms",
	})
	if got := exitCode(err); got != exitNotReady {
		t.Fatalf("exit code = %d (%v), want %d", got, err, exitNotReady)
	}
}

func TestPingCommand_SpawnFailureExitCode(t *testing.T) {
	app := newTestApp(io.Discard)

	err := app.Run([]string{"nimbus", "ping",
		"--config", writeHelperConfig(t, "serve"),
		"--backend", filepath.Join(t.TempDir(), "missing-api"),
	})
	if got := exitCode(err); got != exitBootstrapError {
		t.Fatalf("exit code = %d (%v), want %d", got, err, exitBootstrapError)
	}
}

func TestPingCommand_NoBackendConfigured(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nimbus.yaml")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	app := newTestApp(io.Discard)

	err := app.Run([]string{"nimbus", "ping", "--config", path})
	if got := exitCode(err); got != exitBootstrapError {
		t.Fatalf("exit code = %d (%v), want %d", got, err, exitBootstrapError)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	app := newTestApp(&out)

	if err := app.Run([]string{"nimbus", "version", "--format", "json"}); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	var res struct {
		Version  string `json:"version"`
		Commit   string `json:"commit"`
		Platform string `json:"platform"`
	}
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if res.Version != types.Version || res.Commit != "abc123" {
		t.Errorf("got %+v", res)
	}
	if res.Platform != runtime.GOOS+"/"+runtime.GOARCH {
		t.Errorf("platform = %q", res.Platform)
	}
}

func TestRunHostIPC_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a backend")
	}
	cfg, err := config.Load(writeHelperConfig(t, "serve"))
	if err != nil {
		t.Fatal(err)
	}

	port, err := provision.FreePort(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	hostR, coreW := io.Pipe()
	coreR, hostW := io.Pipe()
	t.Cleanup(func() {
		_ = hostW.Close()
		_ = coreW.Close()
	})

	frames := make(chan any, 16)
	go func() {
		defer close(frames)
		dec := ipc.NewFrameDecoder(hostR)
		for {
			msg, err := dec.ReadMessage()
			if err != nil {
				return
			}
			frames <- msg
		}
	}()

	var logs bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- runHostIPC(t.Context(), cfg, coreR, coreW, &logs) }()

	enc := ipc.NewFrameEncoder(hostW)
	if err := enc.WriteMessage(&ipc.ServerConfigMessage{
		Type:  ipc.ServerConfigType,
		Port:  port,
		Token: "tok123",
	}); err != nil {
		t.Fatalf("send server_config: %v", err)
	}

	var statuses []string
	revealed := false
	deadline := time.After(15 * time.Second)
	for !revealed || !slices.Contains(statuses, session.StatusOnline) {
		select {
		case msg, ok := <-frames:
			if !ok {
				t.Fatalf("host stream closed early; statuses=%v", statuses)
			}
			switch m := msg.(type) {
			case *ipc.StatusMessage:
				statuses = append(statuses, m.Message)
			case *ipc.CloseSplashscreenMessage:
				revealed = true
			}
		case <-deadline:
			t.Fatalf("timed out: revealed=%v statuses=%v", revealed, statuses)
		}
	}
	if statuses[0] != session.StatusInitializing {
		t.Errorf("first status = %q, want %q", statuses[0], session.StatusInitializing)
	}

	if err := enc.WriteMessage(&ipc.MenuEventMessage{Type: ipc.MenuEventType, Event: ipc.MenuQuit}); err != nil {
		t.Fatalf("send quit: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runHostIPC failed: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("runHostIPC did not return after quit")
	}
}
