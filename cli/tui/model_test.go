package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/nimbus/types"
)

type fakeController struct {
	mu        sync.Mutex
	status    string
	state     types.ReadinessState
	lines     []types.LogLine
	files     []types.DriveFile
	transfers []types.TransferItem
	downloads []string
	pingErr   error
}

func (c *fakeController) Status() string                  { return c.status }
func (c *fakeController) Readiness() types.ReadinessState { return c.state }
func (c *fakeController) Degraded() bool                  { return false }
func (c *fakeController) Transfers() []types.TransferItem { return c.transfers }

func (c *fakeController) LogSince(since uint64, _ int) ([]types.LogLine, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []types.LogLine
	for _, l := range c.lines {
		if l.Seq > since {
			out = append(out, l)
		}
	}
	return out, uint64(len(c.lines))
}

func (c *fakeController) log(src types.LogSource, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, types.LogLine{Seq: uint64(len(c.lines)) + 1, Source: src, Text: text})
}

func (c *fakeController) WaitRevealed(context.Context) error { return nil }

func (c *fakeController) RefreshFiles(context.Context) ([]types.DriveFile, error) {
	return c.files, nil
}

func (c *fakeController) Download(_ context.Context, id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downloads = append(c.downloads, id)
	return id + ".bin", nil
}

func (c *fakeController) Ping(context.Context) (*types.HealthCheck, error) {
	if c.pingErr != nil {
		return nil, c.pingErr
	}
	return &types.HealthCheck{Status: "online", System: "api", Port: 5005}, nil
}

func (c *fakeController) Login(context.Context) (*types.AuthResponse, error) {
	return &types.AuthResponse{Status: types.AuthStatusAuthenticated}, nil
}

func newController() *fakeController {
	return &fakeController{
		status: "Initializing System...",
		state:  types.ReadinessStarting,
		files: []types.DriveFile{
			{ID: "f1", Name: "report.pdf", MimeType: "application/pdf", Size: "2048"},
			{ID: "f2", Name: "Photos", MimeType: "application/vnd.google-apps.folder"},
		},
	}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// reveal drives the model through the reveal and initial file load.
func reveal(t *testing.T, m Model) Model {
	t.Helper()
	m, cmd := update(t, m, revealedMsg{})
	if cmd != nil {
		m, _ = update(t, m, cmd())
	}
	return m
}

func keyPress(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestModel_SplashUntilReveal(t *testing.T) {
	ctrl := newController()
	m := New(t.Context(), ctrl)

	if !strings.Contains(m.View(), "Initializing System...") {
		t.Errorf("splash should show status:\n%s", m.View())
	}

	// Keys other than quit are ignored before reveal.
	m, cmd := update(t, m, keyPress('r'))
	if cmd != nil {
		t.Error("refresh should be ignored on the splash screen")
	}

	ctrl.state = types.ReadinessReady
	ctrl.status = "System Online"
	m = reveal(t, m)

	view := m.View()
	if !strings.Contains(view, "System Online") || !strings.Contains(view, "report.pdf") {
		t.Errorf("main view missing status or files:\n%s", view)
	}
	if !strings.Contains(view, "2.0 kB") {
		t.Errorf("main view missing humanized size:\n%s", view)
	}
}

func TestModel_DownloadSelected(t *testing.T) {
	ctrl := newController()
	ctrl.state = types.ReadinessReady
	m := reveal(t, New(t.Context(), ctrl))

	m, cmd := update(t, m, keyPress('d'))
	if cmd == nil {
		t.Fatal("download should return a command")
	}
	m, _ = update(t, m, cmd())
	if len(ctrl.downloads) != 1 || ctrl.downloads[0] != "f1" {
		t.Errorf("downloads = %v", ctrl.downloads)
	}
	if !strings.Contains(m.View(), "Saved report.pdf as f1.bin") {
		t.Errorf("notice missing:\n%s", m.View())
	}

	// Folders cannot be downloaded.
	m, _ = update(t, m, keyPress('j'))
	m, cmd = update(t, m, keyPress('d'))
	m, _ = update(t, m, cmd())
	if len(ctrl.downloads) != 1 {
		t.Errorf("folder was downloaded: %v", ctrl.downloads)
	}
	if !m.noticeErr {
		t.Error("expected error notice for folder")
	}
}

func TestModel_PingErrorShown(t *testing.T) {
	ctrl := newController()
	ctrl.state = types.ReadinessReady
	ctrl.pingErr = errors.New("connection refused")
	m := reveal(t, New(t.Context(), ctrl))

	m, cmd := update(t, m, keyPress('p'))
	m, _ = update(t, m, cmd())
	if !m.noticeErr || !strings.Contains(m.notice, "connection refused") {
		t.Errorf("notice = %q (err=%v)", m.notice, m.noticeErr)
	}
}

func TestModel_LogPaneFollowsAndToggles(t *testing.T) {
	ctrl := newController()
	ctrl.state = types.ReadinessReady
	ctrl.log(types.LogSourceSystem, "[SYS] Sidecar PID: 42 | Port: 5005")
	m := reveal(t, New(t.Context(), ctrl))

	ctrl.log(types.LogSourceStdout, "Application startup complete")
	m, _ = update(t, m, tickMsg{})
	if !strings.Contains(m.View(), "[OUT] Application startup complete") {
		t.Errorf("log pane missing new line:\n%s", m.View())
	}

	m, _ = update(t, m, keyPress('l'))
	if strings.Contains(m.View(), "Application startup complete") {
		t.Error("log pane should be hidden after toggle")
	}
}

func TestModel_LogBounded(t *testing.T) {
	ctrl := newController()
	for range maxLogLines + 50 {
		ctrl.log(types.LogSourceStdout, "line")
	}
	m := New(t.Context(), ctrl)
	if len(m.logs) != maxLogLines {
		t.Errorf("logs = %d, want %d", len(m.logs), maxLogLines)
	}
	if m.logSeq != uint64(maxLogLines+50) {
		t.Errorf("cursor = %d", m.logSeq)
	}
}

func TestModel_CopyLog(t *testing.T) {
	var copied string
	orig := copyToClipboard
	copyToClipboard = func(s string) error { copied = s; return nil }
	t.Cleanup(func() { copyToClipboard = orig })

	ctrl := newController()
	ctrl.state = types.ReadinessReady
	ctrl.log(types.LogSourceStderr, "warning: slow disk")
	m := reveal(t, New(t.Context(), ctrl))

	m, _ = update(t, m, keyPress('c'))
	if !strings.Contains(copied, "[ERR] warning: slow disk") {
		t.Errorf("copied = %q", copied)
	}
	if m.noticeErr {
		t.Errorf("unexpected error notice %q", m.notice)
	}
}

func TestModel_TransfersShown(t *testing.T) {
	ctrl := newController()
	ctrl.state = types.ReadinessReady
	m := reveal(t, New(t.Context(), ctrl))

	ctrl.transfers = []types.TransferItem{{Key: "f1", Direction: types.DirectionDownload, Progress: 40, Stalled: true}}
	m, _ = update(t, m, tickMsg{})
	view := m.View()
	if !strings.Contains(view, "40%") || !strings.Contains(view, "stalled") {
		t.Errorf("transfer row missing:\n%s", view)
	}
}

func TestModel_Quit(t *testing.T) {
	m := New(t.Context(), newController())
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil || m.View() != "" {
		t.Error("ctrl+c should quit and clear the view")
	}
}

func TestStateStyle(t *testing.T) {
	if StateStyle(types.ReadinessFailed, false).GetForeground() != ErrorStyle.GetForeground() {
		t.Error("failed should be red")
	}
	if StateStyle(types.ReadinessStarting, true).GetForeground() != WarningStyle.GetForeground() {
		t.Error("degraded should be amber")
	}
}
