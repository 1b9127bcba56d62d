package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/nimbus/types"
)

// Controller is what the TUI drives. Implemented by *session.Session.
type Controller interface {
	Status() string
	Readiness() types.ReadinessState
	Degraded() bool
	LogSince(since uint64, limit int) ([]types.LogLine, uint64)
	Transfers() []types.TransferItem
	WaitRevealed(ctx context.Context) error
	RefreshFiles(ctx context.Context) ([]types.DriveFile, error)
	Download(ctx context.Context, id string) (string, error)
	Ping(ctx context.Context) (*types.HealthCheck, error)
	Login(ctx context.Context) (*types.AuthResponse, error)
}

const (
	refreshInterval = 250 * time.Millisecond
	// maxLogLines bounds the live log pane; the session keeps everything.
	maxLogLines = 500
)

// copyToClipboard is replaced in tests.
var copyToClipboard = clipboard.WriteAll

type (
	revealedMsg struct{}
	tickMsg     time.Time
	filesMsg    struct {
		files []types.DriveFile
		err   error
	}
	noticeMsg struct {
		text string
		err  error
	}
)

// Model is the Bubble Tea model for nimbus run.
type Model struct {
	ctx  context.Context
	ctrl Controller

	revealed bool
	spinner  spinner.Model
	bar      progress.Model
	logView  viewport.Model
	help     help.Model
	showLogs bool

	status    string
	state     types.ReadinessState
	degraded  bool
	files     []types.DriveFile
	cursor    int
	transfers []types.TransferItem
	logs      []types.LogLine
	logSeq    uint64
	notice    string
	noticeErr bool

	width    int
	height   int
	quitting bool
}

// New creates the model. ctx bounds every backend call it starts.
func New(ctx context.Context, ctrl Controller) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = TitleStyle

	bar := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	bar.Width = 30

	vp := viewport.New(80, 8)

	m := Model{
		ctx:      ctx,
		ctrl:     ctrl,
		spinner:  sp,
		bar:      bar,
		logView:  vp,
		help:     help.New(),
		showLogs: true,
	}
	m.sync()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitReveal(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) waitReveal() tea.Cmd {
	return func() tea.Msg {
		if err := m.ctrl.WaitRevealed(m.ctx); err != nil {
			return nil
		}
		return revealedMsg{}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.logView.Width = max(20, msg.Width-4)
		m.logView.Height = max(5, msg.Height/3)
		m.bar.Width = max(10, min(40, msg.Width/3))
		m.help.Width = msg.Width
		return m, nil

	case spinner.TickMsg:
		if m.revealed {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case revealedMsg:
		m.revealed = true
		m.sync()
		if m.state == types.ReadinessReady || m.degraded {
			return m, m.refreshFiles()
		}
		return m, nil

	case tickMsg:
		m.sync()
		return m, tick()

	case filesMsg:
		if msg.err != nil {
			m.setNotice("", msg.err)
			return m, nil
		}
		m.files = msg.files
		m.cursor = min(m.cursor, max(0, len(m.files)-1))
		return m, nil

	case noticeMsg:
		m.setNotice(msg.text, msg.err)
		m.sync()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	if !m.revealed {
		return m, nil
	}

	switch {
	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.files)-1 {
			m.cursor++
		}
	case key.Matches(msg, keys.Refresh):
		return m, m.refreshFiles()
	case key.Matches(msg, keys.Download):
		return m, m.download()
	case key.Matches(msg, keys.Ping):
		return m, m.call(func(ctx context.Context) (string, error) {
			h, err := m.ctrl.Ping(ctx)
			if err != nil {
				return "", err
			}
			return "Ping: " + h.Summary(), nil
		})
	case key.Matches(msg, keys.Login):
		return m, m.call(func(ctx context.Context) (string, error) {
			resp, err := m.ctrl.Login(ctx)
			if err != nil {
				return "", err
			}
			if !resp.Authenticated() {
				return "", errors.New("login: " + strings.TrimSpace(resp.Status+" "+resp.Error))
			}
			return "Logged in", nil
		})
	case key.Matches(msg, keys.Logs):
		m.showLogs = !m.showLogs
	case key.Matches(msg, keys.Copy):
		m.copyLog()
	}
	return m, nil
}

// sync pulls status, transfers and new log lines from the controller.
func (m *Model) sync() {
	m.status = m.ctrl.Status()
	m.state = m.ctrl.Readiness()
	m.degraded = m.ctrl.Degraded()
	m.transfers = m.ctrl.Transfers()

	lines, next := m.ctrl.LogSince(m.logSeq, 0)
	if len(lines) == 0 {
		return
	}
	m.logSeq = next
	m.logs = append(m.logs, lines...)
	if over := len(m.logs) - maxLogLines; over > 0 {
		m.logs = append([]types.LogLine(nil), m.logs[over:]...)
	}
	m.logView.SetContent(renderLogLines(m.logs))
	m.logView.GotoBottom()
}

func (m *Model) setNotice(text string, err error) {
	if err != nil {
		m.notice, m.noticeErr = err.Error(), true
		return
	}
	m.notice, m.noticeErr = text, false
}

func (m Model) refreshFiles() tea.Cmd {
	return func() tea.Msg {
		files, err := m.ctrl.RefreshFiles(m.ctx)
		return filesMsg{files: files, err: err}
	}
}

func (m Model) download() tea.Cmd {
	if len(m.files) == 0 {
		return nil
	}
	f := m.files[m.cursor]
	if f.IsFolder() {
		return func() tea.Msg { return noticeMsg{err: errors.New(f.Name + " is a folder")} }
	}
	return m.call(func(ctx context.Context) (string, error) {
		stored, err := m.ctrl.Download(ctx, f.ID)
		if err != nil {
			return "", err
		}
		return "Saved " + f.Name + " as " + stored, nil
	})
}

func (m Model) call(fn func(ctx context.Context) (string, error)) tea.Cmd {
	return func() tea.Msg {
		text, err := fn(m.ctx)
		return noticeMsg{text: text, err: err}
	}
}

// copyLog copies the full session log, not just the visible tail.
func (m *Model) copyLog() {
	lines, _ := m.ctrl.LogSince(0, 0)
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line.String())
		b.WriteByte('\n')
	}
	if err := copyToClipboard(b.String()); err != nil {
		m.setNotice("", err)
		return
	}
	m.setNotice("Copied log to clipboard", nil)
}

// Run starts the TUI and blocks until the user quits or ctx ends.
func Run(ctx context.Context, ctrl Controller) error {
	p := tea.NewProgram(New(ctx, ctrl), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
