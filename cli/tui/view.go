package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/pithecene-io/nimbus/cli/render"
	"github.com/pithecene-io/nimbus/logbook"
	"github.com/pithecene-io/nimbus/types"
)

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.revealed {
		return m.splashView()
	}
	return m.mainView()
}

func (m Model) splashView() string {
	body := TitleStyle.Render("nimbus") + "\n\n" + m.spinner.View() + " " + ValueStyle.Render(m.status)
	box := SplashStyle.Render(body)
	if m.width == 0 || m.height == 0 {
		return box
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func (m Model) mainView() string {
	sections := []string{m.headerView(), BoxStyle.Render(m.filesView())}
	if len(m.transfers) > 0 {
		sections = append(sections, BoxStyle.Render(m.transfersView()))
	}
	if m.notice != "" {
		style := SuccessStyle
		if m.noticeErr {
			style = ErrorStyle
		}
		sections = append(sections, style.Render(m.notice))
	}
	if m.showLogs {
		sections = append(sections, BoxStyle.Render(m.logView.View()))
	}
	sections = append(sections, HelpStyle.Render(m.help.View(keys)))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) headerView() string {
	light := StateStyle(m.state, m.degraded).Render("●")
	return fmt.Sprintf("%s %s  %s", light, TitleStyle.Render("nimbus"), ValueStyle.Render(m.status))
}

func (m Model) filesView() string {
	if len(m.files) == 0 {
		return LabelStyle.Render("No files loaded (r to refresh)")
	}
	var b strings.Builder
	b.WriteString(LabelStyle.Render(fmt.Sprintf("Files (%d)", len(m.files))))
	for i, f := range m.files {
		line := fmt.Sprintf("%-40s %10s", truncate(f.Name, 40), render.FileSize(f))
		if i == m.cursor {
			line = SelectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString("\n")
		b.WriteString(line)
	}
	return b.String()
}

func (m Model) transfersView() string {
	var b strings.Builder
	b.WriteString(LabelStyle.Render("Transfers"))
	for _, it := range m.transfers {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("%-8s %-24s %s %3.0f%%",
			it.Direction, truncate(it.Key, 24), m.bar.ViewAs(it.Progress/100), it.Progress))
		if it.Stalled {
			b.WriteString(" " + WarningStyle.Render("stalled"))
		}
		if !it.StartedAt.IsZero() {
			b.WriteString(" " + LabelStyle.Render(humanize.Time(it.StartedAt)))
		}
	}
	return b.String()
}

func renderLogLines(lines []types.LogLine) string {
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(lineStyle(line).Render(line.String()))
	}
	return b.String()
}

func isCritical(text string) bool {
	return strings.HasPrefix(text, logbook.CriticalPrefix)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
