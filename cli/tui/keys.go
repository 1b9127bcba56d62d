package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines key bindings.
type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	Refresh  key.Binding
	Download key.Binding
	Ping     key.Binding
	Login    key.Binding
	Logs     key.Binding
	Copy     key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Download: key.NewBinding(
		key.WithKeys("d", "enter"),
		key.WithHelp("d", "download"),
	),
	Ping: key.NewBinding(
		key.WithKeys("p"),
		key.WithHelp("p", "ping"),
	),
	Login: key.NewBinding(
		key.WithKeys("g"),
		key.WithHelp("g", "login"),
	),
	Logs: key.NewBinding(
		key.WithKeys("l"),
		key.WithHelp("l", "logs"),
	),
	Copy: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "copy log"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.Download, k.Ping, k.Login, k.Logs, k.Copy, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Download},
		{k.Refresh, k.Ping, k.Login},
		{k.Logs, k.Copy, k.Quit},
	}
}
