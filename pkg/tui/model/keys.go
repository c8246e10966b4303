package model

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up         key.Binding
	Down       key.Binding
	PageUp     key.Binding
	PageDown   key.Binding
	Toggle     key.Binding
	AutoScroll key.Binding
	CopyLogs   key.Binding
	CopyPath   key.Binding
	Clear      key.Binding
	Refresh    key.Binding
	Start      key.Binding
	Stop       key.Binding
	Restart    key.Binding
	Search     key.Binding
	Pane       key.Binding
	Help       key.Binding
	Quit       key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:         key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "up")),
		Down:       key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "down")),
		PageUp:     key.NewBinding(key.WithKeys("pgup", "ctrl+u"), key.WithHelp("pgup", "page up")),
		PageDown:   key.NewBinding(key.WithKeys("pgdown", "ctrl+d"), key.WithHelp("pgdn", "page down")),
		Toggle:     key.NewBinding(key.WithKeys("enter", " "), key.WithHelp("enter", "logs")),
		AutoScroll: key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "auto-scroll")),
		CopyLogs:   key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "copy logs")),
		CopyPath:   key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "copy path")),
		Clear:      key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "clear")),
		Refresh:    key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "refresh repos")),
		Start:      key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "start")),
		Stop:       key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop")),
		Restart:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "restart")),
		Search:     key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
		Pane:       key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "pane")),
		Help:       key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.AutoScroll, k.CopyLogs, k.Refresh, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.PageUp, k.PageDown, k.Pane, k.Search},
		{k.Toggle, k.AutoScroll, k.Clear, k.CopyLogs, k.CopyPath},
		{k.Start, k.Stop, k.Restart, k.Refresh, k.Help, k.Quit},
	}
}
