// Package model implements the live log dashboard.
package model

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/nexus/pkg/core"
	"github.com/modoterra/nexus/pkg/monitor"
	"github.com/modoterra/nexus/pkg/tui/clipboard"
)

const (
	// ToastDuration is how long a toast stays before fading.
	ToastDuration = 3000 * time.Millisecond
	// ToastFade is the delay between fading and removal.
	ToastFade = 300 * time.Millisecond

	servicesInterval = 2 * time.Second
	requestTimeout   = 10 * time.Second
)

// Pane identifies which TUI pane is focused.
type Pane int

const (
	PaneList Pane = iota
	PaneLogs
)

// Mode identifies the current interaction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeSearch
)

// API is the part of the daemon client the dashboard uses.
type API interface {
	Services(ctx context.Context) ([]core.Item, error)
	RefreshRepos(ctx context.Context) (int, error)
	Action(ctx context.Context, pid core.ProcessID, action string) error
}

type toast struct {
	id     int
	text   string
	isErr  bool
	fading bool
}

// App is the root Bubble Tea model.
type App struct {
	api     API
	monitor *monitor.Monitor
	sink    *programSink
	events  *panelEvents
	ops     *opQueue
	logger  *slog.Logger
	copy    func(string) error

	// State
	items       []core.Item
	selectedIdx int
	panels      map[core.ProcessID]*panel
	connected   bool
	refreshing  bool

	// UI
	activePane Pane
	mode       Mode
	search     textinput.Model
	keys       keyMap
	help       help.Model
	spinner    spinner.Model
	width      int
	height     int

	toast     toast
	toastSeq  int
	statusMsg string
}

// New creates the dashboard. Logs are polled through fetcher every interval
// while a service's panel is expanded.
func New(api API, fetcher monitor.Fetcher, interval time.Duration, logger *slog.Logger) App {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	si := textinput.New()
	si.Placeholder = "search..."
	si.CharLimit = 64

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	sink := &programSink{}
	return App{
		api:        api,
		monitor:    monitor.New(fetcher, sink, interval, logger),
		sink:       sink,
		events:     newPanelEvents(),
		ops:        newOpQueue(),
		logger:     logger,
		copy:       clipboard.Copy,
		panels:     make(map[core.ProcessID]*panel),
		search:     si,
		keys:       defaultKeyMap(),
		help:       help.New(),
		spinner:    sp,
		activePane: PaneList,
		mode:       ModeNormal,
	}
}

// Bind connects monitor output to a running program, usually Program.Send.
func (a App) Bind(send func(tea.Msg)) {
	a.sink.bind(send)
}

// Close stops all log polling. Call it after the program has exited.
func (a App) Close() {
	a.ops.close()
	a.monitor.Close()
}

// Run starts the dashboard and blocks until the user quits.
func Run(api API, fetcher monitor.Fetcher, interval time.Duration, logger *slog.Logger) error {
	app := New(api, fetcher, interval, logger)
	p := tea.NewProgram(app, tea.WithAltScreen())
	app.Bind(p.Send)
	_, err := p.Run()
	app.Close()
	return err
}

// Init loads the service list.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		fetchServicesCmd(a.api),
		tickCmd(),
		tea.SetWindowTitle("Nexus"),
	)
}

// tickMsg triggers periodic refresh.
type tickMsg time.Time

// servicesMsg carries the service list from the daemon.
type servicesMsg struct{ items []core.Item }

// servicesErrMsg reports a failed service list request.
type servicesErrMsg struct{ err error }

// errorMsg carries an error to display.
type errorMsg struct{ err error }

// actionResultMsg carries the result of an action.
type actionResultMsg struct{ msg string }

// reposRefreshedMsg carries the outcome of a repository rescan.
type reposRefreshedMsg struct {
	count int
	err   error
}

// autoScrollMsg reports the auto-scroll flag after a toggle.
type autoScrollMsg struct {
	pid     core.ProcessID
	enabled bool
}

// toastMsg asks for a toast to be shown.
type toastMsg struct {
	text  string
	isErr bool
}

type toastFadeMsg struct{ id int }
type toastRemoveMsg struct{ id int }

func tickCmd() tea.Cmd {
	return tea.Tick(servicesInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchServicesCmd(api API) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		items, err := api.Services(ctx)
		if err != nil {
			return servicesErrMsg{err}
		}
		return servicesMsg{items}
	}
}

func actionCmd(api API, pid core.ProcessID, action string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		if err := api.Action(ctx, pid, action); err != nil {
			return errorMsg{err}
		}
		return actionResultMsg{msg: action + " → " + string(pid)}
	}
}

func refreshReposCmd(api API) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		n, err := api.RefreshRepos(ctx)
		return reposRefreshedMsg{count: n, err: err}
	}
}

func copyCmd(copyFn func(string) error, text, done string) tea.Cmd {
	return func() tea.Msg {
		if err := copyFn(text); err != nil {
			return toastMsg{text: "copy failed: " + err.Error(), isErr: true}
		}
		return toastMsg{text: done}
	}
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		w, h := a.logSize()
		for _, p := range a.panels {
			p.resize(w, h)
		}
		return a, nil

	case tickMsg:
		return a, tea.Batch(tickCmd(), fetchServicesCmd(a.api))

	case servicesMsg:
		a.connected = true
		a.items = msg.items
		if n := len(a.filteredItems()); a.selectedIdx >= n {
			a.selectedIdx = max(0, n-1)
		}
		a.dropVanished()
		return a, nil

	case servicesErrMsg:
		a.connected = false
		a.statusMsg = "error: " + msg.err.Error()
		return a, nil

	case logsMsg:
		p := a.panel(msg.pid)
		p.placeholder = false
		p.lines = msg.lines
		p.render()
		return a, nil

	case placeholderMsg:
		p := a.panel(msg.pid)
		p.placeholder = true
		p.lines = nil
		p.render()
		return a, nil

	case scrollMsg:
		a.panel(msg.pid).viewport.GotoBottom()
		return a, nil

	case clearMsg:
		p := a.panel(msg.pid)
		p.placeholder = false
		p.lines = nil
		p.render()
		return a, nil

	case autoScrollMsg:
		a.panel(msg.pid).autoScroll = msg.enabled
		state := "off"
		if msg.enabled {
			state = "on"
		}
		return a.showToast("auto-scroll "+state, false)

	case actionResultMsg:
		a.statusMsg = msg.msg
		return a, fetchServicesCmd(a.api)

	case errorMsg:
		a.statusMsg = "error: " + msg.err.Error()
		return a, nil

	case reposRefreshedMsg:
		a.refreshing = false
		if msg.err != nil {
			a.logger.Error("refresh repos", "err", msg.err)
			return a.showToast("refresh failed: "+msg.err.Error(), true)
		}
		var cmd tea.Cmd
		a, cmd = a.showToast(fmt.Sprintf("repositories refreshed (%d)", msg.count), false)
		return a, tea.Batch(cmd, fetchServicesCmd(a.api))

	case toastMsg:
		return a.showToast(msg.text, msg.isErr)

	case toastFadeMsg:
		if msg.id != a.toast.id || a.toast.text == "" {
			return a, nil
		}
		a.toast.fading = true
		id := msg.id
		return a, tea.Tick(ToastFade, func(time.Time) tea.Msg { return toastRemoveMsg{id} })

	case toastRemoveMsg:
		if msg.id == a.toast.id {
			a.toast = toast{id: a.toast.id}
		}
		return a, nil

	case spinner.TickMsg:
		if !a.refreshing {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a App) showToast(text string, isErr bool) (App, tea.Cmd) {
	a.toastSeq++
	id := a.toastSeq
	a.toast = toast{id: id, text: text, isErr: isErr}
	return a, tea.Tick(ToastDuration, func(time.Time) tea.Msg { return toastFadeMsg{id} })
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.mode == ModeSearch {
		switch msg.String() {
		case "esc":
			a.mode = ModeNormal
			a.search.SetValue("")
			a.search.Blur()
			return a, nil
		case "enter":
			a.mode = ModeNormal
			a.search.Blur()
			return a, nil
		default:
			var cmd tea.Cmd
			a.search, cmd = a.search.Update(msg)
			a.selectedIdx = 0
			return a, cmd
		}
	}

	switch {
	case key.Matches(msg, a.keys.Quit):
		return a, tea.Quit

	case key.Matches(msg, a.keys.Up), key.Matches(msg, a.keys.Down),
		key.Matches(msg, a.keys.PageUp), key.Matches(msg, a.keys.PageDown):
		if a.activePane == PaneLogs {
			return a.scrollLogs(msg)
		}
		n := len(a.filteredItems())
		if key.Matches(msg, a.keys.Up) && a.selectedIdx > 0 {
			a.selectedIdx--
		}
		if key.Matches(msg, a.keys.Down) && a.selectedIdx < n-1 {
			a.selectedIdx++
		}

	case key.Matches(msg, a.keys.Pane):
		a.activePane = (a.activePane + 1) % 2

	case key.Matches(msg, a.keys.Search):
		a.mode = ModeSearch
		a.search.Focus()
		return a, textinput.Blink

	case key.Matches(msg, a.keys.Help):
		a.help.ShowAll = !a.help.ShowAll

	case key.Matches(msg, a.keys.Toggle):
		return a.toggleSelected()

	case key.Matches(msg, a.keys.AutoScroll):
		if item := a.selectedItem(); item != nil {
			pid := item.ID()
			m, sink := a.monitor, a.sink
			a.ops.push(func() {
				enabled := m.ToggleAutoScroll(pid, nil)
				sink.emit(autoScrollMsg{pid: pid, enabled: enabled})
			})
		}

	case key.Matches(msg, a.keys.Clear):
		if item := a.selectedItem(); item != nil {
			pid, m := item.ID(), a.monitor
			a.ops.push(func() { m.Clear(pid) })
		}

	case key.Matches(msg, a.keys.CopyLogs):
		item := a.selectedItem()
		if item == nil {
			return a, nil
		}
		p, ok := a.panels[item.ID()]
		if !ok || len(p.lines) == 0 {
			return a.showToast("no logs to copy", true)
		}
		return a, copyCmd(a.copy, p.text(), "logs copied")

	case key.Matches(msg, a.keys.CopyPath):
		item := a.selectedItem()
		if item == nil {
			return a, nil
		}
		if item.Path == "" {
			return a.showToast("no path for "+item.Name, true)
		}
		return a, copyCmd(a.copy, item.Path, "path copied")

	case key.Matches(msg, a.keys.Refresh):
		if a.refreshing {
			return a, nil
		}
		a.refreshing = true
		return a, tea.Batch(refreshReposCmd(a.api), a.spinner.Tick)

	case key.Matches(msg, a.keys.Restart):
		return a.doAction("restart")
	case key.Matches(msg, a.keys.Stop):
		return a.doAction("stop")
	case key.Matches(msg, a.keys.Start):
		return a.doAction("start")
	}

	return a, nil
}

// toggleSelected expands or collapses the log panel of the selected service.
func (a App) toggleSelected() (tea.Model, tea.Cmd) {
	item := a.selectedItem()
	if item == nil {
		return a, nil
	}
	pid := item.ID()
	p := a.panel(pid)
	if p.expanded {
		p.expanded = false
		a.ops.push(a.events.collapsed(pid))
		return a, nil
	}
	p.expanded = true
	p.autoScroll = true
	a.ops.push(a.events.expanded(pid))
	return a, nil
}

func (a App) scrollLogs(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	item := a.selectedItem()
	if item == nil {
		return a, nil
	}
	p, ok := a.panels[item.ID()]
	if !ok {
		return a, nil
	}
	var cmd tea.Cmd
	p.viewport, cmd = p.viewport.Update(msg)
	return a, cmd
}

func (a App) doAction(action string) (tea.Model, tea.Cmd) {
	item := a.selectedItem()
	if item == nil {
		return a, nil
	}
	a.statusMsg = action + " " + item.Name + "..."
	return a, actionCmd(a.api, item.ID(), action)
}

// panel returns the panel for pid, creating it at the current log size
// and binding its expand and collapse to the monitor.
func (a App) panel(pid core.ProcessID) *panel {
	if p, ok := a.panels[pid]; ok {
		return p
	}
	w, h := a.logSize()
	p := newPanel(w, h)
	a.panels[pid] = p
	a.monitor.Watch(pid, a.events)
	return p
}

// dropVanished stops polling services that are no longer listed.
func (a App) dropVanished() {
	present := make(map[core.ProcessID]bool, len(a.items))
	for _, item := range a.items {
		present[item.ID()] = true
	}
	for pid, p := range a.panels {
		if present[pid] || !p.expanded {
			continue
		}
		p.expanded = false
		a.ops.push(a.events.collapsed(pid))
	}
}

func (a App) filteredItems() []core.Item {
	q := strings.ToLower(a.search.Value())
	if q == "" {
		return a.items
	}
	var filtered []core.Item
	for _, item := range a.items {
		if strings.Contains(strings.ToLower(item.Name), q) ||
			strings.Contains(strings.ToLower(item.Group), q) ||
			strings.Contains(strings.ToLower(string(item.Kind)), q) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

func (a App) selectedItem() *core.Item {
	items := a.filteredItems()
	if a.selectedIdx < len(items) {
		return &items[a.selectedIdx]
	}
	return nil
}
