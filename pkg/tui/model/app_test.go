package model

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/modoterra/nexus/pkg/core"
	"github.com/modoterra/nexus/pkg/monitor"
)

type fakeAPI struct {
	items      []core.Item
	refreshErr error
	actions    []string
}

func (f *fakeAPI) Services(context.Context) ([]core.Item, error) { return f.items, nil }

func (f *fakeAPI) RefreshRepos(context.Context) (int, error) {
	if f.refreshErr != nil {
		return 0, f.refreshErr
	}
	return 3, nil
}

func (f *fakeAPI) Action(_ context.Context, pid core.ProcessID, action string) error {
	f.actions = append(f.actions, action+":"+string(pid))
	return nil
}

func testItems() []core.Item {
	return []core.Item{
		{Name: "api", Kind: core.KindExec, Status: core.StatusRunning, Path: "/srv/api", Group: "backend"},
		{Name: "nginx", Kind: core.KindSystemd, Status: core.StatusStopped},
	}
}

// newTestApp returns a sized app whose monitor output lands on msgs.
func newTestApp(t *testing.T, api *fakeAPI, snap core.LogSnapshot) (App, chan tea.Msg) {
	t.Helper()
	fetcher := monitor.FetcherFunc(func(context.Context, core.ProcessID) (core.LogSnapshot, error) {
		return snap, nil
	})
	app := New(api, fetcher, time.Hour, nil)
	msgs := make(chan tea.Msg, 256)
	app.Bind(func(m tea.Msg) { msgs <- m })
	t.Cleanup(app.Close)

	app = update(app, tea.WindowSizeMsg{Width: 120, Height: 40})
	app = update(app, servicesMsg{items: api.items})
	return app, msgs
}

func update(a App, msg tea.Msg) App {
	m, _ := a.Update(msg)
	return m.(App)
}

func keyRune(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

// pump feeds monitor messages into the app until one matches want.
func pump(t *testing.T, a App, msgs chan tea.Msg, want func(tea.Msg) bool) App {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-msgs:
			a = update(a, m)
			if want(m) {
				return a
			}
		case <-deadline:
			t.Fatal("timed out waiting for monitor message")
		}
	}
}

func TestToggleExpandsAndRendersLogs(t *testing.T) {
	api := &fakeAPI{items: testItems()}
	app, msgs := newTestApp(t, api, core.LogSnapshot{"server started", "ERROR boom"})

	app = update(app, tea.KeyMsg{Type: tea.KeyEnter})
	p := app.panels["api"]
	require.NotNil(t, p)
	require.True(t, p.expanded)
	require.True(t, p.autoScroll)

	app = pump(t, app, msgs, func(m tea.Msg) bool { _, ok := m.(logsMsg); return ok })
	require.Len(t, p.lines, 2)
	require.Equal(t, core.SeverityError, p.lines[1].Severity)
	require.Contains(t, app.View(), "server started")
	require.Contains(t, app.View(), "[follow]")
}

func TestToggleTwiceCollapses(t *testing.T) {
	api := &fakeAPI{items: testItems()}
	app, _ := newTestApp(t, api, core.LogSnapshot{"line"})

	app = update(app, tea.KeyMsg{Type: tea.KeyEnter})
	app = update(app, tea.KeyMsg{Type: tea.KeyEnter})
	require.False(t, app.panels["api"].expanded)

	app.ops.close()
	require.False(t, app.monitor.Active("api"))
	require.Contains(t, app.View(), "press enter to follow logs")
}

func TestEmptyLogsShowPlaceholder(t *testing.T) {
	api := &fakeAPI{items: testItems()}
	app, msgs := newTestApp(t, api, core.LogSnapshot{})

	app = update(app, tea.KeyMsg{Type: tea.KeyEnter})
	app = pump(t, app, msgs, func(m tea.Msg) bool { _, ok := m.(placeholderMsg); return ok })
	require.True(t, app.panels["api"].placeholder)
	require.Contains(t, app.View(), placeholderText)
}

func TestClearEmptiesPanel(t *testing.T) {
	api := &fakeAPI{items: testItems()}
	app, msgs := newTestApp(t, api, core.LogSnapshot{"a", "b"})

	app = update(app, tea.KeyMsg{Type: tea.KeyEnter})
	app = pump(t, app, msgs, func(m tea.Msg) bool { _, ok := m.(logsMsg); return ok })

	app = update(app, keyRune('x'))
	app = pump(t, app, msgs, func(m tea.Msg) bool { _, ok := m.(clearMsg); return ok })
	require.Empty(t, app.panels["api"].lines)
}

func TestAutoScrollToggleShowsToast(t *testing.T) {
	api := &fakeAPI{items: testItems()}
	app, msgs := newTestApp(t, api, core.LogSnapshot{"a"})

	app = update(app, tea.KeyMsg{Type: tea.KeyEnter})
	app = pump(t, app, msgs, func(m tea.Msg) bool { _, ok := m.(logsMsg); return ok })

	app = update(app, keyRune('f'))
	app = pump(t, app, msgs, func(m tea.Msg) bool { _, ok := m.(autoScrollMsg); return ok })
	require.False(t, app.panels["api"].autoScroll)
	require.Equal(t, "auto-scroll off", app.toast.text)
	require.Contains(t, app.View(), "[paused]")
}

func TestToastFadesThenDisappears(t *testing.T) {
	app, _ := newTestApp(t, &fakeAPI{items: testItems()}, nil)

	app = update(app, toastMsg{text: "path copied"})
	id := app.toast.id
	require.Equal(t, "path copied", app.toast.text)
	require.False(t, app.toast.fading)

	app = update(app, toastFadeMsg{id: id})
	require.True(t, app.toast.fading)
	require.Equal(t, "path copied", app.toast.text)

	app = update(app, toastRemoveMsg{id: id})
	require.Empty(t, app.toast.text)
}

func TestStaleToastTimersAreIgnored(t *testing.T) {
	app, _ := newTestApp(t, &fakeAPI{items: testItems()}, nil)

	app = update(app, toastMsg{text: "first"})
	first := app.toast.id
	app = update(app, toastMsg{text: "second"})

	app = update(app, toastFadeMsg{id: first})
	require.False(t, app.toast.fading)
	app = update(app, toastRemoveMsg{id: first})
	require.Equal(t, "second", app.toast.text)
}

func TestRefreshFailureShowsErrorToast(t *testing.T) {
	api := &fakeAPI{items: testItems(), refreshErr: errors.New("scan failed")}
	app, _ := newTestApp(t, api, nil)

	m, cmd := app.Update(keyRune('R'))
	app = m.(App)
	require.True(t, app.refreshing)
	require.NotNil(t, cmd)

	msg := refreshReposCmd(api)()
	app = update(app, msg)
	require.False(t, app.refreshing)
	require.True(t, app.toast.isErr)
	require.Contains(t, app.toast.text, "scan failed")
}

func TestRefreshSuccessReloadsServices(t *testing.T) {
	api := &fakeAPI{items: testItems()}
	app, _ := newTestApp(t, api, nil)

	m, cmd := app.Update(reposRefreshedMsg{count: 3})
	app = m.(App)
	require.NotNil(t, cmd)
	require.False(t, app.toast.isErr)
	require.Equal(t, "repositories refreshed (3)", app.toast.text)
}

func TestCopyPath(t *testing.T) {
	api := &fakeAPI{items: testItems()}
	app, _ := newTestApp(t, api, nil)

	var copied string
	app.copy = func(s string) error { copied = s; return nil }

	_, cmd := app.Update(keyRune('p'))
	require.NotNil(t, cmd)
	msg := cmd()
	require.Equal(t, toastMsg{text: "path copied"}, msg)
	require.Equal(t, "/srv/api", copied)
}

func TestCopyPathWithoutPath(t *testing.T) {
	api := &fakeAPI{items: testItems()}
	app, _ := newTestApp(t, api, nil)

	app = update(app, tea.KeyMsg{Type: tea.KeyDown})
	app = update(app, keyRune('p'))
	require.True(t, app.toast.isErr)
	require.Equal(t, "no path for nginx", app.toast.text)
}

func TestCopyLogsFailure(t *testing.T) {
	api := &fakeAPI{items: testItems()}
	app, msgs := newTestApp(t, api, core.LogSnapshot{"one", "two"})
	app.copy = func(string) error { return errors.New("no clipboard") }

	app = update(app, tea.KeyMsg{Type: tea.KeyEnter})
	app = pump(t, app, msgs, func(m tea.Msg) bool { _, ok := m.(logsMsg); return ok })
	require.Equal(t, "one\ntwo", app.panels["api"].text())

	_, cmd := app.Update(keyRune('c'))
	require.NotNil(t, cmd)
	require.Equal(t, toastMsg{text: "copy failed: no clipboard", isErr: true}, cmd())
}

func TestPanelBindsThroughWatch(t *testing.T) {
	api := &fakeAPI{items: testItems()}
	app, _ := newTestApp(t, api, core.LogSnapshot{"line"})

	app.panel("worker")
	app.events.expanded("worker")()
	require.True(t, app.monitor.Active("worker"))
	app.events.collapsed("worker")()
	require.False(t, app.monitor.Active("worker"))
}

func TestToggleRunsBoundCallbacks(t *testing.T) {
	api := &fakeAPI{items: testItems()}
	app, _ := newTestApp(t, api, core.LogSnapshot{"line"})

	var calls []string
	app.panel("api")
	app.events.OnExpand("api", func() { calls = append(calls, "expand") })
	app.events.OnCollapse("api", func() { calls = append(calls, "collapse") })

	app = update(app, tea.KeyMsg{Type: tea.KeyEnter})
	app = update(app, tea.KeyMsg{Type: tea.KeyEnter})
	app.ops.close()
	require.Equal(t, []string{"expand", "collapse"}, calls)
	require.False(t, app.monitor.Active("api"))
}

func TestVanishedServiceIsCollapsed(t *testing.T) {
	api := &fakeAPI{items: testItems()}
	app, _ := newTestApp(t, api, core.LogSnapshot{"a"})

	app = update(app, tea.KeyMsg{Type: tea.KeyEnter})
	app = update(app, servicesMsg{items: testItems()[1:]})
	require.False(t, app.panels["api"].expanded)

	app.ops.close()
	require.Empty(t, app.monitor.ActivePIDs())
}

func TestSearchFiltersServices(t *testing.T) {
	api := &fakeAPI{items: testItems()}
	app, _ := newTestApp(t, api, nil)

	app = update(app, keyRune('/'))
	require.Equal(t, ModeSearch, app.mode)
	for _, r := range "backend" {
		app = update(app, keyRune(r))
	}
	app = update(app, tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, ModeNormal, app.mode)

	items := app.filteredItems()
	require.Len(t, items, 1)
	require.Equal(t, "api", items[0].Name)
}

func TestActionKeyCallsAPI(t *testing.T) {
	api := &fakeAPI{items: testItems()}
	app, _ := newTestApp(t, api, nil)

	m, cmd := app.Update(keyRune('r'))
	app = m.(App)
	require.Equal(t, "restart api...", app.statusMsg)
	app = update(app, cmd())
	require.Equal(t, []string{"restart:api"}, api.actions)
	require.Equal(t, "restart → api", app.statusMsg)
}

func TestServicesErrorMarksDisconnected(t *testing.T) {
	app, _ := newTestApp(t, &fakeAPI{}, nil)

	app = update(app, servicesErrMsg{err: errors.New("connection refused")})
	require.False(t, app.connected)
	require.True(t, strings.HasPrefix(app.statusMsg, "error:"))
	require.Contains(t, app.View(), "connecting...")
}

func TestOpQueueRunsInOrder(t *testing.T) {
	q := newOpQueue()
	var got []int
	for i := range 100 {
		q.push(func() { got = append(got, i) })
	}
	q.close()

	require.Len(t, got, 100)
	for i, v := range got {
		require.Equal(t, i, v)
	}

	q.push(func() { got = append(got, -1) })
	require.Len(t, got, 100)
}
