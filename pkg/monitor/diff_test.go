package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modoterra/nexus/pkg/core"
)

func newIdleMonitor(sink Sink) *Monitor {
	return New(&countingFetcher{}, sink, time.Hour, testLogger())
}

func TestUpdateSameSnapshotRendersOnce(t *testing.T) {
	sink := &recordingSink{}
	m := newIdleMonitor(sink)

	s := core.LogSnapshot{"a", "b"}
	require.Equal(t, Changed, m.Update("p", s))
	require.Equal(t, Unchanged, m.Update("p", s))
	require.Equal(t, 1, sink.count("replace"))
}

func TestUpdateReplacesWholeSnapshot(t *testing.T) {
	sink := &recordingSink{}
	m := newIdleMonitor(sink)

	m.Update("p", core.LogSnapshot{"a"})
	require.Equal(t, Changed, m.Update("p", core.LogSnapshot{"a", "b"}))
	require.Equal(t, []Line{
		{Text: "a", Severity: core.SeverityDefault},
		{Text: "b", Severity: core.SeverityDefault},
	}, sink.lastReplace())
	require.Equal(t, core.LogSnapshot{"a", "b"}, m.Last("p"))
}

func TestUpdateDoesNotAliasCallerSlice(t *testing.T) {
	m := newIdleMonitor(&recordingSink{})
	s := core.LogSnapshot{"a"}
	m.Update("p", s)
	s[0] = "mutated"
	require.Equal(t, core.LogSnapshot{"a"}, m.Last("p"))
}

func TestUpdateEmptyShowsPlaceholderOnce(t *testing.T) {
	sink := &recordingSink{}
	m := newIdleMonitor(sink)

	require.Equal(t, Unchanged, m.Update("p", nil))
	require.Equal(t, Unchanged, m.Update("p", core.LogSnapshot{}))
	require.Equal(t, 1, sink.count("placeholder"))
	require.Zero(t, sink.count("replace"))
}

func TestUpdateToEmptyIsAChange(t *testing.T) {
	sink := &recordingSink{}
	m := newIdleMonitor(sink)

	m.Update("p", core.LogSnapshot{"a"})
	require.Equal(t, Changed, m.Update("p", nil))
	require.Empty(t, sink.lastReplace())
}

func TestUpdateEmptyAfterLinesShowsPlaceholder(t *testing.T) {
	sink := &recordingSink{}
	m := newIdleMonitor(sink)

	m.Update("p", core.LogSnapshot{"a"})
	require.Equal(t, Changed, m.Update("p", core.LogSnapshot{}))
	require.Equal(t, Unchanged, m.Update("p", core.LogSnapshot{}))
	require.Equal(t, Unchanged, m.Update("p", nil))
	require.Equal(t, 1, sink.count("placeholder"))
	require.Equal(t, 2, sink.count("replace"))
}

func TestUpdateTagsSeverity(t *testing.T) {
	sink := &recordingSink{}
	m := newIdleMonitor(sink)

	m.Update("p", core.LogSnapshot{"ERROR: disk full", "WARN low memory", "debug tick"})
	lines := sink.lastReplace()
	require.Equal(t, core.SeverityError, lines[0].Severity)
	require.Equal(t, core.SeverityWarning, lines[1].Severity)
	require.Equal(t, core.SeverityDebug, lines[2].Severity)
}

func TestUpdateScrollsOnlyWithAutoScroll(t *testing.T) {
	sink := &recordingSink{}
	m := newIdleMonitor(sink)

	m.SetAutoScroll("on", true)
	m.SetAutoScroll("off", false)
	sink.reset()

	m.Update("on", core.LogSnapshot{"x"})
	m.Update("off", core.LogSnapshot{"x"})

	var scrolled []core.ProcessID
	for _, e := range sink.snapshot() {
		if e.kind == "scroll" {
			scrolled = append(scrolled, e.pid)
		}
	}
	require.Equal(t, []core.ProcessID{"on"}, scrolled)
}

func TestClearAllowsPlaceholderAgain(t *testing.T) {
	sink := &recordingSink{}
	m := newIdleMonitor(sink)

	m.Update("p", nil)
	m.Clear("p")
	m.Update("p", nil)
	require.Equal(t, 2, sink.count("placeholder"))
	require.Equal(t, 1, sink.count("clear"))
}

func TestToggleAutoScroll(t *testing.T) {
	sink := &recordingSink{}
	m := newIdleMonitor(sink)

	require.False(t, m.AutoScroll("p"))
	require.True(t, m.ToggleAutoScroll("p", nil))
	require.Equal(t, 1, sink.count("scroll"))
	require.False(t, m.ToggleAutoScroll("p", nil))
	require.Equal(t, 1, sink.count("scroll"))

	on := true
	require.True(t, m.ToggleAutoScroll("p", &on))
	require.True(t, m.ToggleAutoScroll("p", &on))
	require.Equal(t, 3, sink.count("scroll"))
}

func TestErrorText(t *testing.T) {
	require.Equal(t, "Erro: timeout", ErrorText(&core.BackendError{Message: "timeout"}))
	require.Equal(t, "Erro ao buscar logs: boom", ErrorText(errorString("boom")))
}

type errorString string

func (e errorString) Error() string { return string(e) }
