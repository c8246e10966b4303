package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modoterra/nexus/pkg/core"
)

type event struct {
	kind  string
	pid   core.ProcessID
	lines []Line
}

type recordingSink struct {
	mu     sync.Mutex
	events []event
}

func (s *recordingSink) add(e event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) Replace(pid core.ProcessID, lines []Line) {
	s.add(event{kind: "replace", pid: pid, lines: lines})
}
func (s *recordingSink) Placeholder(pid core.ProcessID)    { s.add(event{kind: "placeholder", pid: pid}) }
func (s *recordingSink) ScrollToBottom(pid core.ProcessID) { s.add(event{kind: "scroll", pid: pid}) }
func (s *recordingSink) Clear(pid core.ProcessID)          { s.add(event{kind: "clear", pid: pid}) }

func (s *recordingSink) snapshot() []event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event(nil), s.events...)
}

func (s *recordingSink) count(kind string) int {
	n := 0
	for _, e := range s.snapshot() {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func (s *recordingSink) lastReplace() []Line {
	events := s.snapshot()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].kind == "replace" {
			return events[i].lines
		}
	}
	return nil
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

type response struct {
	snap core.LogSnapshot
	err  error
}

// scriptedFetcher hands out one queued response per call and blocks until
// the test queues the next one.
type scriptedFetcher struct {
	responses chan response
	calls     atomic.Int32
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{responses: make(chan response, 8)}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, _ core.ProcessID) (core.LogSnapshot, error) {
	f.calls.Add(1)
	select {
	case r := <-f.responses:
		return r.snap, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type countingFetcher struct {
	calls atomic.Int32
	snap  core.LogSnapshot
}

func (f *countingFetcher) Fetch(_ context.Context, _ core.ProcessID) (core.LogSnapshot, error) {
	f.calls.Add(1)
	return f.snap, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const waitFor = 2 * time.Second

func TestExpandFetchesImmediately(t *testing.T) {
	f := &countingFetcher{snap: core.LogSnapshot{"a"}}
	m := New(f, &recordingSink{}, time.Hour, testLogger())
	defer m.Close()

	m.Expand("svc1")
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, waitFor, time.Millisecond)
	require.True(t, m.Active("svc1"))
}

func TestExpandPollsEveryInterval(t *testing.T) {
	f := &countingFetcher{snap: core.LogSnapshot{"a"}}
	m := New(f, &recordingSink{}, 5*time.Millisecond, testLogger())
	defer m.Close()

	m.Expand("svc1")
	require.Eventually(t, func() bool { return f.calls.Load() >= 4 }, waitFor, time.Millisecond)
}

func TestExpandTwiceIsNoOp(t *testing.T) {
	f := &countingFetcher{snap: core.LogSnapshot{"a"}}
	m := New(f, &recordingSink{}, time.Hour, testLogger())
	defer m.Close()

	m.Expand("svc1")
	m.Expand("svc1")
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, waitFor, time.Millisecond)
	require.Never(t, func() bool { return f.calls.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	require.Equal(t, []core.ProcessID{"svc1"}, m.ActivePIDs())
}

func TestCollapseStopsPolling(t *testing.T) {
	sink := &recordingSink{}
	f := &countingFetcher{snap: core.LogSnapshot{"a"}}
	m := New(f, sink, 5*time.Millisecond, testLogger())
	defer m.Close()

	m.Expand("svc1")
	require.Eventually(t, func() bool { return f.calls.Load() >= 2 }, waitFor, time.Millisecond)

	m.Collapse("svc1")
	require.False(t, m.Active("svc1"))

	calls := f.calls.Load()
	events := len(sink.snapshot())
	time.Sleep(10 * 5 * time.Millisecond)
	require.Equal(t, calls, f.calls.Load())
	require.Len(t, sink.snapshot(), events)
}

func TestCollapseInactiveIsNoOp(t *testing.T) {
	m := New(&countingFetcher{}, &recordingSink{}, time.Hour, testLogger())
	m.Collapse("never-expanded")
	m.Update("svc1", core.LogSnapshot{"a"})
	m.Collapse("svc1")
	require.False(t, m.Active("svc1"))
}

func TestLateResultAfterCollapseIsDropped(t *testing.T) {
	sink := &recordingSink{}
	f := newScriptedFetcher()
	m := New(f, sink, time.Hour, testLogger())
	defer m.Close()

	m.Expand("svc1")
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, waitFor, time.Millisecond)

	m.Collapse("svc1")
	require.Zero(t, sink.count("replace"))
	require.Zero(t, sink.count("placeholder"))
}

func TestCollapseRetainsCache(t *testing.T) {
	sink := &recordingSink{}
	f := &countingFetcher{snap: core.LogSnapshot{"a", "b"}}
	m := New(f, sink, time.Hour, testLogger())
	defer m.Close()

	m.Expand("svc1")
	require.Eventually(t, func() bool { return sink.count("replace") == 1 }, waitFor, time.Millisecond)
	m.Collapse("svc1")

	m.Expand("svc1")
	require.Eventually(t, func() bool { return f.calls.Load() == 2 }, waitFor, time.Millisecond)
	m.Collapse("svc1")
	require.Equal(t, 1, sink.count("replace"))
	require.Equal(t, core.LogSnapshot{"a", "b"}, m.Last("svc1"))
}

func TestExpandForcesAutoScroll(t *testing.T) {
	m := New(&countingFetcher{}, &recordingSink{}, time.Hour, testLogger())
	defer m.Close()

	m.SetAutoScroll("svc1", false)
	m.Expand("svc1")
	require.True(t, m.AutoScroll("svc1"))
}

func TestCloseStopsEverything(t *testing.T) {
	f := &countingFetcher{snap: core.LogSnapshot{"a"}}
	m := New(f, &recordingSink{}, 5*time.Millisecond, testLogger())

	m.Expand("a")
	m.Expand("b")
	require.Eventually(t, func() bool { return f.calls.Load() >= 2 }, waitFor, time.Millisecond)

	m.Close()
	require.Empty(t, m.ActivePIDs())

	calls := f.calls.Load()
	m.Expand("a")
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, calls, f.calls.Load())
	require.False(t, m.Active("a"))
}

func TestScenarioSuccessUnchangedThenBackendError(t *testing.T) {
	sink := &recordingSink{}
	f := newScriptedFetcher()
	m := New(f, sink, 5*time.Millisecond, testLogger())
	defer m.Close()

	m.Expand("svc1")

	f.responses <- response{snap: core.LogSnapshot{"starting"}}
	require.Eventually(t, func() bool { return sink.count("replace") == 1 }, waitFor, time.Millisecond)
	require.Equal(t, []Line{{Text: "starting", Severity: core.SeverityDefault}}, sink.lastReplace())

	events := sink.snapshot()
	var replaceAt, scrollAfter int = -1, -1
	for i, e := range events {
		if e.kind == "replace" {
			replaceAt = i
		}
		if e.kind == "scroll" && replaceAt >= 0 && i > replaceAt {
			scrollAfter = i
		}
	}
	require.Greater(t, scrollAfter, replaceAt, "expected scroll to bottom after render")

	f.responses <- response{snap: core.LogSnapshot{"starting"}}
	require.Eventually(t, func() bool { return f.calls.Load() >= 3 }, waitFor, time.Millisecond)
	require.Equal(t, 1, sink.count("replace"))

	f.responses <- response{err: &core.BackendError{Message: "timeout"}}
	require.Eventually(t, func() bool { return sink.count("replace") == 2 }, waitFor, time.Millisecond)
	require.Equal(t, []Line{{Text: "Erro: timeout", Severity: core.SeverityError}}, sink.lastReplace())
	require.Equal(t, core.LogSnapshot{"starting"}, m.Last("svc1"))
}

func TestNetworkErrorIsRenderedInline(t *testing.T) {
	sink := &recordingSink{}
	f := newScriptedFetcher()
	m := New(f, sink, time.Hour, testLogger())
	defer m.Close()

	f.responses <- response{err: errors.New("connection refused")}
	m.Expand("svc1")
	require.Eventually(t, func() bool { return sink.count("replace") == 1 }, waitFor, time.Millisecond)
	require.Equal(t, "Erro ao buscar logs: connection refused", sink.lastReplace()[0].Text)
}

type fakePanel struct {
	expand   map[core.ProcessID]func()
	collapse map[core.ProcessID]func()
}

func (p *fakePanel) OnExpand(pid core.ProcessID, cb func())   { p.expand[pid] = cb }
func (p *fakePanel) OnCollapse(pid core.ProcessID, cb func()) { p.collapse[pid] = cb }

func TestWatchBindsPanelEvents(t *testing.T) {
	panel := &fakePanel{expand: map[core.ProcessID]func(){}, collapse: map[core.ProcessID]func(){}}
	f := &countingFetcher{}
	m := New(f, &recordingSink{}, time.Hour, testLogger())
	defer m.Close()

	m.Watch("svc1", panel)
	panel.expand["svc1"]()
	require.True(t, m.Active("svc1"))
	panel.collapse["svc1"]()
	require.False(t, m.Active("svc1"))
}

func TestNewDefaults(t *testing.T) {
	m := New(&countingFetcher{}, &recordingSink{}, 0, nil)
	require.Equal(t, 2*time.Second, m.Interval())
	require.Equal(t, DefaultInterval, m.Interval())
}
