// Package monitor polls per-process log snapshots while their panel is
// expanded and renders changes into a Sink.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/modoterra/nexus/pkg/core"
)

// DefaultInterval is the polling cadence of an expanded panel.
const DefaultInterval = 2 * time.Second

// Result reports whether Update changed the displayed content.
type Result int

const (
	Unchanged Result = iota
	Changed
)

func (r Result) String() string {
	if r == Changed {
		return "changed"
	}
	return "unchanged"
}

// state is the MonitorState of one process. cancel and done form the
// timer handle: both are set iff monitoring is active.
type state struct {
	mu         sync.Mutex
	autoScroll bool
	last       core.LogSnapshot
	displayed  bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// Monitor owns the MonitorState of every process and the registry of
// running pollers.
type Monitor struct {
	fetcher  Fetcher
	sink     Sink
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	states map[core.ProcessID]*state
	closed bool
}

// New creates a monitor polling fetcher every interval and rendering into sink.
func New(fetcher Fetcher, sink Sink, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		fetcher:  fetcher,
		sink:     sink,
		interval: interval,
		logger:   logger,
		states:   make(map[core.ProcessID]*state),
	}
}

// Interval returns the polling cadence.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

func (m *Monitor) stateLocked(pid core.ProcessID) *state {
	st, ok := m.states[pid]
	if !ok {
		st = &state{}
		m.states[pid] = st
	}
	return st
}

func (m *Monitor) state(pid core.ProcessID) *state {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked(pid)
}

// Expand starts monitoring pid: one fetch right away, then one per
// interval. Auto-scroll is forced on. Expanding an active pid is a no-op.
func (m *Monitor) Expand(pid core.ProcessID) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	st := m.stateLocked(pid)
	st.mu.Lock()
	if st.cancel != nil {
		st.mu.Unlock()
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	st.cancel, st.done = cancel, done
	st.autoScroll = true
	st.mu.Unlock()
	m.mu.Unlock()

	m.logger.Debug("log monitoring started", "pid", pid, "interval", m.interval)
	go m.run(ctx, pid, st, done)
}

// Collapse stops monitoring pid and waits for its poller to exit. The
// cached snapshot and auto-scroll flag are kept for the next Expand.
func (m *Monitor) Collapse(pid core.ProcessID) {
	m.mu.Lock()
	st, ok := m.states[pid]
	m.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	cancel, done := st.cancel, st.done
	st.cancel, st.done = nil, nil
	st.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done
	m.logger.Debug("log monitoring stopped", "pid", pid)
}

// Close stops every active poller and discards all state. The monitor
// ignores Expand afterwards.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	pids := make([]core.ProcessID, 0, len(m.states))
	for pid := range m.states {
		pids = append(pids, pid)
	}
	m.mu.Unlock()

	for _, pid := range pids {
		m.Collapse(pid)
	}

	m.mu.Lock()
	m.states = make(map[core.ProcessID]*state)
	m.mu.Unlock()
}

// Active reports whether pid is currently being polled.
func (m *Monitor) Active(pid core.ProcessID) bool {
	m.mu.Lock()
	st, ok := m.states[pid]
	m.mu.Unlock()
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cancel != nil
}

// ActivePIDs returns the sorted list of polled processes.
func (m *Monitor) ActivePIDs() []core.ProcessID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pids []core.ProcessID
	for pid, st := range m.states {
		st.mu.Lock()
		if st.cancel != nil {
			pids = append(pids, pid)
		}
		st.mu.Unlock()
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

// Watch binds pid to a collapsible panel: expand starts monitoring and
// collapse stops it.
func (m *Monitor) Watch(pid core.ProcessID, events PanelEvents) {
	events.OnExpand(pid, func() { m.Expand(pid) })
	events.OnCollapse(pid, func() { m.Collapse(pid) })
}

func (m *Monitor) run(ctx context.Context, pid core.ProcessID, st *state, done chan struct{}) {
	defer close(done)

	st.mu.Lock()
	m.sink.ScrollToBottom(pid)
	st.mu.Unlock()

	m.tick(ctx, pid, st)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx, pid, st)
		}
	}
}

func (m *Monitor) tick(ctx context.Context, pid core.ProcessID, st *state) {
	snap, err := m.fetcher.Fetch(ctx, pid)
	if ctx.Err() != nil {
		// Collapsed while the fetch was in flight.
		return
	}
	if err != nil {
		m.logger.Warn("fetch logs", "pid", pid, "err", err)
		m.renderError(pid, st, err)
		return
	}
	m.update(pid, st, snap)
}

func (m *Monitor) renderError(pid core.ProcessID, st *state, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.displayed = true
	m.sink.Replace(pid, []Line{{Text: ErrorText(err), Severity: core.SeverityError}})
}

// ErrorText formats a fetch failure the way it is shown in place of logs.
func ErrorText(err error) string {
	var be *core.BackendError
	if errors.As(err, &be) {
		return fmt.Sprintf("Erro: %s", be.Message)
	}
	return fmt.Sprintf("Erro ao buscar logs: %s", err)
}
