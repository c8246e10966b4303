package monitor

import (
	"github.com/modoterra/nexus/pkg/core"
)

// Update compares snap against the cached snapshot of pid and re-renders
// the whole view when they differ.
func (m *Monitor) Update(pid core.ProcessID, snap core.LogSnapshot) Result {
	return m.update(pid, m.state(pid), snap)
}

func (m *Monitor) update(pid core.ProcessID, st *state, snap core.LogSnapshot) Result {
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(snap) == 0 && len(st.last) == 0 {
		if !st.displayed {
			st.displayed = true
			m.sink.Placeholder(pid)
		}
		return Unchanged
	}
	if snap.Equal(st.last) {
		return Unchanged
	}

	st.last = snap.Clone()
	st.displayed = len(snap) > 0
	m.sink.Replace(pid, classifyAll(st.last))
	if st.autoScroll {
		m.sink.ScrollToBottom(pid)
	}
	return Changed
}

func classifyAll(snap core.LogSnapshot) []Line {
	lines := make([]Line, len(snap))
	for i, text := range snap {
		lines[i] = Line{Text: text, Severity: core.Classify(text)}
	}
	return lines
}

// Last returns a copy of the cached snapshot of pid.
func (m *Monitor) Last(pid core.ProcessID) core.LogSnapshot {
	st := m.state(pid)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.last.Clone()
}

// Clear empties the displayed content of pid. The cache is kept, so an
// unchanged snapshot does not redraw until the logs change.
func (m *Monitor) Clear(pid core.ProcessID) {
	st := m.state(pid)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.displayed = false
	m.sink.Clear(pid)
}
