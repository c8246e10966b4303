package monitor

import "github.com/modoterra/nexus/pkg/core"

// AutoScroll reports whether pid follows the tail of its log.
func (m *Monitor) AutoScroll(pid core.ProcessID) bool {
	st := m.state(pid)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.autoScroll
}

// SetAutoScroll stores the auto-scroll flag of pid.
func (m *Monitor) SetAutoScroll(pid core.ProcessID, enabled bool) {
	m.ToggleAutoScroll(pid, &enabled)
}

// ToggleAutoScroll flips the flag of pid, or sets it to *force when force
// is non-nil, and returns the new value. Enabling scrolls to the bottom.
func (m *Monitor) ToggleAutoScroll(pid core.ProcessID, force *bool) bool {
	st := m.state(pid)
	st.mu.Lock()
	next := !st.autoScroll
	if force != nil {
		next = *force
	}
	st.autoScroll = next
	if next {
		m.sink.ScrollToBottom(pid)
	}
	st.mu.Unlock()
	return next
}
