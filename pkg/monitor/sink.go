package monitor

import (
	"context"

	"github.com/modoterra/nexus/pkg/core"
)

// Line is one rendered log line together with its display severity.
type Line struct {
	Text     string
	Severity core.Severity
}

// Sink is the view the monitor renders into. Calls for one ProcessID are
// serialized; calls for different ProcessIDs may arrive concurrently.
type Sink interface {
	// Replace discards the displayed content and shows lines instead.
	Replace(pid core.ProcessID, lines []Line)
	// Placeholder shows the "no logs available" notice.
	Placeholder(pid core.ProcessID)
	// ScrollToBottom moves the log view to its maximum scroll offset.
	ScrollToBottom(pid core.ProcessID)
	// Clear empties the displayed content.
	Clear(pid core.ProcessID)
}

// Fetcher retrieves the current log snapshot of one process.
type Fetcher interface {
	Fetch(ctx context.Context, pid core.ProcessID) (core.LogSnapshot, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, pid core.ProcessID) (core.LogSnapshot, error)

// Fetch calls f(ctx, pid).
func (f FetcherFunc) Fetch(ctx context.Context, pid core.ProcessID) (core.LogSnapshot, error) {
	return f(ctx, pid)
}

// PanelEvents is the collapsible panel that drives monitoring.
type PanelEvents interface {
	OnExpand(pid core.ProcessID, cb func())
	OnCollapse(pid core.ProcessID, cb func())
}
