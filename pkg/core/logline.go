package core

import "slices"

// ProcessID names a monitored service. It is opaque to the monitor.
type ProcessID string

// LogLine represents a single buffered line of service output.
type LogLine struct {
	Service  string `json:"service"`
	TsUnixMs int64  `json:"ts_unix_ms"`
	Stream   string `json:"stream"` // "stdout", "stderr", "journal", "file", "status"
	Line     string `json:"line"`
}

// LogSnapshot is the full currently known log buffer of a process.
// A newer snapshot replaces an older one; it is never a delta.
type LogSnapshot []string

// Equal reports whether both snapshots hold the same lines in the same order.
// A nil snapshot equals an empty one.
func (s LogSnapshot) Equal(other LogSnapshot) bool {
	return slices.Equal(s, other)
}

// Clone returns a copy that does not share backing storage with s.
func (s LogSnapshot) Clone() LogSnapshot {
	if s == nil {
		return nil
	}
	return slices.Clone(s)
}

// Texts extracts the line text of each entry, preserving order.
func Texts(lines []LogLine) LogSnapshot {
	out := make(LogSnapshot, len(lines))
	for i, l := range lines {
		out[i] = l.Line
	}
	return out
}
