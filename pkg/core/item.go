package core

// Kind represents the type of managed service.
type Kind string

const (
	KindSystemd Kind = "systemd"
	KindExec    Kind = "exec"
	KindLog     Kind = "log"
)

// Status represents the current state of a service.
type Status string

const (
	StatusRunning    Status = "running"
	StatusStarting   Status = "starting"
	StatusStopping   Status = "stopping"
	StatusStopped    Status = "stopped"
	StatusFailed     Status = "failed"
	StatusUnknown    Status = "unknown"
	StatusRestarting Status = "restarting"

	// StatusDependentFailed marks a service whose dependency failed to start.
	StatusDependentFailed Status = "dependent_failed"
)

// RestartPolicy defines how a supervised process should be restarted.
type RestartPolicy string

const (
	RestartAlways    RestartPolicy = "always"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartNever     RestartPolicy = "never"
)

// Item is a managed service as reported by a provider.
// Its Name doubles as the ProcessID used by the log endpoints.
type Item struct {
	Name      string            `json:"name"`
	Kind      Kind              `json:"kind"`
	Group     string            `json:"group,omitempty"`
	Status    Status            `json:"status"`
	PIDs      []int             `json:"pids,omitempty"`
	MemBytes  uint64            `json:"mem_bytes,omitempty"`
	UptimeSec uint64            `json:"uptime_sec,omitempty"`
	Path      string            `json:"path,omitempty"`
	Error     string            `json:"error,omitempty"`
	Source    map[string]string `json:"source,omitempty"`
}

// ID returns the ProcessID that addresses this item's logs.
func (i Item) ID() ProcessID {
	return ProcessID(i.Name)
}
