package core

import "context"

// Provider is the interface all service providers must implement.
type Provider interface {
	// Name returns the provider's identifier (e.g., "systemd", "exec", "log").
	Name() string

	// List returns all services this provider currently knows about.
	List(ctx context.Context) ([]Item, error)

	// Action performs start, stop or restart on the named service.
	Action(ctx context.Context, name string, action string) error
}

// LogSource is implemented by providers that can produce a log snapshot.
type LogSource interface {
	// Snapshot returns up to n of the most recent log lines for the named
	// service, oldest first.
	Snapshot(ctx context.Context, name string, n int) (LogSnapshot, error)
}

// Owner is implemented by providers that can tell whether they manage a name.
type Owner interface {
	Owns(name string) bool
}
