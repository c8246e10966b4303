package daemon

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/modoterra/nexus/pkg/core"
)

// PollLoop refreshes all providers every interval and logs status changes.
type PollLoop struct {
	daemon   *Daemon
	interval time.Duration
	logger   *slog.Logger
}

// NewPollLoop creates a poll loop for the given daemon.
func NewPollLoop(d *Daemon, interval time.Duration, logger *slog.Logger) *PollLoop {
	return &PollLoop{daemon: d, interval: interval, logger: logger}
}

// Run refreshes once immediately, then every interval until ctx is cancelled.
func (pl *PollLoop) Run(ctx context.Context) {
	pl.tick(ctx)

	ticker := time.NewTicker(pl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pl.tick(ctx)
		}
	}
}

func (pl *PollLoop) tick(ctx context.Context) {
	delta := pl.daemon.Refresh(ctx)
	if !delta.HasChanges() {
		return
	}
	for _, item := range delta.Added {
		pl.logger.Info("service added", "name", item.Name, "kind", item.Kind, "status", item.Status)
	}
	for _, item := range delta.Updated {
		pl.logger.Info("service changed", "name", item.Name, "status", item.Status, "error", item.Error)
	}
	for _, name := range delta.Removed {
		pl.logger.Info("service removed", "name", name)
	}
}

// Delta represents changes between poll cycles.
type Delta struct {
	Added   []core.Item `json:"added,omitempty"`
	Updated []core.Item `json:"updated,omitempty"`
	Removed []string    `json:"removed,omitempty"`
}

// HasChanges returns true if the delta contains any changes.
func (d Delta) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Updated) > 0 || len(d.Removed) > 0
}

func computeDelta(old, new map[string]core.Item) Delta {
	var d Delta

	for name, item := range new {
		prev, existed := old[name]
		if !existed {
			d.Added = append(d.Added, item)
		} else if itemChanged(prev, item) {
			d.Updated = append(d.Updated, item)
		}
	}

	for name := range old {
		if _, exists := new[name]; !exists {
			d.Removed = append(d.Removed, name)
		}
	}

	return d
}

// itemChanged ignores uptime, which moves on every poll.
func itemChanged(a, b core.Item) bool {
	return a.Status != b.Status ||
		a.Error != b.Error ||
		a.Path != b.Path ||
		!slices.Equal(a.PIDs, b.PIDs)
}
