// Package systemd exposes systemd units declared in the manifest.
package systemd

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"

	"github.com/modoterra/nexus/pkg/core"
	"github.com/modoterra/nexus/pkg/manifest"
)

// Journal produces log snapshots for a unit.
type Journal interface {
	Tail(ctx context.Context, unit string, n int) (core.LogSnapshot, error)
}

// Provider manages systemd units via D-Bus.
type Provider struct {
	mu      sync.RWMutex
	units   map[string]string // service name -> unit
	groups  map[string]string
	user    bool
	journal Journal
	logger  *slog.Logger
}

// New creates a systemd provider. When user is set, the user manager is used.
func New(journal Journal, user bool, logger *slog.Logger) *Provider {
	return &Provider{
		units:   make(map[string]string),
		groups:  make(map[string]string),
		user:    user,
		journal: journal,
		logger:  logger,
	}
}

func (p *Provider) Name() string { return string(core.KindSystemd) }

// Configure replaces the set of monitored units.
func (p *Provider) Configure(m *manifest.Manifest) error {
	units := make(map[string]string)
	groups := make(map[string]string)
	for name, svc := range m.ServicesOfKind(string(core.KindSystemd)) {
		units[name] = svc.Unit
		groups[name] = m.GroupOf(name)
	}
	p.mu.Lock()
	p.units = units
	p.groups = groups
	p.mu.Unlock()
	return nil
}

// Owns reports whether name is a systemd service.
func (p *Provider) Owns(name string) bool {
	_, ok := p.unit(name)
	return ok
}

func (p *Provider) unit(name string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.units[name]
	return u, ok
}

func (p *Provider) connect(ctx context.Context) (*dbus.Conn, error) {
	if p.user {
		return dbus.NewUserConnectionContext(ctx)
	}
	return dbus.NewWithContext(ctx)
}

func (p *Provider) List(ctx context.Context) ([]core.Item, error) {
	p.mu.RLock()
	byUnit := make(map[string]string, len(p.units))
	unitNames := make([]string, 0, len(p.units))
	for name, unit := range p.units {
		byUnit[unit] = name
		unitNames = append(unitNames, unit)
	}
	groups := p.groups
	p.mu.RUnlock()

	if len(unitNames) == 0 {
		return nil, nil
	}
	sort.Strings(unitNames)

	conn, err := p.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	allUnits, err := conn.ListUnitsByNamesContext(ctx, unitNames)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}

	items := make([]core.Item, 0, len(allUnits))
	for _, u := range allUnits {
		name, ok := byUnit[u.Name]
		if !ok {
			continue
		}
		item := core.Item{
			Name:   name,
			Kind:   core.KindSystemd,
			Group:  groups[name],
			Status: mapStatus(u.ActiveState, u.SubState),
			Source: map[string]string{
				"unit":        u.Name,
				"activeState": u.ActiveState,
				"subState":    u.SubState,
				"loadState":   u.LoadState,
			},
		}
		if u.LoadState == "not-found" {
			item.Error = "unit not found"
		}
		if u.ActiveState == "active" {
			props, err := conn.GetUnitTypePropertiesContext(ctx, u.Name, "Service")
			if err == nil {
				if pid, ok := props["MainPID"].(uint32); ok && pid > 0 {
					item.PIDs = []int{int(pid)}
				}
				if mem, ok := props["MemoryCurrent"].(uint64); ok && mem != ^uint64(0) {
					item.MemBytes = mem
				}
				if dir, ok := props["WorkingDirectory"].(string); ok {
					item.Path = dir
				}
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func (p *Provider) Action(ctx context.Context, name string, action string) error {
	unit, ok := p.unit(name)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownService, name)
	}

	conn, err := p.connect(ctx)
	if err != nil {
		return fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	ch := make(chan string, 1)
	switch action {
	case "start":
		_, err = conn.StartUnitContext(ctx, unit, "replace", ch)
	case "stop":
		_, err = conn.StopUnitContext(ctx, unit, "replace", ch)
	case "restart":
		_, err = conn.RestartUnitContext(ctx, unit, "replace", ch)
	default:
		return fmt.Errorf("unsupported action %q for systemd unit", action)
	}
	if err != nil {
		return fmt.Errorf("systemd %s %s: %w", action, unit, err)
	}

	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("systemd %s %s: job result %q", action, unit, result)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	p.logger.Info("systemd action", "name", name, "unit", unit, "action", action)
	return nil
}

// Snapshot returns the last n journal lines of the service's unit.
func (p *Provider) Snapshot(ctx context.Context, name string, n int) (core.LogSnapshot, error) {
	unit, ok := p.unit(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownService, name)
	}
	return p.journal.Tail(ctx, unit, n)
}

func mapStatus(active, sub string) core.Status {
	switch {
	case active == "active" && sub == "running":
		return core.StatusRunning
	case active == "active":
		return core.StatusRunning
	case active == "activating", active == "reloading":
		return core.StatusStarting
	case active == "deactivating":
		return core.StatusStopping
	case active == "inactive":
		return core.StatusStopped
	case active == "failed":
		return core.StatusFailed
	default:
		return core.StatusUnknown
	}
}
