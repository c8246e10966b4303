package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/modoterra/nexus/pkg/core"
	"github.com/modoterra/nexus/pkg/transport/httpapi"
)

// GlobalLog is the daemon-wide log shared by every service.
type GlobalLog interface {
	GlobalLogs(n int) []core.LogLine
	Record(service, line string)
}

// override is a status the daemon imposes on a service that could not be
// started. It holds until the service runs again or is stopped.
type override struct {
	status core.Status
	err    string
}

// SetGlobalLog sets where service events are recorded and read back by
// the global log route.
func (d *Daemon) SetGlobalLog(g GlobalLog) {
	d.mu.Lock()
	d.global = g
	d.mu.Unlock()
}

func (d *Daemon) record(name, line string) {
	d.mu.RLock()
	g := d.global
	d.mu.RUnlock()
	if g != nil {
		g.Record(name, line)
	}
}

// perform runs action on name, honoring declared dependencies: starts bring
// dependencies up first, stops take dependents down first.
func (d *Daemon) perform(ctx context.Context, name, action string) error {
	switch action {
	case httpapi.ActionStart:
		if err := d.startDependencies(ctx, name); err != nil {
			return err
		}
		return d.startOne(ctx, name)
	case httpapi.ActionStop:
		if _, err := d.stopDependents(ctx, name); err != nil {
			return err
		}
		return d.stopOne(ctx, name)
	case httpapi.ActionRestart:
		stopped, err := d.stopDependents(ctx, name)
		if err != nil {
			return err
		}
		if err := d.startDependencies(ctx, name); err != nil {
			return err
		}
		if err := d.restartOne(ctx, name); err != nil {
			return err
		}
		for i := len(stopped) - 1; i >= 0; i-- {
			if err := d.startOne(ctx, stopped[i]); err != nil {
				d.logger.Warn("restart dependent", "name", stopped[i], "err", err)
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported action %q", action)
}

func (d *Daemon) startDependencies(ctx context.Context, name string) error {
	order := d.startOrder(name)
	for _, dep := range order[:len(order)-1] {
		if err := d.startOne(ctx, dep); err != nil {
			msg := fmt.Sprintf("dependency %s failed to start: %v", dep, err)
			d.mark(name, core.StatusDependentFailed, msg)
			return errors.New(msg)
		}
	}
	return nil
}

// stopDependents stops the active services that depend on name and
// returns them in the order they were stopped.
func (d *Daemon) stopDependents(ctx context.Context, name string) ([]string, error) {
	var stopped []string
	for _, dep := range d.dependents(name) {
		if !d.active(dep) {
			continue
		}
		if err := d.stopOne(ctx, dep); err != nil {
			return stopped, fmt.Errorf("stop dependent %s: %w", dep, err)
		}
		stopped = append(stopped, dep)
	}
	return stopped, nil
}

func (d *Daemon) startOne(ctx context.Context, name string) error {
	if d.active(name) {
		return nil
	}
	if err := d.checkPorts(name); err != nil {
		return err
	}
	return d.act(ctx, name, httpapi.ActionStart, core.StatusStarting)
}

func (d *Daemon) restartOne(ctx context.Context, name string) error {
	if !d.active(name) {
		if err := d.checkPorts(name); err != nil {
			return err
		}
	}
	return d.act(ctx, name, httpapi.ActionRestart, core.StatusRestarting)
}

func (d *Daemon) stopOne(ctx context.Context, name string) error {
	return d.act(ctx, name, httpapi.ActionStop, core.StatusStopping)
}

// act forwards action to the owning provider and, on success, shows status
// until the next refresh reports the real state.
func (d *Daemon) act(ctx context.Context, name, action string, status core.Status) error {
	p, ok := d.owner(name)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownService, name)
	}
	if err := p.Action(ctx, name, action); err != nil {
		d.record(name, action+" failed: "+err.Error())
		return err
	}
	d.mu.Lock()
	delete(d.overrides, name)
	if item, ok := d.items[name]; ok {
		item.Status = status
		item.Error = ""
		d.items[name] = item
	}
	d.mu.Unlock()
	return nil
}

func (d *Daemon) checkPorts(name string) error {
	for _, port := range d.ports(name) {
		if d.portInUse(port) {
			err := fmt.Errorf("port %d already in use", port)
			d.mark(name, core.StatusFailed, err.Error())
			return err
		}
	}
	return nil
}

// mark imposes status on name until it runs again.
func (d *Daemon) mark(name string, status core.Status, msg string) {
	d.mu.Lock()
	d.overrides[name] = override{status: status, err: msg}
	if item, ok := d.items[name]; ok {
		item.Status = status
		item.Error = msg
		d.items[name] = item
	}
	d.mu.Unlock()
	d.record(name, string(status)+": "+msg)
	d.logger.Warn("service not started", "name", name, "status", status, "err", msg)
}

// applyOverrides decorates freshly listed items. Caller holds d.mu.
func (d *Daemon) applyOverrides(items map[string]core.Item) {
	for name, o := range d.overrides {
		item, ok := items[name]
		if !ok || item.Status == core.StatusRunning {
			delete(d.overrides, name)
			continue
		}
		item.Status = o.status
		item.Error = o.err
		items[name] = item
	}
}

func (d *Daemon) active(name string) bool {
	d.mu.RLock()
	item, ok := d.items[name]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	switch item.Status {
	case core.StatusRunning, core.StatusStarting, core.StatusRestarting:
		return true
	}
	return false
}

func (d *Daemon) startOrder(name string) []string {
	if m := d.Manifest(); m != nil {
		if _, ok := m.Services[name]; ok {
			return m.StartOrder(name)
		}
	}
	return []string{name}
}

func (d *Daemon) dependents(name string) []string {
	if m := d.Manifest(); m != nil {
		return m.Dependents(name)
	}
	return nil
}

func (d *Daemon) ports(name string) []int {
	if m := d.Manifest(); m != nil {
		return m.Services[name].Ports
	}
	return nil
}

// portBusy reports whether a TCP port cannot be bound on any interface.
func portBusy(port int) bool {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return true
	}
	_ = ln.Close()
	return false
}
