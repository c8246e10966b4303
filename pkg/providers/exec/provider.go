// Package exec exposes supervised commands declared in the manifest.
package exec

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/modoterra/nexus/pkg/core"
	"github.com/modoterra/nexus/pkg/daemon"
	"github.com/modoterra/nexus/pkg/manifest"
)

// Provider manages exec-type services via the process supervisor.
type Provider struct {
	supervisor *daemon.Supervisor
	mu         sync.RWMutex
	services   map[string]manifest.Service
	groups     map[string]string
	logger     *slog.Logger
}

// New creates an exec provider backed by the given supervisor.
func New(supervisor *daemon.Supervisor, logger *slog.Logger) *Provider {
	return &Provider{
		supervisor: supervisor,
		services:   make(map[string]manifest.Service),
		groups:     make(map[string]string),
		logger:     logger,
	}
}

func (p *Provider) Name() string { return string(core.KindExec) }

// Configure reconciles the supervisor with the exec services in m.
// New services are started, removed ones stopped, and services whose
// command or directory changed are replaced.
func (p *Provider) Configure(m *manifest.Manifest) error {
	next := m.ServicesOfKind(string(core.KindExec))
	groups := make(map[string]string, len(next))
	for name := range next {
		groups[name] = m.GroupOf(name)
	}

	p.mu.Lock()
	prev := p.services
	p.services = next
	p.groups = groups
	p.mu.Unlock()

	for name := range prev {
		if _, ok := next[name]; !ok {
			p.supervisor.Unregister(name)
			p.logger.Info("exec service removed", "name", name)
		}
	}

	toStart := make(map[string]bool)
	for name, svc := range next {
		command, dir, ok := p.supervisor.Spec(name)
		if ok && (command != svc.Command || dir != svc.Dir) {
			p.supervisor.Unregister(name)
			ok = false
		}
		p.supervisor.Register(name, svc.Command, svc.Dir, svc.Env, core.RestartPolicy(svc.Restart))
		if !ok {
			toStart[name] = true
		}
	}

	// Dependencies come up before the services that need them.
	for _, name := range m.Order() {
		if !toStart[name] {
			continue
		}
		if err := p.supervisor.Start(name); err != nil {
			p.logger.Error("start exec service", "name", name, "err", err)
		}
	}
	return nil
}

// Owns reports whether name is an exec service.
func (p *Provider) Owns(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.services[name]
	return ok
}

func (p *Provider) List(_ context.Context) ([]core.Item, error) {
	p.mu.RLock()
	names := make([]string, 0, len(p.services))
	for name := range p.services {
		names = append(names, name)
	}
	groups := p.groups
	p.mu.RUnlock()
	sort.Strings(names)

	items := make([]core.Item, 0, len(names))
	for _, name := range names {
		info, ok := p.supervisor.Info(name)
		if !ok {
			continue
		}
		item := core.Item{
			Name:   name,
			Kind:   core.KindExec,
			Group:  groups[name],
			Status: info.Status,
			Path:   info.Dir,
			Error:  info.Error,
		}
		if info.PID > 0 {
			item.PIDs = []int{info.PID}
		}
		if !info.StartedAt.IsZero() && info.Status == core.StatusRunning {
			item.UptimeSec = uint64(time.Since(info.StartedAt).Seconds())
		}
		items = append(items, item)
	}
	return items, nil
}

func (p *Provider) Action(_ context.Context, name string, action string) error {
	if !p.Owns(name) {
		return fmt.Errorf("%w: %s", core.ErrUnknownService, name)
	}
	switch action {
	case "start":
		return p.supervisor.Start(name)
	case "stop":
		return p.supervisor.Stop(name)
	case "restart":
		return p.supervisor.Restart(name)
	default:
		return fmt.Errorf("unsupported action %q for exec process", action)
	}
}

// Snapshot returns the last n buffered output lines of the process.
func (p *Provider) Snapshot(_ context.Context, name string, n int) (core.LogSnapshot, error) {
	lines, err := p.supervisor.Logs(name, n)
	if err != nil {
		return nil, err
	}
	return core.Texts(lines), nil
}
