package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/modoterra/nexus/internal/buildinfo"
	"github.com/modoterra/nexus/pkg/assistant"
	"github.com/modoterra/nexus/pkg/backup"
	"github.com/modoterra/nexus/pkg/core"
	"github.com/modoterra/nexus/pkg/manifest"
	"github.com/modoterra/nexus/pkg/repos"
	"github.com/modoterra/nexus/pkg/transport/httpapi"
)

const (
	// DefaultLogLines is how many lines /service/logs returns without ?n=.
	DefaultLogLines = 100
	maxLogLines     = logBufferLines

	chatTimeout = 2 * time.Minute
)

// Configurable is implemented by providers that take their service set from the manifest.
type Configurable interface {
	Configure(m *manifest.Manifest) error
}

// Daemon is the main nexusd process that manages providers, state, and transport.
type Daemon struct {
	server    *httpapi.Server
	manifest  *manifest.Manifest
	providers []core.Provider
	scanner   *repos.Scanner
	assistant assistant.Assistant
	backups   *backup.Manager
	items     map[string]core.Item
	overrides map[string]override
	global    GlobalLog
	portInUse func(port int) bool
	mu        sync.RWMutex
	logger    *slog.Logger
}

// New creates a new daemon listening on addr.
func New(addr string, scanner *repos.Scanner, logger *slog.Logger) *Daemon {
	if scanner == nil {
		scanner = repos.NewScanner(nil, 0, logger)
	}
	d := &Daemon{
		server:    httpapi.NewServer(addr, logger),
		scanner:   scanner,
		assistant: assistant.Simulated{Delay: assistant.SimulatedDelay},
		backups:   backup.NewManager(manifest.DefaultBackupDir, backup.CompressionGzip, 0, logger),
		items:     make(map[string]core.Item),
		overrides: make(map[string]override),
		portInUse: portBusy,
		logger:    logger,
	}
	d.registerHandlers()
	return d
}

// AddProvider registers a provider with the daemon.
func (d *Daemon) AddProvider(p core.Provider) {
	d.mu.Lock()
	d.providers = append(d.providers, p)
	d.mu.Unlock()
}

// SetAssistant replaces the chat backend.
func (d *Daemon) SetAssistant(a assistant.Assistant) {
	d.mu.Lock()
	d.assistant = a
	d.mu.Unlock()
}

// Manifest returns the currently loaded manifest (may be nil).
func (d *Daemon) Manifest() *manifest.Manifest {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.manifest
}

// ApplyManifest validates m and reconfigures providers, repo roots, backups
// and chat.
// An invalid manifest leaves the running configuration untouched.
func (d *Daemon) ApplyManifest(m *manifest.Manifest) error {
	if errs := manifest.Validate(m); len(errs) > 0 {
		return fmt.Errorf("invalid manifest: %w", errors.Join(errs...))
	}

	var errs []error
	for _, p := range d.providerList() {
		c, ok := p.(Configurable)
		if !ok {
			continue
		}
		if err := c.Configure(m); err != nil {
			errs = append(errs, fmt.Errorf("configure %s: %w", p.Name(), err))
		}
	}

	d.scanner.SetRoots(m.Repos.Roots, m.Repos.MaxDepth)
	d.configureBackups(m.Backup)
	a := assistant.FromConfig(m.Chat, d.logger)

	d.mu.Lock()
	d.manifest = m
	d.assistant = a
	d.mu.Unlock()

	d.logger.Info("manifest applied", "path", m.FilePath, "services", len(m.Services))
	return errors.Join(errs...)
}

// Run starts the daemon and blocks until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	return d.server.Start(ctx)
}

// Ready is closed once the HTTP listener is bound.
func (d *Daemon) Ready() <-chan struct{} {
	return d.server.Ready()
}

// Shutdown cleans up resources.
func (d *Daemon) Shutdown() {
	d.server.Shutdown()
}

// Handler exposes the HTTP routes, mainly for tests.
func (d *Daemon) Handler() http.Handler {
	return d.server.Handler()
}

// Refresh lists every provider and replaces the item table.
// It returns the difference to the previous table.
func (d *Daemon) Refresh(ctx context.Context) Delta {
	newItems := make(map[string]core.Item)
	for _, p := range d.providerList() {
		items, err := p.List(ctx)
		if err != nil {
			d.logger.Error("provider list error", "provider", p.Name(), "err", err)
			continue
		}
		for _, item := range items {
			newItems[item.Name] = item
		}
	}

	d.mu.Lock()
	d.applyOverrides(newItems)
	oldItems := d.items
	d.items = newItems
	d.mu.Unlock()

	return computeDelta(oldItems, newItems)
}

// Items returns the last refreshed services sorted by name.
func (d *Daemon) Items() []core.Item {
	d.mu.RLock()
	items := make([]core.Item, 0, len(d.items))
	for _, item := range d.items {
		items = append(items, item)
	}
	d.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}

func (d *Daemon) providerList() []core.Provider {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]core.Provider(nil), d.providers...)
}

// owner returns the provider that manages name.
func (d *Daemon) owner(name string) (core.Provider, bool) {
	for _, p := range d.providerList() {
		if o, ok := p.(core.Owner); ok && o.Owns(name) {
			return p, true
		}
	}
	return nil, false
}

func (d *Daemon) registerHandlers() {
	d.server.Handle(httpapi.RoutePing, d.handlePing)
	d.server.Handle(httpapi.RouteServices, d.handleServices)
	d.server.Handle(httpapi.RouteServiceLogs, d.handleLogs)
	d.server.Handle(httpapi.RouteGlobalLogs, d.handleGlobalLogs)
	d.server.Handle(httpapi.RouteServiceAction, d.handleAction)
	d.server.Handle(httpapi.RouteRepos, d.handleRepos)
	d.server.Handle(httpapi.RouteRepoChanges, d.handleRepoChanges)
	d.server.Handle(httpapi.RouteRepoHistory, d.handleRepoHistory)
	d.server.Handle(httpapi.RouteRepoCommit, d.handleRepoCommit,
		httpapi.RateLimit(rate.Every(5*time.Second), 3))
	d.server.Handle(httpapi.RouteRefreshRepos, d.handleRefreshRepos,
		httpapi.RateLimit(rate.Every(10*time.Second), 2))
	d.server.Handle(httpapi.RouteChat, d.handleChat,
		httpapi.RateLimit(rate.Every(2*time.Second), 5))

	d.server.Handle(httpapi.RouteBackupCreate, d.handleBackupCreate,
		httpapi.RateLimit(rate.Every(10*time.Second), 3))
	d.server.Handle(httpapi.RouteBackupRestore, d.handleBackupRestore,
		httpapi.RateLimit(rate.Every(10*time.Second), 3))
	d.server.Handle(httpapi.RouteBackupList, d.handleBackupList)
	d.server.Handle(httpapi.RouteBackupInfo, d.handleBackupInfo)
	d.server.Handle(httpapi.RouteBackupValidate, d.handleBackupValidate)
	d.server.Handle(httpapi.RouteBackupDelete, d.handleBackupDelete)
	d.server.Handle(httpapi.RouteBackupLogs, d.handleBackupLogs)
}

func (d *Daemon) handlePing(_ *http.Request) (any, error) {
	return httpapi.PingResponse{Pong: true, Version: buildinfo.Version}, nil
}

func (d *Daemon) handleServices(_ *http.Request) (any, error) {
	return httpapi.ServicesResponse{Success: true, Services: d.Items()}, nil
}

func (d *Daemon) handleLogs(r *http.Request) (any, error) {
	name := r.PathValue("pid")

	n, err := lineCount(r, DefaultLogLines)
	if err != nil {
		return nil, err
	}

	p, ok := d.owner(name)
	if !ok {
		return httpapi.LogsResponse{Success: false, Logs: []string{}, Error: fmt.Sprintf("%s: %s", core.ErrUnknownService, name)}, nil
	}
	src, ok := p.(core.LogSource)
	if !ok {
		return httpapi.LogsResponse{Success: false, Logs: []string{}, Error: "logs not available for " + name}, nil
	}

	snap, err := src.Snapshot(r.Context(), name, n)
	if err != nil {
		d.logger.Warn("log snapshot failed", "name", name, "err", err)
		return httpapi.LogsResponse{Success: false, Logs: []string{}, Error: err.Error()}, nil
	}
	logs := []string(snap)
	if logs == nil {
		logs = []string{}
	}
	return httpapi.LogsResponse{Success: true, Logs: logs}, nil
}

// lineCount reads the ?n= query parameter, capped at the log buffer size.
func lineCount(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("n")
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, httpapi.Errorf(http.StatusBadRequest, "invalid n: %q", raw)
	}
	return min(v, maxLogLines), nil
}

func (d *Daemon) handleGlobalLogs(r *http.Request) (any, error) {
	n, err := lineCount(r, maxLogLines)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	g := d.global
	d.mu.RUnlock()

	logs := []string{}
	if g != nil {
		for _, l := range g.GlobalLogs(n) {
			logs = append(logs, l.Line)
		}
	}
	return httpapi.LogsResponse{Success: true, Logs: logs}, nil
}

func (d *Daemon) handleAction(r *http.Request) (any, error) {
	name := r.PathValue("pid")
	action := r.PathValue("action")

	switch action {
	case httpapi.ActionStart, httpapi.ActionStop, httpapi.ActionRestart:
	default:
		return nil, httpapi.Errorf(http.StatusBadRequest, "unsupported action %q", action)
	}

	if _, ok := d.owner(name); !ok {
		return nil, httpapi.Errorf(http.StatusNotFound, "%s: %s", core.ErrUnknownService, name)
	}
	if err := d.perform(r.Context(), name, action); err != nil {
		d.logger.Error("service action failed", "name", name, "action", action, "err", err)
		return httpapi.ActionResponse{Success: false, Error: err.Error()}, nil
	}
	d.logger.Info("service action", "name", name, "action", action)
	return httpapi.ActionResponse{Success: true}, nil
}

func (d *Daemon) handleRepos(_ *http.Request) (any, error) {
	found := d.scanner.Repos()
	out := make([]httpapi.Repo, len(found))
	for i, r := range found {
		out[i] = httpapi.Repo{Name: r.Name, Path: r.Path, Branch: r.Branch, Commit: r.Commit}
	}
	return httpapi.ReposResponse{Success: true, Repos: out}, nil
}

func (d *Daemon) handleRefreshRepos(r *http.Request) (any, error) {
	found, err := d.scanner.Refresh(r.Context())
	if err != nil {
		d.logger.Error("refresh repos", "err", err)
		return httpapi.RefreshResponse{Success: false, Error: err.Error()}, nil
	}
	return httpapi.RefreshResponse{Success: true, Repos: len(found)}, nil
}

func (d *Daemon) handleChat(r *http.Request) (any, error) {
	var req httpapi.ChatRequest
	if err := httpapi.Decode(r, &req); err != nil {
		return nil, err
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, httpapi.Errorf(http.StatusBadRequest, "message is required")
	}

	d.mu.RLock()
	a := d.assistant
	d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), chatTimeout)
	defer cancel()
	reply, err := a.Reply(ctx, msg)
	if err != nil {
		return nil, &httpapi.StatusError{Code: http.StatusBadGateway, Err: err}
	}
	return httpapi.ChatResponse{Response: reply}, nil
}
