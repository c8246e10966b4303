// Package filetail exposes log-kind services backed by plain files.
package filetail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/modoterra/nexus/pkg/core"
	"github.com/modoterra/nexus/pkg/manifest"
)

const chunkSize = 32 * 1024

// ErrReadOnly is returned for lifecycle actions on file-backed services.
var ErrReadOnly = errors.New("log services do not support actions")

// Provider serves snapshots of the tail of log files.
type Provider struct {
	mu     sync.RWMutex
	files  map[string][]string
	groups map[string]string
	logger *slog.Logger
}

// New creates a new file tail log provider.
func New(logger *slog.Logger) *Provider {
	return &Provider{
		files:  make(map[string][]string),
		groups: make(map[string]string),
		logger: logger,
	}
}

func (p *Provider) Name() string { return string(core.KindLog) }

// Configure replaces the set of tailed services.
func (p *Provider) Configure(m *manifest.Manifest) error {
	files := make(map[string][]string)
	groups := make(map[string]string)
	for name, svc := range m.ServicesOfKind(string(core.KindLog)) {
		files[name] = append([]string(nil), svc.Files...)
		groups[name] = m.GroupOf(name)
	}
	p.mu.Lock()
	p.files = files
	p.groups = groups
	p.mu.Unlock()
	return nil
}

// Owns reports whether name is a log service.
func (p *Provider) Owns(name string) bool {
	_, ok := p.paths(name)
	return ok
}

func (p *Provider) paths(name string) ([]string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f, ok := p.files[name]
	return f, ok
}

// List reports a log service as running while at least one of its files exists.
func (p *Provider) List(_ context.Context) ([]core.Item, error) {
	p.mu.RLock()
	names := make([]string, 0, len(p.files))
	for name := range p.files {
		names = append(names, name)
	}
	p.mu.RUnlock()
	sort.Strings(names)

	items := make([]core.Item, 0, len(names))
	for _, name := range names {
		paths, _ := p.paths(name)
		p.mu.RLock()
		group := p.groups[name]
		p.mu.RUnlock()

		item := core.Item{
			Name:   name,
			Kind:   core.KindLog,
			Group:  group,
			Status: core.StatusStopped,
		}
		if len(paths) > 0 {
			item.Path = filepath.Dir(paths[0])
		}
		var missing []string
		for _, path := range paths {
			if _, err := os.Stat(path); err != nil {
				missing = append(missing, path)
				continue
			}
			item.Status = core.StatusRunning
		}
		if item.Status != core.StatusRunning && len(missing) > 0 {
			item.Error = "missing " + missing[0]
		}
		items = append(items, item)
	}
	return items, nil
}

func (p *Provider) Action(_ context.Context, name string, action string) error {
	if !p.Owns(name) {
		return fmt.Errorf("%w: %s", core.ErrUnknownService, name)
	}
	return fmt.Errorf("%s %s: %w", action, name, ErrReadOnly)
}

// Snapshot returns the last n lines across the service's files, in file order.
// Missing files are skipped unless every file is missing.
func (p *Provider) Snapshot(ctx context.Context, name string, n int) (core.LogSnapshot, error) {
	paths, ok := p.paths(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownService, name)
	}

	var (
		out     = core.LogSnapshot{}
		lastErr error
		read    int
	)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines, err := tailFile(path, n)
		if err != nil {
			p.logger.Debug("tail file", "name", name, "path", path, "err", err)
			lastErr = err
			continue
		}
		read++
		out = append(out, lines...)
	}
	if read == 0 && lastErr != nil {
		return nil, lastErr
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// tailFile reads the last n lines of path by scanning backwards in chunks.
func tailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	var (
		buf []byte
		pos = size
	)
	for pos > 0 {
		step := int64(chunkSize)
		if pos < step {
			step = pos
		}
		pos -= step
		chunk := make([]byte, step)
		if _, err := f.ReadAt(chunk, pos); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		buf = append(chunk, buf...)
		// One extra newline marks the start of the oldest wanted line.
		if n > 0 && bytes.Count(bytes.TrimRight(buf, "\n"), []byte{'\n'}) >= n {
			break
		}
	}

	text := string(bytes.TrimRight(buf, "\r\n"))
	if text == "" {
		return nil, nil
	}
	lines := splitLines(text)
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
