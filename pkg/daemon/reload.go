package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/modoterra/nexus/pkg/manifest"
)

const reloadDebounce = 200 * time.Millisecond

// WatchManifest reloads and applies the manifest at path whenever it changes,
// until ctx is cancelled. The parent directory is watched so editors that
// replace the file on save are handled.
func (d *Daemon) WatchManifest(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve manifest path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go d.watchLoop(ctx, watcher, abs)
	return nil
}

func (d *Daemon) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer watcher.Close()

	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(reloadDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("manifest watcher error", "err", err)

		case <-timer.C:
			d.reload(path)
		}
	}
}

func (d *Daemon) reload(path string) {
	m, err := manifest.Load(path)
	if err != nil {
		d.logger.Error("manifest reload failed", "path", path, "err", err)
		return
	}
	if err := d.ApplyManifest(m); err != nil {
		d.logger.Error("manifest reload rejected", "path", path, "err", err)
		return
	}
	d.logger.Info("manifest reloaded", "path", path)
}
