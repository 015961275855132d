package runner

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/evanofslack/cf-edge-sync/internal/config"
)

const reloadDelay = 500 * time.Millisecond

// Loader reads the current configuration.
type Loader func() (*config.Config, error)

// Serve runs a pass immediately, then on every interval tick and whenever a
// watched path changes. A config that fails to load is logged and the last
// good one is kept. Serve returns when ctx is cancelled.
func (r *Runner) Serve(ctx context.Context, load Loader, cfg *config.Config, watch []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	for _, path := range watch {
		if err := addWatch(watcher, path); err != nil {
			slog.Warn("Failed to watch path", "path", path, "error", err)
		}
	}

	reload := make(chan struct{}, 1)
	go processEvents(ctx, watcher, watch, reload)

	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	r.runLogged(ctx, cfg)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping sync loop")
			return nil
		case <-ticker.C:
		case <-reload:
			next, err := load()
			if err != nil {
				slog.Error("Failed to reload config, keeping previous", "error", err)
				continue
			}
			if fields := restartRequired(cfg, next); len(fields) > 0 {
				slog.Warn("Config changes need a restart to take effect", "fields", fields)
			}
			if next.SyncInterval != cfg.SyncInterval {
				ticker.Reset(next.SyncInterval)
			}
			cfg = next
			slog.Info("Config reloaded")
		}
		r.runLogged(ctx, cfg)
	}
}

func (r *Runner) runLogged(ctx context.Context, cfg *config.Config) {
	if _, err := r.Run(ctx, cfg, cfg.DryRun); err != nil {
		slog.Error("Sync operation failed", "error", err)
	}
}

// processEvents signals reload once watched paths have been quiet for
// reloadDelay.
func processEvents(ctx context.Context, watcher *fsnotify.Watcher, watch []string, reload chan<- struct{}) {
	var reloadTimer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 || !watched(event.Name, watch) {
				continue
			}
			slog.Debug("Config changed", "file", event.Name, "op", event.Op.String())
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addWatch(watcher, event.Name); err != nil {
						slog.Warn("Failed to watch path", "path", event.Name, "error", err)
					}
				}
			}
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Config watcher error", "error", err)
		}
	}
}

// addWatch watches directories recursively and files through their parent
// directory, so that editors replacing the file are noticed.
func addWatch(watcher *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return watcher.Add(filepath.Dir(path))
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(p)
		}
		return nil
	})
}

// watched reports whether name is one of the watched files or lies below a
// watched directory.
func watched(name string, watch []string) bool {
	name = filepath.Clean(name)
	for _, path := range watch {
		path = filepath.Clean(path)
		if name == path || strings.HasPrefix(name, path+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// restartRequired lists the settings of next that only apply to a new
// process: the Cloudflare client, the state backend and the metrics server
// are built once at startup.
func restartRequired(prev, next *config.Config) []string {
	var fields []string
	if prev.Cloudflare.Token != next.Cloudflare.Token {
		fields = append(fields, "cloudflare.token")
	}
	if prev.Cloudflare.BaseURL != next.Cloudflare.BaseURL {
		fields = append(fields, "cloudflare.baseUrl")
	}
	if prev.Cloudflare.RetryMax() != next.Cloudflare.RetryMax() {
		fields = append(fields, "cloudflare.retries")
	}
	if prev.State != next.State {
		fields = append(fields, "state")
	}
	if prev.Metrics != next.Metrics {
		fields = append(fields, "metrics")
	}
	return fields
}
