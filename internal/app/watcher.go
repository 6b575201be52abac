package app

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchSettings invalidates the settings cache whenever settings.json
// changes on disk, so edits made outside the worker (another codexmem
// process, a text editor) take effect without a restart. The watcher runs
// until ctx is cancelled.
//
// The data directory is watched rather than the file itself: SaveSettings
// replaces the file by rename, which would silently detach a file-level
// watch.
func WatchSettings(ctx context.Context) error {
	settingsPath, err := SettingsPath()
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(settingsPath)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != settingsPath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					slog.Debug("settings file changed, cache invalidated", "op", event.Op.String())
					InvalidateSettings()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("settings watcher error", "error", err)
			}
		}
	}()
	return nil
}
