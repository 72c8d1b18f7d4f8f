package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const reloadDebounce = 200 * time.Millisecond

// WatchProviders reloads the catalog at path whenever the file changes and
// passes each successfully parsed catalog to onChange. Invalid edits are
// logged and skipped. The parent directory is watched so editors that
// replace the file by rename are picked up. Watching stops when ctx is done.
func WatchProviders(ctx context.Context, path string, onChange func(*Catalog)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("config: resolving %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watching %s: %w", filepath.Dir(abs), err)
	}

	logger := log.WithFields(log.Fields{"component": "config", "file": abs})
	go func() {
		defer watcher.Close()

		var (
			timer  *time.Timer
			reload <-chan time.Time
		)
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				reload = timer.C

			case <-reload:
				reload = nil
				cat, err := LoadCatalog(abs)
				if err != nil {
					logger.WithError(err).Warn("Ignoring invalid providers file")
					continue
				}
				logger.WithField("providers", len(cat.Providers)).Info("Providers file reloaded")
				onChange(cat)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Providers file watcher error")
			}
		}
	}()
	return nil
}
