package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/codefionn/scee/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file whenever it is written or recreated and
// passes the new value to onChange. It returns once the watcher is set up;
// watching stops when ctx is cancelled.
//
// The parent directory is watched rather than the file, so editors that
// replace the file via rename are still observed.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
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
				if filepath.Clean(event.Name) != absPath {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(absPath)
				if err != nil {
					logger.Warn("Ignoring config change, reload failed: %v", err)
					continue
				}
				cfg.ApplyEnv()
				logger.Info("Config file %s changed, reloaded", absPath)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("config watcher error: %v", err)
			}
		}
	}()

	return nil
}
