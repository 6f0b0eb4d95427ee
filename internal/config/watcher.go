package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"playtimetracker/internal/logger"
)

// Watcher reloads the global config file when it changes and passes the
// new, validated config to a callback.
type Watcher struct {
	path     string
	onChange func(*GlobalConfig)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, onChange func(*GlobalConfig)) *Watcher {
	return &Watcher{path: path, onChange: onChange}
}

// Watch starts watching the configuration file for changes.
// The file must exist.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(w.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config file: %w", err)
	}

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	go func() {
		defer w.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write ||
					event.Op&fsnotify.Create == fsnotify.Create {
					// Small delay to ensure file write is complete
					time.Sleep(100 * time.Millisecond)
					w.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Config watcher error: %v", err)
			}
		}
	}()

	return nil
}

func (w *Watcher) reload() {
	cfg, err := LoadGlobalConfig(w.path)
	if err != nil {
		logger.Error("Config reload error: %v", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Ignoring invalid config change: %v", err)
		return
	}
	logger.Info("Config file %s changed, applying", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Stop stops watching the configuration file.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		w.watcher.Close()
		w.watcher = nil
	}
}

// IsWatching returns true while the file is being watched.
func (w *Watcher) IsWatching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watcher != nil
}
