// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeFunc is called after the config file changed and reloaded cleanly.
type ChangeFunc func(ctx context.Context, previous, current *Config)

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	// fsWatcher is the underlying filesystem watcher
	fsWatcher *fsnotify.Watcher

	path     string
	load     func(string) (*Config, error)
	onChange ChangeFunc
	logger   *slog.Logger

	// debounceDelay coalesces bursts of writes from editors
	debounceDelay time.Duration

	mu      sync.Mutex
	current *Config
	pending *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// Initial is the config already in use. Its Path is watched.
	Initial *Config

	// OnChange receives the old and new config after each successful reload.
	OnChange ChangeFunc

	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// DebounceDelay defaults to 200ms.
	DebounceDelay time.Duration
}

// NewWatcher starts watching cfg.Initial's file. The containing directory is
// watched so that editors that replace the file are still seen.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Initial == nil || cfg.Initial.Path() == "" {
		return nil, fmt.Errorf("config was not loaded from a file")
	}
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("change handler is required")
	}

	absPath, err := filepath.Abs(cfg.Initial.Path())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", cfg.Initial.Path(), err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.DebounceDelay
	if debounce == 0 {
		debounce = 200 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		fsWatcher:     fsWatcher,
		path:          absPath,
		load:          Load,
		onChange:      cfg.OnChange,
		logger:        logger.With("component", "config-watcher"),
		debounceDelay: debounce,
		current:       cfg.Initial,
		ctx:           ctx,
		cancel:        cancel,
	}

	w.wg.Add(1)
	go w.processEvents()

	w.logger.Debug("watching config file", "path", absPath)
	return w, nil
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.schedule()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounceDelay, w.reload)
}

// reload parses the file again. A config that fails to load is logged and
// the previous one stays in effect.
func (w *Watcher) reload() {
	if w.ctx.Err() != nil {
		return
	}

	next, err := w.load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	w.pending = nil
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.path, "servers", len(next.Servers))
	w.onChange(w.ctx, prev, next)
}

// Close stops watching. Pending reloads are cancelled.
func (w *Watcher) Close() error {
	w.cancel()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()

	w.wg.Wait()
	return w.fsWatcher.Close()
}
