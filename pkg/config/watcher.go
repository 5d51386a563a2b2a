// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ReloadFunc is called after a watched file changed.
type ReloadFunc func(ctx context.Context) error

// Watcher polls a set of files and calls its ReloadFunc when any of them
// is modified. A failed reload is logged and the previous state is kept.
type Watcher struct {
	mu          sync.Mutex
	paths       []string
	interval    time.Duration
	lastModTime map[string]time.Time
	reload      ReloadFunc
	stopCh      chan struct{}
	doneCh      chan struct{}
	stopOnce    sync.Once
	logger      *slog.Logger
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval for file changes.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a watcher over paths. Missing files are tolerated and
// picked up once they appear.
func NewWatcher(paths []string, reload ReloadFunc, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		paths:       paths,
		interval:    time.Second,
		lastModTime: make(map[string]time.Time),
		reload:      reload,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, path := range paths {
		if info, err := os.Stat(path); err == nil {
			w.lastModTime[path] = info.ModTime()
		}
	}
	return w
}

// Start begins polling in a goroutine until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.watch(ctx)
}

// Stop ends polling and waits for the goroutine. Safe to call twice.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if changed := w.checkForChanges(); len(changed) > 0 {
				w.runReload(ctx, changed)
			}
		}
	}
}

func (w *Watcher) checkForChanges() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var changed []string
	for _, path := range w.paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		lastMod, exists := w.lastModTime[path]
		if !exists || info.ModTime().After(lastMod) {
			w.lastModTime[path] = info.ModTime()
			changed = append(changed, path)
		}
	}
	return changed
}

func (w *Watcher) runReload(ctx context.Context, changed []string) {
	w.logger.InfoContext(ctx, "config.watch.changed", slog.Any("paths", changed))
	if err := w.reload(ctx); err != nil {
		w.logger.ErrorContext(ctx, "config.watch.reload_failed", slog.String("error", err.Error()))
		return
	}
	w.logger.InfoContext(ctx, "config.watch.reloaded")
}
