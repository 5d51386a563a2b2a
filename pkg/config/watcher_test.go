// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func touch(t *testing.T, path, content string, offset time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	mod := time.Now().Add(offset)
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crew.yaml")
	touch(t, path, "process: sequential\n", -time.Minute)

	reloaded := make(chan string, 1)
	w := NewWatcher([]string{path}, func(context.Context) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		reloaded <- string(data)
		return nil
	}, WithWatchInterval(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	touch(t, path, "process: hierarchical\n", 0)

	select {
	case got := <-reloaded:
		if got != "process: hierarchical\n" {
			t.Fatalf("unexpected content %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
}

func TestWatcherIgnoresUnchangedFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crew.yaml")
	touch(t, path, "process: sequential\n", -time.Minute)

	var calls atomic.Int32
	w := NewWatcher([]string{path}, func(context.Context) error {
		calls.Add(1)
		return nil
	}, WithWatchInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	time.Sleep(80 * time.Millisecond)
	w.Stop()

	if n := calls.Load(); n != 0 {
		t.Fatalf("expected no reloads, got %d", n)
	}
}

func TestWatcherPicksUpNewFileAndSurvivesErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late.yaml")

	var calls atomic.Int32
	w := NewWatcher([]string{path}, func(context.Context) error {
		calls.Add(1)
		return errors.New("bad definition")
	}, WithWatchInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	touch(t, path, "agents: []\n", 0)
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	w.Stop()
	w.Stop()

	if calls.Load() != 1 {
		t.Fatalf("expected exactly one reload attempt, got %d", calls.Load())
	}
}

func TestWatcherStopsWithContext(t *testing.T) {
	w := NewWatcher(nil, func(context.Context) error { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()

	select {
	case <-w.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on context cancel")
	}
}
