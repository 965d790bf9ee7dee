// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits for writes to settle.
const DefaultDebounce = 250 * time.Millisecond

// =============================================================================
// CONFIG WATCHER
// =============================================================================

// Watcher reloads a config file when it changes on disk.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(*Config)
	onError  func(error)
}

// NewWatcher creates a watcher for path. onChange receives every config
// that loads and validates; a failed reload is passed to onError (logged
// when nil) and the previous config stays in effect.
func NewWatcher(path string, onChange func(*Config), onError func(error)) *Watcher {
	if onError == nil {
		onError = func(err error) {
			log.Printf("CONFIG_RELOAD_FAILED | path=%s error=%v", path, err)
		}
	}
	return &Watcher{
		path:     path,
		debounce: DefaultDebounce,
		onChange: onChange,
		onError:  onError,
	}
}

// SetDebounce changes the settle delay.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run watches until ctx is done. The parent directory is watched rather
// than the file so editors that replace the file by rename are followed.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.onError(err)

		case <-timer.C:
			cfg, err := LoadFromPath(abs)
			if err != nil {
				w.onError(err)
				continue
			}
			log.Printf("CONFIG_RELOADED | path=%s model=%s", abs, cfg.Upstream.Model)
			w.onChange(cfg)
		}
	}
}

// Watch runs a Watcher for path with default settings until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return NewWatcher(path, onChange, nil).Run(ctx)
}
