// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifact

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// DebounceWindow is how long to wait for more changes before
	// invalidating. Default: 200ms.
	DebounceWindow time.Duration

	// BufferSize is the event buffer between the fsnotify loop and the
	// debouncer. Default: 1000.
	BufferSize int

	// Logger for watcher events. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultWatcherOptions returns sensible defaults.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		DebounceWindow: 200 * time.Millisecond,
		BufferSize:     1000,
	}
}

// Watcher invalidates stored bundles when source files under a project
// root change.
//
// # Description
//
// Watches the root recursively through fsnotify and batches changes with
// a debounce window, so a save-all in an editor causes one invalidation
// instead of dozens. Only source files participate; edits to ignored
// directories and non-source files are dropped before the debouncer.
//
// # Thread Safety
//
// Safe for concurrent use. Invalidation runs on a single goroutine.
type Watcher struct {
	root     string
	store    *Store
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	changes  chan string
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
}

// NewWatcher creates a watcher that invalidates store entries for root.
//
// Inputs:
//
//	store - The bundle store to invalidate. Must not be nil.
//	root - Absolute path of the project to watch.
//	opts - Optional settings; nil means defaults.
//
// Outputs:
//
//	*Watcher - Ready to Start.
//	error - Non-nil if the fsnotify watcher could not be created.
func NewWatcher(store *Store, root string, opts *WatcherOptions) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultWatcherOptions()
		opts = &defaults
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		root:     root,
		store:    store,
		fsw:      fsw,
		debounce: opts.DebounceWindow,
		logger:   logger,
		changes:  make(chan string, opts.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Subdirectories are registered recursively and
// directories created later are picked up from their create events.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	return nil
}

// Stop stops the watcher. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the watcher is active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// addRecursive registers root and all non-ignored subdirectories.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if SkipDirectories[d.Name()] {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// processEvents filters fsnotify events down to source-file changes.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			// New directories must join the watch set before their
			// contents change.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !SkipDirectories[filepath.Base(event.Name)] {
						_ = w.fsw.Add(event.Name)
					}
					continue
				}
			}

			if !isSourceFile(event.Name, DefaultSourceExtensions) {
				continue
			}

			select {
			case w.changes <- event.Name:
			default:
				// Buffer full. The batch already guarantees an
				// invalidation, so dropping the path loses nothing.
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error",
				slog.String("root", w.root),
				slog.String("error", err.Error()),
			)
		}
	}
}

// debounceLoop batches changes and invalidates once per quiet period.
func (w *Watcher) debounceLoop(ctx context.Context) {
	batch := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 {
			w.invalidate(len(batch))
			batch = make(map[string]struct{})
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case path := <-w.changes:
			batch[path] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// invalidate drops every bundle for the watched root.
func (w *Watcher) invalidate(changed int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	count, err := w.store.InvalidateRoot(ctx, w.root)
	if err != nil {
		w.logger.Warn("invalidation after file change failed",
			slog.String("root", w.root),
			slog.String("error", err.Error()),
		)
		return
	}
	w.logger.Debug("source change invalidated bundles",
		slog.String("root", w.root),
		slog.Int("changed_files", changed),
		slog.Int("invalidated", count),
	)
}
