// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callscope

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for edits to settle.
const DefaultDebounce = 250 * time.Millisecond

// ChangeHandler receives the source files changed in one debounce window.
type ChangeHandler func(ctx context.Context, paths []string)

// FileWatcher reports source edits under a project root.
//
// Description:
//
//	Watches every directory under root except the skipped ones and keeps
//	only events for files with a watched extension. Events are batched until
//	the tree has been quiet for the debounce window, then the handler runs
//	once with the distinct changed paths.
//
// Thread Safety: Safe for concurrent use. The handler runs on one goroutine.
type FileWatcher struct {
	root       string
	skipDirs   map[string]struct{}
	extensions map[string]struct{}
	debounce   time.Duration
	handler    ChangeHandler
	logger     *slog.Logger

	watcher  *fsnotify.Watcher
	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// NewFileWatcher creates a watcher. Call Start to begin watching.
//
// Inputs:
//
//	root - Project root. Must be a directory.
//	skipDirs - Directory base names never watched.
//	extensions - Source file extensions, with the leading dot.
//	debounce - Quiet period before the handler runs. <= 0 uses DefaultDebounce.
//	handler - Called with each batch. Must not be nil.
func NewFileWatcher(root string, skipDirs, extensions []string, debounce time.Duration, handler ChangeHandler, logger *slog.Logger) (*FileWatcher, error) {
	if handler == nil {
		return nil, errors.New("change handler must not be nil")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	return &FileWatcher{
		root:       root,
		skipDirs:   toSet(skipDirs),
		extensions: toSet(extensions),
		debounce:   debounce,
		handler:    handler,
		logger:     logger,
		watcher:    w,
		done:       make(chan struct{}),
	}, nil
}

// InvalidateOnChange returns a handler that drops the service's stored graph.
func InvalidateOnChange(svc *Service) ChangeHandler {
	return func(ctx context.Context, paths []string) {
		if err := svc.Invalidate(ctx); err != nil {
			svc.logger.Warn("invalidate after source change failed", slog.String("error", err.Error()))
			return
		}
		svc.logger.Info("source changed, stored graph invalidated", slog.Int("files", len(paths)))
	}
}

// Start adds the directory tree and begins delivering batches until ctx is
// done or Stop is called.
func (w *FileWatcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop stops watching and waits for the delivery goroutine to exit.
func (w *FileWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
	w.wg.Wait()
}

func (w *FileWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("watching %s: %w", root, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if _, skip := w.skipDirs[d.Name()]; skip && path != root {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func (w *FileWatcher) loop(ctx context.Context) {
	defer w.wg.Done()

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if _, skip := w.skipDirs[filepath.Base(ev.Name)]; !skip {
						if err := w.addTree(ev.Name); err != nil {
							w.logger.Debug("watching new directory failed", slog.String("error", err.Error()))
						}
					}
					continue
				}
			}
			if !w.watched(ev) {
				continue
			}
			pending[ev.Name] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			w.handler(ctx, paths)
		}
	}
}

// watched reports whether an event is a content change to a source file.
func (w *FileWatcher) watched(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	_, ok := w.extensions[filepath.Ext(ev.Name)]
	return ok
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item] = struct{}{}
	}
	return out
}
