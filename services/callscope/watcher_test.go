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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callscope/services/callscope/graph"
)

func startWatcher(t *testing.T, root string, handler ChangeHandler) *FileWatcher {
	t.Helper()
	w, err := NewFileWatcher(root, []string{"vendor"}, []string{".go", ".py"}, 20*time.Millisecond, handler, quietLogger())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	return w
}

func waitBatch(t *testing.T, batches <-chan []string) []string {
	t.Helper()
	select {
	case b := <-batches:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch delivered")
		return nil
	}
}

func TestFileWatcher_DeliversSourceChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "orders"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "vendor"), 0o755))

	batches := make(chan []string, 4)
	startWatcher(t, root, func(_ context.Context, paths []string) {
		batches <- paths
	})

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "vendor", "lib.go"), []byte("package lib"), 0o644))
	src := filepath.Join(root, "orders", "service.go")
	require.NoError(t, os.WriteFile(src, []byte("package orders"), 0o644))

	batch := waitBatch(t, batches)
	assert.Equal(t, []string{src}, batch)
}

func TestFileWatcher_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	batches := make(chan []string, 4)
	startWatcher(t, root, func(_ context.Context, paths []string) {
		batches <- paths
	})

	dir := filepath.Join(root, "billing")
	require.NoError(t, os.Mkdir(dir, 0o755))

	src := filepath.Join(dir, "invoice.py")
	require.Eventually(t, func() bool {
		if err := os.WriteFile(src, []byte("class Invoice: pass\n"), 0o644); err != nil {
			return false
		}
		select {
		case b := <-batches:
			return len(b) == 1 && b[0] == src
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFileWatcher_Validation(t *testing.T) {
	_, err := NewFileWatcher(t.TempDir(), nil, nil, 0, nil, nil)
	assert.Error(t, err)

	w, err := NewFileWatcher(filepath.Join(t.TempDir(), "missing"), nil, []string{".go"}, 0, func(context.Context, []string) {}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultDebounce, w.debounce)
	assert.Error(t, w.Start(context.Background()))
	w.Stop()
}

func TestInvalidateOnChange(t *testing.T) {
	svc, store := newTestService(t, testConfig(t), "checkout")
	_, err := svc.Generate(context.Background())
	require.NoError(t, err)

	InvalidateOnChange(svc)(context.Background(), []string{"orders/service.go"})

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, graph.ErrGraphNotFound)
}
