// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, paths ...string) (*Watcher, <-chan []Change) {
	t.Helper()
	batches := make(chan []Change, 16)
	w, err := New(func(changes []Change) { batches <- changes }, WithDebounce(100*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Add(paths...))
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w, batches
}

func receive(t *testing.T, batches <-chan []Change) []Change {
	t.Helper()
	select {
	case b := <-batches:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("no batch delivered")
		return nil
	}
}

func TestWatcher_DeliversTrackedChanges(t *testing.T) {
	dir := t.TempDir()
	proj := filepath.Join(dir, "A.csproj")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(proj, []byte("<Project/>"), 0o644))

	_, batches := startWatcher(t, proj)

	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(proj, []byte("<Project><!-- edit --></Project>"), 0o644))
	}

	batch := receive(t, batches)
	require.Len(t, batch, 1, "untracked files are filtered and repeats collapse")
	assert.Equal(t, proj, batch[0].Path)
	assert.Equal(t, OpWrite, batch[0].Op)
}

func TestWatcher_Remove(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "A.csproj")
	b := filepath.Join(dir, "B.csproj")
	require.NoError(t, os.WriteFile(a, nil, 0o644))
	require.NoError(t, os.WriteFile(b, nil, 0o644))

	w, batches := startWatcher(t, a, b)
	require.NoError(t, w.Remove(a))
	assert.Equal(t, []string{b}, w.Paths())

	require.NoError(t, os.WriteFile(a, []byte("a"), 0o644))
	require.NoError(t, os.Remove(b))

	batch := receive(t, batches)
	require.Len(t, batch, 1)
	assert.Equal(t, b, batch[0].Path)
	assert.Equal(t, OpRemove, batch[0].Op)
}

func TestWatcher_StopRejectsAdd(t *testing.T) {
	w, err := New(nil)
	require.NoError(t, err)
	w.Stop()
	w.Stop()
	assert.ErrorIs(t, w.Add(filepath.Join(t.TempDir(), "A.csproj")), ErrStopped)
	assert.ErrorIs(t, w.Start(context.Background()), ErrStopped)
}

func TestWatcher_AddMissingDirectory(t *testing.T) {
	w, err := New(nil)
	require.NoError(t, err)
	defer w.Stop()
	assert.Error(t, w.Add(filepath.Join(t.TempDir(), "missing", "A.csproj")))
	assert.Empty(t, w.Paths())
}

func TestDeduplicate(t *testing.T) {
	now := time.Now()
	got := deduplicate([]Change{
		{Path: "/a", Op: OpCreate, Time: now},
		{Path: "/b", Op: OpWrite, Time: now},
		{Path: "/a", Op: OpRemove, Time: now},
	})
	require.Len(t, got, 2)
	assert.Equal(t, Change{Path: "/a", Op: OpRemove, Time: now}, got[0])
	assert.Equal(t, "/b", got[1].Path)
}

func TestOp_String(t *testing.T) {
	tests := []struct {
		op   Op
		want string
	}{
		{OpCreate, "create"},
		{OpWrite, "write"},
		{OpRemove, "remove"},
		{OpRename, "rename"},
		{Op(42), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.String())
		})
	}
}
