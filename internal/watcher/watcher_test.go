package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupported(t *testing.T) {
	assert.True(t, Supported("guide.md"))
	assert.True(t, Supported("guide.PDF"))
	assert.True(t, Supported("guide.docx"))
	assert.False(t, Supported("guide.exe"))
	assert.False(t, Supported("guide"))
}

func TestDebouncer_CoalescesBursts(t *testing.T) {
	d := newDebouncer(50*time.Millisecond, 8)
	defer d.stop()

	for range 5 {
		d.add(Event{Path: "/docs/a.md", Op: OpUpsert})
	}
	d.add(Event{Path: "/docs/b.md", Op: OpUpsert})

	select {
	case batch := <-d.output:
		require.Len(t, batch, 2, "five writes to one path coalesce into one event")
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer never flushed")
	}
}

func TestDebouncer_LastStateWins(t *testing.T) {
	d := newDebouncer(50*time.Millisecond, 8)
	defer d.stop()

	d.add(Event{Path: "/docs/a.md", Op: OpUpsert})
	d.add(Event{Path: "/docs/a.md", Op: OpRemove})

	select {
	case batch := <-d.output:
		require.Len(t, batch, 1)
		assert.Equal(t, OpRemove, batch[0].Op)
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer never flushed")
	}
}

func TestDebouncer_StopClosesOutput(t *testing.T) {
	d := newDebouncer(50*time.Millisecond, 8)
	d.stop()
	d.stop() // idempotent

	_, ok := <-d.output
	assert.False(t, ok)

	// add after stop must not panic or emit
	d.add(Event{Path: "/docs/a.md", Op: OpUpsert})
}

func TestWatcher_DetectsWriteAndRemove(t *testing.T) {
	dir := t.TempDir()

	w, err := New(Options{DebounceWindow: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, dir))

	path := filepath.Join(dir, "guide.md")
	require.NoError(t, os.WriteFile(path, []byte("# Guide\n\nBody text.\n"), 0o644))

	batch := waitBatch(t, w)
	require.NotEmpty(t, batch)
	assert.Equal(t, path, batch[0].Path)
	assert.Equal(t, OpUpsert, batch[0].Op)

	require.NoError(t, os.Remove(path))
	batch = waitBatch(t, w)
	require.NotEmpty(t, batch)
	assert.Equal(t, OpRemove, batch[0].Op)
}

func TestWatcher_IgnoresUnsupportedFiles(t *testing.T) {
	dir := t.TempDir()

	w, err := New(Options{DebounceWindow: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.tmp"), []byte("x"), 0o644))

	select {
	case batch := <-w.Batches():
		t.Fatalf("unexpected batch for unsupported file: %v", batch)
	case <-time.After(300 * time.Millisecond):
	}
}

func waitBatch(t *testing.T, w *Watcher) []Event {
	t.Helper()
	select {
	case batch := <-w.Batches():
		return batch
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch batch")
		return nil
	}
}
