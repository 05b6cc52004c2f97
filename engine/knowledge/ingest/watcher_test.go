package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, p *Pipeline, dir string, opts WatchOptions) <-chan FileResult {
	t.Helper()
	results := make(chan FileResult, 16)
	opts.OnResult = func(res FileResult) { results <- res }
	w, err := NewWatcher(p, dir, opts)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	// give fsnotify time to register the directory
	time.Sleep(100 * time.Millisecond)
	return results
}

func waitResult(t *testing.T, results <-chan FileResult) FileResult {
	t.Helper()
	select {
	case res := <-results:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the watcher")
		return FileResult{}
	}
}

func TestWatcher(t *testing.T) {
	t.Run("Should ingest a new supported file once per burst of writes", func(t *testing.T) {
		dir := t.TempDir()
		p := newPipeline(t, newIndex(t), Options{})
		results := startWatcher(t, p, dir, WatchOptions{Debounce: 50 * time.Millisecond})

		path := filepath.Join(dir, "notes.txt")
		f, err := os.Create(path)
		require.NoError(t, err)
		for range 5 {
			_, err = f.WriteString("watched content line\n")
			require.NoError(t, err)
		}
		require.NoError(t, f.Close())

		res := waitResult(t, results)
		assert.Equal(t, path, res.Path)
		assert.Equal(t, StatusAdded, res.Status)
		select {
		case extra := <-results:
			t.Fatalf("unexpected extra ingestion: %+v", extra)
		case <-time.After(300 * time.Millisecond):
		}
	})

	t.Run("Should ignore unsupported and hidden files", func(t *testing.T) {
		dir := t.TempDir()
		idx := &scriptedIndexer{}
		p := newPipeline(t, idx, Options{})
		results := startWatcher(t, p, dir, WatchOptions{Debounce: 20 * time.Millisecond})
		require.NoError(t, os.WriteFile(filepath.Join(dir, "image.bmp"), []byte("BM"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".draft.txt"), []byte("draft"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "real.md"), []byte("# real"), 0o644))

		res := waitResult(t, results)
		assert.Equal(t, filepath.Join(dir, "real.md"), res.Path)
		select {
		case extra := <-results:
			t.Fatalf("unexpected ingestion: %+v", extra)
		case <-time.After(200 * time.Millisecond):
		}
	})
}

func TestNewWatcher(t *testing.T) {
	t.Run("Should validate the directory and rescan schedule", func(t *testing.T) {
		p := newPipeline(t, &scriptedIndexer{}, Options{})
		_, err := NewWatcher(nil, "dir", WatchOptions{})
		assert.Error(t, err)
		_, err = NewWatcher(p, " ", WatchOptions{})
		assert.Error(t, err)
		_, err = NewWatcher(p, "dir", WatchOptions{RescanSchedule: "every tuesday"})
		assert.Error(t, err)

		w, err := NewWatcher(p, "dir/", WatchOptions{RescanSchedule: "*/5 * * * *"})
		require.NoError(t, err)
		assert.Equal(t, "dir", w.dir)
		assert.Equal(t, defaultWatchDebounce, w.opts.Debounce)
		assert.NotNil(t, w.schedule)
	})

	t.Run("Should run the rescan job over the whole directory", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.txt", "first")
		writeFile(t, dir, "b.txt", "second")
		p := newPipeline(t, &scriptedIndexer{}, Options{})
		var got []FileResult
		w, err := NewWatcher(p, dir, WatchOptions{OnResult: func(r FileResult) { got = append(got, r) }})
		require.NoError(t, err)
		w.rescan(t.Context())
		require.Len(t, got, 2)
		assert.Equal(t, StatusAdded, got[0].Status)
	})
}
