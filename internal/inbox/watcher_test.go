package inbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
	fail  map[string]bool
}

func (r *recorder) handle(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, filepath.Base(path))
	if r.fail[filepath.Base(path)] {
		return errors.New("boom")
	}
	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
}

func startWatcher(t *testing.T, dir string, rec *recorder) *Watcher {
	t.Helper()
	w, err := NewWatcher(dir, rec.handle, WithSettle(40*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func TestWatcherDrainsExisting(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.webm"))
	writeFile(t, filepath.Join(dir, "a.m4a"))
	writeFile(t, filepath.Join(dir, "notes.txt"))

	rec := &recorder{}
	w := startWatcher(t, dir, rec)

	require.Eventually(t, func() bool { return len(rec.seen()) == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a.m4a", "b.webm"}, rec.seen())

	assert.FileExists(t, filepath.Join(dir, ProcessedDir, "a.m4a"))
	assert.FileExists(t, filepath.Join(dir, ProcessedDir, "b.webm"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))

	handled, failed := w.Stats()
	assert.Equal(t, 2, handled)
	assert.Zero(t, failed)
}

func TestWatcherPicksUpNewRecordings(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{fail: map[string]bool{"bad.wav": true}}
	w := startWatcher(t, dir, rec)

	writeFile(t, filepath.Join(dir, "good.webm"))
	writeFile(t, filepath.Join(dir, "bad.wav"))

	require.Eventually(t, func() bool {
		handled, _ := w.Stats()
		return handled == 2
	}, 3*time.Second, 10*time.Millisecond)

	assert.FileExists(t, filepath.Join(dir, ProcessedDir, "good.webm"))
	assert.FileExists(t, filepath.Join(dir, FailedDir, "bad.wav"))
	_, failed := w.Stats()
	assert.Equal(t, 1, failed)
}

func TestWatcherHandlesEachFileOnce(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := startWatcher(t, dir, rec)

	path := filepath.Join(dir, "note.webm")
	writeFile(t, path)
	// A second write inside the settle window must not cause a second run.
	require.NoError(t, os.WriteFile(path, []byte("more audio"), 0o644))

	require.Eventually(t, func() bool {
		handled, _ := w.Stats()
		return handled == 1
	}, 3*time.Second, 10*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{"note.webm"}, rec.seen())
}

func TestIsRecording(t *testing.T) {
	assert.True(t, IsRecording("/tmp/x/memo.WEBM"))
	assert.True(t, IsRecording("voice.m4a"))
	assert.False(t, IsRecording(".memo.webm"))
	assert.False(t, IsRecording("memo.webm.part"))
	assert.False(t, IsRecording("notes.txt"))
}

func TestNewWatcherValidation(t *testing.T) {
	_, err := NewWatcher("", func(context.Context, string) error { return nil })
	assert.Error(t, err)
	_, err = NewWatcher(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestStopWithoutStart(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), func(context.Context, string) error { return nil })
	require.NoError(t, err)
	w.Stop()
}

func TestWatcherLeavesInterruptedRecording(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "long.webm"))

	entered := make(chan struct{})
	w, err := NewWatcher(dir, func(ctx context.Context, _ string) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}, WithSettle(40*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("handler was not called")
	}
	w.Stop()

	assert.FileExists(t, filepath.Join(dir, "long.webm"))
	assert.NoFileExists(t, filepath.Join(dir, FailedDir, "long.webm"))
	handled, failed := w.Stats()
	assert.Zero(t, handled)
	assert.Zero(t, failed)
}
