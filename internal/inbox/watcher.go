// Package inbox watches a drop folder for finished recordings, such as the
// sync folder of a phone recorder app, and hands each one to a handler
// exactly once.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Subdirectories recordings are moved to once handled.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// DefaultSettle is how long a file must go without writes before it is
// picked up.
const DefaultSettle = time.Second

// audioExtensions are the file types picked up from the inbox.
var audioExtensions = map[string]bool{
	".webm": true,
	".m4a":  true,
	".mp3":  true,
	".mp4":  true,
	".mpeg": true,
	".mpga": true,
	".wav":  true,
	".ogg":  true,
	".oga":  true,
	".flac": true,
}

// Handler ingests one recording. A nil error moves the file to processed/,
// anything else to failed/.
type Handler func(ctx context.Context, path string) error

// Watcher dispatches recordings dropped into a directory.
type Watcher struct {
	dir     string
	handler Handler
	settle  time.Duration
	logger  *slog.Logger

	watcher *fsnotify.Watcher
	pending map[string]time.Time
	done    chan struct{}
	stop    context.CancelFunc

	mu      sync.Mutex
	handled int
	failed  int
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSettle sets how long a file must be quiet before it is handled.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// WithLogger sets the watcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, handler Handler, opts ...Option) (*Watcher, error) {
	if dir == "" {
		return nil, errors.New("inbox: directory is required")
	}
	if handler == nil {
		return nil, errors.New("inbox: handler is required")
	}
	w := &Watcher{
		dir:     dir,
		handler: handler,
		settle:  DefaultSettle,
		logger:  slog.Default(),
		pending: make(map[string]time.Time),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "inbox", "dir", dir)
	return w, nil
}

// Start begins watching. Recordings already in the directory are queued
// first. Handlers run one at a time on the watcher's goroutine until ctx is
// done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	for _, sub := range []string{"", ProcessedDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0o755); err != nil {
			return fmt.Errorf("inbox: mkdir: %w", err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("inbox: watch %s: %w", w.dir, err)
	}
	w.watcher = fw

	// Files present before the watch started count as settled.
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		_ = fw.Close()
		return fmt.Errorf("inbox: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && IsRecording(e.Name()) {
			w.pending[filepath.Join(w.dir, e.Name())] = time.Time{}
		}
	}

	ctx, w.stop = context.WithCancel(ctx)
	go w.loop(ctx)
	w.logger.Info("inbox: watching for recordings", "queued", len(w.pending))
	return nil
}

// Stop shuts the watcher down and waits for a running handler to return.
func (w *Watcher) Stop() {
	if w.stop == nil {
		return
	}
	w.stop()
	<-w.done
}

// Stats returns how many recordings were handled and how many failed.
func (w *Watcher) Stats() (handled, failed int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.handled, w.failed
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer func() { _ = w.watcher.Close() }()

	tick := time.NewTicker(w.settle / 4)
	defer tick.Stop()

	w.flush(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write) != 0 && IsRecording(evt.Name) {
				w.pending[evt.Name] = time.Now()
			}
			if evt.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				delete(w.pending, evt.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("inbox: watcher error", "error", err)
		case now := <-tick.C:
			w.flush(ctx, now)
		}
	}
}

// flush handles every pending file that has been quiet for the settle
// period, in name order.
func (w *Watcher) flush(ctx context.Context, now time.Time) {
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.settle {
			ready = append(ready, path)
		}
	}
	sort.Strings(ready)

	for _, path := range ready {
		if ctx.Err() != nil {
			return
		}
		delete(w.pending, path)
		w.handle(ctx, path)
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		return // moved away by someone else
	}

	err := w.handler(ctx, path)
	if err != nil && ctx.Err() != nil {
		// Interrupted by shutdown; the next start picks it up again.
		w.logger.Info("inbox: recording left for next start", "file", filepath.Base(path))
		return
	}
	dest := ProcessedDir
	if err != nil {
		dest = FailedDir
		w.logger.Warn("inbox: recording failed", "file", filepath.Base(path), "error", err)
	} else {
		w.logger.Info("inbox: recording ingested", "file", filepath.Base(path))
	}

	target := filepath.Join(w.dir, dest, filepath.Base(path))
	if mvErr := os.Rename(path, target); mvErr != nil {
		w.logger.Error("inbox: move failed", "file", filepath.Base(path), "error", mvErr)
	}

	w.mu.Lock()
	w.handled++
	if err != nil {
		w.failed++
	}
	w.mu.Unlock()
}

// IsRecording reports whether name has an audio file extension. Hidden and
// partial files are ignored.
func IsRecording(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return audioExtensions[strings.ToLower(filepath.Ext(base))]
}
