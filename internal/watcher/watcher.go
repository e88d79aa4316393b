// Package watcher ingests files dropped into inbox directories.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// IngestFunc is called once per settled file.
type IngestFunc func(ctx context.Context, path string)

// Watcher watches inbox directories and ingests files that are created or
// written there. Removals are ignored: stored chunks are never deleted.
type Watcher struct {
	roots       []string
	extensions  []string
	recursive   bool
	ingest      IngestFunc
	debounce    time.Duration
	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	ctx         context.Context
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
	logger      *zap.Logger // optional; when set, logs debug events
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a path must stay quiet before it is ingested.
// Zero ingests on the first event.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over roots. extensions filter which files are
// ingested (empty means all).
func NewWatcher(roots, extensions []string, recursive bool, ingest IngestFunc, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		extensions:  extensions,
		recursive:   recursive,
		ingest:      ingest,
		debounce:    defaultDebounce,
		debounceMap: make(map[string]*time.Timer),
		ctx:         context.Background(),
		done:        make(chan struct{}),
	}
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			w.roots = append(w.roots, filepath.Clean(abs))
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start creates missing roots, begins watching, and returns. Events are
// handled until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.ctx = ctx
	w.started = true
	if w.logger != nil {
		w.logger.Debug("watcher starting",
			zap.Strings("roots", w.roots),
			zap.Strings("extensions", w.extensions),
			zap.Bool("recursive", w.recursive))
	}
	for _, root := range w.roots {
		if err := w.addRootLocked(root); err != nil {
			_ = w.watcher.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	events, errs := watcher.Events, watcher.Errors
	w.mu.Unlock()
	go w.run(ctx, events, errs)
	return nil
}

func (w *Watcher) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	path := ev.Name
	if !w.underRoot(path) {
		return
	}
	if w.logger != nil {
		w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		w.handleNewDirectory(path)
		return
	}
	if matchExtension(path, w.extensions) {
		w.debounceIngest(path)
	}
}

// handleNewDirectory watches a directory created under a recursive root and
// ingests what it already contains.
func (w *Watcher) handleNewDirectory(dirPath string) {
	if !w.recursive {
		return
	}
	w.mu.Lock()
	watcher := w.watcher
	w.mu.Unlock()
	if watcher == nil {
		return
	}
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := watcher.Add(path); err != nil && w.logger != nil {
				w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
			}
			return nil
		}
		if matchExtension(path, w.extensions) {
			w.debounceIngest(path)
		}
		return nil
	})
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.underRootLocked(path)
}

func (w *Watcher) underRootLocked(path string) bool {
	clean := filepath.Clean(path)
	for _, root := range w.roots {
		if root == clean || inDir(root, clean) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	extNorm := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == extNorm {
			return true
		}
	}
	return false
}

// debounceIngest (re)arms the timer for path; the file is ingested once it
// has been quiet for the debounce interval.
func (w *Watcher) debounceIngest(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	ctx := w.ctx
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if w.logger != nil {
			w.logger.Debug("watcher ingesting file", zap.String("path", path))
		}
		if w.ingest != nil {
			w.ingest(ctx, path)
		}
	})
}

func (w *Watcher) addRootLocked(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	if !w.recursive {
		return w.watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.watcher.Add(path)
	})
}

// SyncExisting ingests every matching file already present in the roots.
// It runs synchronously and stops early when ctx is cancelled.
func (w *Watcher) SyncExisting(ctx context.Context) {
	roots := w.Directories()
	if w.logger != nil {
		w.logger.Debug("watcher syncing existing files", zap.Strings("roots", roots))
	}
	for _, root := range roots {
		w.syncRoot(ctx, root)
	}
}

func (w *Watcher) syncRoot(ctx context.Context, root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if matchExtension(path, w.extensions) && w.ingest != nil {
			w.ingest(ctx, path)
		}
		return nil
	})
}

// Directories returns the watched root directories.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// AddDirectory adds a root. When the watcher is running the directory is
// watched immediately; syncExisting ingests the files it already holds.
func (w *Watcher) AddDirectory(path string, syncExisting bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	root := filepath.Clean(abs)

	w.mu.Lock()
	for _, r := range w.roots {
		if r == root {
			w.mu.Unlock()
			return nil
		}
	}
	if w.started {
		if err := w.addRootLocked(root); err != nil {
			w.mu.Unlock()
			return err
		}
	}
	w.roots = append(w.roots, root)
	ctx := w.ctx
	w.mu.Unlock()

	if w.logger != nil {
		w.logger.Debug("watcher directory added", zap.String("path", root), zap.Bool("sync_existing", syncExisting))
	}
	if syncExisting {
		go w.syncRoot(ctx, root)
	}
	return nil
}

// RemoveDirectory stops watching a root and its subdirectories. Chunks
// already ingested from it are kept.
func (w *Watcher) RemoveDirectory(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	root := filepath.Clean(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	idx := -1
	for i, r := range w.roots {
		if r == root {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("directory not watched: %s", root)
	}
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	if w.watcher != nil {
		for _, p := range w.watcher.WatchList() {
			if (p == root || inDir(root, p)) && !w.underRootLocked(p) {
				_ = w.watcher.Remove(p)
			}
		}
	}
	for p, t := range w.debounceMap {
		if inDir(root, p) && !w.underRootLocked(p) {
			t.Stop()
			delete(w.debounceMap, p)
		}
	}
	if w.logger != nil {
		w.logger.Debug("watcher directory removed", zap.String("path", root))
	}
	return nil
}

// Stop stops the watcher and cancels pending ingests.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
