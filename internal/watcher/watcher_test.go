package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// recorder collects ingested paths.
type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) ingest(ctx context.Context, path string) {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func (r *recorder) count(suffix string) int {
	n := 0
	for _, p := range r.snapshot() {
		if strings.HasSuffix(p, suffix) {
			n++
		}
	}
	return n
}

func startWatcher(t *testing.T, roots, exts []string, recursive bool, rec *recorder) *Watcher {
	t.Helper()
	w := NewWatcher(roots, exts, recursive, rec.ingest, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_IngestsCreatedFile(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := mkdirAll(sub); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	startWatcher(t, []string{dir}, []string{".txt"}, true, rec)

	if err := writeFile(filepath.Join(sub, "f.txt"), "hello"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(sub, "f.xyz"), "ignored"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(400 * time.Millisecond)

	if rec.count("f.txt") != 1 {
		t.Errorf("expected one ingest of f.txt, got %v", rec.snapshot())
	}
	if rec.count("f.xyz") != 0 {
		t.Errorf("f.xyz should be filtered, got %v", rec.snapshot())
	}
}

func TestWatcher_DebounceCoalescesWrites(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, []string{dir}, nil, false, rec)

	path := filepath.Join(dir, "busy.md")
	for i := range 5 {
		if err := writeFile(path, strings.Repeat("x", i+1)); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(400 * time.Millisecond)

	if n := rec.count("busy.md"); n != 1 {
		t.Errorf("expected writes to coalesce into one ingest, got %d", n)
	}
}

func TestWatcher_IgnoresRemovals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	if err := writeFile(path, "short lived"); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	startWatcher(t, []string{dir}, []string{".txt"}, false, rec)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("removal should not trigger ingest, got %v", got)
	}
}

func TestWatcher_SyncExisting(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "a.txt"), "hello"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "ignore.xyz"), "x"); err != nil {
		t.Fatal(err)
	}
	if err := mkdirAll(filepath.Join(dir, "nested")); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "nested", "b.txt"), "nested"); err != nil {
		t.Fatal(err)
	}

	rec := &recorder{}
	NewWatcher([]string{dir}, []string{".txt"}, false, rec.ingest).SyncExisting(context.Background())
	if got := rec.snapshot(); len(got) != 1 || !strings.HasSuffix(got[0], "a.txt") {
		t.Errorf("non-recursive sync: got %v", got)
	}

	rec = &recorder{}
	NewWatcher([]string{dir}, []string{".txt"}, true, rec.ingest).SyncExisting(context.Background())
	if got := rec.snapshot(); len(got) != 2 {
		t.Errorf("recursive sync: got %v", got)
	}
}

func TestWatcher_SyncExistingStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		if err := writeFile(filepath.Join(dir, name), name); err != nil {
			t.Fatal(err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	w := NewWatcher([]string{dir}, nil, false, func(ctx context.Context, path string) {
		n++
		cancel()
	})
	w.SyncExisting(ctx)
	if n != 1 {
		t.Errorf("expected sync to stop after cancel, ingested %d", n)
	}
}

func TestWatcher_StartCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")
	w := startWatcher(t, []string{root}, []string{".txt"}, true, &recorder{})

	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
	if dirs := w.Directories(); len(dirs) != 1 || dirs[0] != root {
		t.Errorf("Directories() = %v", dirs)
	}
}

func TestWatcher_NewDirectoryContents(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, []string{dir}, []string{".txt", ".md"}, true, rec)

	nested := filepath.Join(dir, "level1", "level2")
	if err := mkdirAll(nested); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "deep.txt"), "deep content"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "level1", "doc.md"), "world"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(600 * time.Millisecond)

	if rec.count("deep.txt") < 1 || rec.count("doc.md") < 1 {
		t.Errorf("expected deep.txt and doc.md to be ingested, got %v", rec.snapshot())
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := NewWatcher([]string{t.TempDir()}, nil, false, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}

func TestWatcher_AddDirectory(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	if err := writeFile(filepath.Join(second, "existing.txt"), "already here"); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	w := startWatcher(t, []string{first}, []string{".txt"}, true, rec)

	if err := w.AddDirectory(second, true); err != nil {
		t.Fatal(err)
	}
	if err := w.AddDirectory(second, false); err != nil {
		t.Fatal(err)
	}
	if got := w.Directories(); len(got) != 2 {
		t.Fatalf("directories: got %v", got)
	}
	if err := writeFile(filepath.Join(second, "new.txt"), "dropped later"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(400 * time.Millisecond)

	if rec.count("existing.txt") != 1 {
		t.Errorf("existing file should be synced once, got %v", rec.snapshot())
	}
	if rec.count("new.txt") < 1 {
		t.Errorf("new file in added directory should be ingested, got %v", rec.snapshot())
	}
}

func TestWatcher_RemoveDirectory(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	rec := &recorder{}
	w := startWatcher(t, []string{first, second}, []string{".txt"}, true, rec)

	if err := w.RemoveDirectory(second); err != nil {
		t.Fatal(err)
	}
	if err := w.RemoveDirectory(second); err == nil {
		t.Error("removing an unwatched directory should fail")
	}
	if got := w.Directories(); len(got) != 1 || got[0] != filepath.Clean(first) {
		t.Errorf("directories: got %v", got)
	}
	if err := writeFile(filepath.Join(second, "ignored.txt"), "not watched"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if rec.count("ignored.txt") != 0 {
		t.Errorf("removed directory should not be ingested, got %v", rec.snapshot())
	}
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.txt", []string{".txt"}, true},
		{"/a/b.TXT", []string{".txt"}, true},
		{"/a/b.md", []string{".txt"}, false},
		{"/a/b", nil, true},
		{"/a/b", []string{}, true},
	}
	for _, tt := range tests {
		got := matchExtension(tt.path, tt.extensions)
		if got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		got := inDir(tt.dir, tt.path)
		if got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}

func TestWithDebounce(t *testing.T) {
	if w := NewWatcher(nil, nil, false, nil, WithDebounce(0)); w.debounce != 0 {
		t.Errorf("zero debounce should be kept, got %v", w.debounce)
	}
	if w := NewWatcher(nil, nil, false, nil, WithDebounce(-time.Second)); w.debounce != defaultDebounce {
		t.Errorf("negative debounce should keep the default, got %v", w.debounce)
	}
}
