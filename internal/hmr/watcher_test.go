package hmr

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startWatcher(t *testing.T, root string, opts ...WatcherOption) <-chan []string {
	t.Helper()
	changes := make(chan []string, 16)
	w := NewWatcher(root, func(paths []string) { changes <- paths }, discardLogger(),
		append([]WatcherOption{WithDebounce(50 * time.Millisecond)}, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("watcher returned error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	// Give fsnotify a moment to register watches.
	time.Sleep(100 * time.Millisecond)
	return changes
}

func waitForChange(t *testing.T, changes <-chan []string) []string {
	t.Helper()
	select {
	case paths := <-changes:
		return paths
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change notification")
		return nil
	}
}

func contains(paths []string, want string) bool {
	for _, p := range paths {
		if p == want {
			return true
		}
	}
	return false
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherReportsWrites(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	changes := startWatcher(t, root)

	target := filepath.Join(root, "src", "main.tsx")
	writeFile(t, target, "export {}")

	if paths := waitForChange(t, changes); !contains(paths, target) {
		t.Errorf("paths = %v, want %s", paths, target)
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	root := t.TempDir()
	changes := startWatcher(t, root)

	a := filepath.Join(root, "a.css")
	b := filepath.Join(root, "b.css")
	writeFile(t, a, "a{}")
	writeFile(t, b, "b{}")

	paths := waitForChange(t, changes)
	if !contains(paths, a) || !contains(paths, b) {
		t.Errorf("expected both files in one batch, got %v", paths)
	}
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	changes := startWatcher(t, root)

	dir := filepath.Join(root, "components")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)

	target := filepath.Join(dir, "Button.tsx")
	writeFile(t, target, "export {}")

	deadline := time.After(3 * time.Second)
	for {
		select {
		case paths := <-changes:
			if contains(paths, target) {
				return
			}
		case <-deadline:
			t.Fatal("change in new directory was not reported")
		}
	}
}

func TestWatcherIgnoresConfiguredDirectories(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"node_modules", ".devserver"} {
		if err := os.Mkdir(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	changes := startWatcher(t, root, WithIgnore(".devserver"))

	writeFile(t, filepath.Join(root, "node_modules", "dep.js"), "x")
	writeFile(t, filepath.Join(root, ".devserver", "dev.crt"), "x")
	writeFile(t, filepath.Join(root, "index.html.swp"), "x")

	select {
	case paths := <-changes:
		t.Fatalf("expected no notifications, got %v", paths)
	case <-time.After(300 * time.Millisecond):
	}

	visible := filepath.Join(root, "index.html")
	writeFile(t, visible, "<html></html>")
	if paths := waitForChange(t, changes); !contains(paths, visible) {
		t.Errorf("paths = %v", paths)
	}
}

func TestWatcherMissingRoot(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing"), func([]string) {}, discardLogger())
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing root")
	}
}
