package notify

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPollingWatcherDetectsNewFile(t *testing.T) {
	root := t.TempDir()

	w, err := MakePollingWatcher(root, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("MakePollingWatcher: %v", err)
	}
	defer w.Close()

	time.Sleep(30 * time.Millisecond)

	target := filepath.Join(root, "new.txt")
	if err := os.WriteFile(target, []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Path == target && ev.Op&Create != 0 {
				return
			}
		case err := <-w.Errors():
			t.Fatalf("unexpected watcher error: %v", err)
		case <-deadline:
			t.Fatal("timed out waiting for create event")
		}
	}
}

func TestOpString(t *testing.T) {
	if got := (Create | Write).String(); got != "CREATE|WRITE" {
		t.Errorf("got %q, want CREATE|WRITE", got)
	}
	if got := Op(0).String(); got != "" {
		t.Errorf("got %q, want empty string for zero Op", got)
	}
}

func TestMakeWatcherWatchesExistingTree(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	w, err := MakeWatcher(root)
	if err != nil {
		t.Fatalf("MakeWatcher: %v", err)
	}
	defer w.Close()
}
