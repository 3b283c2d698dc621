// Package notify is the external collaborator the ignore/walker core expects
// but never calls into itself: something that watches a root directory for
// filesystem changes and hands back a stream of events a caller can use to
// decide when to re-walk. It is deliberately one-way — nothing in package
// walker or package ignore imports this package.
package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op describes the kind of filesystem change a PathEvent reports. It mirrors
// fsnotify.Op's bit flags so callers can test with bitwise AND.
type Op uint32

const (
	Create Op = 1 << iota
	Write
	Remove
	Rename
	Chmod
)

// String renders the set bits as a "|"-joined list, e.g. "CREATE|WRITE".
func (op Op) String() string {
	var parts []string
	if op&Create != 0 {
		parts = append(parts, "CREATE")
	}
	if op&Write != 0 {
		parts = append(parts, "WRITE")
	}
	if op&Remove != 0 {
		parts = append(parts, "REMOVE")
	}
	if op&Rename != 0 {
		parts = append(parts, "RENAME")
	}
	if op&Chmod != 0 {
		parts = append(parts, "CHMOD")
	}
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "|" + p
	}
	return out
}

// PathEvent is one filesystem change under a watched root.
type PathEvent struct {
	Path string
	Op   Op
}

// Watcher streams filesystem change events for a root until Close is called.
type Watcher interface {
	Events() <-chan PathEvent
	Errors() <-chan error
	Close() error
}

func fromFsnotifyOp(op fsnotify.Op) Op {
	var out Op
	if op&fsnotify.Create != 0 {
		out |= Create
	}
	if op&fsnotify.Write != 0 {
		out |= Write
	}
	if op&fsnotify.Remove != 0 {
		out |= Remove
	}
	if op&fsnotify.Rename != 0 {
		out |= Rename
	}
	if op&fsnotify.Chmod != 0 {
		out |= Chmod
	}
	return out
}

// fsWatcher adapts fsnotify to the Watcher interface, recursively watching
// every directory under root at construction time and adding newly created
// directories as they appear.
type fsWatcher struct {
	root    string
	watcher *fsnotify.Watcher
	events  chan PathEvent
	errors  chan error
	done    chan struct{}
}

// MakeWatcher builds an event-driven Watcher backed by fsnotify, watching
// root and every directory beneath it.
func MakeWatcher(root string) (Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("notify: create fsnotify watcher: %w", err)
	}

	fw := &fsWatcher{
		root:    root,
		watcher: w,
		events:  make(chan PathEvent, 256),
		errors:  make(chan error, 16),
		done:    make(chan struct{}),
	}

	if err := fw.addTree(root); err != nil {
		_ = w.Close()
		return nil, err
	}

	go fw.loop()
	return fw, nil
}

func (fw *fsWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := fw.watcher.Add(path); err != nil {
				return fmt.Errorf("notify: watch %s: %w", path, err)
			}
		}
		return nil
	})
}

func (fw *fsWatcher) loop() {
	defer close(fw.events)
	defer close(fw.errors)

	for {
		select {
		case <-fw.done:
			return
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			op := fromFsnotifyOp(ev.Op)
			if op&Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = fw.watcher.Add(ev.Name)
				}
			}
			select {
			case fw.events <- PathEvent{Path: ev.Name, Op: op}:
			case <-fw.done:
				return
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

func (fw *fsWatcher) Events() <-chan PathEvent { return fw.events }
func (fw *fsWatcher) Errors() <-chan error     { return fw.errors }

func (fw *fsWatcher) Close() error {
	close(fw.done)
	return fw.watcher.Close()
}

// pollingWatcher re-stats the tree on a fixed interval and diffs modtimes
// against the previous pass, for filesystems or environments (network
// mounts, some containers) where inotify-style events aren't reliable.
type pollingWatcher struct {
	events chan PathEvent
	errors chan error
	done   chan struct{}
}

// MakePollingWatcher builds a Watcher that polls root every interval instead
// of relying on OS-level filesystem events.
func MakePollingWatcher(root string, interval time.Duration) (Watcher, error) {
	pw := &pollingWatcher{
		events: make(chan PathEvent, 256),
		errors: make(chan error, 16),
		done:   make(chan struct{}),
	}
	go pw.loop(root, interval)
	return pw, nil
}

func (pw *pollingWatcher) loop(root string, interval time.Duration) {
	defer close(pw.events)
	defer close(pw.errors)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := snapshot(root, pw.errors, pw.done)

	for {
		select {
		case <-pw.done:
			return
		case <-ticker.C:
			cur := snapshot(root, pw.errors, pw.done)
			for path, modTime := range cur {
				if old, ok := prev[path]; !ok {
					pw.emit(PathEvent{Path: path, Op: Create})
				} else if !old.Equal(modTime) {
					pw.emit(PathEvent{Path: path, Op: Write})
				}
			}
			for path := range prev {
				if _, ok := cur[path]; !ok {
					pw.emit(PathEvent{Path: path, Op: Remove})
				}
			}
			prev = cur
		}
	}
}

func (pw *pollingWatcher) emit(ev PathEvent) {
	select {
	case pw.events <- ev:
	case <-pw.done:
	}
}

func snapshot(root string, errs chan<- error, done <-chan struct{}) map[string]time.Time {
	out := make(map[string]time.Time)
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			select {
			case errs <- err:
			case <-done:
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out[path] = info.ModTime()
		return nil
	})
	return out
}

func (pw *pollingWatcher) Events() <-chan PathEvent { return pw.events }
func (pw *pollingWatcher) Errors() <-chan error     { return pw.errors }
func (pw *pollingWatcher) Close() error {
	close(pw.done)
	return nil
}
