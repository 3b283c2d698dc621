package walkmanager

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rybkr/pathsieve/internal/notify"
)

const rewalkDebounce = 200 * time.Millisecond

// onceCloser makes a notify.Watcher's Close idempotent, since a root's watch
// may be torn down both by an explicit Remove/eviction and by the watch loop
// itself observing its event channel close.
type onceCloser struct {
	notify.Watcher
	once sync.Once
}

func (c *onceCloser) Close() error {
	var err error
	c.once.Do(func() { err = c.Watcher.Close() })
	return err
}

// startRootWatcher begins watching a root's filesystem for changes so that a
// change requeues the root for an immediate rewalk instead of waiting out
// RewalkInterval. Watching is best-effort: a failure to start one is logged
// and does not fail registration, since the ticker in scheduler.go still
// picks the root up eventually.
func (m *Manager) startRootWatcher(managed *ManagedRoot) {
	w, err := notify.MakeWatcher(managed.NormPath)
	if err != nil {
		m.logger.Warn("failed to start watcher for root", "id", managed.ID, "err", err)
		return
	}
	watcher := &onceCloser{Watcher: w}

	managed.mu.Lock()
	managed.watcher = watcher
	managed.mu.Unlock()

	m.wg.Add(1)
	go m.watchRoot(managed, watcher)
}

// watchRoot relays a root's filesystem events into a debounced requeue,
// mirroring the debounce/filter pattern server.watchLoop uses for the
// single-root local-mode watcher.
func (m *Manager) watchRoot(managed *ManagedRoot, watcher notify.Watcher) {
	defer m.wg.Done()
	defer func() { _ = watcher.Close() }()

	var debounceTimer *time.Timer

	for {
		select {
		case <-m.ctx.Done():
			return

		case event, ok := <-watcher.Events():
			if !ok {
				return
			}
			if shouldIgnoreWatchEvent(event) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(rewalkDebounce, func() {
				if m.ctx.Err() != nil {
					return
				}
				m.requeueRoot(managed)
			})

		case err, ok := <-watcher.Errors():
			if !ok {
				return
			}
			m.logger.Error("watcher error", "id", managed.ID, "err", err)
		}
	}
}

// shouldIgnoreWatchEvent filters out filesystem noise that doesn't warrant a
// rewalk: lock files and editor temp-write siblings.
func shouldIgnoreWatchEvent(event notify.PathEvent) bool {
	base := filepath.Base(event.Path)
	return strings.HasSuffix(base, ".lock") || strings.HasSuffix(base, "~")
}

// requeueRoot schedules an immediate rewalk of managed, ahead of the next
// ticker-driven pass, unless a walk for it is already pending or in flight.
func (m *Manager) requeueRoot(managed *ManagedRoot) {
	managed.mu.RLock()
	state := managed.State
	managed.mu.RUnlock()

	if state == StatePending || state == StateWalking {
		return
	}

	select {
	case m.walkQueue <- managed:
	default:
		m.logger.Warn("walk queue full, dropping notify-triggered rewalk", "id", managed.ID)
	}
}

// stopRootWatcher closes a root's watcher, if one was started.
func stopRootWatcher(managed *ManagedRoot) {
	managed.mu.Lock()
	watcher := managed.watcher
	managed.watcher = nil
	managed.mu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
}
