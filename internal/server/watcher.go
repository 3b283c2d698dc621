package server

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/rybkr/pathsieve/internal/notify"
)

const debounceTime = 200 * time.Millisecond

func (s *Server) startWatcher() error {
	root := s.localRoot
	watcher, err := notify.MakeWatcher(root)
	if err != nil {
		return err
	}

	go s.watchLoop(watcher)

	s.logger.Info("Watching directory for changes", "root", root)
	return nil
}

func (s *Server) watchLoop(watcher notify.Watcher) {
	defer s.wg.Done()
	defer func() {
		if err := watcher.Close(); err != nil {
			s.logger.Error("Failed to close watcher", "err", err)
		}
	}()

	var debounceTimer *time.Timer

	for {
		select {
		case <-s.ctx.Done():
			return

		case event, ok := <-watcher.Events():
			if !ok {
				return
			}
			if shouldIgnoreEvent(event) {
				continue
			}

			s.logger.Debug("Change detected", "file", filepath.Base(event.Path), "op", event.Op.String())

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceTime, func() {
				if s.ctx.Err() != nil {
					return
				}
				s.localSession.updateSnapshot()
			})

		case err, ok := <-watcher.Errors():
			if !ok {
				return
			}
			s.logger.Error("Watcher error", "err", err)
		}
	}
}

// shouldIgnoreEvent filters out filesystem noise that doesn't warrant a
// re-walk: ".lock" files and "~"-suffixed editor temp files.
func shouldIgnoreEvent(event notify.PathEvent) bool {
	base := filepath.Base(event.Path)
	if strings.HasSuffix(base, ".lock") || strings.HasSuffix(base, "~") {
		return true
	}
	return false
}
