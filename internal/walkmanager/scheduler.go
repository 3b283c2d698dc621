package walkmanager

import (
	"time"
)

// rewalkLoop periodically re-walks all ready roots to pick up filesystem
// changes that happened since the last pass.
func (m *Manager) rewalkLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.RewalkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.rewalkAll()
		}
	}
}

// rewalkAll schedules a rewalk of every root currently in StateReady by
// handing each to walkQueue, the same queue AddRoot's initial walks and
// notify-triggered requeues use. This keeps MaxConcurrentWalks governing
// rewalks too, instead of running them serially on the scheduler goroutine.
func (m *Manager) rewalkAll() {
	m.mu.RLock()
	var ready []*ManagedRoot
	for _, managed := range m.roots {
		managed.mu.RLock()
		if managed.State == StateReady {
			ready = append(ready, managed)
		}
		managed.mu.RUnlock()
	}
	m.mu.RUnlock()

	for _, managed := range ready {
		select {
		case m.walkQueue <- managed:
		default:
			m.logger.Warn("walk queue full, skipping scheduled rewalk", "id", managed.ID)
		}
	}
}

// evictionLoop periodically removes roots that have been inactive.
func (m *Manager) evictionLoop() {
	defer m.wg.Done()

	interval := max(m.cfg.InactivityTTL/10, time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.evictInactive()
		}
	}
}

// evictInactive removes roots that haven't been accessed within InactivityTTL.
func (m *Manager) evictInactive() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var toEvict []string

	for id, managed := range m.roots {
		managed.mu.RLock()
		state := managed.State
		lastAccess := managed.LastAccess
		managed.mu.RUnlock()

		if state == StatePending || state == StateWalking {
			continue
		}

		if now.Sub(lastAccess) > m.cfg.InactivityTTL {
			toEvict = append(toEvict, id)
		}
	}

	for _, id := range toEvict {
		if managed, ok := m.roots[id]; ok {
			stopRootWatcher(managed)
		}
		delete(m.roots, id)
		m.logger.Info("evicted inactive root", "id", id)
	}
}
