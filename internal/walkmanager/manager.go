// Package walkmanager tracks a registry of walked directory roots for a
// server process that serves more than one root at a time: registration,
// the initial walk, periodic re-walks to pick up filesystem changes, and
// eviction of roots nobody has asked about in a while.
package walkmanager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rybkr/pathsieve/internal/ignore"
	"github.com/rybkr/pathsieve/internal/notify"
	"github.com/rybkr/pathsieve/internal/walker"
)

// RootState is the lifecycle state of a managed root.
type RootState int

const (
	StatePending RootState = iota
	StateWalking
	StateReady
	StateError
)

func (s RootState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateWalking:
		return "walking"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Config holds settings for the Manager.
type Config struct {
	MaxConcurrentWalks int
	RewalkInterval     time.Duration
	InactivityTTL      time.Duration
	WalkTimeout        time.Duration
	MaxRoots           int
	IgnoreFilename     string
	IgnoreDotGit       bool
	Logger             *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxConcurrentWalks <= 0 {
		c.MaxConcurrentWalks = 3
	}
	if c.RewalkInterval <= 0 {
		c.RewalkInterval = 30 * time.Second
	}
	if c.InactivityTTL <= 0 {
		c.InactivityTTL = 24 * time.Hour
	}
	if c.WalkTimeout <= 0 {
		c.WalkTimeout = 5 * time.Minute
	}
	if c.MaxRoots <= 0 {
		c.MaxRoots = 100
	}
	if c.IgnoreFilename == "" {
		c.IgnoreFilename = ".gitignore"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// WalkProgress tracks the current phase of an in-flight walk.
type WalkProgress struct {
	Phase   string
	Emitted int
	Done    bool
	State   string // terminal state: "ready" or "error"
	Error   string
}

// Snapshot is the materialized result of walking a root once: every
// non-ignored entry plus a count of the per-entry errors the walk reported.
type Snapshot struct {
	Entries    []walker.PathMetadata
	ErrorCount int
	WalkedAt   time.Time
}

// ManagedRoot tracks one registered directory root through its lifecycle.
type ManagedRoot struct {
	mu         sync.RWMutex
	ID         string
	Path       string // original, as registered
	NormPath   string // cleaned absolute path
	State      RootState
	Error      string
	Progress   WalkProgress
	Rules      *ignore.Rules
	Snapshot   *Snapshot
	CreatedAt  time.Time
	LastAccess time.Time
	LastWalk   time.Time
	watcher    notify.Watcher // nil until startRootWatcher succeeds
}

// RootInfo is a read-only snapshot of a managed root's state, used by List().
type RootInfo struct {
	ID         string
	Path       string
	State      RootState
	Error      string
	EntryCount int
	CreatedAt  time.Time
	LastAccess time.Time
	LastWalk   time.Time
}

// Manager manages the lifecycle of registered walk roots.
type Manager struct {
	cfg          Config
	logger       *slog.Logger
	mu           sync.RWMutex
	roots        map[string]*ManagedRoot
	progressSubs map[string][]chan WalkProgress
	walkQueue    chan *ManagedRoot
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// New creates a Manager.
func New(cfg Config) (*Manager, error) {
	cfg.defaults()

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		cfg:          cfg,
		logger:       cfg.Logger,
		roots:        make(map[string]*ManagedRoot),
		progressSubs: make(map[string][]chan WalkProgress),
		walkQueue:    make(chan *ManagedRoot, cfg.MaxRoots),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start launches walk workers and the rewalk/eviction loops.
func (m *Manager) Start() error {
	for range m.cfg.MaxConcurrentWalks {
		m.wg.Add(1)
		go m.walkWorker()
	}

	m.wg.Add(1)
	go m.rewalkLoop()

	m.wg.Add(1)
	go m.evictionLoop()

	m.logger.Info("walk manager started",
		"workers", m.cfg.MaxConcurrentWalks,
	)

	return nil
}

// Close shuts down all goroutines and waits for them to finish.
func (m *Manager) Close() {
	m.cancel()

	m.mu.RLock()
	for _, managed := range m.roots {
		stopRootWatcher(managed)
	}
	m.mu.RUnlock()

	m.wg.Wait()
	m.logger.Info("walk manager stopped")
}

// AddRoot validates and registers a directory root, deduplicates by its
// normalized absolute path, and enqueues an initial walk if needed. Returns
// the root's ID (derived from a hash of the normalized path).
func (m *Manager) AddRoot(rawPath string) (string, error) {
	normPath, err := normalizeRoot(rawPath)
	if err != nil {
		return "", fmt.Errorf("invalid root: %w", err)
	}

	id := hashPath(normPath)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.roots[id]; exists {
		existing.mu.Lock()
		if existing.State == StateError {
			existing.State = StatePending
			existing.Error = ""
			select {
			case m.walkQueue <- existing:
			default:
				existing.State = StateError
				existing.Error = "walk queue full"
			}
		}
		existing.mu.Unlock()
		return id, nil
	}

	if len(m.roots) >= m.cfg.MaxRoots {
		return "", fmt.Errorf("maximum number of roots (%d) reached", m.cfg.MaxRoots)
	}

	now := time.Now()
	managed := &ManagedRoot{
		ID:         id,
		Path:       rawPath,
		NormPath:   normPath,
		State:      StatePending,
		CreatedAt:  now,
		LastAccess: now,
	}

	m.roots[id] = managed

	select {
	case m.walkQueue <- managed:
	default:
		managed.State = StateError
		managed.Error = "walk queue full"
		return id, fmt.Errorf("walk queue full")
	}

	m.startRootWatcher(managed)

	return id, nil
}

// GetSnapshot returns the most recent Snapshot for the given ID. Returns an
// error if the root is not ready.
func (m *Manager) GetSnapshot(id string) (*Snapshot, error) {
	m.mu.RLock()
	managed, exists := m.roots[id]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("root not found: %s", id)
	}

	managed.mu.Lock()
	defer managed.mu.Unlock()

	switch managed.State {
	case StateReady:
		managed.LastAccess = time.Now()
		return managed.Snapshot, nil
	case StatePending, StateWalking:
		return nil, fmt.Errorf("root %s is still %s", id, managed.State)
	case StateError:
		return nil, fmt.Errorf("root %s has error: %s", id, managed.Error)
	default:
		return nil, fmt.Errorf("root %s is in unknown state", id)
	}
}

// GetRules returns the compiled ignore rule set for a ready root, for use by
// callers that need to explain or re-check individual paths.
func (m *Manager) GetRules(id string) (*ignore.Rules, error) {
	m.mu.RLock()
	managed, exists := m.roots[id]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("root not found: %s", id)
	}

	managed.mu.RLock()
	defer managed.mu.RUnlock()

	if managed.Rules == nil {
		return nil, fmt.Errorf("root %s has no rules yet", id)
	}
	return managed.Rules, nil
}

// Status returns the current state, error message, and walk progress for a root.
func (m *Manager) Status(id string) (RootState, string, WalkProgress, error) {
	m.mu.RLock()
	managed, exists := m.roots[id]
	m.mu.RUnlock()

	if !exists {
		return 0, "", WalkProgress{}, fmt.Errorf("root not found: %s", id)
	}

	managed.mu.RLock()
	defer managed.mu.RUnlock()
	return managed.State, managed.Error, managed.Progress, nil
}

// SubscribeProgress registers a channel that receives walk progress updates
// for the given root ID. The channel is buffered (size 1): slow consumers
// only miss intermediate updates, never the final one.
func (m *Manager) SubscribeProgress(id string) (<-chan WalkProgress, func()) {
	ch := make(chan WalkProgress, 1)

	m.mu.Lock()
	m.progressSubs[id] = append(m.progressSubs[id], ch)
	m.mu.Unlock()

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.progressSubs[id]
		for i, s := range subs {
			if s == ch {
				m.progressSubs[id] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(m.progressSubs[id]) == 0 {
			delete(m.progressSubs, id)
		}
	}

	return ch, unsubscribe
}

func (m *Manager) notifyProgressSubs(id string, p WalkProgress) {
	m.mu.RLock()
	subs := m.progressSubs[id]
	m.mu.RUnlock()

	for _, ch := range subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- p:
		default:
		}
	}
}

func (m *Manager) cleanupProgressSubs(id string) {
	m.mu.Lock()
	subs := m.progressSubs[id]
	delete(m.progressSubs, id)
	m.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// List returns a snapshot of all managed roots.
func (m *Manager) List() []RootInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]RootInfo, 0, len(m.roots))
	for _, managed := range m.roots {
		managed.mu.RLock()
		entryCount := 0
		if managed.Snapshot != nil {
			entryCount = len(managed.Snapshot.Entries)
		}
		result = append(result, RootInfo{
			ID:         managed.ID,
			Path:       managed.Path,
			State:      managed.State,
			Error:      managed.Error,
			EntryCount: entryCount,
			CreatedAt:  managed.CreatedAt,
			LastAccess: managed.LastAccess,
			LastWalk:   managed.LastWalk,
		})
		managed.mu.RUnlock()
	}
	return result
}

// Remove deregisters a root.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	managed, exists := m.roots[id]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("root not found: %s", id)
	}
	delete(m.roots, id)
	m.mu.Unlock()

	stopRootWatcher(managed)

	m.logger.Info("root removed", "id", id)
	return nil
}

// walkWorker pulls roots from the walk queue and processes them.
func (m *Manager) walkWorker() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case managed, ok := <-m.walkQueue:
			if !ok {
				return
			}
			m.processWalk(managed)
		}
	}
}

// processWalk performs a full walk of a root and materializes its Snapshot.
func (m *Manager) processWalk(managed *ManagedRoot) {
	managed.mu.Lock()
	if managed.State == StateWalking {
		managed.mu.Unlock()
		return
	}
	managed.State = StateWalking
	rootPath := managed.NormPath
	managed.mu.Unlock()

	m.logger.Info("walking root", "id", managed.ID, "path", rootPath)

	if _, err := os.Stat(rootPath); err != nil {
		m.failWalk(managed, fmt.Errorf("stat root: %w", err))
		return
	}

	onProgress := func(p WalkProgress) {
		managed.mu.Lock()
		managed.Progress = p
		managed.mu.Unlock()
		m.notifyProgressSubs(managed.ID, p)
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.WalkTimeout)
	defer cancel()

	snapshot, rules, err := performWalk(ctx, rootPath, m.cfg.IgnoreFilename, m.cfg.IgnoreDotGit, onProgress)
	if err != nil {
		m.failWalk(managed, err)
		return
	}

	now := time.Now()
	managed.mu.Lock()
	managed.State = StateReady
	managed.Error = ""
	managed.Progress = WalkProgress{}
	managed.Rules = rules
	managed.Snapshot = snapshot
	managed.LastWalk = now
	managed.LastAccess = now
	managed.mu.Unlock()

	m.logger.Info("root ready", "id", managed.ID, "entries", len(snapshot.Entries))
	m.notifyProgressSubs(managed.ID, WalkProgress{Done: true, State: "ready"})
	m.cleanupProgressSubs(managed.ID)
}

func (m *Manager) failWalk(managed *ManagedRoot, err error) {
	managed.mu.Lock()
	managed.State = StateError
	managed.Error = err.Error()
	managed.Progress = WalkProgress{}
	managed.mu.Unlock()
	m.logger.Error("walk failed", "id", managed.ID, "error", err)
	m.notifyProgressSubs(managed.ID, WalkProgress{Done: true, State: "error", Error: err.Error()})
	m.cleanupProgressSubs(managed.ID)
}

// ForceStateForTest sets a root's state directly. Intended for use in tests only.
func (m *Manager) ForceStateForTest(id string, state RootState) {
	m.mu.RLock()
	managed, exists := m.roots[id]
	m.mu.RUnlock()
	if !exists {
		return
	}
	managed.mu.Lock()
	managed.State = state
	managed.Error = ""
	managed.mu.Unlock()
}
