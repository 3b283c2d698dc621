package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rybkr/pathsieve/internal/ignore"
	"github.com/rybkr/pathsieve/internal/walkmanager"
)

// ReloadFunc re-walks a root and returns its fresh snapshot and compiled
// rule set. For local mode this re-runs ignore.BuildAll + walker.WalkParallel
// directly; for managed mode it reads the latest materialized state out of
// the walkmanager.Manager.
type ReloadFunc func() (*walkmanager.Snapshot, *ignore.Rules, error)

// RootSession holds per-root state that was previously embedded in the
// monolithic Server struct. Each session manages its own cached snapshot,
// WebSocket clients, broadcast channel, and LRU caches of derived results.
type RootSession struct {
	id       string
	logger   *slog.Logger
	reloadFn ReloadFunc

	cacheMu sync.RWMutex
	cached  struct {
		snapshot *walkmanager.Snapshot
		rules    *ignore.Rules
	}

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*sync.Mutex

	broadcast chan UpdateMessage

	explainCache *LRUCache[any]
	checkCache   *LRUCache[any]

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	clientWg sync.WaitGroup // tracks clientReadPump/clientWritePump goroutines
}

// SessionConfig holds initialization parameters for a RootSession.
type SessionConfig struct {
	ID              string
	InitialSnapshot *walkmanager.Snapshot
	InitialRules    *ignore.Rules
	ReloadFn        ReloadFunc
	CacheSize       int
	Logger          *slog.Logger
}

// NewRootSession constructs a RootSession ready to be started.
func NewRootSession(cfg SessionConfig) *RootSession {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	rs := &RootSession{
		id:           cfg.ID,
		logger:       cfg.Logger.With("session", cfg.ID),
		reloadFn:     cfg.ReloadFn,
		clients:      make(map[*websocket.Conn]*sync.Mutex),
		broadcast:    make(chan UpdateMessage, broadcastChannelSize),
		explainCache: NewLRUCache[any](cfg.CacheSize),
		checkCache:   NewLRUCache[any](cfg.CacheSize),
		ctx:          ctx,
		cancel:       cancel,
	}
	rs.cached.snapshot = cfg.InitialSnapshot
	rs.cached.rules = cfg.InitialRules

	return rs
}

// Snapshot returns the current cached snapshot in a thread-safe manner.
func (rs *RootSession) Snapshot() *walkmanager.Snapshot {
	rs.cacheMu.RLock()
	snap := rs.cached.snapshot
	rs.cacheMu.RUnlock()
	return snap
}

// Rules returns the current cached rule set in a thread-safe manner.
func (rs *RootSession) Rules() *ignore.Rules {
	rs.cacheMu.RLock()
	rules := rs.cached.rules
	rs.cacheMu.RUnlock()
	return rules
}

// Start launches the broadcast goroutine.
func (rs *RootSession) Start() {
	rs.wg.Add(1)
	go rs.handleBroadcast()
}

// Close cancels the session context, waits for server-side goroutines, sends
// WebSocket close frames to all clients, then force-closes connections.
func (rs *RootSession) Close() {
	rs.cancel()
	rs.wg.Wait()

	// Send close frames to all connected clients.
	rs.clientsMu.RLock()
	clients := make([]*websocket.Conn, 0, len(rs.clients))
	for conn := range rs.clients {
		clients = append(clients, conn)
	}
	clientCount := len(clients)
	rs.clientsMu.RUnlock()

	if clientCount > 0 {
		rs.logger.Info("Sending close frames to WebSocket clients", "count", clientCount)
		closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		deadline := time.Now().Add(1 * time.Second)
		for _, conn := range clients {
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, deadline)
		}

		// Brief grace period for clients to acknowledge the close frame.
		time.Sleep(500 * time.Millisecond)
	}

	// Force-close all remaining connections.
	rs.clientsMu.Lock()
	for conn := range rs.clients {
		if err := conn.Close(); err != nil {
			rs.logger.Error("Failed to close client connection", "err", err)
		}
	}
	rs.clients = make(map[*websocket.Conn]*sync.Mutex)
	rs.clientsMu.Unlock()

	// Wait for pump goroutines to finish (they will exit once connections close).
	rs.clientWg.Wait()

	if clientCount > 0 {
		rs.logger.Info("All WebSocket connections closed")
	}
}

// updateSnapshot re-walks the root and broadcasts the diff to clients.
func (rs *RootSession) updateSnapshot() {
	rs.logger.Debug("Re-walking root")

	rs.cacheMu.RLock()
	oldSnapshot := rs.cached.snapshot
	rs.cacheMu.RUnlock()

	newSnapshot, newRules, err := rs.reloadFn()
	if err != nil {
		rs.logger.Error("Failed to re-walk root", "err", err)
		return
	}

	added, removed := diffEntries(oldSnapshot, newSnapshot)

	rs.cacheMu.Lock()
	rs.cached.snapshot = newSnapshot
	rs.cached.rules = newRules
	rs.cacheMu.Unlock()
	rs.explainCache.Clear()
	rs.checkCache.Clear()

	if len(added) > 0 || len(removed) > 0 {
		rs.broadcastUpdate(UpdateMessage{
			Added:      added,
			Removed:    removed,
			ErrorCount: newSnapshot.ErrorCount,
			WalkedAt:   newSnapshot.WalkedAt.Format(time.RFC3339),
		})
	} else {
		rs.logger.Debug("No changes detected after re-walk")
	}
}

// diffEntries computes the set of paths added and removed between two
// snapshots. A nil oldSnapshot treats every entry in newSnapshot as added.
func diffEntries(oldSnapshot, newSnapshot *walkmanager.Snapshot) (added, removed []string) {
	oldPaths := make(map[string]struct{})
	if oldSnapshot != nil {
		for _, e := range oldSnapshot.Entries {
			oldPaths[e.Path] = struct{}{}
		}
	}
	newPaths := make(map[string]struct{})
	if newSnapshot != nil {
		for _, e := range newSnapshot.Entries {
			newPaths[e.Path] = struct{}{}
			if _, ok := oldPaths[e.Path]; !ok {
				added = append(added, e.Path)
			}
		}
	}
	for p := range oldPaths {
		if _, ok := newPaths[p]; !ok {
			removed = append(removed, p)
		}
	}
	return added, removed
}

// handleBroadcast reads from the broadcast channel and sends messages to all
// connected WebSocket clients. Runs until the session context is canceled.
func (rs *RootSession) handleBroadcast() {
	defer rs.wg.Done()

	for {
		select {
		case <-rs.ctx.Done():
			rs.logger.Debug("Broadcast handler exiting")
			return
		case message := <-rs.broadcast:
			rs.sendToAllClients(message)
		}
	}
}

// sendToAllClients writes a message to every connected WebSocket client.
// Clients that fail to receive the message are removed.
func (rs *RootSession) sendToAllClients(message UpdateMessage) {
	var failedClients []*websocket.Conn

	rs.clientsMu.RLock()
	snapshot := make(map[*websocket.Conn]*sync.Mutex, len(rs.clients))
	for conn, mu := range rs.clients {
		snapshot[conn] = mu
	}
	rs.clientsMu.RUnlock()

	for conn, mu := range snapshot {
		mu.Lock()
		err1 := conn.SetWriteDeadline(time.Now().Add(writeWait))
		var err2 error
		if err1 == nil {
			err2 = conn.WriteJSON(message)
		}
		mu.Unlock()

		if err1 != nil {
			rs.logger.Error("Failed to set write deadline", "addr", conn.RemoteAddr(), "err", err1)
			failedClients = append(failedClients, conn)
		} else if err2 != nil {
			rs.logger.Error("Broadcast failed", "addr", conn.RemoteAddr(), "err", err2)
			failedClients = append(failedClients, conn)
		}
	}

	if len(failedClients) > 0 {
		rs.clientsMu.Lock()
		for _, conn := range failedClients {
			delete(rs.clients, conn)
			if err := conn.Close(); err != nil {
				rs.logger.Error("Failed to close client connection", "err", err)
			}
		}
		remainingClients := len(rs.clients)
		rs.clientsMu.Unlock()

		rs.logger.Info("Removed failed clients",
			"removed", len(failedClients),
			"remaining", remainingClients,
		)
	}
}

// broadcastUpdate queues a message for broadcast. Non-blocking: drops the
// message if the channel is full.
func (rs *RootSession) broadcastUpdate(message UpdateMessage) {
	select {
	case rs.broadcast <- message:
	default:
		rs.logger.Warn("Broadcast channel full, dropping message; clients may be slow")
	}
}

// sendInitialState sends the full entry list to a newly connected client.
func (rs *RootSession) sendInitialState(conn *websocket.Conn) {
	snapshot := rs.Snapshot()

	message := UpdateMessage{ErrorCount: 0}
	if snapshot != nil {
		paths := make([]string, len(snapshot.Entries))
		for i, e := range snapshot.Entries {
			paths[i] = e.Path
		}
		message.Added = paths
		message.ErrorCount = snapshot.ErrorCount
		message.WalkedAt = snapshot.WalkedAt.Format(time.RFC3339)
	}

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		rs.logger.Error("Failed to set write deadline", "addr", conn.RemoteAddr(), "err", err)
		return
	}
	if err := conn.WriteJSON(message); err != nil {
		rs.logger.Error("Failed to send initial state", "addr", conn.RemoteAddr(), "err", err)
		return
	}

	rs.logger.Info("Initial state sent", "addr", conn.RemoteAddr())
}

// registerClient adds a WebSocket connection to the session's client map and
// returns the per-connection write mutex.
func (rs *RootSession) registerClient(conn *websocket.Conn) *sync.Mutex {
	writeMu := &sync.Mutex{}

	rs.clientsMu.Lock()
	rs.clients[conn] = writeMu
	clientCount := len(rs.clients)
	rs.clientsMu.Unlock()

	rs.logger.Info("WebSocket client registered", "addr", conn.RemoteAddr(), "totalClients", clientCount)
	return writeMu
}

// removeClient removes a WebSocket connection from the session's client map
// and closes it.
func (rs *RootSession) removeClient(conn *websocket.Conn) {
	rs.clientsMu.Lock()
	defer rs.clientsMu.Unlock()

	if _, ok := rs.clients[conn]; ok {
		delete(rs.clients, conn)
		if err := conn.Close(); err != nil {
			rs.logger.Error("Failed to close connection", "addr", conn.RemoteAddr(), "err", err)
		}
		rs.logger.Info("WebSocket client removed", "totalClients", len(rs.clients))
	}
}

// clientReadPump blocks on reads to detect client disconnect, then closes
// the done channel to signal clientWritePump to stop.
func (rs *RootSession) clientReadPump(conn *websocket.Conn, done chan struct{}) {
	defer rs.clientWg.Done()
	defer func() {
		if r := recover(); r != nil {
			rs.logger.Warn("Recovered panic in clientReadPump", "addr", conn.RemoteAddr(), "panic", r)
		}
		close(done)
	}()

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				rs.logger.Error("WebSocket read error", "addr", conn.RemoteAddr(), "err", err)
			}
			return
		}
	}
}

// clientWritePump sends keepalive pings. writeMu serializes writes with broadcasts.
func (rs *RootSession) clientWritePump(conn *websocket.Conn, done chan struct{}, writeMu *sync.Mutex) {
	defer rs.clientWg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer rs.removeClient(conn)

	for {
		select {
		case <-done:
			rs.logger.Info("WebSocket client disconnected", "addr", conn.RemoteAddr())
			return

		case <-ticker.C:
			writeMu.Lock()
			err1 := conn.SetWriteDeadline(time.Now().Add(writeWait))
			var err2 error
			if err1 == nil {
				err2 = conn.WriteMessage(websocket.PingMessage, nil)
			}
			writeMu.Unlock()

			if err1 != nil {
				rs.logger.Error("Failed to set write deadline", "addr", conn.RemoteAddr(), "err", err1)
			}
			if err2 != nil {
				rs.logger.Error("WebSocket ping failed", "addr", conn.RemoteAddr(), "err", err2)
				return
			}
		}
	}
}

// StartRewalkTicker launches a goroutine that periodically calls updateSnapshot.
// Used in managed mode where the walkmanager re-walks roots on its own
// schedule; the session polls GetSnapshot-derived state and broadcasts deltas.
func (rs *RootSession) StartRewalkTicker(interval time.Duration) {
	rs.wg.Add(1)
	go func() {
		defer rs.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-rs.ctx.Done():
				return
			case <-ticker.C:
				rs.updateSnapshot()
			}
		}
	}()
}
