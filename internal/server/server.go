package server

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rybkr/pathsieve/internal/ignore"
	"github.com/rybkr/pathsieve/internal/walker"
	"github.com/rybkr/pathsieve/internal/walkmanager"
)

// defaultCacheSize is the per-session LRU cache capacity used when the
// PATHSIEVE_CACHE_SIZE environment variable is unset or invalid.
const defaultCacheSize = 500

// Mode distinguishes between a single-root local server and a multi-root
// managed server.
type Mode int

const (
	// ModeLocal serves a single local directory root.
	ModeLocal Mode = iota
	// ModeManaged serves multiple registered roots via the walkManager.
	ModeManaged
)

// Server contains all behavior for the pathsieve application server.
type Server struct {
	addr        string
	webFS       fs.FS
	rateLimiter *rateLimiter
	httpServer  *http.Server
	logger      *slog.Logger

	mode         Mode
	localRoot    string
	localSession *RootSession            // non-nil in local mode
	sessionsMu   sync.RWMutex            // guards sessions map
	sessions     map[string]*RootSession // non-nil in managed mode
	walkManager  *walkmanager.Manager    // non-nil in managed mode
	cacheSize    int
	rewalkPeriod time.Duration
	ignoreOpts   walker.Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLocalServer constructs a Server in local mode, walking a single root.
func NewLocalServer(root string, addr string, webFS fs.FS) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	rl := newRateLimiter(100, 200, time.Second)

	cacheSize := readCacheSize()
	ignoreOpts := walker.GitIgnoreOptions()

	s := &Server{
		addr:        addr,
		webFS:       webFS,
		rateLimiter: rl,
		logger:      slog.Default(),
		mode:        ModeLocal,
		localRoot:   root,
		cacheSize:   cacheSize,
		ignoreOpts:  ignoreOpts,
		ctx:         ctx,
		cancel:      cancel,
	}

	reload := func() (*walkmanager.Snapshot, *ignore.Rules, error) {
		return walkRoot(context.Background(), root, ignoreOpts)
	}

	snapshot, rules, err := reload()
	if err != nil {
		s.logger.Error("Initial walk failed", "root", root, "err", err)
	}

	s.localSession = NewRootSession(SessionConfig{
		ID:              "local",
		InitialSnapshot: snapshot,
		InitialRules:    rules,
		ReloadFn:        reload,
		CacheSize:       cacheSize,
		Logger:          s.logger,
	})

	return s
}

// NewManagedServer constructs a Server in managed mode backed by a
// walkmanager.Manager that owns registration, walking, and re-walking of
// many roots at once.
func NewManagedServer(wm *walkmanager.Manager, addr string, webFS fs.FS) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	rl := newRateLimiter(100, 200, time.Second)

	cacheSize := readCacheSize()

	return &Server{
		addr:         addr,
		webFS:        webFS,
		rateLimiter:  rl,
		logger:       slog.Default(),
		mode:         ModeManaged,
		sessions:     make(map[string]*RootSession),
		walkManager:  wm,
		cacheSize:    cacheSize,
		rewalkPeriod: 10 * time.Second,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// walkRoot performs a one-shot walk of root and returns the resulting
// snapshot and compiled rule set. Shared by local mode's initial load and
// every subsequent re-walk triggered by the filesystem watcher.
func walkRoot(ctx context.Context, root string, opts walker.Options) (*walkmanager.Snapshot, *ignore.Rules, error) {
	rules, err := ignore.BuildAll(root, opts.IgnoreFilename, opts.IgnoreDotGit)
	if err != nil {
		return nil, nil, fmt.Errorf("build ignore rules: %w", err)
	}

	results, err := walker.WalkParallel(ctx, rules, root, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("walk: %w", err)
	}

	var entries []walker.PathMetadata
	errCount := 0
	for res := range results {
		if res.Err != nil {
			errCount++
			continue
		}
		entries = append(entries, res.PathMetadata)
	}

	return &walkmanager.Snapshot{Entries: entries, ErrorCount: errCount, WalkedAt: time.Now()}, rules, nil
}

// readCacheSize reads the cache size from the PATHSIEVE_CACHE_SIZE env var.
func readCacheSize() int {
	cacheSize := defaultCacheSize
	if raw := os.Getenv("PATHSIEVE_CACHE_SIZE"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cacheSize = n
		}
	}
	return cacheSize
}

// getOrCreateSession returns an existing session or lazily creates one when a
// managed root is ready. Uses double-checked locking.
func (s *Server) getOrCreateSession(id string) (*RootSession, error) {
	if s.mode == ModeLocal {
		if s.localSession != nil {
			return s.localSession, nil
		}
		return nil, fmt.Errorf("no local session available")
	}

	// Fast path: read lock
	s.sessionsMu.RLock()
	session, exists := s.sessions[id]
	s.sessionsMu.RUnlock()
	if exists {
		return session, nil
	}

	// Check that the root exists and is ready in the walkManager
	snapshot, err := s.walkManager.GetSnapshot(id)
	if err != nil {
		return nil, err
	}
	rules, err := s.walkManager.GetRules(id)
	if err != nil {
		return nil, err
	}

	// Slow path: write lock, double-check
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	if session, exists = s.sessions[id]; exists {
		return session, nil
	}

	wm := s.walkManager
	session = NewRootSession(SessionConfig{
		ID:              id,
		InitialSnapshot: snapshot,
		InitialRules:    rules,
		ReloadFn: func() (*walkmanager.Snapshot, *ignore.Rules, error) {
			snap, err := wm.GetSnapshot(id)
			if err != nil {
				return nil, nil, err
			}
			rules, err := wm.GetRules(id)
			if err != nil {
				return nil, nil, err
			}
			return snap, rules, nil
		},
		CacheSize: s.cacheSize,
		Logger:    s.logger,
	})
	session.Start()
	if s.rewalkPeriod > 0 {
		session.StartRewalkTicker(s.rewalkPeriod)
	}
	s.sessions[id] = session

	s.logger.Info("Created session for root", "id", id)
	return session, nil
}

// removeSession tears down and removes a session by ID.
func (s *Server) removeSession(id string) {
	if s.mode == ModeLocal {
		return
	}

	s.sessionsMu.Lock()
	session, exists := s.sessions[id]
	if exists {
		delete(s.sessions, id)
	}
	s.sessionsMu.Unlock()

	if exists {
		session.Close()
		s.logger.Info("Removed session for root", "id", id)
	}
}

// Start begins serving and blocks until the server exits or encounters a fatal error.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}
	mux.HandleFunc("/health", s.handleHealth)

	const apiWriteDeadline = 30 * time.Second

	if s.mode == ModeLocal {
		ls := s.localSession
		ls.Start()

		mux.HandleFunc("/api/repository", writeDeadline(apiWriteDeadline, s.rateLimiter.middleware(withLocalSession(ls, s.handleRepository))))
		mux.HandleFunc("/api/tree/blame/", writeDeadline(apiWriteDeadline, s.rateLimiter.middleware(withLocalSession(ls, s.handleTreeBlame))))
		mux.HandleFunc("/api/tree/", writeDeadline(apiWriteDeadline, s.rateLimiter.middleware(withLocalSession(ls, s.handleTree))))
		mux.HandleFunc("/api/blob/", writeDeadline(apiWriteDeadline, s.rateLimiter.middleware(withLocalSession(ls, s.handleBlob))))
		mux.HandleFunc("/api/ws", withLocalSession(ls, s.handleWebSocket))
	} else {
		// Root management endpoints (managed mode only)
		mux.HandleFunc("/api/repos", writeDeadline(apiWriteDeadline, s.rateLimiter.middleware(s.handleRepos)))
		mux.HandleFunc("/api/repos/", writeDeadline(apiWriteDeadline, s.rateLimiter.middleware(s.handleRepoRoutes)))
	}

	// Build the handler chain: logging wraps the mux, and CORS wraps
	// logging in managed mode.
	var handler http.Handler = requestLogger(s.logger, mux)
	if s.mode == ModeManaged {
		handler = corsMiddleware(handler)
	}

	// WriteTimeout must remain 0 because WebSocket connections are long-lived.
	// Non-WebSocket handlers enforce per-response write deadlines via the
	// writeDeadline middleware applied at the route level.
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	if s.mode == ModeLocal {
		// On success, watchLoop owns the matching wg.Done.
		s.wg.Add(1)
		go func() {
			if err := s.startWatcher(); err != nil {
				s.wg.Done()
				s.logger.Error("watcher error", "err", err)
			}
		}()
	}

	s.logger.Info("pathsieve server starting", "addr", "http://"+s.addr, "mode", s.modeString())
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) modeString() string {
	if s.mode == ModeLocal {
		return "local"
	}
	return "managed"
}

// handleRepos dispatches /api/repos to the correct handler based on HTTP method.
func (s *Server) handleRepos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleAddRepo(w, r)
	case http.MethodGet:
		s.handleListRepos(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRepoRoutes dispatches /api/repos/{id}/... to the correct handler.
// It rewrites r.URL.Path from /api/repos/{id}/tree/{path} to /api/tree/{path}
// so that existing handlers (which strip /api/tree/ etc.) work unchanged.
func (s *Server) handleRepoRoutes(w http.ResponseWriter, r *http.Request) {
	// Strip /api/repos/ prefix to get "{id}" or "{id}/..."
	path := r.URL.Path[len("/api/repos/"):]
	if path == "" {
		http.Error(w, "Missing root ID", http.StatusBadRequest)
		return
	}

	// Extract id and remainder
	id := path
	remainder := ""
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		id = path[:idx]
		remainder = path[idx:]
	}

	// Non-session routes: status, progress and delete operate on the root ID directly.
	switch {
	case remainder == "/status" && r.Method == http.MethodGet:
		s.handleRepoStatus(w, r, id)
		return
	case remainder == "/progress" && r.Method == http.MethodGet:
		s.handleRepoProgress(w, r, id)
		return
	case remainder == "" && r.Method == http.MethodDelete:
		s.handleRemoveRepo(w, r, id)
		return
	}

	// Session-scoped routes: resolve the session using the already-extracted
	// ID, then rewrite the URL path so handlers see the same prefix they
	// expect in local mode (e.g. /api/tree/{path}).
	session, err := s.getOrCreateSession(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	r.URL.Path = "/api" + remainder
	r = r.WithContext(withSessionCtx(r.Context(), session))

	switch {
	case remainder == "/repository" && r.Method == http.MethodGet:
		s.handleRepository(w, r)
	case strings.HasPrefix(remainder, "/tree/blame/"):
		s.handleTreeBlame(w, r)
	case strings.HasPrefix(remainder, "/tree/"):
		s.handleTree(w, r)
	case strings.HasPrefix(remainder, "/blob/"):
		s.handleBlob(w, r)
	case remainder == "/ws":
		s.handleWebSocket(w, r)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// Shutdown gracefully shuts down the server and all sessions.
func (s *Server) Shutdown() {
	start := time.Now()
	s.logger.Info("Server shutting down")

	if s.httpServer != nil {
		s.logger.Info("Stopping HTTP listener")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown error", "err", err)
		}
		s.logger.Info("HTTP listener stopped", "elapsed", time.Since(start).Round(time.Millisecond))
	}

	s.logger.Info("Canceling server context")
	s.cancel()
	s.rateLimiter.Close()

	s.logger.Info("Waiting for watcher goroutines to exit")
	s.wg.Wait()
	s.logger.Info("Watcher goroutines stopped")

	// Close all sessions (sends close frames, force-closes connections)
	if s.mode == ModeLocal {
		if s.localSession != nil {
			s.localSession.Close()
		}
	} else {
		s.sessionsMu.Lock()
		sessionCount := len(s.sessions)
		s.sessionsMu.Unlock()
		s.logger.Info("Closing sessions", "count", sessionCount)

		s.sessionsMu.Lock()
		for id, session := range s.sessions {
			session.Close()
			delete(s.sessions, id)
		}
		s.sessionsMu.Unlock()
	}

	s.logger.Info("Server shutdown complete", "elapsed", time.Since(start).Round(time.Millisecond))
}
