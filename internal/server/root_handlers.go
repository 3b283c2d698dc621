package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rybkr/pathsieve/internal/walkmanager"
)

type addRootRequest struct {
	Path string `json:"path"`
}

type rootResponse struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	Emitted   int       `json:"emitted,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// handleAddRepo accepts a JSON body with a path and registers it for walking
// via the walkManager. Returns 201 with the root ID and initial state.
func (s *Server) handleAddRepo(w http.ResponseWriter, r *http.Request) {
	if s.walkManager == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 4096)
	var req addRootRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Path == "" {
		http.Error(w, "Missing 'path' field", http.StatusBadRequest)
		return
	}

	id, err := s.walkManager.AddRoot(req.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	state, errMsg, progress, _ := s.walkManager.Status(id)

	resp := rootResponse{
		ID:      id,
		Path:    req.Path,
		State:   state.String(),
		Error:   errMsg,
		Emitted: progress.Emitted,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode add-root response", "err", err)
	}
}

// handleListRepos returns a JSON array of all managed roots with their state.
func (s *Server) handleListRepos(w http.ResponseWriter, _ *http.Request) {
	if s.walkManager == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	infos := s.walkManager.List()

	roots := make([]rootResponse, len(infos))
	for i, info := range infos {
		roots[i] = rootResponse{
			ID:        info.ID,
			Path:      info.Path,
			State:     info.State.String(),
			Error:     info.Error,
			Emitted:   info.EntryCount,
			CreatedAt: info.CreatedAt,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(roots); err != nil {
		s.logger.Error("Failed to encode list-roots response", "err", err)
	}
}

// handleRepoStatus returns the state and error for a single root.
func (s *Server) handleRepoStatus(w http.ResponseWriter, _ *http.Request, id string) {
	if s.walkManager == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	state, errMsg, progress, err := s.walkManager.Status(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	resp := rootResponse{
		ID:      id,
		State:   state.String(),
		Error:   errMsg,
		Emitted: progress.Emitted,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode root-status response", "err", err)
	}
}

// handleRemoveRepo tears down the session and deregisters the root from the
// walkManager. Returns 204 on success.
func (s *Server) handleRemoveRepo(w http.ResponseWriter, _ *http.Request, id string) {
	if s.walkManager == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	// Tear down the session first (if one exists)
	s.removeSession(id)

	if err := s.walkManager.Remove(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleRepoProgress streams walk progress as Server-Sent Events.
// If the root is already in a terminal state, it sends a single event and returns.
func (s *Server) handleRepoProgress(w http.ResponseWriter, r *http.Request, id string) {
	if s.walkManager == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	state, errMsg, progress, err := s.walkManager.Status(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// Clear any write deadline set by the writeDeadline middleware —
	// SSE connections are long-lived like WebSockets.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeEvent := func(p walkmanager.WalkProgress) {
		data, _ := json.Marshal(map[string]any{
			"phase":   p.Phase,
			"emitted": p.Emitted,
			"done":    p.Done,
			"state":   p.State,
			"error":   p.Error,
		})
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	// If already in a terminal state, send one event and close.
	if state == walkmanager.StateReady || state == walkmanager.StateError {
		writeEvent(walkmanager.WalkProgress{
			Done:  true,
			State: state.String(),
			Error: errMsg,
		})
		return
	}

	// Send current progress snapshot immediately.
	writeEvent(progress)

	ch, unsubscribe := s.walkManager.SubscribeProgress(id)
	defer unsubscribe()

	for {
		select {
		case p, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(p)
			if p.Done {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
