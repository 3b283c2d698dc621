package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rybkr/pathsieve/internal/report"
)

// extractPathParam extracts and validates a relative path parameter from the
// URL path, then resolves the session's current snapshot. Returns the
// sanitized path, the session, and a boolean indicating success. If
// validation fails, appropriate HTTP errors are written to the ResponseWriter.
func (s *Server) extractPathParam(w http.ResponseWriter, r *http.Request, prefix string) (string, *RootSession, bool) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return "", nil, false
	}

	raw := strings.TrimPrefix(r.URL.Path, prefix)
	if r.URL.Path+"/" == prefix {
		raw = ""
	}
	raw = strings.TrimPrefix(raw, "/")

	sanitized, err := sanitizePath(raw)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid path: %v", err), http.StatusBadRequest)
		return "", nil, false
	}

	session := sessionFromCtx(r.Context())
	if session == nil {
		http.Error(w, "Root not available", http.StatusInternalServerError)
		return "", nil, false
	}

	return sanitized, session, true
}

// handleRepository serves root metadata via REST API: entry and error counts,
// and the last time it was walked. Used for initial page load and debugging.
func (s *Server) handleRepository(w http.ResponseWriter, r *http.Request) {
	session := sessionFromCtx(r.Context())
	if session == nil {
		http.Error(w, "Root not available", http.StatusInternalServerError)
		return
	}

	snapshot := session.Snapshot()
	response := map[string]any{
		"entryCount": 0,
		"errorCount": 0,
		"walkedAt":   nil,
	}
	if snapshot != nil {
		response["entryCount"] = len(snapshot.Entries)
		response["errorCount"] = snapshot.ErrorCount
		response["walkedAt"] = snapshot.WalkedAt
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// handleTree serves the full set of entries a root's last walk emitted,
// optionally filtered to those under a path prefix given in the "path"
// query parameter.
func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session := sessionFromCtx(r.Context())
	if session == nil {
		http.Error(w, "Root not available", http.StatusInternalServerError)
		return
	}

	prefix, err := sanitizePath(r.URL.Query().Get("path"))
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid path: %v", err), http.StatusBadRequest)
		return
	}

	snapshot := session.Snapshot()
	if snapshot == nil {
		http.Error(w, "Root has not been walked yet", http.StatusServiceUnavailable)
		return
	}

	entries := make([]string, 0, len(snapshot.Entries))
	for _, e := range snapshot.Entries {
		if prefix != "" && !strings.HasPrefix(e.Path, prefix+"/") && e.Path != prefix {
			continue
		}
		entries = append(entries, e.Path)
	}

	w.Header().Set("Content-Type", "application/json")
	response := map[string]any{"entries": entries}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// handleBlob serves raw file content from disk by relative path.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	relPath, session, ok := s.extractPathParam(w, r, "/api/blob/")
	if !ok {
		return
	}
	if relPath == "" {
		http.Error(w, "Missing path", http.StatusBadRequest)
		return
	}

	root := s.sessionRoot(session)
	if root == "" {
		http.Error(w, "Root not available", http.StatusInternalServerError)
		return
	}

	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(relPath)))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read file: %v", err), http.StatusNotFound)
		return
	}

	isBinary := isBinaryContent(content)

	w.Header().Set("Content-Type", "application/json")
	response := map[string]any{
		"path":      relPath,
		"size":      len(content),
		"binary":    isBinary,
		"truncated": false,
	}

	if isBinary {
		response["content"] = ""
	} else {
		// Cap content at 512KB to prevent browser from choking on huge files.
		maxSize := 512 * 1024
		text := string(content)
		if len(text) > maxSize {
			text = text[:maxSize]
			response["truncated"] = true
		}
		response["content"] = text
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// isBinaryContent checks if content appears to be binary by looking for null
// bytes in the first 8KB. This matches Git's heuristic for binary detection.
func isBinaryContent(content []byte) bool {
	checkSize := min(8192, len(content))
	for i := range checkSize {
		if content[i] == 0 {
			return true
		}
	}
	return false
}

// handleTreeBlame serves the winning-rule explanation for a single path.
// Path format: /api/tree/blame/{path}?dir=1 (dir=1 checks the path as a
// directory; otherwise it is checked as a file).
func (s *Server) handleTreeBlame(w http.ResponseWriter, r *http.Request) {
	relPath, session, ok := s.extractPathParam(w, r, "/api/tree/blame/")
	if !ok {
		return
	}

	isDir := r.URL.Query().Get("dir") == "1"
	cacheKey := relPath
	if isDir {
		cacheKey += "/"
	}

	if cached, ok := session.explainCache.Get(cacheKey); ok {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(cached); err != nil {
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		}
		return
	}

	rules := session.Rules()
	if rules == nil {
		http.Error(w, "Root has not been walked yet", http.StatusServiceUnavailable)
		return
	}

	entries := report.Explain(rules, []string{relPath}, func(string) bool { return isDir })
	if len(entries) == 0 {
		http.Error(w, "No explanation available", http.StatusNotFound)
		return
	}

	session.explainCache.Put(cacheKey, entries[0])

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries[0]); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// sessionRoot resolves the filesystem root a session belongs to: the single
// local root in local mode, or the managed root's normalized path by ID in
// managed mode.
func (s *Server) sessionRoot(session *RootSession) string {
	if s.mode == ModeLocal {
		return s.localRoot
	}
	info := s.walkManager.List()
	for _, r := range info {
		if r.ID == session.id {
			return r.Path
		}
	}
	return ""
}
