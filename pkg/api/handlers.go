package api

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfig returns the public auth, storage, and indexing
// configuration so clients can discover which endpoints are live.
func (s *server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"auth": map[string]any{
			"enabled":        s.cfg.Auth.Enabled,
			"anonymous_read": s.cfg.Auth.AnonymousRead,
		},
		"indexing": map[string]any{
			"enabled": s.cfg.Indexing != nil && s.cfg.Indexing.Enabled,
		},
	}

	localResp := map[string]any{
		"enabled":         false,
		"discovery_paths": []string{},
	}

	if s.cfg.Storage.Local != nil && s.cfg.Storage.Local.Enabled {
		// Return just the map keys (sorted for determinism); clients
		// prefix file requests with the discovery path name.
		keys := make([]string, 0, len(s.cfg.Storage.Local.DiscoveryPaths))
		for k := range s.cfg.Storage.Local.DiscoveryPaths {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		localResp = map[string]any{
			"enabled":         true,
			"discovery_paths": keys,
		}
	}

	resp["storage"] = map[string]any{"local": localResp}

	writeJSON(w, http.StatusOK, resp)
}

// handleFileRequest serves result files from local storage.
func (s *server) handleFileRequest(w http.ResponseWriter, r *http.Request) {
	filePath := chi.URLParam(r, "*")
	if filePath == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"file path is required"})

		return
	}

	if s.localServer == nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"storage not configured"})

		return
	}

	if err := s.localServer.ServeFile(w, r, filePath); err != nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"file not found"})
	}
}
