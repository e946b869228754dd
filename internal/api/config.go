package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleGetConfigCategory exposes the live Policy/MatchingPolicy values (or
// any other stored category) as a flat key->value map, per spec.md §6.
func (s *Server) handleGetConfigCategory(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")

	values, err := s.config.AllInCategory(category)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, values)
}

type setConfigValueRequest struct {
	Value string `json:"value"`
}

// handleSetConfigValue writes a single configuration override and
// invalidates the cached Policy/MatchingPolicy so the next read picks it up.
func (s *Server) handleSetConfigValue(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	key := chi.URLParam(r, "key")

	var req setConfigValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.config.Set(key, category, req.Value); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.policies != nil {
		s.policies.Invalidate()
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
