package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/habitloop/engine/internal/core"
)

type cooldownDTO struct {
	PersonID           string `json:"personId"`
	ActionType         string `json:"actionType"`
	SuppressedUntilUtc string `json:"suppressedUntilUtc"`
	Reason             string `json:"reason,omitempty"`
}

func (s *Server) handleGetCooldown(w http.ResponseWriter, r *http.Request) {
	personID := core.PersonID(chi.URLParam(r, "personId"))
	actionType := chi.URLParam(r, "actionType")

	c, err := s.cooldowns.Get(personID, actionType)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if c == nil {
		s.respondJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"active": c.Active(s.clock.Now()),
		"cooldown": cooldownDTO{
			PersonID:           string(c.PersonID),
			ActionType:         c.ActionType,
			SuppressedUntilUtc: c.SuppressedUntilUtc.Format(httpTimeFormat),
			Reason:             c.Reason,
		},
	})
}

type setCooldownRequest struct {
	SuppressedUntilUtc time.Time `json:"suppressedUntilUtc"`
	Reason             string    `json:"reason,omitempty"`
}

func (s *Server) handleSetCooldown(w http.ResponseWriter, r *http.Request) {
	personID := core.PersonID(chi.URLParam(r, "personId"))
	actionType := chi.URLParam(r, "actionType")

	var req setCooldownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cd := &core.ReminderCooldown{
		PersonID:           personID,
		ActionType:         actionType,
		SuppressedUntilUtc: req.SuppressedUntilUtc,
		Reason:             req.Reason,
	}
	if err := s.cooldowns.Set(cd); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
