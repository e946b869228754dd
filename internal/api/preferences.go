package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/habitloop/engine/internal/core"
)

type preferencesDTO struct {
	PersonID            string `json:"personId"`
	DefaultStyle        string `json:"defaultStyle"`
	DailyLimit          int    `json:"dailyLimit"`
	MinimumIntervalMins int    `json:"minimumIntervalMinutes"`
	Enabled             bool   `json:"enabled"`
	AllowAutoExecute    bool   `json:"allowAutoExecute"`
}

func toPreferencesDTO(p *core.UserReminderPreferences) preferencesDTO {
	return preferencesDTO{
		PersonID:            string(p.PersonID),
		DefaultStyle:        string(p.DefaultStyle),
		DailyLimit:          p.DailyLimit,
		MinimumIntervalMins: int(p.MinimumInterval / time.Minute),
		Enabled:             p.Enabled,
		AllowAutoExecute:    p.AllowAutoExecute,
	}
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	personID := core.PersonID(chi.URLParam(r, "personId"))

	prefs, err := s.preferences.Get(personID)
	if errors.Is(err, core.ErrPreferencesNotFound) {
		defaults := core.DefaultUserReminderPreferences(personID)
		s.respondJSON(w, http.StatusOK, toPreferencesDTO(&defaults))
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, toPreferencesDTO(prefs))
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	personID := core.PersonID(chi.URLParam(r, "personId"))

	var req preferencesDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	prefs := &core.UserReminderPreferences{
		PersonID:         personID,
		DefaultStyle:     core.ReminderStyle(req.DefaultStyle),
		DailyLimit:       req.DailyLimit,
		MinimumInterval:  time.Duration(req.MinimumIntervalMins) * time.Minute,
		Enabled:          req.Enabled,
		AllowAutoExecute: req.AllowAutoExecute,
	}
	if prefs.DefaultStyle == "" {
		prefs.DefaultStyle = core.StyleSuggest
	}

	if err := s.preferences.Upsert(prefs); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, toPreferencesDTO(prefs))
}
