package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/habitloop/engine/internal/core"
)

type routineDTO struct {
	ID                        string  `json:"id"`
	PersonID                  string  `json:"personId"`
	IntentType                string  `json:"intentType"`
	ObservationWindowMinutes  int     `json:"observationWindowMinutes"`
	ObservationWindowOpen     bool    `json:"observationWindowOpen"`
	ActiveTimeContextBucket   string  `json:"activeTimeContextBucket,omitempty"`
}

func toRoutineDTO(r *core.Routine, at time.Time) routineDTO {
	return routineDTO{
		ID:                       string(r.ID),
		PersonID:                 string(r.PersonID),
		IntentType:               r.IntentType,
		ObservationWindowMinutes: r.ObservationWindowMinutes,
		ObservationWindowOpen:    r.IsObservationWindowOpen(at),
		ActiveTimeContextBucket:  r.ActiveTimeContextBucket,
	}
}

func (s *Server) handleListRoutines(w http.ResponseWriter, r *http.Request) {
	personID := r.URL.Query().Get("personId")
	if personID == "" {
		s.respondError(w, http.StatusBadRequest, "personId is required")
		return
	}

	list, err := s.routines.ByPerson(core.PersonID(personID))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	now := s.clock.Now()
	out := make([]routineDTO, 0, len(list))
	for _, routine := range list {
		out = append(out, toRoutineDTO(routine, now))
	}
	s.respondJSON(w, http.StatusOK, out)
}

type routineReminderDTO struct {
	ID                  string  `json:"id"`
	RoutineID           string  `json:"routineId"`
	SuggestedAction     string  `json:"suggestedAction"`
	Confidence          float64 `json:"confidence"`
	ObservationCount    int     `json:"observationCount"`
	IsSafeToAutoExecute bool    `json:"isSafeToAutoExecute"`
}

func toRoutineReminderDTO(rr *core.RoutineReminder) routineReminderDTO {
	return routineReminderDTO{
		ID:                  string(rr.ID),
		RoutineID:           string(rr.RoutineID),
		SuggestedAction:     rr.SuggestedAction,
		Confidence:          rr.Confidence,
		ObservationCount:    rr.ObservationCount,
		IsSafeToAutoExecute: rr.IsSafeToAutoExecute,
	}
}

func (s *Server) handleListRoutineReminders(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	list, err := s.routineReminders.ByRoutine(core.RoutineID(id))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]routineReminderDTO, 0, len(list))
	for _, rr := range list {
		out = append(out, toRoutineReminderDTO(rr))
	}
	s.respondJSON(w, http.StatusOK, out)
}

type routineFeedbackRequest struct {
	Action string  `json:"action"` // "Increase" or "Decrease"
	Value  float64 `json:"value"`
}

// handleRoutineReminderFeedback implements spec.md §4.4's handleFeedback.
func (s *Server) handleRoutineReminderFeedback(w http.ResponseWriter, r *http.Request) {
	if s.routineLearner == nil {
		s.respondError(w, http.StatusServiceUnavailable, "routine learner not configured")
		return
	}

	reminderID := chi.URLParam(r, "reminderId")

	var req routineFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var action core.ProbabilityAction
	switch req.Action {
	case string(core.ProbabilityIncrease):
		action = core.ProbabilityIncrease
	case string(core.ProbabilityDecrease):
		action = core.ProbabilityDecrease
	default:
		s.respondError(w, http.StatusBadRequest, "action must be Increase or Decrease")
		return
	}

	if err := s.routineLearner.HandleFeedback(core.RoutineReminderID(reminderID), action, req.Value); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
