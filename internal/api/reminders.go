package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/habitloop/engine/internal/core"
)

// reminderDTO is the read-side JSON shape for a ReminderCandidate.
type reminderDTO struct {
	ID                     string                 `json:"id"`
	PersonID               string                 `json:"personId"`
	SuggestedAction        string                 `json:"suggestedAction"`
	CheckAtUtc             string                 `json:"checkAtUtc"`
	Style                  string                 `json:"style"`
	Status                 string                 `json:"status"`
	Confidence             float64                `json:"confidence"`
	Occurrence             string                 `json:"occurrence,omitempty"`
	PatternInferenceStatus string                 `json:"patternInferenceStatus"`
	IsSafeToAutoExecute    bool                   `json:"isSafeToAutoExecute"`
	Decision               *core.ReminderDecision `json:"decision,omitempty"`
}

func toReminderDTO(r *core.ReminderCandidate) reminderDTO {
	return reminderDTO{
		ID:                     string(r.ID),
		PersonID:               string(r.PersonID),
		SuggestedAction:        r.SuggestedAction,
		CheckAtUtc:             r.CheckAtUtc.Format(httpTimeFormat),
		Style:                  string(r.Style),
		Status:                 string(r.Status),
		Confidence:             r.Confidence,
		Occurrence:             r.Occurrence,
		PatternInferenceStatus: string(r.PatternInferenceStatus),
		IsSafeToAutoExecute:    r.IsSafeToAutoExecute,
		Decision:               r.Decision,
	}
}

const httpTimeFormat = "2006-01-02T15:04:05Z07:00"

// handleListReminders returns the Scheduled reminders for ?personId=.
func (s *Server) handleListReminders(w http.ResponseWriter, r *http.Request) {
	personID := r.URL.Query().Get("personId")
	if personID == "" {
		s.respondError(w, http.StatusBadRequest, "personId is required")
		return
	}

	reminders, err := s.reminders.ScheduledByPerson(core.PersonID(personID))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]reminderDTO, 0, len(reminders))
	for _, rem := range reminders {
		out = append(out, toReminderDTO(rem))
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetReminder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rem, _, err := s.reminders.Get(core.ReminderID(id))
	if errors.Is(err, core.ErrReminderNotFound) {
		s.respondError(w, http.StatusNotFound, "reminder not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, toReminderDTO(rem))
}

type processReminderRequest struct {
	BypassDateCheck bool `json:"bypassDateCheck"`
}

type processReminderResponse struct {
	Executed bool                   `json:"executed"`
	Reason   string                 `json:"reason,omitempty"`
	Decision *core.ReminderDecision `json:"decision,omitempty"`
}

// handleProcessReminder implements spec.md §4.8's process(candidate,
// bypassDateCheck) at the HTTP boundary. No background task calls Process;
// this handler is how operators and tests run a check.
func (s *Server) handleProcessReminder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req processReminderRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	candidate, version, err := s.reminders.Get(core.ReminderID(id))
	if errors.Is(err, core.ErrReminderNotFound) {
		s.respondError(w, http.StatusNotFound, "reminder not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := s.pipeline.Process(candidate, version, req.BypassDateCheck)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, processReminderResponse{
		Executed: result.Executed,
		Reason:   result.Reason,
		Decision: result.Decision,
	})
}
