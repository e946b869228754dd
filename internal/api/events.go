package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/habitloop/engine/internal/core"
	"github.com/habitloop/engine/internal/ingestion"
	"github.com/habitloop/engine/internal/learning"
)

// actionContextDTO mirrors spec.md §6's ingested-event context shape.
type actionContextDTO struct {
	TimeBucket    string            `json:"timeBucket"`
	DayType       string            `json:"dayType"`
	Location      string            `json:"location,omitempty"`
	PresentPeople []string          `json:"presentPeople,omitempty"`
	StateSignals  map[string]string `json:"stateSignals,omitempty"`
}

// rawSignalDTO is one sensor reading as captured at the HTTP boundary,
// ahead of SignalSelector normalization.
type rawSignalDTO struct {
	SensorID      string  `json:"sensorId"`
	Type          string  `json:"type"`
	Value         string  `json:"value"`
	RawImportance float64 `json:"rawImportance,omitempty"`
}

// userPromptDTO carries the utterance, if any, that accompanied the event.
type userPromptDTO struct {
	Text         string    `json:"text"`
	TimestampUtc time.Time `json:"timestampUtc"`
}

// ingestEventRequest is the spec.md §6 ingested-event wire shape.
type ingestEventRequest struct {
	PersonID          string            `json:"personId"`
	ActionType        string            `json:"actionType"`
	TimestampUtc      time.Time         `json:"timestampUtc"`
	Context           actionContextDTO  `json:"context"`
	ProbabilityValue  *float64          `json:"probabilityValue,omitempty"`
	ProbabilityAction string            `json:"probabilityAction,omitempty"`
	CustomData        map[string]string `json:"customData,omitempty"`
	EventType         string            `json:"eventType,omitempty"`
	Signals           []rawSignalDTO    `json:"signals,omitempty"`
	UserPrompt        *userPromptDTO    `json:"userPrompt,omitempty"`
}

// ingestEventResponse is the spec.md §6 response shape. scheduledCandidateIds
// lists every reminder the reminder scheduler created or reinforced from
// this event; relatedReminderId is the separate reminder (if any) the
// probability-signal reconciliation step matched or created.
type ingestEventResponse struct {
	EventID               string   `json:"eventId"`
	ScheduledCandidateIds []string `json:"scheduledCandidateIds"`
	RelatedReminderID     string   `json:"relatedReminderId,omitempty"`
}

func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var req ingestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	eventType := core.EventTypeAction
	if req.EventType == string(core.EventTypeStateChange) {
		eventType = core.EventTypeStateChange
	}

	var probAction core.ProbabilityAction
	switch req.ProbabilityAction {
	case string(core.ProbabilityIncrease):
		probAction = core.ProbabilityIncrease
	case string(core.ProbabilityDecrease):
		probAction = core.ProbabilityDecrease
	}

	signals := make([]learning.RawSignal, 0, len(req.Signals))
	for _, sig := range req.Signals {
		signals = append(signals, learning.RawSignal{
			SensorID:      sig.SensorID,
			Type:          sig.Type,
			Value:         sig.Value,
			RawImportance: sig.RawImportance,
		})
	}

	var userPrompt *core.UserPrompt
	if req.UserPrompt != nil {
		userPrompt = &core.UserPrompt{Text: req.UserPrompt.Text, TimestampUtc: req.UserPrompt.TimestampUtc}
	}

	event, scheduled, err := s.coordinator.IngestEvent(ingestion.EventRequest{
		PersonID:     core.PersonID(req.PersonID),
		ActionType:   req.ActionType,
		TimestampUtc: req.TimestampUtc,
		Context: core.ActionContext{
			TimeBucket:    req.Context.TimeBucket,
			DayType:       req.Context.DayType,
			Location:      req.Context.Location,
			PresentPeople: req.Context.PresentPeople,
			StateSignals:  req.Context.StateSignals,
		},
		EventType:         eventType,
		ProbabilityValue:  req.ProbabilityValue,
		ProbabilityAction: probAction,
		CustomData:        req.CustomData,
		UserPrompt:        userPrompt,
		RawSignals:        signals,
	})
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	candidateIds := make([]string, len(scheduled))
	for i, id := range scheduled {
		candidateIds[i] = string(id)
	}

	resp := ingestEventResponse{EventID: string(event.ID), ScheduledCandidateIds: candidateIds}
	if event.RelatedReminderID != nil {
		resp.RelatedReminderID = string(*event.RelatedReminderID)
	}
	s.respondJSON(w, http.StatusCreated, resp)
}
