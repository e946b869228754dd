package core

import "time"

// EventType distinguishes ordinary actions from situational anchors.
type EventType string

const (
	EventTypeAction      EventType = "Action"
	EventTypeStateChange EventType = "StateChange"
)

// ProbabilityAction indicates whether an explicit probability signal on an
// event should increase or decrease the confidence of a matched reminder.
type ProbabilityAction string

const (
	ProbabilityIncrease ProbabilityAction = "Increase"
	ProbabilityDecrease ProbabilityAction = "Decrease"
)

// ActionContext is the value object describing the situation an event
// occurred in.
type ActionContext struct {
	TimeBucket    string            `json:"timeBucket"`
	DayType       string            `json:"dayType"`
	Location      string            `json:"location,omitempty"`
	PresentPeople []string          `json:"presentPeople,omitempty"`
	StateSignals  map[string]string `json:"stateSignals,omitempty"`
}

// Validate checks the ActionContext invariants from spec.md §3.
func (c ActionContext) Validate() error {
	if c.TimeBucket == "" {
		return ErrTimeBucketRequired
	}
	if c.DayType == "" {
		return ErrDayTypeRequired
	}
	return nil
}

// ActionEvent is an immutable observation of a person performing an action,
// or of a situational state change that anchors a routine.
type ActionEvent struct {
	ID                EventID           `json:"id"`
	PersonID          PersonID          `json:"personId"`
	ActionType        string            `json:"actionType"`
	TimestampUtc      time.Time         `json:"timestampUtc"`
	Context           ActionContext     `json:"context"`
	EventType         EventType         `json:"eventType"`
	ProbabilityValue  *float64          `json:"probabilityValue,omitempty"`
	ProbabilityAction ProbabilityAction `json:"probabilityAction,omitempty"`
	CustomData        map[string]string `json:"customData,omitempty"`
	RelatedReminderID *ReminderID       `json:"relatedReminderId,omitempty"`
	CreatedAtUtc      time.Time         `json:"createdAtUtc"`
}

// Validate checks the ActionEvent invariants from spec.md §3.
func (e *ActionEvent) Validate() error {
	if e.PersonID == "" {
		return ErrPersonRequired
	}
	if e.ActionType == "" {
		return ErrActionTypeRequired
	}
	if len(e.ActionType) > 100 {
		return &ValidationError{Field: "actionType", Err: ErrActionTypeRequired}
	}
	if err := e.Context.Validate(); err != nil {
		return err
	}
	if e.ProbabilityValue != nil && *e.ProbabilityValue < 0 {
		return ErrInvalidProbability
	}
	return nil
}
