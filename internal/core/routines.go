package core

import "time"

// Routine is one per (personId, intentType): the learned observation window
// that opens whenever the anchoring intent (a StateChange event) fires.
type Routine struct {
	ID                        RoutineID  `json:"id"`
	PersonID                  PersonID   `json:"personId"`
	IntentType                string     `json:"intentType"`
	CreatedAtUtc              time.Time  `json:"createdAtUtc"`
	LastIntentOccurredAtUtc   *time.Time `json:"lastIntentOccurredAtUtc,omitempty"`
	ObservationWindowStartUtc *time.Time `json:"observationWindowStartUtc,omitempty"`
	ObservationWindowEndsAtUtc *time.Time `json:"observationWindowEndsAtUtc,omitempty"`
	ObservationWindowMinutes  int        `json:"observationWindowMinutes"`
	ActiveTimeContextBucket   string     `json:"activeTimeContextBucket,omitempty"`
}

// IsObservationWindowOpen reports whether the routine's window contains `at`.
func (r *Routine) IsObservationWindowOpen(at time.Time) bool {
	if r.ObservationWindowStartUtc == nil || r.ObservationWindowEndsAtUtc == nil {
		return false
	}
	return !at.Before(*r.ObservationWindowStartUtc) && at.Before(*r.ObservationWindowEndsAtUtc)
}

// OpenObservationWindow opens a new window starting at `at` for `minutes`,
// tagging it with the active time-context bucket.
func (r *Routine) OpenObservationWindow(at time.Time, minutes int, bucket string) {
	end := at.Add(time.Duration(minutes) * time.Minute)
	r.ObservationWindowStartUtc = &at
	r.ObservationWindowEndsAtUtc = &end
	r.ObservationWindowMinutes = minutes
	r.ActiveTimeContextBucket = bucket
	r.LastIntentOccurredAtUtc = &at
}

// CloseObservationWindow clears the open window, guaranteeing mutual
// exclusion of active windows per person when called on every other routine
// before a new one is opened.
func (r *Routine) CloseObservationWindow() {
	r.ObservationWindowStartUtc = nil
	r.ObservationWindowEndsAtUtc = nil
	r.ActiveTimeContextBucket = ""
}

// UserPrompt is a single recorded utterance attached to a RoutineReminder.
type UserPrompt struct {
	Text         string    `json:"text"`
	TimestampUtc time.Time `json:"timestampUtc"`
}

// RoutineReminder is a learned follower of a routine intent: an action
// observed to occur, with some confidence, inside the routine's observation
// window.
type RoutineReminder struct {
	ID                RoutineReminderID `json:"id"`
	RoutineID         RoutineID         `json:"routineId"`
	PersonID          PersonID          `json:"personId"`
	SuggestedAction   string            `json:"suggestedAction"`
	Confidence        float64           `json:"confidence"`
	CreatedAtUtc      time.Time         `json:"createdAtUtc"`
	LastObservedAtUtc *time.Time        `json:"lastObservedAtUtc,omitempty"`
	ObservationCount  int               `json:"observationCount"`
	CustomData        map[string]string `json:"customData,omitempty"`
	UserPromptsList   []UserPrompt      `json:"userPromptsList,omitempty"`
	IsSafeToAutoExecute bool            `json:"isSafeToAutoExecute"`
	SignalProfile     SignalProfile     `json:"signalProfile,omitempty"`
	SignalProfileSamplesCount int       `json:"signalProfileSamplesCount"`
}

// IncreaseConfidence nudges confidence toward 1 by `step`, clamped to [0,1].
func (rr *RoutineReminder) IncreaseConfidence(step float64) {
	rr.Confidence = clamp01(rr.Confidence + step)
}

// DecreaseConfidence nudges confidence toward 0 by a multiplicative factor,
// clamped to [0,1].
func (rr *RoutineReminder) DecreaseConfidence(factor float64) {
	rr.Confidence = clamp01(rr.Confidence * (1 - factor))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
