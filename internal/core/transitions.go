package core

import "time"

// ActionTransition is a learned A->B bigram for a person within a context
// bucket: how often the transition is observed, how confident we are that it
// recurs, and the typical delay between the two actions.
type ActionTransition struct {
	ID              TransitionID `json:"id"`
	PersonID        PersonID     `json:"personId"`
	FromAction      string       `json:"fromAction"`
	ToAction        string       `json:"toAction"`
	ContextBucket   string       `json:"contextBucket"`
	OccurrenceCount int          `json:"occurrenceCount"`
	Confidence      float64      `json:"confidence"`
	AverageDelay    *time.Duration `json:"averageDelay,omitempty"`
	LastObservedUtc time.Time    `json:"lastObservedUtc"`
	CreatedAtUtc    time.Time    `json:"createdAtUtc"`
	UpdatedAtUtc    time.Time    `json:"updatedAtUtc"`
}

// Key returns the uniqueness key (personId, fromAction, toAction, contextBucket).
func (t *ActionTransition) Key() TransitionKey {
	return TransitionKey{
		PersonID:      t.PersonID,
		FromAction:    t.FromAction,
		ToAction:      t.ToAction,
		ContextBucket: t.ContextBucket,
	}
}

// TransitionKey is the uniqueness key for an ActionTransition.
type TransitionKey struct {
	PersonID      PersonID
	FromAction    string
	ToAction      string
	ContextBucket string
}
