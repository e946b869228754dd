package core

import "time"

// ReminderStyle controls how a reminder surfaces to the person.
type ReminderStyle string

const (
	StyleAsk     ReminderStyle = "Ask"
	StyleSuggest ReminderStyle = "Suggest"
	StyleSilent  ReminderStyle = "Silent"
)

// ReminderStatus is the lifecycle state of a ReminderCandidate.
type ReminderStatus string

const (
	StatusScheduled ReminderStatus = "Scheduled"
	StatusExecuted  ReminderStatus = "Executed"
	StatusSkipped   ReminderStatus = "Skipped"
	StatusExpired   ReminderStatus = "Expired"
)

// validTransitions enumerates the allowed ReminderStatus edges from spec.md §4.8.
var validTransitions = map[ReminderStatus]map[ReminderStatus]bool{
	StatusScheduled: {StatusExecuted: true, StatusSkipped: true, StatusExpired: true},
	StatusExecuted:  {StatusScheduled: true}, // recurring reschedule only
}

// CanTransition reports whether moving from `from` to `to` is a legal status edge.
func CanTransition(from, to ReminderStatus) bool {
	return validTransitions[from][to]
}

// PatternInferenceStatus classifies the confidence we have in the inferred
// temporal pattern for a reminder candidate.
type PatternInferenceStatus string

const (
	PatternUnknown  PatternInferenceStatus = "Unknown"
	PatternFlexible PatternInferenceStatus = "Flexible"
	PatternDaily    PatternInferenceStatus = "Daily"
	PatternWeekly   PatternInferenceStatus = "Weekly"
)

// ReminderDecision is attached to a ReminderCandidate once it has been
// evaluated (and, usually, executed).
type ReminderDecision struct {
	ShouldSpeak            bool     `json:"shouldSpeak"`
	Reason                 string   `json:"reason"`
	ConfidenceLevel        float64  `json:"confidenceLevel"`
	SpeechTemplateKey      string   `json:"speechTemplateKey,omitempty"`
	NaturalLanguagePhrase  string   `json:"naturalLanguagePhrase,omitempty"`
}

// SignalWeight pairs a sensor's selection weight with its normalized value.
type SignalWeight struct {
	Weight          float64 `json:"weight"`
	NormalizedValue float64 `json:"normalizedValue"`
}

// SignalProfile is an L2-normalized, top-K sensor vector used to gate
// matching by environmental similarity.
type SignalProfile map[string]SignalWeight

// ReminderCandidate is the central learned entity: a scheduled potential
// nudge toward a suggested action, with evolving confidence and an inferred
// temporal pattern.
type ReminderCandidate struct {
	ID               ReminderID     `json:"id"`
	PersonID         PersonID       `json:"personId"`
	SuggestedAction  string         `json:"suggestedAction"`
	CheckAtUtc       time.Time      `json:"checkAtUtc"`
	TransitionID     *TransitionID  `json:"transitionId,omitempty"`
	Style            ReminderStyle  `json:"style"`
	Status           ReminderStatus `json:"status"`
	Decision         *ReminderDecision `json:"decision,omitempty"`
	Confidence       float64        `json:"confidence"`
	Occurrence       string         `json:"occurrence,omitempty"`
	CreatedAtUtc     time.Time      `json:"createdAtUtc"`
	ExecutedAtUtc    *time.Time     `json:"executedAtUtc,omitempty"`
	SourceEventID    *EventID       `json:"sourceEventId,omitempty"`
	CustomData       map[string]string `json:"customData,omitempty"`

	// Pattern-inference attributes (spec.md §3 & §4.3)
	TimeWindowCenter      time.Duration          `json:"timeWindowCenter"` // offset since midnight
	TimeWindowSizeMinutes int                    `json:"timeWindowSizeMinutes"`
	EvidenceCount         int                    `json:"evidenceCount"`
	ObservedDays          map[string]bool        `json:"observedDays"` // date (YYYY-MM-DD) set
	DayOfWeekHistogram    [7]int                 `json:"dayOfWeekHistogram"`
	TimeBucketHistogram   map[string]int         `json:"timeBucketHistogram"`
	DayTypeHistogram      map[string]int         `json:"dayTypeHistogram"`
	MostCommonTimeBucket  string                 `json:"mostCommonTimeBucket,omitempty"`
	MostCommonDayType     string                 `json:"mostCommonDayType,omitempty"`
	PatternInferenceStatus PatternInferenceStatus `json:"patternInferenceStatus"`
	InferredWeekday       *int                   `json:"inferredWeekday,omitempty"`

	// Signal-profile attributes (spec.md §4.6)
	SignalProfile            SignalProfile `json:"signalProfile,omitempty"`
	SignalProfileUpdatedAtUtc *time.Time   `json:"signalProfileUpdatedAtUtc,omitempty"`
	SignalProfileSamplesCount int          `json:"signalProfileSamplesCount"`

	// Safety/preference attributes
	IsSafeToAutoExecute bool `json:"isSafeToAutoExecute"`
}

// DefaultTimeWindowSizeMinutes is the default width of the inferred time
// window for a reminder candidate.
const DefaultTimeWindowSizeMinutes = 45

// NewReminderCandidate builds a freshly scheduled candidate with the
// pattern-inference collections initialized.
func NewReminderCandidate(id ReminderID, personID PersonID, action string, checkAt time.Time, now time.Time) *ReminderCandidate {
	return &ReminderCandidate{
		ID:                    id,
		PersonID:              personID,
		SuggestedAction:       action,
		CheckAtUtc:            checkAt,
		Style:                 StyleSuggest,
		Status:                StatusScheduled,
		CreatedAtUtc:          now,
		TimeWindowSizeMinutes: DefaultTimeWindowSizeMinutes,
		ObservedDays:          make(map[string]bool),
		TimeBucketHistogram:   make(map[string]int),
		DayTypeHistogram:      make(map[string]int),
		PatternInferenceStatus: PatternUnknown,
	}
}

// TransitionStatus moves the candidate to a new status, returning
// ErrInvalidStatusTransition if the edge is not legal.
func (r *ReminderCandidate) TransitionStatus(to ReminderStatus) error {
	if !CanTransition(r.Status, to) {
		return ErrInvalidStatusTransition
	}
	r.Status = to
	return nil
}

// IncreaseConfidence nudges confidence toward 1 by `step`, clamped to [0,1].
func (r *ReminderCandidate) IncreaseConfidence(step float64) {
	r.Confidence = clamp01(r.Confidence + step)
}

// DecreaseConfidence nudges confidence toward 0 by a multiplicative factor,
// clamped to [0,1].
func (r *ReminderCandidate) DecreaseConfidence(factor float64) {
	r.Confidence = clamp01(r.Confidence * (1 - factor))
}

// ApplyProbabilitySignal applies an explicit Increase/Decrease probability
// signal carried on a matched event.
func (r *ReminderCandidate) ApplyProbabilitySignal(action ProbabilityAction, value float64) {
	switch action {
	case ProbabilityIncrease:
		r.IncreaseConfidence(value)
	case ProbabilityDecrease:
		r.DecreaseConfidence(value)
	}
}
