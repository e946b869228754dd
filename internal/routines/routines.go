// Package routines implements intent-anchored routine learning: opening and
// closing per-person observation windows on state-change events, and
// attaching subsequently observed actions to learned routine reminders.
package routines

import (
	"fmt"
	"sync"
	"time"

	"github.com/habitloop/engine/internal/clock"
	"github.com/habitloop/engine/internal/contextkey"
	"github.com/habitloop/engine/internal/core"
	"github.com/habitloop/engine/internal/learning"
	"github.com/habitloop/engine/internal/storage"
)

// Config holds the policy knobs from spec.md §4.4/§6.
type Config struct {
	ObservationWindowMinutes  int     // Routine:ObservationWindowMinutes, default 60
	TimeOffsetMinutes         int     // default 45
	DefaultReminderConfidence float64 // Policy:DefaultReminderConfidence, default 0.5
	ConfidenceStepValue       float64 // Policy:ConfidenceStepValue, default 0.1
	SignalSelectionEnabled    bool
	SignalSimilarityThreshold float64 // default 0.70
	SignalProfileUpdateAlpha  float64 // default 0.10
	StateSignalPolicyEnabled  bool
	LocalOffsetMinutes        int
}

// DefaultConfig returns the spec.md defaults.
func DefaultConfig() Config {
	return Config{
		ObservationWindowMinutes:  60,
		TimeOffsetMinutes:         45,
		DefaultReminderConfidence: 0.5,
		ConfidenceStepValue:       0.1,
		SignalSelectionEnabled:    true,
		SignalSimilarityThreshold: 0.70,
		SignalProfileUpdateAlpha:  0.10,
		StateSignalPolicyEnabled:  true,
		LocalOffsetMinutes:        0,
	}
}

// Learner implements the RoutineLearner component.
type Learner struct {
	routines         *storage.RoutineStore
	routineReminders *storage.RoutineReminderStore
	classifier       *contextkey.Classifier
	keyBuilder       *contextkey.KeyBuilder
	similarity       *learning.SignalSimilarity
	clock            clock.Clock
	cfg              Config
	intentLocks      *personLocks
}

// NewLearner builds a routine Learner.
func NewLearner(routines *storage.RoutineStore, routineReminders *storage.RoutineReminderStore, classifier *contextkey.Classifier, keyBuilder *contextkey.KeyBuilder, similarity *learning.SignalSimilarity, clk clock.Clock, cfg Config) *Learner {
	return &Learner{
		routines: routines, routineReminders: routineReminders,
		classifier: classifier, keyBuilder: keyBuilder, similarity: similarity,
		clock: clk, cfg: cfg, intentLocks: newPersonLocks(),
	}
}

// personLocks hands out one mutex per personId, created on first use. SQLite
// is opened with a single connection (storage.Open), so two HandleIntent
// calls for the same person can still interleave statement-by-statement
// between connection checkouts; this in-process lock is what actually
// serializes the close-all-windows-then-open-new sequence per spec.md §5,
// since that sequence spans more than one statement and isn't itself
// wrapped in a store-level transaction.
type personLocks struct {
	mu    sync.Mutex
	perID map[core.PersonID]*sync.Mutex
}

func newPersonLocks() *personLocks {
	return &personLocks{perID: make(map[core.PersonID]*sync.Mutex)}
}

// lock blocks until the per-person lock for id is held, returning the
// function that releases it.
func (p *personLocks) lock(id core.PersonID) func() {
	p.mu.Lock()
	l, ok := p.perID[id]
	if !ok {
		l = &sync.Mutex{}
		p.perID[id] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// HandleIntent implements spec.md §4.4's handleIntent: closes every open
// window for the person (guaranteeing mutual exclusion), then opens a fresh
// one for the routine anchored by this intent. The whole sequence runs
// under this person's lock, so two concurrent intents for the same person
// can't both observe no open window and both open one.
func (l *Learner) HandleIntent(event *core.ActionEvent) (*core.Routine, error) {
	if event.EventType != core.EventTypeStateChange {
		return nil, fmt.Errorf("HandleIntent called with non-StateChange event")
	}

	unlock := l.intentLocks.lock(event.PersonID)
	defer unlock()

	open, err := l.routines.OpenForPerson(event.PersonID)
	if err != nil {
		return nil, fmt.Errorf("load open routines: %w", err)
	}
	for _, r := range open {
		r.CloseObservationWindow()
		if err := l.routines.Upsert(r); err != nil {
			return nil, fmt.Errorf("close window for routine %s: %w", r.ID, err)
		}
	}

	routine, err := l.routines.ByIntent(event.PersonID, event.ActionType)
	if err != nil {
		return nil, fmt.Errorf("load routine: %w", err)
	}
	if routine == nil {
		routine = &core.Routine{
			ID:                       core.NewRoutineID(),
			PersonID:                 event.PersonID,
			IntentType:               event.ActionType,
			CreatedAtUtc:             l.clock.Now(),
			ObservationWindowMinutes: l.cfg.ObservationWindowMinutes,
		}
	}

	timeBucket, _ := l.classifier.Classify(event.TimestampUtc, l.cfg.LocalOffsetMinutes)
	bucket := l.keyBuilder.BuildKey(contextkey.ContextFields{
		DayType:    event.Context.DayType,
		TimeBucket: string(timeBucket),
		Location:   event.Context.Location,
	})

	routine.OpenObservationWindow(event.TimestampUtc, routine.ObservationWindowMinutes, bucket)
	if err := l.routines.Upsert(routine); err != nil {
		return nil, fmt.Errorf("open window for routine %s: %w", routine.ID, err)
	}
	return routine, nil
}

// ProcessObservedEvent implements spec.md §4.4's processObservedEvent.
// userPrompt and eventProfile are both optional.
func (l *Learner) ProcessObservedEvent(event *core.ActionEvent, userPrompt *core.UserPrompt, eventProfile core.SignalProfile) error {
	open, err := l.routines.OpenForPerson(event.PersonID)
	if err != nil {
		return fmt.Errorf("load open routines: %w", err)
	}

	for _, routine := range open {
		if !routine.IsObservationWindowOpen(event.TimestampUtc) {
			continue
		}
		if event.ActionType == routine.IntentType || event.EventType == core.EventTypeStateChange {
			continue
		}
		if event.TimestampUtc.Sub(*routine.ObservationWindowStartUtc) > time.Duration(l.cfg.TimeOffsetMinutes)*time.Minute {
			continue
		}

		existing, err := l.routineReminders.ByRoutineAndAction(routine.ID, event.ActionType)
		if err != nil {
			return fmt.Errorf("load routine reminder: %w", err)
		}

		if l.cfg.StateSignalPolicyEnabled && existing != nil && len(existing.CustomData) > 0 {
			if !stateSignalsMatch(existing.CustomData, event.Context.StateSignals) {
				continue
			}
		}

		if l.cfg.SignalSelectionEnabled && len(eventProfile) > 0 && existing != nil && len(existing.SignalProfile) > 0 {
			if l.similarity.Similarity(existing.SignalProfile, eventProfile) < l.cfg.SignalSimilarityThreshold {
				continue
			}
		}

		now := l.clock.Now()
		if existing != nil {
			existing.IncreaseConfidence(l.cfg.ConfidenceStepValue)
			existing.LastObservedAtUtc = &now
			existing.ObservationCount++
			mergeCustomData(existing, event.Context.StateSignals)
			if userPrompt != nil {
				existing.UserPromptsList = append(existing.UserPromptsList, *userPrompt)
			}
			existing.SignalProfile = learning.UpdateProfile(existing.SignalProfile, eventProfile, l.cfg.SignalProfileUpdateAlpha)
			existing.SignalProfileSamplesCount++
			if err := l.routineReminders.Upsert(existing); err != nil {
				return fmt.Errorf("update routine reminder: %w", err)
			}
			continue
		}

		rr := &core.RoutineReminder{
			ID:                core.NewRoutineReminderID(),
			RoutineID:         routine.ID,
			PersonID:          event.PersonID,
			SuggestedAction:   event.ActionType,
			Confidence:        l.cfg.DefaultReminderConfidence,
			CreatedAtUtc:      now,
			LastObservedAtUtc: &now,
			ObservationCount:  1,
			SignalProfile:     eventProfile,
			SignalProfileSamplesCount: 1,
		}
		mergeCustomData(rr, event.Context.StateSignals)
		if userPrompt != nil {
			rr.UserPromptsList = append(rr.UserPromptsList, *userPrompt)
		}
		if err := l.routineReminders.Upsert(rr); err != nil {
			return fmt.Errorf("create routine reminder: %w", err)
		}
	}

	return nil
}

// HandleFeedback applies Increase or Decrease to a routine reminder's
// confidence, clamped to [0,1].
func (l *Learner) HandleFeedback(reminderID core.RoutineReminderID, action core.ProbabilityAction, value float64) error {
	rr, err := l.routineReminders.Get(reminderID)
	if err != nil {
		return err
	}
	switch action {
	case core.ProbabilityIncrease:
		rr.IncreaseConfidence(value)
	case core.ProbabilityDecrease:
		rr.DecreaseConfidence(value)
	}
	return l.routineReminders.Upsert(rr)
}

func stateSignalsMatch(required, actual map[string]string) bool {
	for k, v := range required {
		if actual[k] != v {
			return false
		}
	}
	return true
}

func mergeCustomData(rr *core.RoutineReminder, signals map[string]string) {
	if len(signals) == 0 {
		return
	}
	if rr.CustomData == nil {
		rr.CustomData = make(map[string]string, len(signals))
	}
	for k, v := range signals {
		rr.CustomData[k] = v
	}
}
