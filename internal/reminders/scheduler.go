// Package reminders implements the ReminderScheduler: turning learned
// transitions into scheduled reminder candidates as actions are ingested.
package reminders

import (
	"fmt"
	"time"

	"github.com/habitloop/engine/internal/clock"
	"github.com/habitloop/engine/internal/contextkey"
	"github.com/habitloop/engine/internal/core"
	"github.com/habitloop/engine/internal/learning"
	"github.com/habitloop/engine/internal/storage"
)

// PolicyConfig holds the Policy:* config keys this package consults.
type PolicyConfig struct {
	MinimumOccurrences int     // default 3
	MinimumConfidence  float64 // default 0.4
	ConfidenceStepValue float64 // default 0.1
	DefaultReminderConfidence float64 // default 0.5
	TimeOffsetMinutes  int     // default 30
}

// DefaultPolicyConfig returns the spec.md §6 Policy defaults this package uses.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MinimumOccurrences:        3,
		MinimumConfidence:         0.4,
		ConfidenceStepValue:       0.1,
		DefaultReminderConfidence: 0.5,
		TimeOffsetMinutes:         30,
	}
}

// Scheduler implements the ReminderScheduler component (spec.md §4.7).
type Scheduler struct {
	transitions *storage.TransitionStore
	remindersDB *storage.ReminderStore
	routines    *storage.RoutineStore
	keyBuilder  *contextkey.KeyBuilder
	inferencer  *learning.PatternInferencer
	clock       clock.Clock
	cfg         PolicyConfig
}

// NewScheduler builds a ReminderScheduler.
func NewScheduler(transitions *storage.TransitionStore, remindersDB *storage.ReminderStore, routines *storage.RoutineStore, keyBuilder *contextkey.KeyBuilder, inferencer *learning.PatternInferencer, clk clock.Clock, cfg PolicyConfig) *Scheduler {
	return &Scheduler{
		transitions: transitions, remindersDB: remindersDB, routines: routines,
		keyBuilder: keyBuilder, inferencer: inferencer,
		clock: clk, cfg: cfg,
	}
}

// ScheduleCandidatesForEvent implements spec.md §4.7. It returns the ids of
// every reminder candidate it created or reinforced.
func (s *Scheduler) ScheduleCandidatesForEvent(event *core.ActionEvent) ([]core.ReminderID, error) {
	if event.EventType == core.EventTypeStateChange {
		return nil, nil
	}

	open, err := s.routines.OpenForPerson(event.PersonID)
	if err != nil {
		return nil, fmt.Errorf("load open routines: %w", err)
	}
	for _, r := range open {
		if r.IsObservationWindowOpen(event.TimestampUtc) {
			return nil, nil
		}
	}

	candidates, err := s.transitions.ByFromAction(event.PersonID, event.ActionType)
	if err != nil {
		return nil, fmt.Errorf("load transitions: %w", err)
	}

	eventBucket := s.keyBuilder.BuildKey(contextkey.ContextFields{
		DayType:    event.Context.DayType,
		TimeBucket: event.Context.TimeBucket,
		Location:   event.Context.Location,
	})

	var scheduled []core.ReminderID
	for _, t := range candidates {
		if !s.accept(t, eventBucket) {
			continue
		}
		id, err := s.scheduleOne(t, event)
		if err != nil {
			return nil, err
		}
		scheduled = append(scheduled, id)
	}
	return scheduled, nil
}

// accept implements the ReminderPolicyEvaluator gate from spec.md §4.7 step 4.
func (s *Scheduler) accept(t *core.ActionTransition, eventBucket string) bool {
	if t.OccurrenceCount < s.cfg.MinimumOccurrences {
		return false
	}
	if t.Confidence < s.cfg.MinimumConfidence {
		return false
	}
	if t.ContextBucket != eventBucket {
		return false
	}
	if t.AverageDelay == nil {
		return false
	}
	return true
}

// scheduleOne finds-or-creates the Scheduled reminder for (personId,
// suggestedAction=t.ToAction) and reinforces or creates it (spec.md §4.7
// steps 5-6).
func (s *Scheduler) scheduleOne(t *core.ActionTransition, event *core.ActionEvent) (core.ReminderID, error) {
	now := s.clock.Now()
	suggestedAt := now.Add(*t.AverageDelay)

	existing, err := s.remindersDB.ByPersonAndAction(t.PersonID, t.ToAction)
	if err != nil {
		return "", fmt.Errorf("load existing reminders: %w", err)
	}

	if targetID, ok := pickClosest(existing, suggestedAt, s.cfg.TimeOffsetMinutes); ok {
		// Reload-mutate-save on every attempt: a concurrent ingestion
		// reinforcing the same (personId, suggestedAction) reminder can
		// advance its version between our load and our write.
		err := core.RetryOnConflict(core.DefaultConflictRetries, func() error {
			target, version, err := s.remindersDB.Get(targetID)
			if err != nil {
				return err
			}
			target.Confidence = clamp01(target.Confidence + s.cfg.ConfidenceStepValue)
			s.inferencer.RecordEvidence(target, event.TimestampUtc, event.Context.TimeBucket, event.Context.DayType)
			s.inferencer.UpdateInferredPattern(target)
			return s.remindersDB.Update(target, version)
		})
		if err != nil {
			return "", fmt.Errorf("update reminder: %w", err)
		}
		return targetID, nil
	}

	created := core.NewReminderCandidate(core.NewReminderID(), t.PersonID, t.ToAction, event.TimestampUtc, now)
	created.TransitionID = &t.ID
	created.SourceEventID = &event.ID
	created.CustomData = event.CustomData
	created.Confidence = s.cfg.DefaultReminderConfidence
	s.inferencer.RecordEvidence(created, event.TimestampUtc, event.Context.TimeBucket, event.Context.DayType)
	s.inferencer.UpdateInferredPattern(created)

	if err := s.remindersDB.Create(created); err != nil {
		return "", fmt.Errorf("create reminder: %w", err)
	}
	return created.ID, nil
}

// pickClosest prefers the reminder whose checkAtUtc is within offsetMinutes
// of suggestedAt, else the most recently created. Reports false if
// candidates is empty.
func pickClosest(candidates []*core.ReminderCandidate, suggestedAt time.Time, offsetMinutes int) (core.ReminderID, bool) {
	if len(candidates) == 0 {
		return "", false
	}

	offset := time.Duration(offsetMinutes) * time.Minute
	var withinWindow *core.ReminderCandidate
	var mostRecent *core.ReminderCandidate

	for _, c := range candidates {
		if mostRecent == nil || c.CreatedAtUtc.After(mostRecent.CreatedAtUtc) {
			mostRecent = c
		}
		diff := c.CheckAtUtc.Sub(suggestedAt)
		if diff < 0 {
			diff = -diff
		}
		if diff <= offset {
			if withinWindow == nil || diff < absDuration(withinWindow.CheckAtUtc.Sub(suggestedAt)) {
				withinWindow = c
			}
		}
	}

	if withinWindow != nil {
		return withinWindow.ID, true
	}
	return mostRecent.ID, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
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
