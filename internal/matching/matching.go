// Package matching implements the criteria chain that decides which
// scheduled reminder candidates a newly ingested event matches.
package matching

import (
	"fmt"
	"sort"
	"time"

	"github.com/habitloop/engine/internal/core"
	"github.com/habitloop/engine/internal/learning"
	"github.com/habitloop/engine/internal/storage"
)

// Criteria mirrors the spec.md §6 MatchingPolicy configuration category.
type Criteria struct {
	MatchByActionType     bool
	MatchByDayType        bool
	MatchByPeoplePresent  bool
	MatchByStateSignals   bool
	MatchByTimeBucket     bool
	MatchByLocation       bool
	TimeOffsetMinutes     int
	SignalSelectionEnabled bool
	SignalSimilarityThreshold float64
}

// DefaultCriteria returns the spec.md §6 defaults.
func DefaultCriteria() Criteria {
	return Criteria{
		MatchByActionType:         true,
		MatchByDayType:            true,
		MatchByPeoplePresent:      true,
		MatchByStateSignals:       true,
		MatchByTimeBucket:         false,
		MatchByLocation:           false,
		TimeOffsetMinutes:         30,
		SignalSelectionEnabled:    true,
		SignalSimilarityThreshold: 0.70,
	}
}

// Engine implements the MatchingEngine component.
type Engine struct {
	events     *storage.EventStore
	reminders  *storage.ReminderStore
	similarity *learning.SignalSimilarity
}

// NewEngine builds a matching Engine.
func NewEngine(events *storage.EventStore, reminders *storage.ReminderStore, similarity *learning.SignalSimilarity) *Engine {
	return &Engine{events: events, reminders: reminders, similarity: similarity}
}

// FindMatchingReminders implements spec.md §4.5. signalStates is the
// caller's already-normalized SignalProfile for the event, or nil.
func (e *Engine) FindMatchingReminders(eventID core.EventID, criteria Criteria, signalStates core.SignalProfile) ([]*core.ReminderCandidate, error) {
	event, err := e.events.Get(eventID)
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}

	// StateChange events never match general reminders (testable property 5).
	if event.EventType == core.EventTypeStateChange {
		return nil, nil
	}

	candidates, err := e.reminders.ScheduledByPerson(event.PersonID)
	if err != nil {
		return nil, fmt.Errorf("load scheduled reminders: %w", err)
	}

	var survivors []*core.ReminderCandidate
	for _, r := range candidates {
		ok, err := e.matches(r, event, criteria, signalStates)
		if err != nil {
			return nil, err
		}
		if ok {
			survivors = append(survivors, r)
		}
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		if survivors[i].Confidence != survivors[j].Confidence {
			return survivors[i].Confidence > survivors[j].Confidence
		}
		return survivors[i].CheckAtUtc.Before(survivors[j].CheckAtUtc)
	})

	return survivors, nil
}

func (e *Engine) matches(r *core.ReminderCandidate, event *core.ActionEvent, criteria Criteria, signalStates core.SignalProfile) (bool, error) {
	// a. action type
	if criteria.MatchByActionType && r.SuggestedAction != event.ActionType {
		return false, nil
	}

	// b. time: a reminder "has" a timeWindowCenter once pattern inference has
	// recorded at least one piece of evidence for it.
	if r.EvidenceCount > 0 {
		eventTod := timeOfDay(event.TimestampUtc)
		dist := circularDistance(eventTod, r.TimeWindowCenter)
		if dist > time.Duration(criteria.TimeOffsetMinutes)*time.Minute {
			return false, nil
		}
	} else {
		if absDuration(r.CheckAtUtc.Sub(event.TimestampUtc)) > time.Duration(criteria.TimeOffsetMinutes)*time.Minute {
			return false, nil
		}
	}

	// c. state signals
	if criteria.MatchByStateSignals && len(r.CustomData) > 0 {
		if len(event.Context.StateSignals) == 0 {
			return false, nil
		}
		for k, v := range r.CustomData {
			if event.Context.StateSignals[k] != v {
				return false, nil
			}
		}
	}

	// d. context fields: legacy reminders without a time window only.
	if r.EvidenceCount == 0 {
		related, err := e.reminders.RelatedToReminder(r.ID)
		if err != nil {
			return false, fmt.Errorf("load related events: %w", err)
		}
		if len(related) > 0 && !legacyContextMatches(r, event, related, criteria) {
			return false, nil
		}
	}

	// e. signal similarity
	if criteria.SignalSelectionEnabled && len(r.SignalProfile) > 0 && len(signalStates) > 0 {
		if e.similarity.Similarity(r.SignalProfile, signalStates) < criteria.SignalSimilarityThreshold {
			return false, nil
		}
	}

	return true, nil
}

// legacyContextMatches compares event.Context fields against the contexts of
// events related to the reminder (spec.md §4.5 step d).
func legacyContextMatches(r *core.ReminderCandidate, event *core.ActionEvent, related []*core.ActionEvent, criteria Criteria) bool {
	for _, re := range related {
		ok := true
		if criteria.MatchByDayType && re.Context.DayType != event.Context.DayType {
			ok = false
		}
		if ok && criteria.MatchByTimeBucket && re.Context.TimeBucket != event.Context.TimeBucket {
			ok = false
		}
		if ok && criteria.MatchByLocation && re.Context.Location != event.Context.Location {
			ok = false
		}
		if ok && criteria.MatchByPeoplePresent && !samePeople(re.Context.PresentPeople, event.Context.PresentPeople) {
			ok = false
		}
		if ok {
			return true
		}
	}
	return false
}

func samePeople(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, p := range a {
		seen[p] = true
	}
	for _, p := range b {
		if !seen[p] {
			return false
		}
	}
	return true
}

func timeOfDay(ts time.Time) time.Duration {
	ts = ts.UTC()
	return time.Duration(ts.Hour())*time.Hour + time.Duration(ts.Minute())*time.Minute + time.Duration(ts.Second())*time.Second
}

func circularDistance(a, b time.Duration) time.Duration {
	const day = 24 * time.Hour
	d := a - b
	d %= day
	if d < 0 {
		d += day
	}
	if d > day/2 {
		d = day - d
	}
	return d
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
