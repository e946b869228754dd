package evaluator

import (
	"fmt"
	"time"

	"github.com/habitloop/engine/internal/clock"
	"github.com/habitloop/engine/internal/core"
	"github.com/habitloop/engine/internal/storage"
)

// Phraser turns a reminder into a natural-language nudge. A nil Phraser (or
// one whose Phrase call fails) falls back to a canned template, per §7.
type Phraser interface {
	Phrase(candidate *core.ReminderCandidate) (string, error)
}

// Evaluator implements spec.md §4.8's evaluate: a side-effect-free decision
// function over a reminder candidate's current eligibility to speak.
type Evaluator struct {
	preferences  *storage.PreferencesStore
	cooldowns    *storage.CooldownStore
	reminders    *storage.ReminderStore
	events       *storage.EventStore
	transitions  *storage.TransitionStore
	interruption *InterruptionCostCatalogue
	phraser      Phraser
	clock        clock.Clock
	maxInterruptionCost float64
}

// NewEvaluator builds an Evaluator.
func NewEvaluator(preferences *storage.PreferencesStore, cooldowns *storage.CooldownStore, reminders *storage.ReminderStore, events *storage.EventStore, transitions *storage.TransitionStore, interruption *InterruptionCostCatalogue, phraser Phraser, clk clock.Clock, maxInterruptionCost float64) *Evaluator {
	return &Evaluator{
		preferences: preferences, cooldowns: cooldowns, reminders: reminders,
		events: events, transitions: transitions, interruption: interruption,
		phraser: phraser, clock: clk, maxInterruptionCost: maxInterruptionCost,
	}
}

// Evaluate implements spec.md §4.8's evaluate(candidate).
func (e *Evaluator) Evaluate(candidate *core.ReminderCandidate) (*core.ReminderDecision, error) {
	prefs, err := e.preferences.Get(candidate.PersonID)
	if err != nil {
		if err == core.ErrPreferencesNotFound {
			return &core.ReminderDecision{ShouldSpeak: false, Reason: "User preferences disabled"}, nil
		}
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	if !prefs.Enabled {
		return &core.ReminderDecision{ShouldSpeak: false, Reason: "User preferences disabled"}, nil
	}

	cooldown, err := e.cooldowns.Get(candidate.PersonID, candidate.SuggestedAction)
	if err != nil {
		return nil, fmt.Errorf("load cooldown: %w", err)
	}
	now := e.clock.Now()
	if cooldown != nil && cooldown.Active(now) {
		return &core.ReminderDecision{ShouldSpeak: false, Reason: "Cooldown active"}, nil
	}

	dayStart := now.Truncate(24 * time.Hour)
	executedToday, err := e.reminders.CountExecutedSince(candidate.PersonID, dayStart)
	if err != nil {
		return nil, fmt.Errorf("count executed: %w", err)
	}
	if executedToday >= prefs.DailyLimit {
		return &core.ReminderDecision{ShouldSpeak: false, Reason: "Daily limit reached"}, nil
	}

	mostRecent, err := e.reminders.MostRecentExecuted(candidate.PersonID)
	if err != nil {
		return nil, fmt.Errorf("load most recent executed: %w", err)
	}
	if mostRecent != nil && mostRecent.ExecutedAtUtc != nil && now.Sub(*mostRecent.ExecutedAtUtc) < prefs.MinimumInterval {
		return &core.ReminderDecision{ShouldSpeak: false, Reason: "Minimum interval not elapsed"}, nil
	}

	stateSignals := map[string]string{}
	if current, err := e.events.MostRecentBefore(candidate.PersonID, now); err != nil {
		return nil, fmt.Errorf("load current context: %w", err)
	} else if current != nil {
		stateSignals = current.Context.StateSignals
	}
	cost, err := e.interruption.Cost(stateSignals)
	if err != nil {
		return nil, fmt.Errorf("compute interruption cost: %w", err)
	}
	if cost > e.maxInterruptionCost {
		return &core.ReminderDecision{ShouldSpeak: false, Reason: "Interruption cost too high"}, nil
	}

	confidence := 0.7
	if candidate.TransitionID != nil {
		if t, _, err := e.transitions.Get(*candidate.TransitionID); err == nil {
			confidence = t.Confidence
		}
	}

	phrase := defaultPhrase(candidate)
	if e.phraser != nil {
		if p, err := e.phraser.Phrase(candidate); err == nil && p != "" {
			phrase = p
		}
	}

	return &core.ReminderDecision{
		ShouldSpeak:           true,
		Reason:                "",
		ConfidenceLevel:       confidence,
		NaturalLanguagePhrase: phrase,
	}, nil
}

func defaultPhrase(candidate *core.ReminderCandidate) string {
	return fmt.Sprintf("Time to %s?", candidate.SuggestedAction)
}
