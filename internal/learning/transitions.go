// Package learning maintains the online transition model and the
// per-reminder temporal pattern inference built on top of it.
package learning

import (
	"fmt"
	"time"

	"github.com/habitloop/engine/internal/clock"
	"github.com/habitloop/engine/internal/contextkey"
	"github.com/habitloop/engine/internal/core"
	"github.com/habitloop/engine/internal/storage"
)

// TransitionLearnerConfig holds the EMA knobs for updateObservation.
type TransitionLearnerConfig struct {
	SessionWindow time.Duration // default 30 min
	Alpha         float64       // confidence EMA weight, default 0.1
	Beta          float64       // delay EMA weight, default 0.2
}

// DefaultTransitionLearnerConfig returns the spec.md §4.2 defaults.
func DefaultTransitionLearnerConfig() TransitionLearnerConfig {
	return TransitionLearnerConfig{
		SessionWindow: 30 * time.Minute,
		Alpha:         0.1,
		Beta:          0.2,
	}
}

// TransitionLearner maintains (personId, fromAction, toAction, contextBucket)
// transitions with EMA confidence and EMA delay.
type TransitionLearner struct {
	events      *storage.EventStore
	transitions *storage.TransitionStore
	keyBuilder  *contextkey.KeyBuilder
	clock       clock.Clock
	cfg         TransitionLearnerConfig
}

// NewTransitionLearner builds a TransitionLearner.
func NewTransitionLearner(events *storage.EventStore, transitions *storage.TransitionStore, keyBuilder *contextkey.KeyBuilder, clk clock.Clock, cfg TransitionLearnerConfig) *TransitionLearner {
	return &TransitionLearner{events: events, transitions: transitions, keyBuilder: keyBuilder, clock: clk, cfg: cfg}
}

// UpdateTransitions implements spec.md §4.2: loads the prior event for the
// same person, and if it falls within the session window, reinforces (or
// creates) the (prior.actionType -> event.actionType, bucket) transition.
func (l *TransitionLearner) UpdateTransitions(event *core.ActionEvent) error {
	prior, err := l.events.MostRecentBefore(event.PersonID, event.TimestampUtc)
	if err != nil {
		return fmt.Errorf("load prior event: %w", err)
	}
	if prior == nil {
		return nil
	}

	delta := event.TimestampUtc.Sub(prior.TimestampUtc)
	if delta < 0 {
		return fmt.Errorf("transition delta is negative: %w", core.ErrNegativeDelay)
	}
	if delta > l.cfg.SessionWindow {
		return nil
	}

	bucket := l.keyBuilder.BuildKey(contextkey.ContextFields{
		DayType:    event.Context.DayType,
		TimeBucket: event.Context.TimeBucket,
		Location:   event.Context.Location,
	})

	key := core.TransitionKey{
		PersonID:      event.PersonID,
		FromAction:    prior.ActionType,
		ToAction:      event.ActionType,
		ContextBucket: bucket,
	}

	// Reload-mutate-save on every attempt: two concurrent ingestions for the
	// same (personId, fromAction, toAction, contextBucket) race to update the
	// same transition row, so a stale in-memory copy can't just be resubmitted
	// (spec.md §5, §7 Conflict taxonomy).
	err = core.RetryOnConflict(core.DefaultConflictRetries, func() error {
		existing, version, err := l.transitions.ByKey(key)
		if err != nil {
			return err
		}

		now := l.clock.Now()
		if existing == nil {
			t := &core.ActionTransition{
				ID:              core.NewTransitionID(),
				PersonID:        key.PersonID,
				FromAction:      key.FromAction,
				ToAction:        key.ToAction,
				ContextBucket:   key.ContextBucket,
				LastObservedUtc: now,
				CreatedAtUtc:    now,
				UpdatedAtUtc:    now,
			}
			l.applyObservation(t, delta, now)
			return l.transitions.Create(t)
		}

		l.applyObservation(existing, delta, now)
		return l.transitions.Update(existing, version)
	})
	if err != nil {
		return fmt.Errorf("update transition: %w", err)
	}
	return nil
}

// applyObservation implements updateObservation(delta, alpha, beta).
func (l *TransitionLearner) applyObservation(t *core.ActionTransition, delta time.Duration, now time.Time) {
	t.OccurrenceCount++
	t.Confidence = l.cfg.Alpha*1 + (1-l.cfg.Alpha)*t.Confidence
	if t.AverageDelay == nil {
		d := delta
		t.AverageDelay = &d
	} else {
		d := time.Duration((1-l.cfg.Beta)*float64(*t.AverageDelay) + l.cfg.Beta*float64(delta))
		t.AverageDelay = &d
	}
	t.LastObservedUtc = now
	t.UpdatedAtUtc = now
}

// ApplyDecay multiplies confidence by (1-rate), for the periodic background
// decay pass.
func (l *TransitionLearner) ApplyDecay(t *core.ActionTransition, rate float64) {
	t.Confidence *= 1 - rate
}

// ReduceConfidence implements negative-feedback reinforcement:
// confidence <- max(0, confidence*(1-f)).
func (l *TransitionLearner) ReduceConfidence(t *core.ActionTransition, f float64) {
	t.Confidence *= 1 - f
	if t.Confidence < 0 {
		t.Confidence = 0
	}
}
