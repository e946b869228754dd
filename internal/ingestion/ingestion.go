// Package ingestion implements the single entry point through which every
// observed action or situational state change enters the core.
package ingestion

import (
	"fmt"
	"sort"
	"time"

	"github.com/habitloop/engine/internal/clock"
	"github.com/habitloop/engine/internal/core"
	"github.com/habitloop/engine/internal/learning"
	"github.com/habitloop/engine/internal/matching"
	"github.com/habitloop/engine/internal/reminders"
	"github.com/habitloop/engine/internal/routines"
	"github.com/habitloop/engine/internal/storage"
)

// EventRequest is the boundary-agnostic shape an ingestEvent caller supplies;
// request validation and wire-format decoding happen upstream of this package.
type EventRequest struct {
	PersonID          core.PersonID
	ActionType        string
	TimestampUtc      time.Time
	Context           core.ActionContext
	EventType         core.EventType
	ProbabilityValue  *float64
	ProbabilityAction core.ProbabilityAction
	CustomData        map[string]string
	UserPrompt        *core.UserPrompt
	RawSignals        []learning.RawSignal
}

// Config carries the coordinator's own policy knobs, distinct from the
// knobs owned by the packages it orchestrates.
type Config struct {
	MatchingCriteria          matching.Criteria
	DefaultReminderConfidence float64
	SignalSelectionTopK       int
}

// DefaultConfig returns the out-of-the-box ingestion configuration.
func DefaultConfig() Config {
	return Config{
		MatchingCriteria:          matching.DefaultCriteria(),
		DefaultReminderConfidence: 0.5,
		SignalSelectionTopK:       5,
	}
}

// Coordinator implements spec.md §4.9's ingestEvent pipeline, the single
// place a new observation fans out into every learning subsystem.
type Coordinator struct {
	events            *storage.EventStore
	reminders         *storage.ReminderStore
	history           *storage.HistoryStore
	transitionLearner *learning.TransitionLearner
	matchingEngine    *matching.Engine
	reminderScheduler *reminders.Scheduler
	routineLearner    *routines.Learner
	signalSelector    *learning.SignalSelector
	inferencer        *learning.PatternInferencer
	clock             clock.Clock
	cfg               Config
}

// NewCoordinator wires every subsystem the ingestion pipeline drives.
func NewCoordinator(
	events *storage.EventStore,
	remindersStore *storage.ReminderStore,
	history *storage.HistoryStore,
	transitionLearner *learning.TransitionLearner,
	matchingEngine *matching.Engine,
	reminderScheduler *reminders.Scheduler,
	routineLearner *routines.Learner,
	signalSelector *learning.SignalSelector,
	inferencer *learning.PatternInferencer,
	clk clock.Clock,
	cfg Config,
) *Coordinator {
	return &Coordinator{
		events: events, reminders: remindersStore, history: history,
		transitionLearner: transitionLearner, matchingEngine: matchingEngine,
		reminderScheduler: reminderScheduler, routineLearner: routineLearner,
		signalSelector: signalSelector, inferencer: inferencer, clock: clk, cfg: cfg,
	}
}

// IngestEvent implements spec.md §4.9's six-step pipeline. The returned
// []core.ReminderID lists every reminder candidate the reminder scheduler
// created or reinforced from this event (spec.md §6's scheduledCandidateIds),
// distinct from and additional to any reminder matched by the probability
// reconciliation step, which is surfaced separately on event.RelatedReminderID.
func (c *Coordinator) IngestEvent(req EventRequest) (*core.ActionEvent, []core.ReminderID, error) {
	now := c.clock.Now()
	event := &core.ActionEvent{
		ID:                core.NewEventID(),
		PersonID:          req.PersonID,
		ActionType:        req.ActionType,
		TimestampUtc:      req.TimestampUtc,
		Context:           req.Context,
		EventType:         req.EventType,
		ProbabilityValue:  req.ProbabilityValue,
		ProbabilityAction: req.ProbabilityAction,
		CustomData:        req.CustomData,
		CreatedAtUtc:      now,
	}
	if err := event.Validate(); err != nil {
		return nil, nil, err
	}

	// 1. Persist the event.
	if err := c.events.Insert(event); err != nil {
		return nil, nil, fmt.Errorf("persist event: %w", err)
	}

	// 2. Update learned transitions.
	if err := c.transitionLearner.UpdateTransitions(event); err != nil {
		return nil, nil, fmt.Errorf("update transitions: %w", err)
	}

	var signalProfile core.SignalProfile
	if len(req.RawSignals) > 0 {
		signalProfile = c.signalSelector.SelectAndNormalize(req.RawSignals, c.cfg.SignalSelectionTopK)
	}

	// 3. Reconcile an explicit probability signal against matching reminders.
	if event.ProbabilityValue != nil && event.ProbabilityAction != "" {
		if err := c.reconcileProbabilitySignal(event, signalProfile); err != nil {
			return nil, nil, fmt.Errorf("reconcile probability signal: %w", err)
		}
	}

	// 4. Schedule new reminder candidates from learned transitions.
	scheduled, err := c.reminderScheduler.ScheduleCandidatesForEvent(event)
	if err != nil {
		return nil, nil, fmt.Errorf("schedule candidates: %w", err)
	}

	// 5. Update routines.
	if event.EventType == core.EventTypeStateChange {
		if _, err := c.routineLearner.HandleIntent(event); err != nil {
			return nil, nil, fmt.Errorf("handle intent: %w", err)
		}
	} else {
		if err := c.routineLearner.ProcessObservedEvent(event, req.UserPrompt, signalProfile); err != nil {
			return nil, nil, fmt.Errorf("process observed event: %w", err)
		}
	}

	// 6. Record history.
	c.recordHistory(event)

	return event, scheduled, nil
}

// reconcileProbabilitySignal implements spec.md §4.9 step 3: find-or-create
// against the matching reminder set, applying the event's probability
// signal to whichever reminder the event actually confirms or denies.
func (c *Coordinator) reconcileProbabilitySignal(event *core.ActionEvent, signalProfile core.SignalProfile) error {
	matches, err := c.matchingEngine.FindMatchingReminders(event.ID, c.cfg.MatchingCriteria, signalProfile)
	if err != nil {
		return fmt.Errorf("find matching reminders: %w", err)
	}

	best := pickBestMatch(matches)
	if best == nil {
		return c.createReminderFromEvent(event, signalProfile)
	}

	// Reload-mutate-save on every attempt: a concurrent ingestion reconciling
	// the same matched reminder can advance its version between our load and
	// our write (spec.md §5, §7 Conflict taxonomy).
	err = core.RetryOnConflict(core.DefaultConflictRetries, func() error {
		target, version, err := c.reminders.Get(best.ID)
		if err != nil {
			return err
		}

		target.ApplyProbabilitySignal(event.ProbabilityAction, *event.ProbabilityValue)
		target.CheckAtUtc = event.TimestampUtc
		if target.CustomData == nil {
			target.CustomData = make(map[string]string, len(event.CustomData))
		}
		for k, v := range event.CustomData {
			target.CustomData[k] = v
		}
		c.inferencer.RecordEvidence(target, event.TimestampUtc, event.Context.TimeBucket, event.Context.DayType)
		c.inferencer.UpdateInferredPattern(target)

		return c.reminders.Update(target, version)
	})
	if err != nil {
		return fmt.Errorf("persist matched reminder: %w", err)
	}
	if err := c.events.SetRelatedReminder(event.ID, best.ID); err != nil {
		return fmt.Errorf("link event to reminder: %w", err)
	}
	event.RelatedReminderID = &best.ID
	return nil
}

// pickBestMatch selects the highest-confidence match, breaking ties by the
// most recently scheduled checkAtUtc, per spec.md §4.9 step 3.
func pickBestMatch(matches []*core.ReminderCandidate) *core.ReminderCandidate {
	if len(matches) == 0 {
		return nil
	}
	best := make([]*core.ReminderCandidate, len(matches))
	copy(best, matches)
	sort.SliceStable(best, func(i, j int) bool {
		if best[i].Confidence != best[j].Confidence {
			return best[i].Confidence > best[j].Confidence
		}
		return best[i].CheckAtUtc.After(best[j].CheckAtUtc)
	})
	return best[0]
}

func (c *Coordinator) createReminderFromEvent(event *core.ActionEvent, signalProfile core.SignalProfile) error {
	r := core.NewReminderCandidate(core.NewReminderID(), event.PersonID, event.ActionType, event.TimestampUtc, c.clock.Now())
	r.Confidence = c.cfg.DefaultReminderConfidence
	r.SourceEventID = &event.ID
	r.CustomData = event.CustomData
	r.SignalProfile = signalProfile
	if len(signalProfile) > 0 {
		r.SignalProfileSamplesCount = 1
	}
	c.inferencer.RecordEvidence(r, event.TimestampUtc, event.Context.TimeBucket, event.Context.DayType)
	c.inferencer.UpdateInferredPattern(r)

	if err := c.reminders.Create(r); err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	if err := c.events.SetRelatedReminder(event.ID, r.ID); err != nil {
		return err
	}
	event.RelatedReminderID = &r.ID
	return nil
}

func (c *Coordinator) recordHistory(event *core.ActionEvent) {
	h := &core.ExecutionHistory{
		Endpoint:     "IngestionCoordinator.IngestEvent",
		PersonID:     event.PersonID,
		ActionType:   event.ActionType,
		EventID:      event.ID,
		ExecutedAtUtc: event.CreatedAtUtc,
	}
	_ = c.history.Append(h)
}
