package ingestion

import (
	"testing"
	"time"

	"github.com/habitloop/engine/internal/clock"
	"github.com/habitloop/engine/internal/contextkey"
	"github.com/habitloop/engine/internal/core"
	"github.com/habitloop/engine/internal/learning"
	"github.com/habitloop/engine/internal/matching"
	"github.com/habitloop/engine/internal/reminders"
	"github.com/habitloop/engine/internal/routines"
	"github.com/habitloop/engine/internal/storage"
)

type fixture struct {
	db         *storage.DB
	events     *storage.EventStore
	reminders  *storage.ReminderStore
	coordinator *Coordinator
	clk        *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	events := storage.NewEventStore(db)
	transitions := storage.NewTransitionStore(db)
	remindersStore := storage.NewReminderStore(db)
	routineStore := storage.NewRoutineStore(db)
	routineReminders := storage.NewRoutineReminderStore(db)
	history := storage.NewHistoryStore(db)

	keyBuilder := contextkey.NewKeyBuilder()
	classifier := contextkey.NewClassifier()
	similarity := learning.NewSignalSimilarity()
	clk := clock.NewFake(time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC))

	transitionLearner := learning.NewTransitionLearner(events, transitions, keyBuilder, clk, learning.DefaultTransitionLearnerConfig())
	inferencer := learning.NewPatternInferencer(learning.DefaultPatternInferencerConfig())
	matchingEngine := matching.NewEngine(events, remindersStore, similarity)
	reminderScheduler := reminders.NewScheduler(transitions, remindersStore, routineStore, keyBuilder, inferencer, clk, reminders.DefaultPolicyConfig())
	routineLearner := routines.NewLearner(routineStore, routineReminders, classifier, keyBuilder, similarity, clk, routines.DefaultConfig())
	signalSelector := learning.NewSignalSelector(learning.DefaultNormalizationConfig())

	coordinator := NewCoordinator(events, remindersStore, history, transitionLearner, matchingEngine, reminderScheduler, routineLearner, signalSelector, inferencer, clk, DefaultConfig())

	return &fixture{db: db, events: events, reminders: remindersStore, coordinator: coordinator, clk: clk}
}

func weekdayMorning(personID core.PersonID, action string, ts time.Time) EventRequest {
	return EventRequest{
		PersonID: personID, ActionType: action, TimestampUtc: ts,
		Context:   core.ActionContext{TimeBucket: "morning", DayType: "weekday"},
		EventType: core.EventTypeAction,
	}
}

func TestIngestEventPersistsEvent(t *testing.T) {
	f := newFixture(t)
	req := weekdayMorning("a", "wake", f.clk.Now())

	event, _, err := f.coordinator.IngestEvent(req)
	if err != nil {
		t.Fatalf("IngestEvent: %v", err)
	}

	got, err := f.events.Get(event.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ActionType != "wake" {
		t.Errorf("actionType = %q, want wake", got.ActionType)
	}
}

func TestIngestEventLearnsTransitionAcrossTwoEvents(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.coordinator.IngestEvent(weekdayMorning("a", "wake", f.clk.Now())); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	f.clk.Advance(5 * time.Minute)
	if _, _, err := f.coordinator.IngestEvent(weekdayMorning("a", "coffee", f.clk.Now())); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	transitions := storage.NewTransitionStore(f.db)
	byFrom, err := transitions.ByFromAction("a", "wake")
	if err != nil {
		t.Fatalf("ByFromAction: %v", err)
	}
	if len(byFrom) != 1 {
		t.Fatalf("expected 1 learned transition, got %d", len(byFrom))
	}
	if byFrom[0].ToAction != "coffee" {
		t.Errorf("toAction = %q, want coffee", byFrom[0].ToAction)
	}
}

func TestIngestEventCreatesReminderFromProbabilitySignal(t *testing.T) {
	f := newFixture(t)
	value := 1.0
	req := weekdayMorning("a", "take_medication", f.clk.Now())
	req.ProbabilityValue = &value
	req.ProbabilityAction = core.ProbabilityIncrease

	event, _, err := f.coordinator.IngestEvent(req)
	if err != nil {
		t.Fatalf("IngestEvent: %v", err)
	}

	scheduled, err := f.reminders.ScheduledByPerson("a")
	if err != nil {
		t.Fatalf("ScheduledByPerson: %v", err)
	}
	if len(scheduled) != 1 {
		t.Fatalf("expected 1 reminder created from probability signal, got %d", len(scheduled))
	}
	if scheduled[0].SourceEventID == nil || *scheduled[0].SourceEventID != event.ID {
		t.Error("expected the created reminder to link back to the source event")
	}
}

func TestIngestEventHandlesStateChangeAsIntent(t *testing.T) {
	f := newFixture(t)
	req := weekdayMorning("a", "ArrivalHome", f.clk.Now())
	req.EventType = core.EventTypeStateChange

	if _, _, err := f.coordinator.IngestEvent(req); err != nil {
		t.Fatalf("IngestEvent: %v", err)
	}

	routineStore := storage.NewRoutineStore(f.db)
	open, err := routineStore.OpenForPerson("a")
	if err != nil {
		t.Fatalf("OpenForPerson: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected an open routine window, got %d", len(open))
	}
}
