package routines

import (
	"testing"
	"time"

	"github.com/habitloop/engine/internal/clock"
	"github.com/habitloop/engine/internal/contextkey"
	"github.com/habitloop/engine/internal/core"
	"github.com/habitloop/engine/internal/learning"
	"github.com/habitloop/engine/internal/storage"
)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newLearner(t *testing.T, clk clock.Clock) (*Learner, *storage.RoutineStore, *storage.RoutineReminderStore) {
	t.Helper()
	db := newTestDB(t)
	routines := storage.NewRoutineStore(db)
	rrStore := storage.NewRoutineReminderStore(db)
	l := NewLearner(routines, rrStore, contextkey.NewClassifier(), contextkey.NewKeyBuilder(), learning.NewSignalSimilarity(), clk, DefaultConfig())
	return l, routines, rrStore
}

// TestRoutineMutualExclusion exercises S4 from spec.md §8.
func TestRoutineMutualExclusion(t *testing.T) {
	base := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	clk := clock.NewFake(base)
	l, routines, _ := newLearner(t, clk)

	person := core.PersonID("a")

	// Seed two pre-existing routines with open windows.
	mustOpen := func(intent string, at time.Time) {
		r := &core.Routine{ID: core.NewRoutineID(), PersonID: person, IntentType: intent, CreatedAtUtc: at, ObservationWindowMinutes: 60}
		r.OpenObservationWindow(at, 60, "weekday*evening*unknown")
		if err := routines.Upsert(r); err != nil {
			t.Fatalf("seed upsert: %v", err)
		}
	}
	mustOpen("Cooking", base.Add(-10*time.Minute))
	mustOpen("Leaving", base.Add(-5*time.Minute))

	event := &core.ActionEvent{
		ID: core.NewEventID(), PersonID: person, ActionType: "ArrivalHome",
		TimestampUtc: base, EventType: core.EventTypeStateChange,
		Context: core.ActionContext{TimeBucket: "evening", DayType: "weekday"},
	}

	routine, err := l.HandleIntent(event)
	if err != nil {
		t.Fatalf("HandleIntent: %v", err)
	}

	if !routine.IsObservationWindowOpen(base) {
		t.Fatal("expected ArrivalHome routine window to be open")
	}
	wantEnd := base.Add(60 * time.Minute)
	if routine.ObservationWindowEndsAtUtc == nil || !routine.ObservationWindowEndsAtUtc.Equal(wantEnd) {
		t.Fatalf("window end = %v, want %v", routine.ObservationWindowEndsAtUtc, wantEnd)
	}

	open, err := routines.OpenForPerson(person)
	if err != nil {
		t.Fatalf("OpenForPerson: %v", err)
	}
	openCount := 0
	for _, r := range open {
		if r.IsObservationWindowOpen(base) {
			openCount++
		}
	}
	if openCount != 1 {
		t.Fatalf("expected exactly one open window, got %d", openCount)
	}
}

func TestProcessObservedEventCreatesRoutineReminder(t *testing.T) {
	base := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	clk := clock.NewFake(base)
	l, _, rrStore := newLearner(t, clk)
	person := core.PersonID("a")

	intent := &core.ActionEvent{
		ID: core.NewEventID(), PersonID: person, ActionType: "ArrivalHome",
		TimestampUtc: base, EventType: core.EventTypeStateChange,
		Context: core.ActionContext{TimeBucket: "evening", DayType: "weekday"},
	}
	routine, err := l.HandleIntent(intent)
	if err != nil {
		t.Fatalf("HandleIntent: %v", err)
	}

	observed := &core.ActionEvent{
		ID: core.NewEventID(), PersonID: person, ActionType: "TurnOnLights",
		TimestampUtc: base.Add(5 * time.Minute), EventType: core.EventTypeAction,
		Context: core.ActionContext{TimeBucket: "evening", DayType: "weekday"},
	}
	if err := l.ProcessObservedEvent(observed, nil, nil); err != nil {
		t.Fatalf("ProcessObservedEvent: %v", err)
	}

	rr, err := rrStore.ByRoutineAndAction(routine.ID, "TurnOnLights")
	if err != nil {
		t.Fatalf("ByRoutineAndAction: %v", err)
	}
	if rr == nil {
		t.Fatal("expected routine reminder to be created")
	}
	if rr.ObservationCount != 1 {
		t.Errorf("observationCount = %d, want 1", rr.ObservationCount)
	}
}
