package matching

import (
	"testing"
	"time"

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

func TestStateChangeEventsNeverMatch(t *testing.T) {
	db := newTestDB(t)
	events := storage.NewEventStore(db)
	reminders := storage.NewReminderStore(db)
	engine := NewEngine(events, reminders, learning.NewSignalSimilarity())

	person := core.PersonID("a")
	ts := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)
	e := &core.ActionEvent{
		ID: core.NewEventID(), PersonID: person, ActionType: "ArrivalHome",
		TimestampUtc: ts, EventType: core.EventTypeStateChange,
		Context: core.ActionContext{TimeBucket: "morning", DayType: "weekday"},
	}
	if err := events.Insert(e); err != nil {
		t.Fatalf("insert: %v", err)
	}

	r := core.NewReminderCandidate(core.NewReminderID(), person, "ArrivalHome", ts, ts)
	if err := reminders.Create(r); err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	got, err := engine.FindMatchingReminders(e.ID, DefaultCriteria(), nil)
	if err != nil {
		t.Fatalf("FindMatchingReminders: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no matches for StateChange event, got %d", len(got))
	}
}

func TestActionAndTimeMatch(t *testing.T) {
	db := newTestDB(t)
	events := storage.NewEventStore(db)
	reminders := storage.NewReminderStore(db)
	engine := NewEngine(events, reminders, learning.NewSignalSimilarity())

	person := core.PersonID("a")
	ts := time.Date(2025, 3, 10, 7, 10, 0, 0, time.UTC)
	e := &core.ActionEvent{
		ID: core.NewEventID(), PersonID: person, ActionType: "coffee",
		TimestampUtc: ts, EventType: core.EventTypeAction,
		Context: core.ActionContext{TimeBucket: "morning", DayType: "weekday"},
	}
	if err := events.Insert(e); err != nil {
		t.Fatalf("insert: %v", err)
	}

	r := core.NewReminderCandidate(core.NewReminderID(), person, "coffee", ts.Add(-10*time.Minute), ts)
	if err := reminders.Create(r); err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	got, err := engine.FindMatchingReminders(e.ID, DefaultCriteria(), nil)
	if err != nil {
		t.Fatalf("FindMatchingReminders: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}
}

// TestSignalSimilarityRejectsOtherwiseMatchingReminder exercises S6.
func TestSignalSimilarityRejectsOtherwiseMatchingReminder(t *testing.T) {
	db := newTestDB(t)
	events := storage.NewEventStore(db)
	reminders := storage.NewReminderStore(db)
	engine := NewEngine(events, reminders, learning.NewSignalSimilarity())

	person := core.PersonID("a")
	ts := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)
	e := &core.ActionEvent{
		ID: core.NewEventID(), PersonID: person, ActionType: "coffee",
		TimestampUtc: ts, EventType: core.EventTypeAction,
		Context: core.ActionContext{TimeBucket: "morning", DayType: "weekday"},
	}
	if err := events.Insert(e); err != nil {
		t.Fatalf("insert: %v", err)
	}

	r := core.NewReminderCandidate(core.NewReminderID(), person, "coffee", ts, ts)
	r.SignalProfile = core.SignalProfile{"presence.kitchen": {Weight: 1.0, NormalizedValue: 1.0}}
	if err := reminders.Create(r); err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	eventProfile := core.SignalProfile{"presence.bedroom": {Weight: 1.0, NormalizedValue: 1.0}}
	got, err := engine.FindMatchingReminders(e.ID, DefaultCriteria(), eventProfile)
	if err != nil {
		t.Fatalf("FindMatchingReminders: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected signal-similarity mismatch to drop the reminder, got %d matches", len(got))
	}
}
