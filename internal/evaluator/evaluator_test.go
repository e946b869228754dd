package evaluator

import (
	"testing"
	"time"

	"github.com/habitloop/engine/internal/clock"
	"github.com/habitloop/engine/internal/core"
	"github.com/habitloop/engine/internal/storage"
)

type evalFixture struct {
	db           *storage.DB
	preferences  *storage.PreferencesStore
	cooldowns    *storage.CooldownStore
	reminders    *storage.ReminderStore
	events       *storage.EventStore
	transitions  *storage.TransitionStore
	config       *storage.ConfigStore
	history      *storage.HistoryStore
	interruption *InterruptionCostCatalogue
	clk          *clock.Fake
}

func newEvalFixture(t *testing.T) *evalFixture {
	t.Helper()
	db, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	config := storage.NewConfigStore(db)
	catalogue := NewInterruptionCostCatalogue(config)
	if err := catalogue.Seed(); err != nil {
		t.Fatalf("seed: %v", err)
	}

	f := &evalFixture{
		db:           db,
		preferences:  storage.NewPreferencesStore(db),
		cooldowns:    storage.NewCooldownStore(db),
		reminders:    storage.NewReminderStore(db),
		events:       storage.NewEventStore(db),
		transitions:  storage.NewTransitionStore(db),
		config:       config,
		history:      storage.NewHistoryStore(db),
		interruption: catalogue,
		clk:          clock.NewFake(time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)),
	}

	prefs := core.DefaultUserReminderPreferences("a")
	if err := f.preferences.Upsert(&prefs); err != nil {
		t.Fatalf("seed preferences: %v", err)
	}
	return f
}

func (f *evalFixture) newEvaluator() *Evaluator {
	return NewEvaluator(f.preferences, f.cooldowns, f.reminders, f.events, f.transitions, f.interruption, nil, f.clk, 0.7)
}

func newCandidate(personID core.PersonID, action string, checkAt time.Time, confidence float64) *core.ReminderCandidate {
	c := core.NewReminderCandidate(core.NewReminderID(), personID, action, checkAt, checkAt)
	c.Confidence = confidence
	return c
}

func TestEvaluateSpeaksWhenEligible(t *testing.T) {
	f := newEvalFixture(t)
	ev := f.newEvaluator()
	candidate := newCandidate("a", "coffee", f.clk.Now(), 0.6)

	decision, err := ev.Evaluate(candidate)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !decision.ShouldSpeak {
		t.Fatalf("expected ShouldSpeak, got reason %q", decision.Reason)
	}
	if decision.ConfidenceLevel != 0.7 {
		t.Errorf("confidenceLevel = %v, want fallback 0.7", decision.ConfidenceLevel)
	}
}

func TestEvaluateSkipsWhenPreferencesDisabled(t *testing.T) {
	f := newEvalFixture(t)
	disabled := core.DefaultUserReminderPreferences("b")
	disabled.Enabled = false
	if err := f.preferences.Upsert(&disabled); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ev := f.newEvaluator()
	candidate := newCandidate("b", "coffee", f.clk.Now(), 0.6)
	decision, err := ev.Evaluate(candidate)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.ShouldSpeak {
		t.Fatal("expected ShouldSpeak=false")
	}
}

func TestEvaluateSkipsWhenCooldownActive(t *testing.T) {
	f := newEvalFixture(t)
	if err := f.cooldowns.Set(&core.ReminderCooldown{
		PersonID: "a", ActionType: "coffee", SuppressedUntilUtc: f.clk.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("seed cooldown: %v", err)
	}

	ev := f.newEvaluator()
	candidate := newCandidate("a", "coffee", f.clk.Now(), 0.6)
	decision, err := ev.Evaluate(candidate)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.ShouldSpeak {
		t.Fatal("expected ShouldSpeak=false under cooldown")
	}
}

func TestEvaluateSkipsWhenDailyLimitReached(t *testing.T) {
	f := newEvalFixture(t)
	limited := core.DefaultUserReminderPreferences("c")
	limited.DailyLimit = 1
	if err := f.preferences.Upsert(&limited); err != nil {
		t.Fatalf("seed: %v", err)
	}

	executedAt := f.clk.Now().Add(-time.Hour)
	prior := newCandidate("c", "coffee", executedAt, 0.9)
	prior.Status = core.StatusExecuted
	prior.ExecutedAtUtc = &executedAt
	if err := f.reminders.Create(prior); err != nil {
		t.Fatalf("seed executed reminder: %v", err)
	}

	ev := f.newEvaluator()
	candidate := newCandidate("c", "tea", f.clk.Now(), 0.6)
	decision, err := ev.Evaluate(candidate)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.ShouldSpeak {
		t.Fatal("expected ShouldSpeak=false at daily limit")
	}
}

func TestEvaluateSkipsWhenInterruptionCostTooHigh(t *testing.T) {
	f := newEvalFixture(t)
	event := &core.ActionEvent{
		ID: core.NewEventID(), PersonID: "a", ActionType: "driving_start",
		TimestampUtc: f.clk.Now().Add(-time.Minute),
		Context: core.ActionContext{
			TimeBucket: "morning", DayType: "weekday",
			StateSignals: map[string]string{"driving": "true"},
		},
		EventType: core.EventTypeAction, CreatedAtUtc: f.clk.Now(),
	}
	if err := f.events.Insert(event); err != nil {
		t.Fatalf("seed event: %v", err)
	}

	ev := f.newEvaluator()
	candidate := newCandidate("a", "coffee", f.clk.Now(), 0.6)
	decision, err := ev.Evaluate(candidate)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.ShouldSpeak {
		t.Fatal("expected ShouldSpeak=false while driving")
	}
}

func TestProcessExecutesDueCandidate(t *testing.T) {
	f := newEvalFixture(t)
	ev := f.newEvaluator()
	pipeline := NewExecutionPipeline(ev, f.reminders, f.history, NewOccurrencePatternParser(), nil, nil, f.clk, DefaultPipelineConfig())

	candidate := newCandidate("a", "coffee", f.clk.Now().Add(-time.Minute), 0.9)
	if err := f.reminders.Create(candidate); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := pipeline.Process(candidate, 1, false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !result.Executed {
		t.Fatalf("expected executed, reason=%q", result.Reason)
	}
	got, _, err := f.reminders.Get(candidate.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != core.StatusExecuted {
		t.Errorf("status = %v, want Executed", got.Status)
	}
}

func TestProcessNotYetDue(t *testing.T) {
	f := newEvalFixture(t)
	ev := f.newEvaluator()
	pipeline := NewExecutionPipeline(ev, f.reminders, f.history, NewOccurrencePatternParser(), nil, nil, f.clk, DefaultPipelineConfig())

	candidate := newCandidate("a", "coffee", f.clk.Now().Add(time.Hour), 0.9)
	if err := f.reminders.Create(candidate); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := pipeline.Process(candidate, 1, false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Executed {
		t.Fatal("expected not executed")
	}
	if result.Reason != "Not yet due" {
		t.Errorf("reason = %q, want %q", result.Reason, "Not yet due")
	}
}

func TestProcessReschedulesRecurringOccurrence(t *testing.T) {
	f := newEvalFixture(t)
	ev := f.newEvaluator()
	pipeline := NewExecutionPipeline(ev, f.reminders, f.history, NewOccurrencePatternParser(), nil, nil, f.clk, DefaultPipelineConfig())

	candidate := newCandidate("a", "coffee", f.clk.Now().Add(-time.Minute), 0.9)
	candidate.Occurrence = "daily around 09:00"
	if err := f.reminders.Create(candidate); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := pipeline.Process(candidate, 1, false); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _, err := f.reminders.Get(candidate.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != core.StatusScheduled {
		t.Errorf("status = %v, want rescheduled to Scheduled", got.Status)
	}
	if !got.CheckAtUtc.After(f.clk.Now()) {
		t.Errorf("checkAtUtc = %v, want after now", got.CheckAtUtc)
	}
}

func TestProcessLowConfidenceNonRoutineWithoutBypassIsNotExecuted(t *testing.T) {
	f := newEvalFixture(t)
	ev := f.newEvaluator()
	pipeline := NewExecutionPipeline(ev, f.reminders, f.history, NewOccurrencePatternParser(), nil, nil, f.clk, DefaultPipelineConfig())

	candidate := newCandidate("a", "coffee", f.clk.Now().Add(-time.Minute), 0.1)
	if err := f.reminders.Create(candidate); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := pipeline.Process(candidate, 1, false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Executed {
		t.Fatal("expected not executed for low-confidence non-routine candidate without bypass")
	}
}
