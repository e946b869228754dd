package storage

import (
	"testing"
	"time"

	"github.com/habitloop/engine/internal/core"
)

// testDB opens an in-memory, migrated database for a single test.
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

func TestDBOpenInMemory(t *testing.T) {
	db := testDB(t)
	if db.conn == nil {
		t.Fatal("conn should not be nil")
	}
}

func TestEventStoreInsertAndGet(t *testing.T) {
	db := testDB(t)
	store := NewEventStore(db)

	prob := 0.8
	e := &core.ActionEvent{
		ID:                core.NewEventID(),
		PersonID:          "a",
		ActionType:        "leave_house",
		TimestampUtc:      time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC),
		Context:           core.ActionContext{TimeBucket: "morning", DayType: "weekday"},
		EventType:         core.EventTypeAction,
		ProbabilityValue:  &prob,
		ProbabilityAction: core.ProbabilityIncrease,
		CustomData:        map[string]string{"deviceId": "phone-1"},
		CreatedAtUtc:      time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC),
	}
	if err := store.Insert(e); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.Get(e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ActionType != e.ActionType || got.Context.TimeBucket != "morning" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if got.ProbabilityValue == nil || *got.ProbabilityValue != prob {
		t.Fatalf("probability value not preserved: %+v", got.ProbabilityValue)
	}
	if got.CustomData["deviceId"] != "phone-1" {
		t.Fatalf("custom data not preserved: %+v", got.CustomData)
	}
}

func TestEventStoreGetNotFound(t *testing.T) {
	db := testDB(t)
	store := NewEventStore(db)
	if _, err := store.Get("does-not-exist"); err != core.ErrEventNotFound {
		t.Fatalf("err = %v, want ErrEventNotFound", err)
	}
}

func TestEventStoreSetRelatedReminder(t *testing.T) {
	db := testDB(t)
	store := NewEventStore(db)

	e := &core.ActionEvent{
		ID: core.NewEventID(), PersonID: "a", ActionType: "leave_house",
		TimestampUtc: time.Now().UTC(), CreatedAtUtc: time.Now().UTC(),
	}
	if err := store.Insert(e); err != nil {
		t.Fatalf("insert: %v", err)
	}

	reminderID := core.NewReminderID()
	if err := store.SetRelatedReminder(e.ID, reminderID); err != nil {
		t.Fatalf("set related reminder: %v", err)
	}

	got, err := store.Get(e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RelatedReminderID == nil || *got.RelatedReminderID != reminderID {
		t.Fatalf("related reminder id not persisted: %+v", got.RelatedReminderID)
	}
}

func TestEventStoreMostRecentBefore(t *testing.T) {
	db := testDB(t)
	store := NewEventStore(db)

	base := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	older := &core.ActionEvent{ID: core.NewEventID(), PersonID: "a", ActionType: "wake", TimestampUtc: base, CreatedAtUtc: base}
	newer := &core.ActionEvent{ID: core.NewEventID(), PersonID: "a", ActionType: "shower", TimestampUtc: base.Add(10 * time.Minute), CreatedAtUtc: base}
	if err := store.Insert(older); err != nil {
		t.Fatalf("insert older: %v", err)
	}
	if err := store.Insert(newer); err != nil {
		t.Fatalf("insert newer: %v", err)
	}

	got, err := store.MostRecentBefore("a", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("most recent before: %v", err)
	}
	if got == nil || got.ID != newer.ID {
		t.Fatalf("expected newer event, got %+v", got)
	}
}

func TestTransitionStoreCreateUpdateConcurrency(t *testing.T) {
	db := testDB(t)
	store := NewTransitionStore(db)

	now := time.Now().UTC()
	tr := &core.ActionTransition{
		ID: core.NewTransitionID(), PersonID: "a", FromAction: "wake", ToAction: "shower",
		ContextBucket: "morning:weekday", OccurrenceCount: 1, Confidence: 0.5,
		LastObservedUtc: now, CreatedAtUtc: now, UpdatedAtUtc: now,
	}
	if err := store.Create(tr); err != nil {
		t.Fatalf("create: %v", err)
	}

	loaded, version, err := store.Get(tr.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if version != 1 {
		t.Fatalf("version = %d, want 1", version)
	}

	loaded.OccurrenceCount++
	loaded.Confidence = 0.6
	if err := store.Update(loaded, version); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := store.Update(loaded, version); err != core.ErrConcurrentUpdate {
		t.Fatalf("stale update err = %v, want ErrConcurrentUpdate", err)
	}

	byKey, _, err := store.ByKey(tr.Key())
	if err != nil {
		t.Fatalf("by key: %v", err)
	}
	if byKey.OccurrenceCount != 2 {
		t.Fatalf("occurrence count = %d, want 2", byKey.OccurrenceCount)
	}
}

func TestReminderStoreCreateUpdateAndQueries(t *testing.T) {
	db := testDB(t)
	store := NewReminderStore(db)

	now := time.Now().UTC()
	r := core.NewReminderCandidate(core.NewReminderID(), "a", "take_meds", now.Add(time.Hour), now)
	if err := store.Create(r); err != nil {
		t.Fatalf("create: %v", err)
	}

	loaded, version, err := store.Get(r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != core.StatusScheduled {
		t.Fatalf("status = %v, want Scheduled", loaded.Status)
	}

	scheduled, err := store.ScheduledByPerson("a")
	if err != nil {
		t.Fatalf("scheduled by person: %v", err)
	}
	if len(scheduled) != 1 {
		t.Fatalf("expected 1 scheduled reminder, got %d", len(scheduled))
	}

	if err := loaded.TransitionStatus(core.StatusExecuted); err != nil {
		t.Fatalf("transition status: %v", err)
	}
	executedAt := now.Add(2 * time.Hour)
	loaded.ExecutedAtUtc = &executedAt
	if err := store.Update(loaded, version); err != nil {
		t.Fatalf("update: %v", err)
	}

	count, err := store.CountExecutedSince("a", now)
	if err != nil {
		t.Fatalf("count executed since: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	if err := store.Update(loaded, version); err != core.ErrConcurrentUpdate {
		t.Fatalf("stale update err = %v, want ErrConcurrentUpdate", err)
	}
}

func TestReminderStoreGetNotFound(t *testing.T) {
	db := testDB(t)
	store := NewReminderStore(db)
	if _, _, err := store.Get("does-not-exist"); err != core.ErrReminderNotFound {
		t.Fatalf("err = %v, want ErrReminderNotFound", err)
	}
}

func TestRoutineStoreUpsertAndQueries(t *testing.T) {
	db := testDB(t)
	store := NewRoutineStore(db)

	now := time.Now().UTC()
	r := &core.Routine{ID: core.NewRoutineID(), PersonID: "a", IntentType: "getting_ready", CreatedAtUtc: now}
	if err := store.Upsert(r); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	r.OpenObservationWindow(now, 60, "morning:weekday")
	if err := store.Upsert(r); err != nil {
		t.Fatalf("upsert with open window: %v", err)
	}

	open, err := store.OpenForPerson("a")
	if err != nil {
		t.Fatalf("open for person: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open routine, got %d", len(open))
	}

	all, err := store.ByPerson("a")
	if err != nil {
		t.Fatalf("by person: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 routine total, got %d", len(all))
	}

	byIntent, err := store.ByIntent("a", "getting_ready")
	if err != nil {
		t.Fatalf("by intent: %v", err)
	}
	if byIntent == nil || !byIntent.IsObservationWindowOpen(now.Add(time.Minute)) {
		t.Fatalf("expected open observation window")
	}

	byIntent.CloseObservationWindow()
	if err := store.Upsert(byIntent); err != nil {
		t.Fatalf("upsert after close: %v", err)
	}
	open, err = store.OpenForPerson("a")
	if err != nil {
		t.Fatalf("open for person after close: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected 0 open routines after close, got %d", len(open))
	}
}

func TestRoutineReminderStoreUpsertAndByRoutine(t *testing.T) {
	db := testDB(t)
	store := NewRoutineReminderStore(db)

	rr := &core.RoutineReminder{
		ID: core.NewRoutineReminderID(), RoutineID: "routine-1", PersonID: "a",
		SuggestedAction: "brush_teeth", Confidence: 0.5, CreatedAtUtc: time.Now().UTC(),
	}
	if err := store.Upsert(rr); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	byRoutine, err := store.ByRoutine("routine-1")
	if err != nil {
		t.Fatalf("by routine: %v", err)
	}
	if len(byRoutine) != 1 {
		t.Fatalf("expected 1 routine reminder, got %d", len(byRoutine))
	}

	loaded, err := store.Get(rr.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	loaded.IncreaseConfidence(0.1)
	if err := store.Upsert(loaded); err != nil {
		t.Fatalf("upsert after increase: %v", err)
	}

	again, err := store.ByRoutineAndAction("routine-1", "brush_teeth")
	if err != nil {
		t.Fatalf("by routine and action: %v", err)
	}
	if again == nil || again.Confidence <= 0.5 {
		t.Fatalf("expected confidence above 0.5, got %+v", again)
	}
}

func TestPreferencesStoreRoundTrip(t *testing.T) {
	db := testDB(t)
	store := NewPreferencesStore(db)

	if _, err := store.Get("a"); err != core.ErrPreferencesNotFound {
		t.Fatalf("err = %v, want ErrPreferencesNotFound", err)
	}

	p := core.DefaultUserReminderPreferences("a")
	p.DailyLimit = 7
	if err := store.Upsert(&p); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.Get("a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DailyLimit != 7 {
		t.Fatalf("daily limit = %d, want 7", got.DailyLimit)
	}
}

func TestCooldownStoreRoundTrip(t *testing.T) {
	db := testDB(t)
	store := NewCooldownStore(db)

	got, err := store.Get("a", "leave_house")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no cooldown yet, got %+v", got)
	}

	c := &core.ReminderCooldown{
		PersonID: "a", ActionType: "leave_house",
		SuppressedUntilUtc: time.Now().UTC().Add(time.Hour), Reason: "snoozed",
	}
	if err := store.Set(c); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err = store.Get("a", "leave_house")
	if err != nil {
		t.Fatalf("get after set: %v", err)
	}
	if got == nil || got.Reason != "snoozed" {
		t.Fatalf("cooldown not persisted: %+v", got)
	}
}

func TestConfigStoreRoundTrip(t *testing.T) {
	db := testDB(t)
	store := NewConfigStore(db)

	if _, err := store.Get("minimumConfidence", "Policy"); err != ErrConfigNotFound {
		t.Fatalf("err = %v, want ErrConfigNotFound", err)
	}

	if err := store.Set("minimumConfidence", "Policy", "0.4"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set("maxInterruptionCost", "Policy", "0.7"); err != nil {
		t.Fatalf("set: %v", err)
	}

	v, err := store.Get("minimumConfidence", "Policy")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "0.4" {
		t.Fatalf("value = %q, want 0.4", v)
	}

	all, err := store.AllInCategory("Policy")
	if err != nil {
		t.Fatalf("all in category: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(all))
	}

	if err := store.Set("minimumConfidence", "Policy", "0.5"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, err = store.Get("minimumConfidence", "Policy")
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if v != "0.5" {
		t.Fatalf("value after overwrite = %q, want 0.5", v)
	}
}

func TestHistoryStoreAppend(t *testing.T) {
	db := testDB(t)
	store := NewHistoryStore(db)

	h := &core.ExecutionHistory{
		Endpoint: "/api/v1/reminders/r1/process", RequestPayload: "{}", ResponsePayload: "{}",
		ExecutedAtUtc: time.Now().UTC(), PersonID: "a", ActionType: "take_meds",
	}
	if err := store.Append(h); err != nil {
		t.Fatalf("append: %v", err)
	}
	if h.ID == "" {
		t.Fatal("expected ID to be assigned")
	}
}
