package core

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to ReminderStatus
		want     bool
	}{
		{StatusScheduled, StatusExecuted, true},
		{StatusScheduled, StatusSkipped, true},
		{StatusScheduled, StatusExpired, true},
		{StatusScheduled, StatusScheduled, false},
		{StatusExecuted, StatusScheduled, true},
		{StatusExecuted, StatusSkipped, false},
		{StatusSkipped, StatusScheduled, false},
		{StatusExpired, StatusExecuted, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestReminderCandidateTransitionStatus(t *testing.T) {
	now := time.Now().UTC()
	r := NewReminderCandidate(NewReminderID(), "a", "take_meds", now.Add(time.Hour), now)

	if r.Status != StatusScheduled {
		t.Fatalf("new candidate status = %v, want Scheduled", r.Status)
	}
	if err := r.TransitionStatus(StatusExecuted); err != nil {
		t.Fatalf("Scheduled -> Executed: %v", err)
	}
	if err := r.TransitionStatus(StatusSkipped); err != ErrInvalidStatusTransition {
		t.Fatalf("Executed -> Skipped err = %v, want ErrInvalidStatusTransition", err)
	}
	if err := r.TransitionStatus(StatusScheduled); err != nil {
		t.Fatalf("Executed -> Scheduled (reschedule): %v", err)
	}
}

func TestReminderCandidateConfidenceClamping(t *testing.T) {
	now := time.Now().UTC()
	r := NewReminderCandidate(NewReminderID(), "a", "take_meds", now, now)

	r.IncreaseConfidence(0.9)
	r.IncreaseConfidence(0.9)
	if r.Confidence != 1 {
		t.Fatalf("confidence = %v, want clamped to 1", r.Confidence)
	}

	r.DecreaseConfidence(1.0)
	if r.Confidence != 0 {
		t.Fatalf("confidence after full decrease = %v, want 0", r.Confidence)
	}
}

func TestReminderCandidateApplyProbabilitySignal(t *testing.T) {
	now := time.Now().UTC()
	r := NewReminderCandidate(NewReminderID(), "a", "take_meds", now, now)
	r.Confidence = 0.5

	r.ApplyProbabilitySignal(ProbabilityIncrease, 0.2)
	if r.Confidence != 0.7 {
		t.Fatalf("confidence after increase = %v, want 0.7", r.Confidence)
	}

	r.ApplyProbabilitySignal(ProbabilityDecrease, 0.5)
	if r.Confidence != 0.35 {
		t.Fatalf("confidence after decrease = %v, want 0.35", r.Confidence)
	}
}

func TestRoutineObservationWindow(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	r := &Routine{ID: NewRoutineID(), PersonID: "a", IntentType: "getting_ready", CreatedAtUtc: now}

	if r.IsObservationWindowOpen(now) {
		t.Fatal("window should be closed before it is opened")
	}

	r.OpenObservationWindow(now, 30, "morning:weekday")
	if !r.IsObservationWindowOpen(now) {
		t.Fatal("window should be open at its start instant")
	}
	if !r.IsObservationWindowOpen(now.Add(29 * time.Minute)) {
		t.Fatal("window should still be open just before it ends")
	}
	if r.IsObservationWindowOpen(now.Add(30 * time.Minute)) {
		t.Fatal("window should be closed at its end instant (half-open interval)")
	}

	r.CloseObservationWindow()
	if r.IsObservationWindowOpen(now) {
		t.Fatal("window should be closed after CloseObservationWindow")
	}
}

func TestRoutineReminderConfidenceClamping(t *testing.T) {
	rr := &RoutineReminder{ID: NewRoutineReminderID(), Confidence: 0.9}
	rr.IncreaseConfidence(0.5)
	if rr.Confidence != 1 {
		t.Fatalf("confidence = %v, want clamped to 1", rr.Confidence)
	}
	rr.DecreaseConfidence(2)
	if rr.Confidence != 0 {
		t.Fatalf("confidence = %v, want clamped to 0", rr.Confidence)
	}
}
