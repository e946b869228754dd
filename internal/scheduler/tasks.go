package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/habitloop/engine/internal/clock"
	"github.com/habitloop/engine/internal/core"
	"github.com/habitloop/engine/internal/learning"
	"github.com/habitloop/engine/internal/storage"
)

// MaintenanceConfig holds the knobs for the three periodic sweeps.
type MaintenanceConfig struct {
	DecayInterval      time.Duration // how often the decay pass runs
	DecayRate          float64       // confidence *= (1-rate) per pass
	DecayStaleAfter    time.Duration // a transition is eligible once this stale
	ExpirySweepInterval time.Duration
	ReminderGrace      time.Duration // a Scheduled reminder expires once overdue by this much
	RoutineSweepInterval time.Duration
}

// DefaultMaintenanceConfig returns reasonable defaults for a single-node
// deployment.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		DecayInterval:        6 * time.Hour,
		DecayRate:            0.02,
		DecayStaleAfter:      14 * 24 * time.Hour,
		ExpirySweepInterval:  30 * time.Minute,
		ReminderGrace:        24 * time.Hour,
		RoutineSweepInterval: 10 * time.Minute,
	}
}

// RegisterMaintenanceTasks wires the decay, reminder-expiry, and
// routine-window-expiry sweeps into s.
func RegisterMaintenanceTasks(s *Scheduler, transitions *storage.TransitionStore, reminders *storage.ReminderStore, routines *storage.RoutineStore, learner *learning.TransitionLearner, clk clock.Clock, cfg MaintenanceConfig) error {
	if err := s.Register(IntervalTask("confidence-decay", "Confidence decay", cfg.DecayInterval,
		decayTask(transitions, learner, clk, cfg))); err != nil {
		return err
	}
	if err := s.Register(IntervalTask("reminder-expiry", "Expire overdue reminders", cfg.ExpirySweepInterval,
		reminderExpiryTask(reminders, clk, cfg))); err != nil {
		return err
	}
	if err := s.Register(IntervalTask("routine-window-expiry", "Close stale routine windows", cfg.RoutineSweepInterval,
		routineWindowExpiryTask(routines, clk))); err != nil {
		return err
	}
	return nil
}

// decayTask multiplicatively decays confidence on transitions that have not
// been observed recently, so stale habits fade instead of staying pinned at
// their last-observed strength.
func decayTask(transitions *storage.TransitionStore, learner *learning.TransitionLearner, clk clock.Clock, cfg MaintenanceConfig) TaskHandler {
	return func(ctx context.Context) error {
		cutoff := clk.Now().Add(-cfg.DecayStaleAfter)
		stale, err := transitions.ListStale(cutoff)
		if err != nil {
			return fmt.Errorf("list stale transitions: %w", err)
		}

		for _, t := range stale {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			current, version, err := transitions.Get(t.ID)
			if err != nil {
				return fmt.Errorf("reload transition %s: %w", t.ID, err)
			}
			learner.ApplyDecay(current, cfg.DecayRate)
			if err := transitions.Update(current, version); err != nil && err != core.ErrConcurrentUpdate {
				return fmt.Errorf("decay transition %s: %w", t.ID, err)
			}
		}
		return nil
	}
}

// reminderExpiryTask moves long-overdue Scheduled candidates to Expired so
// they stop being offered to the matching and evaluation passes.
func reminderExpiryTask(reminders *storage.ReminderStore, clk clock.Clock, cfg MaintenanceConfig) TaskHandler {
	return func(ctx context.Context) error {
		now := clk.Now()
		overdue, err := reminders.Expirable(now, cfg.ReminderGrace)
		if err != nil {
			return fmt.Errorf("list expirable reminders: %w", err)
		}

		for _, r := range overdue {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			current, version, err := reminders.Get(r.ID)
			if err != nil {
				return fmt.Errorf("reload reminder %s: %w", r.ID, err)
			}
			if err := current.TransitionStatus(core.StatusExpired); err != nil {
				continue // already moved on by a concurrent process
			}
			if err := reminders.Update(current, version); err != nil && err != core.ErrConcurrentUpdate {
				return fmt.Errorf("expire reminder %s: %w", r.ID, err)
			}
		}
		return nil
	}
}

// routineWindowExpiryTask closes observation windows whose end time has
// passed, keeping OpenForPerson cheap and IsObservationWindowOpen checks
// consistent with a closed routine's later re-opening.
func routineWindowExpiryTask(routines *storage.RoutineStore, clk clock.Clock) TaskHandler {
	return func(ctx context.Context) error {
		now := clk.Now()
		expired, err := routines.ExpiredWindows(now)
		if err != nil {
			return fmt.Errorf("list expired routine windows: %w", err)
		}

		for _, r := range expired {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			r.CloseObservationWindow()
			if err := routines.Upsert(r); err != nil {
				return fmt.Errorf("close expired window for routine %s: %w", r.ID, err)
			}
		}
		return nil
	}
}
