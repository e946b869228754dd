package evaluator

import (
	"fmt"
	"time"

	"github.com/habitloop/engine/internal/clock"
	"github.com/habitloop/engine/internal/core"
	"github.com/habitloop/engine/internal/logging"
	"github.com/habitloop/engine/internal/storage"
)

// Notifier delivers a spoken decision to the person. Delivery failures are
// logged by the caller and never roll back the execution.
type Notifier interface {
	Notify(candidate *core.ReminderCandidate, decision *core.ReminderDecision) error
}

// MemorySink records a summary of an executed reminder in an external memory
// store. Delivery failures are logged by the caller and never roll back the
// execution.
type MemorySink interface {
	Summarize(candidate *core.ReminderCandidate, decision *core.ReminderDecision) error
}

// PipelineConfig carries the policy knobs the ExecutionPipeline reads
// outside of the Evaluator's own gating chain.
type PipelineConfig struct {
	MinimumProbabilityForExecution float64
}

// DefaultPipelineConfig returns out-of-the-box execution thresholds.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{MinimumProbabilityForExecution: 0.7}
}

// ExecutionPipeline drives a ReminderCandidate through its Scheduled ->
// Executed/Skipped transition, the final boundary before a person is
// actually interrupted.
type ExecutionPipeline struct {
	evaluator *Evaluator
	reminders *storage.ReminderStore
	history   *storage.HistoryStore
	parser    *OccurrencePatternParser
	notifier  Notifier
	memory    MemorySink
	clock     clock.Clock
	cfg       PipelineConfig
}

// NewExecutionPipeline builds an ExecutionPipeline. notifier and memory may
// be nil; both outbound calls are best-effort and their failures are never
// surfaced to the caller.
func NewExecutionPipeline(evaluator *Evaluator, reminders *storage.ReminderStore, history *storage.HistoryStore, parser *OccurrencePatternParser, notifier Notifier, memory MemorySink, clk clock.Clock, cfg PipelineConfig) *ExecutionPipeline {
	return &ExecutionPipeline{
		evaluator: evaluator, reminders: reminders, history: history, parser: parser,
		notifier: notifier, memory: memory, clock: clk, cfg: cfg,
	}
}

// ProcessResult summarizes the outcome of Process for its caller (the
// reminder-process API handler).
type ProcessResult struct {
	Executed bool
	Decision *core.ReminderDecision
	Reason   string
}

// Process implements spec.md §4.8's process(candidate, bypassDateCheck). The
// reminder and its version must already be current (freshly Get'd).
func (p *ExecutionPipeline) Process(candidate *core.ReminderCandidate, version int, bypassDateCheck bool) (*ProcessResult, error) {
	now := p.clock.Now()
	if !bypassDateCheck && (candidate.CheckAtUtc.After(now) || candidate.Status != core.StatusScheduled) {
		return &ProcessResult{Executed: false, Reason: "Not yet due"}, nil
	}

	// ReminderCandidates are always scheduler-originated in this core;
	// routine-sourced nudges live as RoutineReminders, which never pass
	// through this pipeline (their confidence moves via HandleFeedback).
	const isRoutineCandidate = false
	autoExec := candidate.Confidence >= p.cfg.MinimumProbabilityForExecution && (!isRoutineCandidate || candidate.IsSafeToAutoExecute)

	if !autoExec && !bypassDateCheck {
		return &ProcessResult{Executed: false, Reason: "Confidence below execution threshold"}, nil
	}

	decision, err := p.evaluator.Evaluate(candidate)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	if !autoExec && !decision.ShouldSpeak {
		if err := p.markSkipped(candidate, version, decision, now); err != nil {
			return nil, err
		}
		return &ProcessResult{Executed: false, Decision: decision, Reason: decision.Reason}, nil
	}

	if err := p.markExecuted(candidate, version, decision, now); err != nil {
		return nil, err
	}
	return &ProcessResult{Executed: true, Decision: decision}, nil
}

func (p *ExecutionPipeline) markExecuted(candidate *core.ReminderCandidate, version int, decision *core.ReminderDecision, now time.Time) error {
	candidate.Decision = decision
	candidate.ExecutedAtUtc = &now
	if err := candidate.TransitionStatus(core.StatusExecuted); err != nil {
		return fmt.Errorf("mark executed: %w", err)
	}

	var nextAt time.Time
	var hasNext bool
	if candidate.Occurrence != "" {
		next, ok, err := p.parser.Next(candidate.Occurrence, now)
		if err != nil {
			return fmt.Errorf("compute next occurrence: %w", err)
		}
		nextAt, hasNext = next, ok
	}
	if hasNext {
		if err := candidate.TransitionStatus(core.StatusScheduled); err != nil {
			return fmt.Errorf("reschedule: %w", err)
		}
		candidate.CheckAtUtc = nextAt
	}

	if err := p.reminders.Update(candidate, version); err != nil {
		return fmt.Errorf("persist execution: %w", err)
	}

	if decision.ShouldSpeak && p.notifier != nil {
		if err := p.notifier.Notify(candidate, decision); err != nil {
			logging.Warn("notify for reminder %s failed: %v", candidate.ID, err)
		}
	}
	if p.memory != nil {
		if err := p.memory.Summarize(candidate, decision); err != nil {
			logging.Warn("memory summary for reminder %s failed: %v", candidate.ID, err)
		}
	}

	p.recordHistory(candidate, decision, now)
	return nil
}

func (p *ExecutionPipeline) markSkipped(candidate *core.ReminderCandidate, version int, decision *core.ReminderDecision, now time.Time) error {
	candidate.Decision = decision
	if err := candidate.TransitionStatus(core.StatusSkipped); err != nil {
		return fmt.Errorf("mark skipped: %w", err)
	}
	if err := p.reminders.Update(candidate, version); err != nil {
		return fmt.Errorf("persist skip: %w", err)
	}
	p.recordHistory(candidate, decision, now)
	return nil
}

func (p *ExecutionPipeline) recordHistory(candidate *core.ReminderCandidate, decision *core.ReminderDecision, now time.Time) {
	h := &core.ExecutionHistory{
		Endpoint:            "ExecutionPipeline.Process",
		PersonID:            candidate.PersonID,
		ActionType:          candidate.SuggestedAction,
		ReminderCandidateID: candidate.ID,
		ExecutedAtUtc:       now,
	}
	if candidate.SourceEventID != nil {
		h.EventID = *candidate.SourceEventID
	}
	if decision != nil {
		h.ResponsePayload = decision.Reason
		if decision.NaturalLanguagePhrase != "" {
			h.ResponsePayload = decision.NaturalLanguagePhrase
		}
	}
	_ = p.history.Append(h)
}
