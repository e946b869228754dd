// Package policy exposes the Policy and MatchingPolicy configuration
// categories as typed structs, cached with a TTL over the configuration
// store so hot paths don't hit the database on every read.
package policy

import (
	"strconv"
	"sync"
	"time"

	"github.com/habitloop/engine/internal/clock"
	"github.com/habitloop/engine/internal/storage"
)

// Policy mirrors the Policy configuration category named in spec.md §6.
type Policy struct {
	MinimumOccurrences              int
	MinimumConfidence               float64
	DefaultReminderConfidence       float64
	ConfidenceStepValue             float64
	MinimumProbabilityForExecution  float64
	ReminderMatchTimeOffsetMinutes  int
	MaxInterruptionCost             float64
	MinDailyEvidence                int
	MinWeeklyEvidence               int
	SignalSelectionLimit            int
	SignalSimilarityThreshold       float64
	SignalProfileUpdateAlpha        float64
	SignalSelectionEnabled          bool
	StoreEventSignalSnapshot        bool
	SignalMismatchPenalty           float64
	RoutineObservationWindowMinutes int
}

// Default returns the spec.md §6 out-of-the-box Policy values.
func Default() Policy {
	return Policy{
		MinimumOccurrences:              3,
		MinimumConfidence:               0.4,
		DefaultReminderConfidence:       0.5,
		ConfidenceStepValue:             0.1,
		MinimumProbabilityForExecution:  0.7,
		ReminderMatchTimeOffsetMinutes:  30,
		MaxInterruptionCost:             0.7,
		MinDailyEvidence:                3,
		MinWeeklyEvidence:               3,
		SignalSelectionLimit:            10,
		SignalSimilarityThreshold:       0.70,
		SignalProfileUpdateAlpha:        0.10,
		SignalSelectionEnabled:          true,
		StoreEventSignalSnapshot:        false,
		SignalMismatchPenalty:           0.0,
		RoutineObservationWindowMinutes: 60,
	}
}

// MatchingPolicy mirrors the MatchingPolicy configuration category.
type MatchingPolicy struct {
	MatchByActionType    bool
	MatchByDayType       bool
	MatchByPeoplePresent bool
	MatchByStateSignals  bool
	MatchByTimeBucket    bool
	MatchByLocation      bool
}

// DefaultMatchingPolicy returns the spec.md §6 out-of-the-box matching criteria.
func DefaultMatchingPolicy() MatchingPolicy {
	return MatchingPolicy{
		MatchByActionType:    true,
		MatchByDayType:       true,
		MatchByPeoplePresent: true,
		MatchByStateSignals:  true,
		MatchByTimeBucket:    false,
		MatchByLocation:      false,
	}
}

const (
	categoryPolicy  = "Policy"
	categoryMatching = "MatchingPolicy"
)

// Provider loads Policy/MatchingPolicy values from the configuration store,
// falling back to defaults for unset keys, and caches the result for TTL.
type Provider struct {
	config *storage.ConfigStore
	clock  clock.Clock
	ttl    time.Duration

	mu              sync.Mutex
	policy          Policy
	matching        MatchingPolicy
	validUntilUtc   time.Time
}

// NewProvider builds a Provider. A zero ttl disables caching (every read
// hits the store).
func NewProvider(config *storage.ConfigStore, clk clock.Clock, ttl time.Duration) *Provider {
	return &Provider{config: config, clock: clk, ttl: ttl}
}

// Policy returns the current Policy values, refreshing from the store if
// the cache has expired.
func (p *Provider) Policy() (Policy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.refreshLocked(); err != nil {
		return Policy{}, err
	}
	return p.policy, nil
}

// MatchingPolicy returns the current MatchingPolicy values, refreshing from
// the store if the cache has expired.
func (p *Provider) MatchingPolicy() (MatchingPolicy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.refreshLocked(); err != nil {
		return MatchingPolicy{}, err
	}
	return p.matching, nil
}

// Invalidate forces the next read to refresh from the store.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.validUntilUtc = time.Time{}
}

func (p *Provider) refreshLocked() error {
	now := p.clock.Now()
	if now.Before(p.validUntilUtc) {
		return nil
	}

	values, err := p.config.AllInCategory(categoryPolicy)
	if err != nil {
		return err
	}
	matchingValues, err := p.config.AllInCategory(categoryMatching)
	if err != nil {
		return err
	}

	pol := Default()
	pol.MinimumOccurrences = intOr(values, "MinimumOccurrences", pol.MinimumOccurrences)
	pol.MinimumConfidence = floatOr(values, "MinimumConfidence", pol.MinimumConfidence)
	pol.DefaultReminderConfidence = floatOr(values, "DefaultReminderConfidence", pol.DefaultReminderConfidence)
	pol.ConfidenceStepValue = floatOr(values, "ConfidenceStepValue", pol.ConfidenceStepValue)
	pol.MinimumProbabilityForExecution = floatOr(values, "MinimumProbabilityForExecution", pol.MinimumProbabilityForExecution)
	pol.ReminderMatchTimeOffsetMinutes = intOr(values, "ReminderMatchTimeOffsetMinutes", pol.ReminderMatchTimeOffsetMinutes)
	pol.MaxInterruptionCost = floatOr(values, "MaxInterruptionCost", pol.MaxInterruptionCost)
	pol.MinDailyEvidence = intOr(values, "MinDailyEvidence", pol.MinDailyEvidence)
	pol.MinWeeklyEvidence = intOr(values, "MinWeeklyEvidence", pol.MinWeeklyEvidence)
	pol.SignalSelectionLimit = intOr(values, "SignalSelectionLimit", pol.SignalSelectionLimit)
	pol.SignalSimilarityThreshold = floatOr(values, "SignalSimilarityThreshold", pol.SignalSimilarityThreshold)
	pol.SignalProfileUpdateAlpha = floatOr(values, "SignalProfileUpdateAlpha", pol.SignalProfileUpdateAlpha)
	pol.SignalSelectionEnabled = boolOr(values, "SignalSelectionEnabled", pol.SignalSelectionEnabled)
	pol.StoreEventSignalSnapshot = boolOr(values, "StoreEventSignalSnapshot", pol.StoreEventSignalSnapshot)
	pol.SignalMismatchPenalty = floatOr(values, "SignalMismatchPenalty", pol.SignalMismatchPenalty)
	pol.RoutineObservationWindowMinutes = intOr(values, "Routine:ObservationWindowMinutes", pol.RoutineObservationWindowMinutes)

	matching := DefaultMatchingPolicy()
	matching.MatchByActionType = boolOr(matchingValues, "MatchByActionType", matching.MatchByActionType)
	matching.MatchByDayType = boolOr(matchingValues, "MatchByDayType", matching.MatchByDayType)
	matching.MatchByPeoplePresent = boolOr(matchingValues, "MatchByPeoplePresent", matching.MatchByPeoplePresent)
	matching.MatchByStateSignals = boolOr(matchingValues, "MatchByStateSignals", matching.MatchByStateSignals)
	matching.MatchByTimeBucket = boolOr(matchingValues, "MatchByTimeBucket", matching.MatchByTimeBucket)
	matching.MatchByLocation = boolOr(matchingValues, "MatchByLocation", matching.MatchByLocation)

	p.policy = pol
	p.matching = matching
	p.validUntilUtc = now.Add(p.ttl)
	return nil
}

func floatOr(values map[string]string, key string, def float64) float64 {
	raw, ok := values[key]
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func intOr(values map[string]string, key string, def int) int {
	raw, ok := values[key]
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func boolOr(values map[string]string, key string, def bool) bool {
	raw, ok := values[key]
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
