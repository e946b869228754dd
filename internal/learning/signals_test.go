package learning

import (
	"math"
	"testing"

	"github.com/habitloop/engine/internal/core"
)

// TestSignalSimilarityRejection exercises S6 from spec.md §8.
func TestSignalSimilarityRejection(t *testing.T) {
	sim := NewSignalSimilarity()

	baseline := core.SignalProfile{"presence.kitchen": {Weight: 1.0, NormalizedValue: 1.0}}
	event := core.SignalProfile{"presence.bedroom": {Weight: 1.0, NormalizedValue: 1.0}}

	got := sim.Similarity(baseline, event)
	if got != 0 {
		t.Fatalf("similarity = %v, want 0 for orthogonal profiles", got)
	}
}

// TestSimilaritySymmetric covers testable property 7.
func TestSimilaritySymmetric(t *testing.T) {
	sim := NewSignalSimilarity()

	a := core.SignalProfile{
		"presence.kitchen": {Weight: 0.8, NormalizedValue: 1.0},
		"motion.hallway":   {Weight: 0.6, NormalizedValue: 0.5},
	}
	b := core.SignalProfile{
		"presence.kitchen": {Weight: 0.7, NormalizedValue: 0.9},
		"door.front":       {Weight: 0.3, NormalizedValue: 1.0},
	}

	ab := sim.Similarity(a, b)
	ba := sim.Similarity(b, a)
	if math.Abs(ab-ba) > 1e-12 {
		t.Fatalf("similarity not symmetric: a,b=%v b,a=%v", ab, ba)
	}
	if ab < 0 || ab > 1 {
		t.Fatalf("similarity out of [0,1]: %v", ab)
	}
}

func TestSimilarityEmptyBaselineIsZero(t *testing.T) {
	sim := NewSignalSimilarity()
	got := sim.Similarity(core.SignalProfile{}, core.SignalProfile{"x": {Weight: 1, NormalizedValue: 1}})
	if got != 0 {
		t.Fatalf("similarity = %v, want 0 for empty baseline", got)
	}
}

func TestSelectAndNormalizeTopK(t *testing.T) {
	sel := NewSignalSelector(DefaultNormalizationConfig())

	raw := []RawSignal{
		{SensorID: "presence.kitchen", Type: "presence", Value: "true"},
		{SensorID: "motion.hallway", Type: "motion", Value: "detected"},
		{SensorID: "temp.living", Type: "temp", Value: "22"},
		{SensorID: "humidity.living", Type: "humidity", Value: "40"},
	}

	profile := sel.SelectAndNormalize(raw, 2)
	if len(profile) != 2 {
		t.Fatalf("len(profile) = %d, want 2", len(profile))
	}
	if _, ok := profile["presence.kitchen"]; !ok {
		t.Error("expected presence signal to survive top-K selection (highest importance)")
	}
	if _, ok := profile["humidity.living"]; ok {
		t.Error("expected humidity signal to be dropped (lowest importance)")
	}

	var sumSquares float64
	for _, sw := range profile {
		sumSquares += sw.Weight * sw.Weight
	}
	if math.Abs(sumSquares-1.0) > 1e-9 {
		t.Errorf("weights not L2-normalized: sum of squares = %v", sumSquares)
	}
}

func TestUpdateProfileEMA(t *testing.T) {
	baseline := core.SignalProfile{
		"presence.kitchen": {Weight: 1.0, NormalizedValue: 1.0},
		"door.front":       {Weight: 0.02, NormalizedValue: 1.0},
	}
	event := core.SignalProfile{
		"presence.kitchen": {Weight: 0.8, NormalizedValue: 0.9},
		"motion.hallway":   {Weight: 0.5, NormalizedValue: 1.0},
	}

	updated := UpdateProfile(baseline, event, 0.1)

	if _, ok := updated["door.front"]; !ok {
		t.Error("door.front weight 0.02 decayed by 0.9 = 0.018, should survive 0.01 floor")
	}
	if w := updated["presence.kitchen"].Weight; math.Abs(w-(0.9*1.0+0.1*0.8)) > 1e-9 {
		t.Errorf("presence.kitchen weight = %v, want EMA blend", w)
	}
	if w := updated["motion.hallway"].Weight; math.Abs(w-0.1*0.5) > 1e-9 {
		t.Errorf("motion.hallway weight = %v, want seeded at alpha*E", w)
	}
}
