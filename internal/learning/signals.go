package learning

import (
	"math"
	"sort"
	"strconv"

	"github.com/habitloop/engine/internal/core"
)

// RawSignal is one sensor reading as captured at the boundary, before
// normalization and selection.
type RawSignal struct {
	SensorID      string
	Type          string // presence, motion, door, audio, window, light, temp, humidity, or unknown
	Value         string
	RawImportance float64 // optional override in [0,1]; zero means "use 1.0"
}

// NormalizationConfig holds the per-type numeric bounds and string-enum
// tables SignalSelector uses to normalize raw values to [0,1].
type NormalizationConfig struct {
	NumericBounds map[string][2]float64
	EnumValues    map[string]map[string]float64
}

// DefaultNormalizationConfig returns reasonable numeric bounds and enum
// tables for the built-in sensor types named in spec.md §4.6.
func DefaultNormalizationConfig() NormalizationConfig {
	return NormalizationConfig{
		NumericBounds: map[string][2]float64{
			"temp":     {10, 35},
			"humidity": {0, 100},
			"audio":    {0, 100},
			"light":    {0, 1000},
		},
		EnumValues: map[string]map[string]float64{
			"door":      {"open": 1, "closed": 0},
			"presence":  {"occupied": 1, "vacant": 0},
			"music":     {"playing": 1, "stopped": 0},
			"motion":    {"detected": 1, "none": 0},
		},
	}
}

// defaultImportance is the built-in per-type importance weight from
// spec.md §4.6.
var defaultImportance = map[string]float64{
	"presence": 1.0,
	"motion":   0.8,
	"door":     0.7,
	"audio":    0.6,
	"window":   0.5,
	"light":    0.3,
	"temp":     0.2,
	"humidity": 0.1,
	"unknown":  0.5,
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SignalSelector normalizes, weights, and selects the top-K sensor signals
// to form a SignalProfile.
type SignalSelector struct {
	cfg NormalizationConfig
}

// NewSignalSelector builds a SignalSelector.
func NewSignalSelector(cfg NormalizationConfig) *SignalSelector {
	return &SignalSelector{cfg: cfg}
}

// SelectAndNormalize implements spec.md §4.6's selectAndNormalize.
func (s *SignalSelector) SelectAndNormalize(raw []RawSignal, topK int) core.SignalProfile {
	type scored struct {
		id         string
		normalized float64
		importance float64
	}

	scoredSignals := make([]scored, 0, len(raw))
	for _, r := range raw {
		normalized := s.normalize(r)
		rawImportance := r.RawImportance
		if rawImportance == 0 {
			rawImportance = 1.0
		}
		importance := clip01(rawImportance) * typeImportance(r.Type)
		scoredSignals = append(scoredSignals, scored{id: r.SensorID, normalized: normalized, importance: importance})
	}

	sort.SliceStable(scoredSignals, func(i, j int) bool { return scoredSignals[i].importance > scoredSignals[j].importance })
	if topK > 0 && len(scoredSignals) > topK {
		scoredSignals = scoredSignals[:topK]
	}

	var sumSquares float64
	for _, sc := range scoredSignals {
		sumSquares += sc.importance * sc.importance
	}
	norm := math.Sqrt(sumSquares)

	profile := make(core.SignalProfile, len(scoredSignals))
	for _, sc := range scoredSignals {
		weight := 0.0
		if norm > 1e-10 {
			weight = sc.importance / norm
		}
		profile[sc.id] = core.SignalWeight{Weight: weight, NormalizedValue: sc.normalized}
	}
	return profile
}

func typeImportance(sensorType string) float64 {
	if v, ok := defaultImportance[sensorType]; ok {
		return v
	}
	return defaultImportance["unknown"]
}

func (s *SignalSelector) normalize(r RawSignal) float64 {
	switch r.Value {
	case "true":
		return 1
	case "false":
		return 0
	}

	if enum, ok := s.cfg.EnumValues[r.Type]; ok {
		if v, ok := enum[r.Value]; ok {
			return v
		}
	}

	if v, err := strconv.ParseFloat(r.Value, 64); err == nil {
		bounds, ok := s.cfg.NumericBounds[r.Type]
		if !ok {
			bounds = [2]float64{0, 1}
		}
		if bounds[1] == bounds[0] {
			return 0.5
		}
		return clip01((v - bounds[0]) / (bounds[1] - bounds[0]))
	}

	return 0.5
}

// SignalSimilarity computes weighted cosine similarity between
// SignalProfiles.
type SignalSimilarity struct{}

// NewSignalSimilarity builds a SignalSimilarity.
func NewSignalSimilarity() *SignalSimilarity { return &SignalSimilarity{} }

// Similarity implements spec.md §4.6's similarity function: weighted cosine
// over the union of sensor keys, symmetric and bounded to [0,1].
func (s *SignalSimilarity) Similarity(baseline, event core.SignalProfile) float64 {
	if len(baseline) == 0 {
		return 0
	}

	keys := make(map[string]bool, len(baseline)+len(event))
	for k := range baseline {
		keys[k] = true
	}
	for k := range event {
		keys[k] = true
	}

	var dot, normB, normE float64
	for k := range keys {
		vb := componentValue(baseline, k)
		ve := componentValue(event, k)
		dot += vb * ve
		normB += vb * vb
		normE += ve * ve
	}
	normB = math.Sqrt(normB)
	normE = math.Sqrt(normE)

	if normB < 1e-10 || normE < 1e-10 {
		return 0
	}
	return clip01(dot / (normB * normE))
}

func componentValue(profile core.SignalProfile, key string) float64 {
	sw, ok := profile[key]
	if !ok {
		return 0
	}
	return sw.Weight * sw.NormalizedValue
}

// UpdateProfile implements spec.md §4.6's EMA baseline update:
// B_new[k] = (1-alpha)*B_old[k] + alpha*E[k]; new keys seed at alpha*E[k];
// keys missing from event decay by (1-alpha) and are dropped below 0.01 weight.
func UpdateProfile(baseline core.SignalProfile, event core.SignalProfile, alpha float64) core.SignalProfile {
	out := make(core.SignalProfile, len(baseline)+len(event))

	for k, b := range baseline {
		if e, ok := event[k]; ok {
			out[k] = core.SignalWeight{
				Weight:          (1-alpha)*b.Weight + alpha*e.Weight,
				NormalizedValue: (1-alpha)*b.NormalizedValue + alpha*e.NormalizedValue,
			}
		} else {
			decayed := core.SignalWeight{Weight: (1 - alpha) * b.Weight, NormalizedValue: b.NormalizedValue}
			if decayed.Weight >= 0.01 {
				out[k] = decayed
			}
		}
	}
	for k, e := range event {
		if _, ok := baseline[k]; ok {
			continue
		}
		out[k] = core.SignalWeight{Weight: alpha * e.Weight, NormalizedValue: e.NormalizedValue}
	}

	return out
}
